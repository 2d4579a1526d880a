// Package tenant resolves the caller's site_id from the request and
// binds it to the context as the sole source of truth for every
// downstream data-access boundary. No handler or service ever accepts
// site_id from a request body or query string as the effective scope —
// it always comes from tenant.FromContext.
package tenant

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitenotify/dispatch/internal/domain"
)

type contextKey string

const principalKey contextKey = "tenant_principal"

// SessionCookie is the cookie carrying a resolved site session.
const SessionCookie = "sitenotify_session"

// AdminKeyHeader lets an operator act on behalf of an explicit site_id,
// named by AdminSiteParam, instead of through a site session.
const AdminKeyHeader = "X-Admin-Key"

// AdminSiteParam is the path/query parameter an admin request must name
// to become a principal for that site.
const AdminSiteParam = "site_id"

// Principal is the authenticated caller scope bound to a request.
type Principal struct {
	SiteID  domain.SiteID
	IsAdmin bool
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the bound Principal. It returns
// domain.ErrUnauthenticated if none was ever bound — middleware is the
// only code allowed to bind one.
func FromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, domain.ErrUnauthenticated
	}
	return p, nil
}

// SessionResolver resolves a session cookie value to the site it belongs
// to. Implemented by internal/repository against the session store.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (domain.SiteID, error)
}

// AdminKeyValidator reports whether key is a valid platform admin key.
type AdminKeyValidator interface {
	ValidateAdminKey(ctx context.Context, key string) bool
}

// Middleware resolves the caller's Principal and binds it to the request
// context. A request authenticates either as a tenant, via SessionCookie,
// or as an admin acting on a named site, via AdminKeyHeader plus
// AdminSiteParam. Requests presenting neither are rejected with 401
// before reaching any handler.
func Middleware(sessions SessionResolver, admins AdminKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := resolve(r, sessions, admins)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolve(r *http.Request, sessions SessionResolver, admins AdminKeyValidator) (Principal, error) {
	if key := r.Header.Get(AdminKeyHeader); key != "" {
		if !admins.ValidateAdminKey(r.Context(), key) {
			return Principal{}, domain.ErrUnauthorized
		}
		site := r.URL.Query().Get(AdminSiteParam)
		if site == "" {
			site = chi.URLParam(r, AdminSiteParam)
		}
		if site == "" {
			return Principal{}, domain.ErrUnauthorized
		}
		return Principal{SiteID: domain.SiteID(site), IsAdmin: true}, nil
	}

	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return Principal{}, domain.ErrUnauthenticated
	}
	site, err := sessions.ResolveSession(r.Context(), cookie.Value)
	if err != nil {
		return Principal{}, domain.ErrUnauthenticated
	}
	return Principal{SiteID: site}, nil
}
