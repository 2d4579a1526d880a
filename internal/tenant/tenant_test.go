package tenant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sitenotify/dispatch/internal/domain"
)

type fakeSessions struct {
	site domain.SiteID
	err  error
}

func (f fakeSessions) ResolveSession(ctx context.Context, token string) (domain.SiteID, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.site, nil
}

type fakeAdmins struct{ valid bool }

func (f fakeAdmins) ValidateAdminKey(ctx context.Context, key string) bool { return f.valid }

func TestFromContext_Unbound(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestWithPrincipal_RoundTrip(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{SiteID: "site-1"})
	p, err := FromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, domain.SiteID("site-1"), p.SiteID)
}

func TestMiddleware_SessionCookieResolvesSite(t *testing.T) {
	var captured Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	mw := Middleware(fakeSessions{site: "site-42"}, fakeAdmins{})
	req := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "tok"})
	rec := httptest.NewRecorder()

	mw(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.SiteID("site-42"), captured.SiteID)
	assert.False(t, captured.IsAdmin)
}

func TestMiddleware_NoCredentialsRejected(t *testing.T) {
	mw := Middleware(fakeSessions{}, fakeAdmins{})
	req := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_InvalidSessionRejected(t *testing.T) {
	mw := Middleware(fakeSessions{err: domain.ErrUnauthenticated}, fakeAdmins{})
	req := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "bad"})
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_AdminKeyWithSiteParam(t *testing.T) {
	var captured Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	mw := Middleware(fakeSessions{}, fakeAdmins{valid: true})
	req := httptest.NewRequest(http.MethodGet, "/v1/notifications?site_id=site-9", nil)
	req.Header.Set(AdminKeyHeader, "super-secret")
	rec := httptest.NewRecorder()

	mw(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.SiteID("site-9"), captured.SiteID)
	assert.True(t, captured.IsAdmin)
}

func TestMiddleware_AdminKeyWithoutSiteRejected(t *testing.T) {
	mw := Middleware(fakeSessions{}, fakeAdmins{valid: true})
	req := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
	req.Header.Set(AdminKeyHeader, "super-secret")
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_InvalidAdminKeyRejected(t *testing.T) {
	mw := Middleware(fakeSessions{}, fakeAdmins{valid: false})
	req := httptest.NewRequest(http.MethodGet, "/v1/notifications?site_id=site-9", nil)
	req.Header.Set(AdminKeyHeader, "wrong")
	rec := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
