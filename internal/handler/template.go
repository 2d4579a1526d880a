package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sitenotify/dispatch/internal/domain"
	"github.com/sitenotify/dispatch/internal/service"
	"github.com/sitenotify/dispatch/internal/tenant"
)

// TemplateHandler handles template HTTP requests, scoped to the caller's
// site_id throughout.
type TemplateHandler struct {
	service  *service.TemplateService
	validate *validator.Validate
}

// NewTemplateHandler creates a new TemplateHandler
func NewTemplateHandler(svc *service.TemplateService) *TemplateHandler {
	return &TemplateHandler{service: svc, validate: validator.New()}
}

// RegisterRoutes registers template routes
func (h *TemplateHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.GetByID)
	r.Get("/name/{name}", h.GetByName)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{name}/render", h.Render)
}

// CreateTemplateRequest represents a request to create a template
type CreateTemplateRequest struct {
	Name    string         `json:"name" validate:"required,min=1,max=100" example:"welcome_sms"`
	Channel domain.Channel `json:"channel" validate:"required" example:"sms"`
	Content string         `json:"content" validate:"required" example:"Hello {{name}}, welcome to our service!"`
}

// Create creates a new template
// @Summary Create template
// @Tags templates
// @Accept json
// @Produce json
// @Param template body CreateTemplateRequest true "Template request"
// @Success 201 {object} Response{data=domain.Template}
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /v1/templates [post]
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	var req CreateTemplateRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	template, err := h.service.Create(r.Context(), site.SiteID, service.CreateTemplateRequest{
		Name:    req.Name,
		Channel: req.Channel,
		Content: req.Content,
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusCreated, template)
}

// List retrieves every template belonging to the caller's site.
// @Summary List templates
// @Tags templates
// @Produce json
// @Success 200 {object} Response{data=[]domain.Template}
// @Router /v1/templates [get]
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	templates, err := h.service.List(r.Context(), site.SiteID)
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, templates)
}

// GetByID retrieves a template by ID, scoped to the caller's site.
// @Summary Get template by ID
// @Tags templates
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} Response{data=domain.Template}
// @Failure 404 {object} Response
// @Router /v1/templates/{id} [get]
func (h *TemplateHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid template ID", nil)
		return
	}

	template, err := h.service.GetByID(r.Context(), site.SiteID, id)
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, template)
}

// GetByName retrieves a template by name, scoped to the caller's site.
// @Summary Get template by name
// @Tags templates
// @Produce json
// @Param name path string true "Template name"
// @Success 200 {object} Response{data=domain.Template}
// @Failure 404 {object} Response
// @Router /v1/templates/name/{name} [get]
func (h *TemplateHandler) GetByName(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	name := chi.URLParam(r, "name")

	template, err := h.service.GetByName(r.Context(), site.SiteID, name)
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, template)
}

// UpdateTemplateRequest represents a request to update a template
type UpdateTemplateRequest struct {
	Name    *string         `json:"name,omitempty"`
	Channel *domain.Channel `json:"channel,omitempty"`
	Content *string         `json:"content,omitempty"`
}

// Update updates a template, scoped to the caller's site.
// @Summary Update template
// @Tags templates
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param template body UpdateTemplateRequest true "Update request"
// @Success 200 {object} Response{data=domain.Template}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/templates/{id} [put]
func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid template ID", nil)
		return
	}

	var req UpdateTemplateRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}

	template, err := h.service.Update(r.Context(), site.SiteID, id, service.UpdateTemplateRequest{
		Name:    req.Name,
		Channel: req.Channel,
		Content: req.Content,
	})
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, template)
}

// Delete deletes a template, scoped to the caller's site.
// @Summary Delete template
// @Tags templates
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /v1/templates/{id} [delete]
func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		JSONError(w, http.StatusBadRequest, "INVALID_ID", "Invalid template ID", nil)
		return
	}

	if err := h.service.Delete(r.Context(), site.SiteID, id); err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"message": "Template deleted successfully",
	})
}

// RenderRequest represents a request to render a template
type RenderRequest struct {
	Variables map[string]string `json:"variables"`
}

// Render renders a template with variables, scoped to the caller's site.
// @Summary Render template
// @Tags templates
// @Accept json
// @Produce json
// @Param name path string true "Template name"
// @Param request body RenderRequest true "Variables"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/templates/{name}/render [post]
func (h *TemplateHandler) Render(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	name := chi.URLParam(r, "name")

	var req RenderRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}

	content, err := h.service.Render(r.Context(), site.SiteID, name, req.Variables)
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"content": content,
	})
}
