package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sitenotify/dispatch/internal/domain"
)

// TemplateService handles template business logic, site-scoped throughout.
type TemplateService struct {
	repo   domain.TemplateRepository
	logger *slog.Logger
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(repo domain.TemplateRepository, logger *slog.Logger) *TemplateService {
	return &TemplateService{
		repo:   repo,
		logger: logger,
	}
}

// CreateTemplateRequest represents a request to create a template
type CreateTemplateRequest struct {
	Name    string         `json:"name" validate:"required,min=1,max=100"`
	Channel domain.Channel `json:"channel" validate:"required"`
	Content string         `json:"content" validate:"required"`
}

// UpdateTemplateRequest represents a request to update a template
type UpdateTemplateRequest struct {
	Name    *string         `json:"name,omitempty"`
	Channel *domain.Channel `json:"channel,omitempty"`
	Content *string         `json:"content,omitempty"`
}

// Create creates a new template scoped to site.
func (s *TemplateService) Create(ctx context.Context, site domain.SiteID, req CreateTemplateRequest) (*domain.Template, error) {
	if !req.Channel.IsValid() {
		return nil, domain.NewValidationError("channel", "invalid channel")
	}

	existing, err := s.repo.GetByName(ctx, site, req.Name)
	if err == nil && existing != nil {
		return nil, domain.ErrAlreadyExists
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing template: %w", err)
	}

	template := domain.NewTemplate(site, req.Name, req.Channel, req.Content)

	if err := s.repo.Create(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	s.logger.Info("template created",
		"site_id", site,
		"template_id", template.ID,
		"name", template.Name,
	)

	return template, nil
}

// GetByID retrieves a template by ID, scoped to site.
func (s *TemplateService) GetByID(ctx context.Context, site domain.SiteID, id uuid.UUID) (*domain.Template, error) {
	return s.repo.GetByID(ctx, site, id)
}

// GetByName retrieves a template by name, scoped to site.
func (s *TemplateService) GetByName(ctx context.Context, site domain.SiteID, name string) (*domain.Template, error) {
	return s.repo.GetByName(ctx, site, name)
}

// List retrieves every template belonging to site.
func (s *TemplateService) List(ctx context.Context, site domain.SiteID) ([]*domain.Template, error) {
	return s.repo.List(ctx, site)
}

// Update updates an existing template, scoped to site.
func (s *TemplateService) Update(ctx context.Context, site domain.SiteID, id uuid.UUID, req UpdateTemplateRequest) (*domain.Template, error) {
	template, err := s.repo.GetByID(ctx, site, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		existing, err := s.repo.GetByName(ctx, site, *req.Name)
		if err == nil && existing != nil && existing.ID != id {
			return nil, domain.ErrAlreadyExists
		}
		template.Name = *req.Name
	}

	if req.Channel != nil {
		if !req.Channel.IsValid() {
			return nil, domain.NewValidationError("channel", "invalid channel")
		}
		template.Channel = *req.Channel
	}

	if req.Content != nil {
		template.Content = *req.Content
		template.ExtractVariables()
	}

	if err := s.repo.Update(ctx, template); err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}

	s.logger.Info("template updated",
		"site_id", site,
		"template_id", template.ID,
	)

	return template, nil
}

// Delete deletes a template, scoped to site.
func (s *TemplateService) Delete(ctx context.Context, site domain.SiteID, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, site, id); err != nil {
		return err
	}

	s.logger.Info("template deleted",
		"site_id", site,
		"template_id", id,
	)

	return nil
}

// Render renders the named template with vars, scoped to site.
func (s *TemplateService) Render(ctx context.Context, site domain.SiteID, name string, vars map[string]string) (string, error) {
	template, err := s.repo.GetByName(ctx, site, name)
	if err != nil {
		return "", err
	}

	missing := template.Validate(vars)
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %v", domain.ErrMissingVariables, missing)
	}

	return template.Render(vars), nil
}
