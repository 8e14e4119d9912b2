package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"openflow/internal/db"
	"openflow/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	defaultFormTitle = "Untitled Form"
	slugLength       = 8
	slugAttempts     = 3
)

// StepValidator checks the shape of authored steps
type StepValidator interface {
	ValidateSteps(ctx context.Context, steps []model.Step) error
}

type FormService struct {
	forms     FormStore
	validator StepValidator
	log       *zap.Logger
}

func NewFormService(forms FormStore, validator StepValidator, log *zap.Logger) *FormService {
	return &FormService{forms: forms, validator: validator, log: log}
}

// FormInput carries the author-editable fields; nil fields are left unchanged
// on update and defaulted on create.
type FormInput struct {
	Title     *string                `json:"title,omitempty"`
	Steps     *[]model.Step          `json:"steps,omitempty"`
	EndScreen *model.EndScreen       `json:"end_screen,omitempty"`
	Theme     map[string]interface{} `json:"theme,omitempty"`
	GTMID     *string                `json:"gtm_id,omitempty"`
	Published *bool                  `json:"published,omitempty"`
}

func (s *FormService) List(ctx context.Context, userID string) ([]model.Form, error) {
	rows, err := s.forms.ListForms(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	forms := make([]model.Form, 0, len(rows))
	for _, f := range rows {
		forms = append(forms, formToModel(f))
	}
	return forms, nil
}

func (s *FormService) Get(ctx context.Context, userID, id string) (model.Form, error) {
	f, err := s.forms.GetForm(ctx, id, userID)
	if err != nil {
		return model.Form{}, lookup(err, "Form")
	}
	return formToModel(f), nil
}

// Published returns a published form by its public slug.
func (s *FormService) Published(ctx context.Context, slug string) (model.Form, error) {
	f, err := s.forms.GetPublishedFormBySlug(ctx, slug)
	if err != nil {
		return model.Form{}, lookup(err, "Form")
	}
	return formToModel(f), nil
}

// Owns reports whether formID belongs to userID.
func (s *FormService) Owns(ctx context.Context, userID, formID string) bool {
	_, err := s.forms.GetForm(ctx, formID, userID)
	return err == nil
}

func (s *FormService) Create(ctx context.Context, userID string, in FormInput) (model.Form, error) {
	p := db.CreateFormParams{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Title:     defaultFormTitle,
		Steps:     []model.Step{},
		EndScreen: model.DefaultEndScreen,
		Theme:     map[string]interface{}{},
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) != "" {
		p.Title = strings.TrimSpace(*in.Title)
	}
	if in.Steps != nil {
		if err := s.validateSteps(ctx, *in.Steps); err != nil {
			return model.Form{}, err
		}
		p.Steps = *in.Steps
	}
	if in.EndScreen != nil {
		p.EndScreen = *in.EndScreen
	}
	if in.Theme != nil {
		p.Theme = in.Theme
	}
	if in.GTMID != nil {
		p.GTMID = *in.GTMID
	}

	var (
		f   db.Form
		err error
	)
	for attempt := 0; attempt < slugAttempts; attempt++ {
		p.Slug = newSlug()
		f, err = s.forms.CreateForm(ctx, p)
		if !isUniqueViolation(err) {
			break
		}
		s.log.Warn("Form slug collision, retrying", zap.String("slug", p.Slug))
	}
	if err != nil {
		return model.Form{}, fmt.Errorf("failed to create form: %w", err)
	}

	s.log.Info("Form created", zap.String("form_id", f.ID), zap.String("user_id", userID))
	return formToModel(f), nil
}

func (s *FormService) Update(ctx context.Context, userID, id string, in FormInput) (model.Form, error) {
	if in.Steps != nil {
		if err := s.validateSteps(ctx, *in.Steps); err != nil {
			return model.Form{}, err
		}
	}
	f, err := s.forms.UpdateForm(ctx, db.UpdateFormParams{
		ID:        id,
		UserID:    userID,
		Title:     in.Title,
		Steps:     in.Steps,
		EndScreen: in.EndScreen,
		Theme:     in.Theme,
		GTMID:     in.GTMID,
		Published: in.Published,
	})
	if err != nil {
		return model.Form{}, lookup(err, "Form")
	}
	return formToModel(f), nil
}

func (s *FormService) Delete(ctx context.Context, userID, id string) error {
	if err := s.forms.DeleteForm(ctx, id, userID); err != nil {
		return lookup(err, "Form")
	}
	s.log.Info("Form deleted", zap.String("form_id", id), zap.String("user_id", userID))
	return nil
}

// validateSteps checks the step schema, unique ids and that conditions
// reference another step of the same form.
func (s *FormService) validateSteps(ctx context.Context, steps []model.Step) error {
	if s.validator != nil {
		if err := s.validator.ValidateSteps(ctx, steps); err != nil {
			return invalidInput(err, "Invalid steps: %v", err)
		}
	}

	ids := make(map[string]bool, len(steps))
	for _, step := range steps {
		if ids[step.ID] {
			return invalidInput(nil, "Duplicate step id %q", step.ID)
		}
		ids[step.ID] = true
	}
	for _, step := range steps {
		if step.Condition == nil {
			continue
		}
		if step.Condition.Field == step.ID || !ids[step.Condition.Field] {
			return invalidInput(nil, "Step %q has a condition on unknown step %q", step.ID, step.Condition.Field)
		}
	}
	return nil
}

// newSlug returns 8 lowercase alphanumerics taken from the random part of a ULID.
func newSlug() string {
	id := ulid.Make().String()
	return strings.ToLower(id[len(id)-slugLength:])
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
