package service

import (
	"context"
	"fmt"
	"time"

	"openflow/internal/dispatch"
	"openflow/internal/model"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// ConfigValidator checks an integration config against its type's schema
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, t model.IntegrationType, config map[string]interface{}) error
}

// Runner delivers an envelope to a given list of integrations
type Runner interface {
	Run(ctx context.Context, integrations []model.Integration, env dispatch.Envelope) []dispatch.Result
}

type IntegrationService struct {
	forms     FormStore
	store     IntegrationStore
	validator ConfigValidator
	runner    Runner
	log       *zap.Logger
	now       func() time.Time
}

func NewIntegrationService(forms FormStore, store IntegrationStore, validator ConfigValidator, log *zap.Logger) *IntegrationService {
	return &IntegrationService{
		forms:     forms,
		store:     store,
		validator: validator,
		log:       log,
		now:       time.Now,
	}
}

// SetRunner sets the runner used by Test. The dispatcher itself loads
// integrations through this service, hence the late binding.
func (s *IntegrationService) SetRunner(r Runner) {
	s.runner = r
}

type IntegrationInput struct {
	Type    model.IntegrationType  `json:"type"`
	Config  map[string]interface{} `json:"config,omitempty"`
	Enabled *bool                  `json:"enabled,omitempty"`
}

// EnabledIntegrations implements dispatch.IntegrationSource.
func (s *IntegrationService) EnabledIntegrations(ctx context.Context, formID string) ([]model.Integration, error) {
	rows, err := s.store.ListEnabledIntegrations(ctx, formID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Integration, 0, len(rows))
	for _, r := range rows {
		out = append(out, integrationToModel(r))
	}
	return out, nil
}

func (s *IntegrationService) List(ctx context.Context, userID, formID string) ([]model.Integration, error) {
	if _, err := s.forms.GetForm(ctx, formID, userID); err != nil {
		return nil, lookup(err, "Form")
	}
	rows, err := s.store.ListIntegrations(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	out := make([]model.Integration, 0, len(rows))
	for _, r := range rows {
		out = append(out, integrationToModel(r))
	}
	return out, nil
}

func (s *IntegrationService) Create(ctx context.Context, userID, formID string, in IntegrationInput) (model.Integration, error) {
	if _, err := s.forms.GetForm(ctx, formID, userID); err != nil {
		return model.Integration{}, lookup(err, "Form")
	}
	if !in.Type.Valid() {
		return model.Integration{}, invalidInput(nil, "Invalid integration type. Use: webhook, email, google_sheets")
	}
	if in.Config == nil {
		in.Config = map[string]interface{}{}
	}
	if err := s.validateConfig(ctx, in.Type, in.Config); err != nil {
		return model.Integration{}, err
	}
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	row, err := s.store.CreateIntegration(ctx, ulid.Make().String(), formID, string(in.Type), enabled, in.Config)
	if err != nil {
		return model.Integration{}, fmt.Errorf("failed to create integration: %w", err)
	}
	s.log.Info("Integration created",
		zap.String("integration_id", row.ID),
		zap.String("form_id", formID),
		zap.String("type", row.Type))
	return integrationToModel(row), nil
}

// Update replaces the config and/or enabled flag; the type is immutable.
func (s *IntegrationService) Update(ctx context.Context, userID, formID, id string, in IntegrationInput) (model.Integration, error) {
	if _, err := s.forms.GetForm(ctx, formID, userID); err != nil {
		return model.Integration{}, lookup(err, "Form")
	}
	existing, err := s.store.GetIntegration(ctx, formID, id)
	if err != nil {
		return model.Integration{}, lookup(err, "Integration")
	}
	if in.Config != nil {
		if err := s.validateConfig(ctx, model.IntegrationType(existing.Type), in.Config); err != nil {
			return model.Integration{}, err
		}
	}

	row, err := s.store.UpdateIntegration(ctx, formID, id, in.Config, in.Enabled)
	if err != nil {
		return model.Integration{}, lookup(err, "Integration")
	}
	return integrationToModel(row), nil
}

func (s *IntegrationService) Delete(ctx context.Context, userID, formID, id string) error {
	if _, err := s.forms.GetForm(ctx, formID, userID); err != nil {
		return lookup(err, "Form")
	}
	if err := s.store.DeleteIntegration(ctx, formID, id); err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	return nil
}

// Test delivers synthetic answers to one integration, enabled or not, and
// returns its result.
func (s *IntegrationService) Test(ctx context.Context, userID, formID, id string) ([]dispatch.Result, error) {
	form, err := s.forms.GetForm(ctx, formID, userID)
	if err != nil {
		return nil, lookup(err, "Form")
	}
	row, err := s.store.GetIntegration(ctx, formID, id)
	if err != nil {
		return nil, lookup(err, "Integration")
	}
	if s.runner == nil {
		return nil, fmt.Errorf("integration runner not configured")
	}

	data := make(map[string]interface{}, len(form.Steps))
	for _, step := range form.Steps {
		label := step.Label
		if label == "" {
			label = step.ID
		}
		data[step.ID] = "Test value for " + label
	}

	return s.runner.Run(ctx, []model.Integration{integrationToModel(row)}, dispatch.Envelope{
		FormID:    form.ID,
		FormTitle: form.Title,
		Data:      data,
		Steps:     form.Steps,
		Timestamp: s.now(),
	}), nil
}

func (s *IntegrationService) validateConfig(ctx context.Context, t model.IntegrationType, config map[string]interface{}) error {
	if s.validator == nil {
		return nil
	}
	if err := s.validator.ValidateConfig(ctx, t, config); err != nil {
		return invalidInput(err, "Invalid %s config: %v", t, err)
	}
	return nil
}
