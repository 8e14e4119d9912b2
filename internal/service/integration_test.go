package service

import (
	"context"
	"testing"
	"time"

	"openflow/internal/db/dbtest"
	"openflow/internal/dispatch"
	"openflow/internal/model"
	"openflow/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingRunner struct {
	integrations []model.Integration
	env          dispatch.Envelope
}

func (r *recordingRunner) Run(_ context.Context, integrations []model.Integration, env dispatch.Envelope) []dispatch.Result {
	r.integrations = integrations
	r.env = env
	out := make([]dispatch.Result, len(integrations))
	for i, in := range integrations {
		out[i] = dispatch.Result{ID: in.ID, Type: in.Type, OK: true}
	}
	return out
}

func newIntegrationService(t *testing.T, store *dbtest.Store) *IntegrationService {
	t.Helper()
	authoring, err := schema.NewAuthoring(schema.NewCompilerWithCache(16))
	require.NoError(t, err)
	return NewIntegrationService(store, store, authoring, zap.NewNop())
}

func TestIntegrationService_CRUD(t *testing.T) {
	store := dbtest.New()
	seedForm(store, true, model.EndScreen{})
	svc := newIntegrationService(t, store)
	ctx := context.Background()

	hook, err := svc.Create(ctx, "u1", "f1", IntegrationInput{
		Type:   model.IntegrationWebhook,
		Config: map[string]interface{}{"url": "https://hooks.example.com/lead"},
	})
	require.NoError(t, err)
	assert.True(t, hook.Enabled)

	mail, err := svc.Create(ctx, "u1", "f1", IntegrationInput{Type: model.IntegrationEmail, Enabled: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, mail.Enabled)
	assert.NotNil(t, mail.Config)

	list, err := svc.List(ctx, "u1", "f1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, mail.ID, list[0].ID)

	enabled, err := svc.EnabledIntegrations(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, hook.ID, enabled[0].ID)

	updated, err := svc.Update(ctx, "u1", "f1", mail.ID, IntegrationInput{Enabled: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, updated.Enabled)

	enabled, err = svc.EnabledIntegrations(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, []string{hook.ID, mail.ID}, []string{enabled[0].ID, enabled[1].ID})

	require.NoError(t, svc.Delete(ctx, "u1", "f1", hook.ID))
	list, err = svc.List(ctx, "u1", "f1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestIntegrationService_Rejections(t *testing.T) {
	store := dbtest.New()
	seedForm(store, true, model.EndScreen{})
	svc := newIntegrationService(t, store)
	ctx := context.Background()

	_, err := svc.Create(ctx, "u1", "f1", IntegrationInput{Type: "slack"})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.EqualError(t, err, "Invalid integration type. Use: webhook, email, google_sheets")

	_, err = svc.Create(ctx, "u1", "f1", IntegrationInput{Type: model.IntegrationWebhook, Config: map[string]interface{}{"url": "ftp://x"}})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "Invalid webhook config")

	_, err = svc.Create(ctx, "u2", "f1", IntegrationInput{Type: model.IntegrationWebhook})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Update(ctx, "u1", "f1", "missing", IntegrationInput{Enabled: boolPtr(false)})
	require.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "Integration not found")

	mail, err := svc.Create(ctx, "u1", "f1", IntegrationInput{Type: model.IntegrationEmail})
	require.NoError(t, err)
	_, err = svc.Update(ctx, "u1", "f1", mail.ID, IntegrationInput{Config: map[string]interface{}{"smtp_port": "abc"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIntegrationService_Test(t *testing.T) {
	store := dbtest.New()
	seedForm(store, true, model.EndScreen{})
	svc := newIntegrationService(t, store)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := svc.Test(ctx, "u1", "f1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	hook, err := svc.Create(ctx, "u1", "f1", IntegrationInput{Type: model.IntegrationWebhook, Enabled: boolPtr(false)})
	require.NoError(t, err)

	_, err = svc.Test(ctx, "u1", "f1", hook.ID)
	assert.Error(t, err)

	runner := &recordingRunner{}
	svc.SetRunner(runner)
	results, err := svc.Test(ctx, "u1", "f1", hook.ID)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	require.Len(t, runner.integrations, 1)
	assert.Equal(t, hook.ID, runner.integrations[0].ID)
	assert.Equal(t, "Lead form", runner.env.FormTitle)
	assert.Equal(t, now, runner.env.Timestamp)
	assert.Equal(t, map[string]interface{}{
		"interested": "Test value for interested",
		"budget":     "Test value for Budget",
		"email":      "Test value for email",
	}, runner.env.Data)
}
