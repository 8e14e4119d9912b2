package service

import (
	"context"
	"regexp"
	"testing"

	"openflow/internal/db/dbtest"
	"openflow/internal/model"
	"openflow/internal/schema"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFormService(t *testing.T, store *dbtest.Store) *FormService {
	t.Helper()
	authoring, err := schema.NewAuthoring(schema.NewCompilerWithCache(16))
	require.NoError(t, err)
	return NewFormService(store, authoring, zap.NewNop())
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestFormService_CreateDefaults(t *testing.T) {
	svc := newFormService(t, dbtest.New())

	f, err := svc.Create(context.Background(), "u1", FormInput{})
	require.NoError(t, err)

	assert.Equal(t, "Untitled Form", f.Title)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-z]{8}$`), f.Slug)
	assert.Equal(t, model.DefaultEndScreen, f.EndScreen)
	assert.Empty(t, f.Steps)
	assert.NotNil(t, f.Theme)
	assert.False(t, f.Published)
	assert.Equal(t, "u1", f.UserID)
}

func TestFormService_CreateRetriesSlugCollision(t *testing.T) {
	store := dbtest.New()
	store.CreateFormErrs = []error{&pgconn.PgError{Code: "23505"}}
	svc := newFormService(t, store)

	f, err := svc.Create(context.Background(), "u1", FormInput{Title: strPtr("  Leads ")})
	require.NoError(t, err)
	assert.Equal(t, "Leads", f.Title)
	assert.Len(t, store.Forms, 1)
}

func TestFormService_StepValidation(t *testing.T) {
	svc := newFormService(t, dbtest.New())
	ctx := context.Background()

	tests := []struct {
		name  string
		steps []model.Step
		msg   string
	}{
		{
			name:  "schema",
			steps: []model.Step{{ID: "a", Type: "slider"}},
			msg:   "Invalid steps",
		},
		{
			name:  "duplicate id",
			steps: []model.Step{{ID: "a", Type: model.StepText}, {ID: "a", Type: model.StepEmail}},
			msg:   `Duplicate step id "a"`,
		},
		{
			name: "unknown condition field",
			steps: []model.Step{
				{ID: "a", Type: model.StepText, Condition: &model.Condition{Field: "ghost", Operator: model.OpIsSet}},
			},
			msg: `Step "a" has a condition on unknown step "ghost"`,
		},
		{
			name: "self reference",
			steps: []model.Step{
				{ID: "a", Type: model.StepText, Condition: &model.Condition{Field: "a", Operator: model.OpIsSet}},
			},
			msg: "unknown step",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := tt.steps
			_, err := svc.Create(ctx, "u1", FormInput{Steps: &steps})
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestFormService_UpdateAndOwnership(t *testing.T) {
	store := dbtest.New()
	svc := newFormService(t, store)
	ctx := context.Background()

	f, err := svc.Create(ctx, "u1", FormInput{Title: strPtr("Leads")})
	require.NoError(t, err)

	steps := []model.Step{
		{ID: "q1", Type: model.StepYesNo, Required: true},
		{ID: "q2", Type: model.StepText, Condition: &model.Condition{Field: "q1", Operator: model.OpEquals, Value: "yes"}},
	}
	updated, err := svc.Update(ctx, "u1", f.ID, FormInput{Steps: &steps, Published: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, "Leads", updated.Title)
	assert.Len(t, updated.Steps, 2)
	assert.True(t, updated.Published)

	_, err = svc.Update(ctx, "u2", f.ID, FormInput{Title: strPtr("Mine now")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "Form not found")

	_, err = svc.Get(ctx, "u2", f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, svc.Owns(ctx, "u1", f.ID))
	assert.False(t, svc.Owns(ctx, "u2", f.ID))

	pub, err := svc.Published(ctx, f.Slug)
	require.NoError(t, err)
	assert.Equal(t, f.ID, pub.ID)

	assert.ErrorIs(t, svc.Delete(ctx, "u2", f.ID), ErrNotFound)
	require.NoError(t, svc.Delete(ctx, "u1", f.ID))
	_, err = svc.Published(ctx, f.Slug)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFormService_ListOnlyOwnForms(t *testing.T) {
	svc := newFormService(t, dbtest.New())
	ctx := context.Background()

	_, err := svc.Create(ctx, "u1", FormInput{Title: strPtr("A")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u1", FormInput{Title: strPtr("B")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u2", FormInput{Title: strPtr("C")})
	require.NoError(t, err)

	forms, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, forms, 2)
	assert.Equal(t, "B", forms[0].Title)
}

func TestFormService_UnpublishedIsNotPublic(t *testing.T) {
	svc := newFormService(t, dbtest.New())
	ctx := context.Background()

	f, err := svc.Create(ctx, "u1", FormInput{})
	require.NoError(t, err)

	_, err = svc.Published(ctx, f.Slug)
	assert.ErrorIs(t, err, ErrNotFound)
}
