package service

import (
	"context"
	"time"

	"openflow/internal/db"
	"openflow/internal/model"
)

// The store interfaces are satisfied by *db.Queries.

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (db.User, error)
	GetUserByID(ctx context.Context, id string) (db.User, error)
	CreateUser(ctx context.Context, id, email, passwordHash string) (db.User, error)
}

type FormStore interface {
	ListForms(ctx context.Context, userID string) ([]db.Form, error)
	GetForm(ctx context.Context, id, userID string) (db.Form, error)
	GetFormByID(ctx context.Context, id string) (db.Form, error)
	GetPublishedFormBySlug(ctx context.Context, slug string) (db.Form, error)
	CreateForm(ctx context.Context, p db.CreateFormParams) (db.Form, error)
	UpdateForm(ctx context.Context, p db.UpdateFormParams) (db.Form, error)
	DeleteForm(ctx context.Context, id, userID string) error
}

type SubmissionStore interface {
	CreateSubmission(ctx context.Context, id, formID string, data map[string]interface{}, meta model.SubmissionMetadata) (db.Submission, error)
	GetSubmission(ctx context.Context, id string) (db.Submission, error)
	CountSubmissions(ctx context.Context, formID string) (int, error)
	ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]db.Submission, error)
	DeleteSubmission(ctx context.Context, formID, id string) error
}

type IntegrationStore interface {
	ListIntegrations(ctx context.Context, formID string) ([]db.Integration, error)
	ListEnabledIntegrations(ctx context.Context, formID string) ([]db.Integration, error)
	GetIntegration(ctx context.Context, formID, id string) (db.Integration, error)
	CreateIntegration(ctx context.Context, id, formID, typ string, enabled bool, config map[string]interface{}) (db.Integration, error)
	UpdateIntegration(ctx context.Context, formID, id string, config map[string]interface{}, enabled *bool) (db.Integration, error)
	DeleteIntegration(ctx context.Context, formID, id string) error
}

type AnalyticsStore interface {
	InsertEvent(ctx context.Context, e model.AnalyticsEvent) error
	CountEvents(ctx context.Context, formIDs []string, since time.Time) ([]db.EventCount, error)
	CountStepSessions(ctx context.Context, formID string, since time.Time) ([]db.StepCount, error)
	CountDailySessions(ctx context.Context, formID string, since time.Time) ([]db.DailyCount, error)
}

// EventBus publishes live events of a form
type EventBus interface {
	PublishForm(formID string, event map[string]interface{}) error
}
