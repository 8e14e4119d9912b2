package service

import (
	"time"

	"openflow/internal/db"
	"openflow/internal/model"
)

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formToModel(f db.Form) model.Form {
	steps := f.Steps
	if steps == nil {
		steps = []model.Step{}
	}
	theme := f.Theme
	if theme == nil {
		theme = map[string]interface{}{}
	}
	return model.Form{
		ID:              f.ID,
		UserID:          f.UserID,
		Title:           f.Title,
		Slug:            f.Slug,
		Steps:           steps,
		EndScreen:       f.EndScreen,
		Theme:           theme,
		GTMID:           f.GTMID,
		Published:       f.Published,
		SubmissionCount: f.SubmissionCount,
		CreatedAt:       timestamp(f.CreatedAt),
		UpdatedAt:       timestamp(f.UpdatedAt),
	}
}

func submissionToModel(s db.Submission) model.Submission {
	return model.Submission{
		ID:        s.ID,
		FormID:    s.FormID,
		Data:      s.Data,
		Metadata:  s.Metadata,
		CreatedAt: timestamp(s.CreatedAt),
	}
}

func integrationToModel(i db.Integration) model.Integration {
	config := i.Config
	if config == nil {
		config = map[string]interface{}{}
	}
	return model.Integration{
		ID:        i.ID,
		FormID:    i.FormID,
		Type:      model.IntegrationType(i.Type),
		Enabled:   i.Enabled,
		Config:    config,
		CreatedAt: timestamp(i.CreatedAt),
	}
}

func userToModel(u db.User) model.User {
	return model.User{ID: u.ID, Email: u.Email, CreatedAt: timestamp(u.CreatedAt)}
}
