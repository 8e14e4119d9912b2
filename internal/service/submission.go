package service

import (
	"context"
	"fmt"
	"time"

	"openflow/internal/jobs"
	"openflow/internal/model"
	"openflow/internal/pubsub"
	"openflow/internal/sequencer"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type SubmissionService struct {
	forms     FormStore
	subs      SubmissionStore
	jobClient JobClient
	bus       EventBus
	log       *zap.Logger
	now       func() time.Time
}

func NewSubmissionService(forms FormStore, subs SubmissionStore, jobClient JobClient, bus EventBus, log *zap.Logger) *SubmissionService {
	return &SubmissionService{
		forms:     forms,
		subs:      subs,
		jobClient: jobClient,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// Submit validates data against the published form identified by slug,
// stores it and hands it to dispatch. Dispatch failures never fail the
// submission.
func (s *SubmissionService) Submit(ctx context.Context, slug string, data map[string]interface{}, meta model.SubmissionMetadata) (model.Submission, error) {
	form, err := s.forms.GetPublishedFormBySlug(ctx, slug)
	if err != nil {
		return model.Submission{}, lookup(err, "Form")
	}
	if data == nil {
		return model.Submission{}, invalidInput(nil, "Invalid submission data")
	}
	if err := sequencer.ValidateSubmission(form.Steps, form.EndScreen, data); err != nil {
		return model.Submission{}, invalidInput(err, "%s", err.Error())
	}

	meta.SubmittedAt = s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	row, err := s.subs.CreateSubmission(ctx, ulid.Make().String(), form.ID, data, meta)
	if err != nil {
		return model.Submission{}, fmt.Errorf("failed to store submission: %w", err)
	}

	s.log.Info("Submission stored", zap.String("submission_id", row.ID), zap.String("form_id", form.ID))

	if s.bus != nil {
		_ = s.bus.PublishForm(form.ID, map[string]interface{}{
			"type":         pubsub.EventSubmissionCreated,
			"submissionId": row.ID,
			"formId":       form.ID,
		})
	}

	if s.jobClient != nil {
		if err := s.jobClient.EnqueueDispatch(ctx, jobs.DispatchPayload{SubmissionID: row.ID, FormID: form.ID}); err != nil {
			s.log.Error("Failed to enqueue dispatch", zap.String("submission_id", row.ID), zap.Error(err))
		}
	}

	return submissionToModel(row), nil
}

// SubmissionPage is one page of a form's submissions, newest first.
type SubmissionPage struct {
	Submissions []model.Submission `json:"submissions"`
	Total       int                `json:"total"`
	Page        int                `json:"page"`
	Limit       int                `json:"limit"`
}

func (s *SubmissionService) List(ctx context.Context, userID, formID string, page, limit int) (SubmissionPage, error) {
	if _, err := s.forms.GetForm(ctx, formID, userID); err != nil {
		return SubmissionPage{}, lookup(err, "Form")
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	total, err := s.subs.CountSubmissions(ctx, formID)
	if err != nil {
		return SubmissionPage{}, fmt.Errorf("failed to count submissions: %w", err)
	}
	rows, err := s.subs.ListSubmissions(ctx, formID, limit, (page-1)*limit)
	if err != nil {
		return SubmissionPage{}, fmt.Errorf("failed to list submissions: %w", err)
	}

	out := SubmissionPage{Submissions: make([]model.Submission, 0, len(rows)), Total: total, Page: page, Limit: limit}
	for _, r := range rows {
		out.Submissions = append(out.Submissions, submissionToModel(r))
	}
	return out, nil
}

// Export is a tabular view of every submission of a form.
type Export struct {
	Filename string
	Rows     [][]string
}

// Export builds a header row of step labels and one row per submission.
func (s *SubmissionService) Export(ctx context.Context, userID, formID string) (Export, error) {
	form, err := s.forms.GetForm(ctx, formID, userID)
	if err != nil {
		return Export{}, lookup(err, "Form")
	}
	rows, err := s.subs.ListSubmissions(ctx, formID, 0, 0)
	if err != nil {
		return Export{}, fmt.Errorf("failed to list submissions: %w", err)
	}

	header := []string{"Submitted At"}
	for _, step := range form.Steps {
		header = append(header, step.DisplayLabel())
	}

	out := Export{Filename: form.Slug + "-submissions.csv", Rows: [][]string{header}}
	for _, r := range rows {
		row := []string{timestamp(r.CreatedAt)}
		for _, step := range form.Steps {
			row = append(row, sequencer.Stringify(r.Data[step.ID]))
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func (s *SubmissionService) Delete(ctx context.Context, userID, formID, id string) error {
	if _, err := s.forms.GetForm(ctx, formID, userID); err != nil {
		return lookup(err, "Form")
	}
	if err := s.subs.DeleteSubmission(ctx, formID, id); err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	return nil
}
