package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"openflow/internal/db"
	"openflow/internal/model"

	"go.uber.org/zap"
)

const (
	defaultAnalyticsDays = 30
	maxAnalyticsDays     = 365
)

type AnalyticsService struct {
	forms  FormStore
	events AnalyticsStore
	log    *zap.Logger
	now    func() time.Time
}

func NewAnalyticsService(forms FormStore, events AnalyticsStore, log *zap.Logger) *AnalyticsService {
	return &AnalyticsService{forms: forms, events: events, log: log, now: time.Now}
}

// Track records one funnel event. Storage failures are logged and swallowed
// so tracking never breaks the respondent's session.
func (s *AnalyticsService) Track(ctx context.Context, e model.AnalyticsEvent) error {
	e.FormID = strings.TrimSpace(e.FormID)
	if e.FormID == "" || e.Event == "" {
		return invalidInput(nil, "Missing formId or event")
	}
	if !e.Event.Valid() {
		return invalidInput(nil, "Invalid event type")
	}
	if err := s.events.InsertEvent(ctx, e); err != nil {
		s.log.Warn("Failed to record analytics event",
			zap.String("form_id", e.FormID),
			zap.String("event", string(e.Event)),
			zap.Error(err))
	}
	return nil
}

// Funnel holds distinct-session counts of the main funnel events.
type Funnel struct {
	Views          int `json:"views"`
	Starts         int `json:"starts"`
	Completions    int `json:"completions"`
	ConversionRate int `json:"conversionRate"`
	StartRate      int `json:"startRate"`
}

type FormOverview struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
	Funnel
}

type StepDropoff struct {
	StepIndex int    `json:"stepIndex"`
	StepID    string `json:"stepId"`
	Label     string `json:"label"`
	Sessions  int    `json:"sessions"`
}

type DailySessions struct {
	Day      string `json:"day"`
	Event    string `json:"event"`
	Sessions int    `json:"sessions"`
}

type FormReport struct {
	FormID      string          `json:"formId"`
	Title       string          `json:"title"`
	Days        int             `json:"days"`
	Summary     Funnel          `json:"summary"`
	StepDropoff []StepDropoff   `json:"stepDropoff"`
	Daily       []DailySessions `json:"daily"`
}

// Overview summarizes the funnel of every form of userID over the last days.
func (s *AnalyticsService) Overview(ctx context.Context, userID string, days int) ([]FormOverview, error) {
	forms, err := s.forms.ListForms(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	out := make([]FormOverview, 0, len(forms))
	if len(forms) == 0 {
		return out, nil
	}

	ids := make([]string, len(forms))
	for i, f := range forms {
		ids[i] = f.ID
	}
	counts, err := s.events.CountEvents(ctx, ids, s.since(days))
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	byForm := make(map[string][]db.EventCount)
	for _, c := range counts {
		byForm[c.FormID] = append(byForm[c.FormID], c)
	}
	for _, f := range forms {
		out = append(out, FormOverview{ID: f.ID, Title: f.Title, Slug: f.Slug, Funnel: funnelOf(byForm[f.ID])})
	}
	return out, nil
}

// Report returns the funnel, step drop-off and daily trend of one form.
func (s *AnalyticsService) Report(ctx context.Context, userID, formID string, days int) (FormReport, error) {
	form, err := s.forms.GetForm(ctx, formID, userID)
	if err != nil {
		return FormReport{}, lookup(err, "Form")
	}
	days = clampDays(days)
	since := s.since(days)

	counts, err := s.events.CountEvents(ctx, []string{formID}, since)
	if err != nil {
		return FormReport{}, fmt.Errorf("failed to count events: %w", err)
	}
	steps, err := s.events.CountStepSessions(ctx, formID, since)
	if err != nil {
		return FormReport{}, fmt.Errorf("failed to count step sessions: %w", err)
	}
	daily, err := s.events.CountDailySessions(ctx, formID, since)
	if err != nil {
		return FormReport{}, fmt.Errorf("failed to count daily sessions: %w", err)
	}

	report := FormReport{
		FormID:      form.ID,
		Title:       form.Title,
		Days:        days,
		Summary:     funnelOf(counts),
		StepDropoff: make([]StepDropoff, 0, len(steps)),
		Daily:       make([]DailySessions, 0, len(daily)),
	}
	for _, sc := range steps {
		report.StepDropoff = append(report.StepDropoff, StepDropoff{
			StepIndex: sc.StepIndex,
			StepID:    sc.StepID,
			Label:     stepLabel(form.Steps, sc.StepIndex),
			Sessions:  sc.Sessions,
		})
	}
	for _, d := range daily {
		report.Daily = append(report.Daily, DailySessions{Day: d.Day, Event: d.Event, Sessions: d.Sessions})
	}
	return report, nil
}

func (s *AnalyticsService) since(days int) time.Time {
	return s.now().Add(-time.Duration(clampDays(days)) * 24 * time.Hour)
}

func clampDays(days int) int {
	if days <= 0 {
		return defaultAnalyticsDays
	}
	if days > maxAnalyticsDays {
		return maxAnalyticsDays
	}
	return days
}

func funnelOf(counts []db.EventCount) Funnel {
	var f Funnel
	for _, c := range counts {
		switch model.EventKind(c.Event) {
		case model.EventView:
			f.Views = c.Sessions
		case model.EventStart:
			f.Starts = c.Sessions
		case model.EventComplete:
			f.Completions = c.Sessions
		}
	}
	f.ConversionRate = percent(f.Completions, f.Views)
	f.StartRate = percent(f.Starts, f.Views)
	return f
}

func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}

func stepLabel(steps []model.Step, index int) string {
	if index >= 0 && index < len(steps) {
		if s := steps[index]; s.Label != "" || s.Question != "" {
			return s.DisplayLabel()
		}
	}
	return fmt.Sprintf("Step %d", index+1)
}
