// Package dbtest provides an in-memory stand-in for the database queries.
package dbtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"openflow/internal/db"
	"openflow/internal/model"

	"github.com/jackc/pgx/v5"
)

// Store is an in-memory stand-in for *db.Queries. Tests may seed and
// inspect the exported maps directly.
type Store struct {
	mu           sync.Mutex
	Users        map[string]db.User
	Forms        map[string]db.Form
	Subs         map[string]db.Submission
	Integrations map[string]db.Integration
	Events       []model.AnalyticsEvent
	now          time.Time

	CreateFormErrs []error
	EventCounts    []db.EventCount
	StepCounts     []db.StepCount
	DailyCounts    []db.DailyCount
	SinceSeen      time.Time
	InsertErr      error
}

func New() *Store {
	return &Store{
		Users:        map[string]db.User{},
		Forms:        map[string]db.Form{},
		Subs:         map[string]db.Submission{},
		Integrations: map[string]db.Integration{},
		now:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *Store) tick() time.Time {
	m.now = m.now.Add(time.Second)
	return m.now
}

func (m *Store) GetUserByEmail(_ context.Context, email string) (db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.Email == email {
			return u, nil
		}
	}
	return db.User{}, pgx.ErrNoRows
}

func (m *Store) GetUserByID(_ context.Context, id string) (db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return db.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (m *Store) CreateUser(_ context.Context, id, email, hash string) (db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := db.User{ID: id, Email: email, PasswordHash: hash, CreatedAt: m.tick()}
	m.Users[id] = u
	return u, nil
}

func (m *Store) ListForms(_ context.Context, userID string) ([]db.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Form
	for _, f := range m.Forms {
		if f.UserID != userID {
			continue
		}
		for _, s := range m.Subs {
			if s.FormID == f.ID {
				f.SubmissionCount++
			}
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *Store) GetForm(_ context.Context, id, userID string) (db.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.Forms[id]
	if !ok || f.UserID != userID {
		return db.Form{}, pgx.ErrNoRows
	}
	return f, nil
}

func (m *Store) GetFormByID(_ context.Context, id string) (db.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.Forms[id]
	if !ok {
		return db.Form{}, pgx.ErrNoRows
	}
	return f, nil
}

func (m *Store) GetPublishedFormBySlug(_ context.Context, slug string) (db.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.Forms {
		if f.Slug == slug && f.Published {
			return f, nil
		}
	}
	return db.Form{}, pgx.ErrNoRows
}

func (m *Store) CreateForm(_ context.Context, p db.CreateFormParams) (db.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CreateFormErrs) > 0 {
		err := m.CreateFormErrs[0]
		m.CreateFormErrs = m.CreateFormErrs[1:]
		if err != nil {
			return db.Form{}, err
		}
	}
	now := m.tick()
	f := db.Form{
		ID: p.ID, UserID: p.UserID, Title: p.Title, Slug: p.Slug, Steps: p.Steps,
		EndScreen: p.EndScreen, Theme: p.Theme, GTMID: p.GTMID, CreatedAt: now, UpdatedAt: now,
	}
	m.Forms[f.ID] = f
	return f, nil
}

func (m *Store) UpdateForm(_ context.Context, p db.UpdateFormParams) (db.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.Forms[p.ID]
	if !ok || f.UserID != p.UserID {
		return db.Form{}, pgx.ErrNoRows
	}
	if p.Title != nil {
		f.Title = *p.Title
	}
	if p.Steps != nil {
		f.Steps = *p.Steps
	}
	if p.EndScreen != nil {
		f.EndScreen = *p.EndScreen
	}
	if p.Theme != nil {
		f.Theme = p.Theme
	}
	if p.GTMID != nil {
		f.GTMID = *p.GTMID
	}
	if p.Published != nil {
		f.Published = *p.Published
	}
	f.UpdatedAt = m.tick()
	m.Forms[f.ID] = f
	return f, nil
}

func (m *Store) DeleteForm(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.Forms[id]
	if !ok || f.UserID != userID {
		return pgx.ErrNoRows
	}
	delete(m.Forms, id)
	return nil
}

func (m *Store) CreateSubmission(_ context.Context, id, formID string, data map[string]interface{}, meta model.SubmissionMetadata) (db.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := db.Submission{ID: id, FormID: formID, Data: data, Metadata: meta, CreatedAt: m.tick()}
	m.Subs[id] = s
	return s, nil
}

func (m *Store) GetSubmission(_ context.Context, id string) (db.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subs[id]
	if !ok {
		return db.Submission{}, pgx.ErrNoRows
	}
	return s, nil
}

func (m *Store) CountSubmissions(_ context.Context, formID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Subs {
		if s.FormID == formID {
			n++
		}
	}
	return n, nil
}

func (m *Store) ListSubmissions(_ context.Context, formID string, limit, offset int) ([]db.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Submission
	for _, s := range m.Subs {
		if s.FormID == formID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit <= 0 {
		return out, nil
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (m *Store) DeleteSubmission(_ context.Context, formID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Subs[id]; ok && s.FormID == formID {
		delete(m.Subs, id)
	}
	return nil
}

func (m *Store) listIntegrations(formID string, enabledOnly bool) []db.Integration {
	var out []db.Integration
	for _, i := range m.Integrations {
		if i.FormID == formID && (!enabledOnly || i.Enabled) {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

func (m *Store) ListIntegrations(_ context.Context, formID string) ([]db.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.listIntegrations(formID, false)
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out, nil
}

func (m *Store) ListEnabledIntegrations(_ context.Context, formID string) ([]db.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listIntegrations(formID, true), nil
}

func (m *Store) GetIntegration(_ context.Context, formID, id string) (db.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.Integrations[id]
	if !ok || i.FormID != formID {
		return db.Integration{}, pgx.ErrNoRows
	}
	return i, nil
}

func (m *Store) CreateIntegration(_ context.Context, id, formID, typ string, enabled bool, config map[string]interface{}) (db.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := db.Integration{ID: id, FormID: formID, Type: typ, Enabled: enabled, Config: config, CreatedAt: m.tick()}
	m.Integrations[id] = i
	return i, nil
}

func (m *Store) UpdateIntegration(_ context.Context, formID, id string, config map[string]interface{}, enabled *bool) (db.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.Integrations[id]
	if !ok || i.FormID != formID {
		return db.Integration{}, pgx.ErrNoRows
	}
	if config != nil {
		i.Config = config
	}
	if enabled != nil {
		i.Enabled = *enabled
	}
	m.Integrations[id] = i
	return i, nil
}

func (m *Store) DeleteIntegration(_ context.Context, formID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.Integrations[id]; ok && i.FormID == formID {
		delete(m.Integrations, id)
	}
	return nil
}

func (m *Store) InsertEvent(_ context.Context, e model.AnalyticsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.Events = append(m.Events, e)
	return nil
}

func (m *Store) CountEvents(_ context.Context, formIDs []string, since time.Time) ([]db.EventCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SinceSeen = since
	want := map[string]bool{}
	for _, id := range formIDs {
		want[id] = true
	}
	var out []db.EventCount
	for _, c := range m.EventCounts {
		if want[c.FormID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Store) CountStepSessions(_ context.Context, formID string, since time.Time) ([]db.StepCount, error) {
	return m.StepCounts, nil
}

func (m *Store) CountDailySessions(_ context.Context, formID string, since time.Time) ([]db.DailyCount, error) {
	return m.DailyCounts, nil
}
