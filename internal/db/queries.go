package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"openflow/internal/model"
)

// Queries wraps database queries
type Queries struct {
	*pgxpool.Pool
}

// NewQueries creates a new Queries instance
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{Pool: pool}
}

// User represents a users row
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// User queries
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := q.Pool.QueryRow(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = $1",
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := q.Pool.QueryRow(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE id = $1",
		id,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

func (q *Queries) CreateUser(ctx context.Context, id, email, passwordHash string) (User, error) {
	var u User
	err := q.Pool.QueryRow(ctx,
		"INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3) RETURNING id, email, password_hash, created_at",
		id, email, passwordHash,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

// Form represents a forms row
type Form struct {
	ID              string
	UserID          string
	Title           string
	Slug            string
	Steps           []model.Step
	EndScreen       model.EndScreen
	Theme           map[string]interface{}
	GTMID           string
	Published       bool
	SubmissionCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const formColumns = `id, user_id, title, slug, steps, end_screen, theme, gtm_id, published, created_at, updated_at`

func scanForm(row pgx.Row) (Form, error) {
	var f Form
	err := row.Scan(&f.ID, &f.UserID, &f.Title, &f.Slug, &f.Steps, &f.EndScreen, &f.Theme,
		&f.GTMID, &f.Published, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// Form queries
func (q *Queries) ListForms(ctx context.Context, userID string) ([]Form, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT `+formColumns+`,
			(SELECT COUNT(*) FROM submissions s WHERE s.form_id = forms.id) AS submission_count
		FROM forms WHERE user_id = $1 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var forms []Form
	for rows.Next() {
		var f Form
		err := rows.Scan(&f.ID, &f.UserID, &f.Title, &f.Slug, &f.Steps, &f.EndScreen, &f.Theme,
			&f.GTMID, &f.Published, &f.CreatedAt, &f.UpdatedAt, &f.SubmissionCount)
		if err != nil {
			return nil, err
		}
		forms = append(forms, f)
	}
	return forms, rows.Err()
}

// GetForm returns a form only if it belongs to userID.
func (q *Queries) GetForm(ctx context.Context, id, userID string) (Form, error) {
	return scanForm(q.Pool.QueryRow(ctx,
		"SELECT "+formColumns+" FROM forms WHERE id = $1 AND user_id = $2",
		id, userID,
	))
}

func (q *Queries) GetFormByID(ctx context.Context, id string) (Form, error) {
	return scanForm(q.Pool.QueryRow(ctx,
		"SELECT "+formColumns+" FROM forms WHERE id = $1",
		id,
	))
}

func (q *Queries) GetPublishedFormBySlug(ctx context.Context, slug string) (Form, error) {
	return scanForm(q.Pool.QueryRow(ctx,
		"SELECT "+formColumns+" FROM forms WHERE slug = $1 AND published = TRUE",
		slug,
	))
}

type CreateFormParams struct {
	ID        string
	UserID    string
	Title     string
	Slug      string
	Steps     []model.Step
	EndScreen model.EndScreen
	Theme     map[string]interface{}
	GTMID     string
}

func (q *Queries) CreateForm(ctx context.Context, p CreateFormParams) (Form, error) {
	return scanForm(q.Pool.QueryRow(ctx,
		`INSERT INTO forms (id, user_id, title, slug, steps, end_screen, theme, gtm_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+formColumns,
		p.ID, p.UserID, p.Title, p.Slug, p.Steps, p.EndScreen, p.Theme, p.GTMID,
	))
}

// UpdateFormParams leaves a column untouched when its field is nil.
type UpdateFormParams struct {
	ID        string
	UserID    string
	Title     *string
	Steps     *[]model.Step
	EndScreen *model.EndScreen
	Theme     map[string]interface{}
	GTMID     *string
	Published *bool
}

func (q *Queries) UpdateForm(ctx context.Context, p UpdateFormParams) (Form, error) {
	var steps, endScreen interface{}
	if p.Steps != nil {
		steps = *p.Steps
	}
	if p.EndScreen != nil {
		endScreen = *p.EndScreen
	}
	var theme interface{}
	if p.Theme != nil {
		theme = p.Theme
	}
	return scanForm(q.Pool.QueryRow(ctx,
		`UPDATE forms SET
			title = COALESCE($3, title),
			steps = COALESCE($4::jsonb, steps),
			end_screen = COALESCE($5::jsonb, end_screen),
			theme = COALESCE($6::jsonb, theme),
			gtm_id = COALESCE($7, gtm_id),
			published = COALESCE($8, published),
			updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+formColumns,
		p.ID, p.UserID, p.Title, steps, endScreen, theme, p.GTMID, p.Published,
	))
}

// DeleteForm removes the form with its submissions and integrations.
func (q *Queries) DeleteForm(ctx context.Context, id, userID string) error {
	result, err := q.Pool.Exec(ctx,
		"DELETE FROM forms WHERE id = $1 AND user_id = $2",
		id, userID,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Submission represents a submissions row
type Submission struct {
	ID        string
	FormID    string
	Data      map[string]interface{}
	Metadata  model.SubmissionMetadata
	CreatedAt time.Time
}

const submissionColumns = `id, form_id, data, metadata, created_at`

func scanSubmission(row pgx.Row) (Submission, error) {
	var s Submission
	err := row.Scan(&s.ID, &s.FormID, &s.Data, &s.Metadata, &s.CreatedAt)
	return s, err
}

// Submission queries
func (q *Queries) CreateSubmission(ctx context.Context, id, formID string, data map[string]interface{}, meta model.SubmissionMetadata) (Submission, error) {
	return scanSubmission(q.Pool.QueryRow(ctx,
		"INSERT INTO submissions (id, form_id, data, metadata) VALUES ($1, $2, $3, $4) RETURNING "+submissionColumns,
		id, formID, data, meta,
	))
}

func (q *Queries) GetSubmission(ctx context.Context, id string) (Submission, error) {
	return scanSubmission(q.Pool.QueryRow(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE id = $1",
		id,
	))
}

func (q *Queries) CountSubmissions(ctx context.Context, formID string) (int, error) {
	var n int
	err := q.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM submissions WHERE form_id = $1", formID).Scan(&n)
	return n, err
}

// ListSubmissions returns newest first; limit <= 0 returns all rows.
func (q *Queries) ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]Submission, error) {
	var rows pgx.Rows
	var err error

	if limit > 0 {
		rows, err = q.Pool.Query(ctx,
			"SELECT "+submissionColumns+" FROM submissions WHERE form_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
			formID, limit, offset,
		)
	} else {
		rows, err = q.Pool.Query(ctx,
			"SELECT "+submissionColumns+" FROM submissions WHERE form_id = $1 ORDER BY created_at DESC",
			formID,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (q *Queries) DeleteSubmission(ctx context.Context, formID, id string) error {
	_, err := q.Pool.Exec(ctx, "DELETE FROM submissions WHERE id = $1 AND form_id = $2", id, formID)
	return err
}

// Integration represents an integrations row
type Integration struct {
	ID        string
	FormID    string
	Type      string
	Enabled   bool
	Config    map[string]interface{}
	CreatedAt time.Time
}

const integrationColumns = `id, form_id, type, enabled, config, created_at`

func scanIntegrations(rows pgx.Rows) ([]Integration, error) {
	defer rows.Close()

	var out []Integration
	for rows.Next() {
		var i Integration
		if err := rows.Scan(&i.ID, &i.FormID, &i.Type, &i.Enabled, &i.Config, &i.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// Integration queries
func (q *Queries) ListIntegrations(ctx context.Context, formID string) ([]Integration, error) {
	rows, err := q.Pool.Query(ctx,
		"SELECT "+integrationColumns+" FROM integrations WHERE form_id = $1 ORDER BY created_at DESC",
		formID,
	)
	if err != nil {
		return nil, err
	}
	return scanIntegrations(rows)
}

// ListEnabledIntegrations returns enabled integrations in creation order.
func (q *Queries) ListEnabledIntegrations(ctx context.Context, formID string) ([]Integration, error) {
	rows, err := q.Pool.Query(ctx,
		"SELECT "+integrationColumns+" FROM integrations WHERE form_id = $1 AND enabled = TRUE ORDER BY created_at, id",
		formID,
	)
	if err != nil {
		return nil, err
	}
	return scanIntegrations(rows)
}

func (q *Queries) GetIntegration(ctx context.Context, formID, id string) (Integration, error) {
	var i Integration
	err := q.Pool.QueryRow(ctx,
		"SELECT "+integrationColumns+" FROM integrations WHERE id = $1 AND form_id = $2",
		id, formID,
	).Scan(&i.ID, &i.FormID, &i.Type, &i.Enabled, &i.Config, &i.CreatedAt)
	return i, err
}

func (q *Queries) CreateIntegration(ctx context.Context, id, formID, typ string, enabled bool, config map[string]interface{}) (Integration, error) {
	var i Integration
	err := q.Pool.QueryRow(ctx,
		"INSERT INTO integrations (id, form_id, type, enabled, config) VALUES ($1, $2, $3, $4, $5) RETURNING "+integrationColumns,
		id, formID, typ, enabled, config,
	).Scan(&i.ID, &i.FormID, &i.Type, &i.Enabled, &i.Config, &i.CreatedAt)
	return i, err
}

// UpdateIntegration keeps the stored config when config is nil and the
// stored flag when enabled is nil.
func (q *Queries) UpdateIntegration(ctx context.Context, formID, id string, config map[string]interface{}, enabled *bool) (Integration, error) {
	var cfg interface{}
	if config != nil {
		cfg = config
	}
	var i Integration
	err := q.Pool.QueryRow(ctx,
		`UPDATE integrations SET
			config = COALESCE($3::jsonb, config),
			enabled = COALESCE($4, enabled)
		WHERE id = $1 AND form_id = $2
		RETURNING `+integrationColumns,
		id, formID, cfg, enabled,
	).Scan(&i.ID, &i.FormID, &i.Type, &i.Enabled, &i.Config, &i.CreatedAt)
	return i, err
}

func (q *Queries) DeleteIntegration(ctx context.Context, formID, id string) error {
	_, err := q.Pool.Exec(ctx, "DELETE FROM integrations WHERE id = $1 AND form_id = $2", id, formID)
	return err
}

// Analytics queries
func (q *Queries) InsertEvent(ctx context.Context, e model.AnalyticsEvent) error {
	_, err := q.Pool.Exec(ctx,
		"INSERT INTO analytics_events (form_id, event, session_id, step_index, step_id) VALUES ($1, $2, $3, $4, $5)",
		e.FormID, string(e.Event), nullString(e.SessionID), e.StepIndex, nullString(e.StepID),
	)
	return err
}

// EventCount is the number of events and distinct sessions per form and kind.
type EventCount struct {
	FormID   string
	Event    string
	Total    int
	Sessions int
}

func (q *Queries) CountEvents(ctx context.Context, formIDs []string, since time.Time) ([]EventCount, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT form_id, event, COUNT(*), COUNT(DISTINCT session_id)
		FROM analytics_events
		WHERE form_id = ANY($1) AND created_at >= $2
		GROUP BY form_id, event`,
		formIDs, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventCount
	for rows.Next() {
		var c EventCount
		if err := rows.Scan(&c.FormID, &c.Event, &c.Total, &c.Sessions); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StepCount is the number of distinct sessions that reached a step.
type StepCount struct {
	StepIndex int
	StepID    string
	Sessions  int
}

func (q *Queries) CountStepSessions(ctx context.Context, formID string, since time.Time) ([]StepCount, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT step_index, COALESCE(MAX(step_id), ''), COUNT(DISTINCT session_id)
		FROM analytics_events
		WHERE form_id = $1 AND event = 'step' AND created_at >= $2 AND step_index IS NOT NULL
		GROUP BY step_index
		ORDER BY step_index`,
		formID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepCount
	for rows.Next() {
		var c StepCount
		if err := rows.Scan(&c.StepIndex, &c.StepID, &c.Sessions); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DailyCount is the number of distinct sessions per UTC day and event.
type DailyCount struct {
	Day      string
	Event    string
	Sessions int
}

func (q *Queries) CountDailySessions(ctx context.Context, formID string, since time.Time) ([]DailyCount, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, event, COUNT(DISTINCT session_id)
		FROM analytics_events
		WHERE form_id = $1 AND created_at >= $2 AND event IN ('view', 'start', 'complete')
		GROUP BY day, event
		ORDER BY day, event`,
		formID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var c DailyCount
		if err := rows.Scan(&c.Day, &c.Event, &c.Sessions); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
