package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"openflow/internal/auth"
	"openflow/internal/db"
	"openflow/internal/db/dbtest"
	"openflow/internal/model"
	"openflow/internal/pubsub"
	"openflow/internal/ratelimit"
	"openflow/internal/schema"
	"openflow/internal/service"
	"openflow/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "s3cret"
)

type testEnv struct {
	store   *dbtest.Store
	jwt     *auth.JWTConfig
	forms   *service.FormService
	handler http.Handler
	userID  string
}

func newTestEnv(t *testing.T, limits Limits) *testEnv {
	t.Helper()
	log := zap.NewNop()
	store := dbtest.New()

	authoring, err := schema.NewAuthoring(schema.NewCompilerWithCache(16))
	require.NoError(t, err)

	jwtCfg := auth.NewJWTConfig("test-secret", false)
	authSvc := service.NewAuthService(store, jwtCfg, log)
	require.NoError(t, authSvc.SeedAdmin(context.Background(), adminEmail, adminPassword))

	var userID string
	for id := range store.Users {
		userID = id
	}

	forms := service.NewFormService(store, authoring, log)
	d := Dependencies{
		Forms:        forms,
		Submissions:  service.NewSubmissionService(store, store, nil, nil, log),
		Integrations: service.NewIntegrationService(store, store, authoring, log),
		Analytics:    service.NewAnalyticsService(store, store, log),
		Auth:         authSvc,
		JWT:          jwtCfg,
		Limiter:      ratelimit.NewMemory(128, time.Minute),
		Hub:          ws.NewHub(log),
		Log:          log,
		Limits:       limits,
		CORSOrigins:  []string{"*"},
	}
	return &testEnv{store: store, jwt: jwtCfg, forms: forms, handler: Routes(d), userID: userID}
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	token, _, err := e.jwt.Issue(e.userID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) seedForm(id, slug string, published bool) {
	e.store.Forms[id] = db.Form{
		ID:        id,
		UserID:    e.userID,
		Title:     "Contact",
		Slug:      slug,
		Published: published,
		Steps: []model.Step{
			{ID: "name", Type: model.StepText, Label: "Name", Required: true},
			{ID: "email", Type: model.StepEmail, Question: "Your email?"},
		},
		Theme:     map[string]interface{}{},
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestRoutes_Healthz(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})
	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestRoutes_LoginAndMe(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})

	rec := env.do(t, http.MethodPost, "/api/auth/login", `{"email":"admin@example.com","password":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decode(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/auth/login", `{"email":"Admin@Example.com","password":"s3cret"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, auth.CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookies[0])
	me := httptest.NewRecorder()
	env.handler.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	user := decode(t, me)["user"].(map[string]interface{})
	assert.Equal(t, adminEmail, user["email"])
	assert.NotContains(t, me.Body.String(), "password")

	rec = env.do(t, http.MethodPost, "/api/auth/logout", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestRoutes_AdminRequiresAuth(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})

	for _, path := range []string{"/api/forms", "/api/analytics/overview", "/api/auth/me"} {
		rec := env.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "Not authenticated", decode(t, rec)["error"], path)
	}

	rec := env.do(t, http.MethodGet, "/api/forms", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid token", decode(t, rec)["error"])
}

func TestRoutes_FormLifecycle(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})
	token := env.token(t)

	rec := env.do(t, http.MethodPost, "/api/forms", "", token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	form := decode(t, rec)["form"].(map[string]interface{})
	assert.Equal(t, "Untitled Form", form["title"])
	id := form["id"].(string)
	slug := form["slug"].(string)
	assert.Len(t, slug, 8)

	rec = env.do(t, http.MethodGet, "/api/public/form/"+slug, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Form not found", decode(t, rec)["error"])

	rec = env.do(t, http.MethodPut, "/api/forms/"+id,
		`{"published":true,"steps":[{"id":"q1","type":"text","label":"First","required":true}]}`, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/public/form/"+slug, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	public := decode(t, rec)
	assert.Equal(t, id, public["id"])
	assert.Len(t, public["steps"], 1)

	rec = env.do(t, http.MethodGet, "/api/forms", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["forms"], 1)

	rec = env.do(t, http.MethodDelete, "/api/forms/"+id, "", token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/forms/"+id, "", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_FormRejectsInvalidSteps(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})
	rec := env.do(t, http.MethodPost, "/api/forms",
		`{"steps":[{"id":"a","type":"text"},{"id":"a","type":"email"}]}`, env.token(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "Duplicate step id")
}

func TestRoutes_Submit(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})
	env.seedForm("f1", "contact1", true)

	rec := env.do(t, http.MethodPost, "/api/public/form/contact1/submit", `{"data":{"email":"a@b.co"}}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Please answer this question.", decode(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/public/form/contact1/submit", `{"data":{"name":"Ada","email":"a@b.co"}}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])

	sub, ok := env.store.Subs[body["id"].(string)]
	require.True(t, ok)
	assert.Equal(t, "Ada", sub.Data["name"])
	assert.Equal(t, "192.0.2.1", sub.Metadata.IP)
	assert.NotEmpty(t, sub.Metadata.SubmittedAt)

	rec = env.do(t, http.MethodPost, "/api/public/form/missing/submit", `{"data":{}}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/public/form/contact1/submit", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutes_SubmitRateLimited(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 1, Track: 100})
	env.seedForm("f1", "contact1", true)

	rec := env.do(t, http.MethodPost, "/api/public/form/contact1/submit", `{"data":{"name":"Ada"}}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/public/form/contact1/submit", `{"data":{"name":"Ada"}}`, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many submissions, please try again later", decode(t, rec)["error"])
	assert.Len(t, env.store.Subs, 1)
}

func TestRoutes_PublicCORS(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})
	env.seedForm("f1", "contact1", true)

	req := httptest.NewRequest(http.MethodOptions, "/api/public/form/contact1/submit", nil)
	req.Header.Set("Origin", "https://customer.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRoutes_Track(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})

	rec := env.do(t, http.MethodPost, "/api/public/track", `{"formId":"f1","event":"bounce"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid event type", decode(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/public/track", `{"formId":"f1","event":"step","sessionId":"s1","stepIndex":2,"stepId":"email"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.store.Events, 1)
	assert.Equal(t, model.EventStep, env.store.Events[0].Event)
	require.NotNil(t, env.store.Events[0].StepIndex)
	assert.Equal(t, 2, *env.store.Events[0].StepIndex)
}

func TestRoutes_SubmissionsListAndExport(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})
	env.seedForm("f1", "contact1", true)
	token := env.token(t)

	for _, name := range []string{"Ada", "Grace"} {
		rec := env.do(t, http.MethodPost, "/api/public/form/contact1/submit", `{"data":{"name":"`+name+`"}}`, "")
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/submissions/f1?page=1&limit=1", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode(t, rec)
	assert.EqualValues(t, 2, page["total"])
	assert.EqualValues(t, 1, page["limit"])
	assert.Len(t, page["submissions"], 1)

	rec = env.do(t, http.MethodGet, "/api/submissions/f1/export", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="contact1-submissions.csv"`)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Submitted At,Name,Your email?", lines[0])

	var subID string
	for id := range env.store.Subs {
		subID = id
		break
	}
	rec = env.do(t, http.MethodDelete, "/api/submissions/f1/"+subID, "", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.store.Subs, 1)
}

func TestRoutes_OtherUsersFormIsNotFound(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})
	env.seedForm("f1", "contact1", true)
	other, _, err := env.jwt.Issue("someone-else")
	require.NoError(t, err)

	for _, path := range []string{"/api/forms/f1", "/api/submissions/f1", "/api/integrations/f1", "/api/analytics/f1"} {
		rec := env.do(t, http.MethodGet, path, "", other)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "Form not found", decode(t, rec)["error"], path)
	}
}

func TestRoutes_Integrations(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})
	env.seedForm("f1", "contact1", true)
	token := env.token(t)

	rec := env.do(t, http.MethodPost, "/api/integrations/f1", `{"type":"slack"}`, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid integration type. Use: webhook, email, google_sheets", decode(t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/api/integrations/f1", `{"type":"webhook","config":{"url":"https://hooks.example/x"}}`, token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	integration := decode(t, rec)["integration"].(map[string]interface{})
	assert.Equal(t, true, integration["enabled"])
	id := integration["id"].(string)

	rec = env.do(t, http.MethodPut, "/api/integrations/f1/"+id, `{"enabled":false}`, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["integration"].(map[string]interface{})["enabled"])

	rec = env.do(t, http.MethodGet, "/api/integrations/f1", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["integrations"], 1)

	// No runner is wired in this environment
	rec = env.do(t, http.MethodPost, "/api/integrations/f1/"+id+"/test", "", token)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decode(t, rec)["error"])

	rec = env.do(t, http.MethodDelete, "/api/integrations/f1/"+id, "", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.store.Integrations)
}

func TestRoutes_Analytics(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})
	env.seedForm("f1", "contact1", true)
	env.store.EventCounts = []db.EventCount{
		{FormID: "f1", Event: "view", Total: 12, Sessions: 10},
		{FormID: "f1", Event: "start", Total: 6, Sessions: 5},
		{FormID: "f1", Event: "complete", Total: 2, Sessions: 2},
	}
	token := env.token(t)

	rec := env.do(t, http.MethodGet, "/api/analytics/overview?days=7", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	forms := decode(t, rec)["forms"].([]interface{})
	require.Len(t, forms, 1)
	overview := forms[0].(map[string]interface{})
	assert.EqualValues(t, 10, overview["views"])
	assert.EqualValues(t, 20, overview["conversionRate"])

	rec = env.do(t, http.MethodGet, "/api/analytics/f1?days=abc", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode(t, rec)
	assert.EqualValues(t, 30, report["days"])
	assert.EqualValues(t, 50, report["summary"].(map[string]interface{})["startRate"])
}

func TestRoutes_WebSocketRequiresAuth(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})
	rec := env.do(t, http.MethodGet, "/api/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"no origin", "", []string{"*"}, true},
		{"same host", "http://api.example", []string{"*"}, true},
		{"wildcard does not cover sockets", "https://evil.example", []string{"*"}, false},
		{"listed origin", "https://admin.example", []string{"https://admin.example"}, true},
		{"unlisted origin", "https://evil.example", []string{"https://admin.example"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://api.example/api/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, originAllowed(r, tt.allowed))
		})
	}
}

func TestFormChannelAuthorizer(t *testing.T) {
	env := newTestEnv(t, Limits{Submit: 10, Track: 100})
	env.seedForm("f1", "contact1", false)
	authorize := FormChannelAuthorizer(env.forms)
	ctx := context.Background()

	assert.True(t, authorize(ctx, env.userID, pubsub.FormChannel("f1")))
	assert.False(t, authorize(ctx, "someone-else", pubsub.FormChannel("f1")))
	assert.False(t, authorize(ctx, env.userID, pubsub.FormChannel("missing")))
	assert.False(t, authorize(ctx, env.userID, "f1"))
}
