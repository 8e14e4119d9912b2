package api

import (
	"net/http"
	"time"

	"openflow/internal/auth"
	"openflow/internal/ratelimit"
	"openflow/internal/service"
	"openflow/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const rateWindow = time.Minute

// Limits are per-IP request budgets per minute for the public endpoints.
type Limits struct {
	Submit int
	Track  int
}

type Dependencies struct {
	Forms        *service.FormService
	Submissions  *service.SubmissionService
	Integrations *service.IntegrationService
	Analytics    *service.AnalyticsService
	Auth         *service.AuthService
	JWT          *auth.JWTConfig
	Limiter      ratelimit.Limiter
	Hub          *ws.Hub
	Log          *zap.Logger
	Limits       Limits
	CORSOrigins  []string
}

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Log))
	r.Use(middleware.Recoverer)
	r.Use(skipUpgrades(middleware.Timeout(60 * time.Second)))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// Embedded forms run on third-party sites
		r.Route("/public", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: d.CORSOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Content-Type"},
				MaxAge:         300,
			}))

			r.Get("/form/{slug}", d.getPublicForm)
			r.With(d.RateLimit("submit", d.Limits.Submit, rateWindow, "Too many submissions, please try again later")).
				Post("/form/{slug}/submit", d.submitForm)
			r.With(d.RateLimit("track", d.Limits.Track, rateWindow, "Rate limited")).
				Post("/track", d.track)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", d.login)
			r.Post("/logout", d.logout)
			r.With(d.JWT.Required(d.onAuthError)).Get("/me", d.me)
		})

		r.Group(func(r chi.Router) {
			r.Use(d.JWT.Required(d.onAuthError))

			r.Get("/forms", d.listForms)
			r.Post("/forms", d.createForm)
			r.Get("/forms/{id}", d.getForm)
			r.Put("/forms/{id}", d.updateForm)
			r.Delete("/forms/{id}", d.deleteForm)

			r.Get("/submissions/{formId}", d.listSubmissions)
			r.Get("/submissions/{formId}/export", d.exportSubmissions)
			r.Delete("/submissions/{formId}/{submissionId}", d.deleteSubmission)

			r.Get("/integrations/{formId}", d.listIntegrations)
			r.Post("/integrations/{formId}", d.createIntegration)
			r.Put("/integrations/{formId}/{id}", d.updateIntegration)
			r.Delete("/integrations/{formId}/{id}", d.deleteIntegration)
			r.Post("/integrations/{formId}/{id}/test", d.testIntegration)

			r.Get("/analytics/overview", d.analyticsOverview)
			r.Get("/analytics/{formId}", d.analyticsReport)
		})

		// Authenticates itself; browsers cannot set headers on upgrades
		r.Get("/ws", d.wsHandler)
	})

	return r
}

// skipUpgrades applies mw to every request except WebSocket upgrades.
func skipUpgrades(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}
