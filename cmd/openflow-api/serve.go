package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"openflow/internal/api"
	"openflow/internal/auth"
	"openflow/internal/db"
	"openflow/internal/jobs"
	"openflow/internal/ratelimit"
	"openflow/internal/service"
	"openflow/internal/ws"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(true)
	if log != nil {
		defer log.Sync()
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if migrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL, log); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	queries := a.pool.Queries
	jwtCfg := auth.NewJWTConfig(cfg.JWTSecret, cfg.CookieSecure)

	authSvc := service.NewAuthService(queries, jwtCfg, log)
	if err := authSvc.SeedAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Warn("Failed to seed admin user", zap.Error(err))
	}
	forms := service.NewFormService(queries, a.authoring, log)

	// WebSocket hub
	hub := ws.NewHub(log)
	hub.SetAuthorizer(api.FormChannelAuthorizer(forms))
	go hub.Run(ctx)
	a.bus.SetWSHub(hub)

	// Background jobs
	inline := service.NewInlineJobClient(queries, a.dispatcher, a.bus, log)
	var jobClient service.JobClient = inline

	memory := ratelimit.NewMemory(10000, 2*time.Minute)
	var limiter ratelimit.Limiter = memory

	if a.rdb != nil {
		go a.bus.Relay(ctx)
		limiter = ratelimit.NewRedis(a.rdb, memory, log)

		jobServer, client := jobs.NewJobServer(cfg.RedisAddr, cfg.DispatchConcurrency, queries, a.dispatcher, a.bus, log)
		if embeddedWorker {
			if err := jobServer.Start(); err != nil {
				return err
			}
			defer jobServer.Stop()
		} else {
			defer client.Close()
		}
		jobClient = &service.FallbackJobClient{
			Primary:   service.NewAsynqJobClient(client),
			Secondary: inline,
			Log:       log,
		}
	}

	handler := api.Routes(api.Dependencies{
		Forms:        forms,
		Submissions:  service.NewSubmissionService(queries, queries, jobClient, a.bus, log),
		Integrations: a.integrations,
		Analytics:    service.NewAnalyticsService(queries, queries, log),
		Auth:         authSvc,
		JWT:          jwtCfg,
		Limiter:      limiter,
		Hub:          hub,
		Log:          log,
		Limits:       api.Limits{Submit: cfg.SubmitRateLimit, Track: cfg.TrackRateLimit},
		CORSOrigins:  cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// In-process dispatch runs are bounded by their own timeout
	inline.Wait()
	log.Info("Server stopped")
	return nil
}
