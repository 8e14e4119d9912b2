// Package dispatch delivers a stored submission to the enabled integrations
// of its form. Every integration is attempted once; a failing one is
// reported in its own Result and never affects the others.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"openflow/internal/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Envelope is the submission as seen by a deliverer
type Envelope struct {
	FormID    string
	FormTitle string
	Data      map[string]interface{}
	Steps     []model.Step
	Timestamp time.Time
}

// Deliverer sends one envelope through one integration config
type Deliverer interface {
	Deliver(ctx context.Context, settings Settings, env Envelope) error
}

// DelivererFunc adapts a function to Deliverer
type DelivererFunc func(ctx context.Context, settings Settings, env Envelope) error

func (f DelivererFunc) Deliver(ctx context.Context, settings Settings, env Envelope) error {
	return f(ctx, settings, env)
}

// IntegrationSource loads the enabled integrations of a form in stored order
type IntegrationSource interface {
	EnabledIntegrations(ctx context.Context, formID string) ([]model.Integration, error)
}

// Result is the outcome of one integration attempt
type Result struct {
	ID    string                `json:"id"`
	Type  model.IntegrationType `json:"type"`
	OK    bool                  `json:"ok"`
	Error string                `json:"error,omitempty"`
}

// Config bounds the dispatcher's outbound calls
type Config struct {
	Concurrency       int
	WebhookTimeout    time.Duration
	AppsScriptTimeout time.Duration
	SMTPTimeout       time.Duration
	SheetsTimeout     time.Duration
}

// DefaultConfig mirrors the stock timeouts of the delivery targets.
func DefaultConfig() Config {
	return Config{
		Concurrency:       4,
		WebhookTimeout:    10 * time.Second,
		AppsScriptTimeout: 15 * time.Second,
		SMTPTimeout:       15 * time.Second,
		SheetsTimeout:     15 * time.Second,
	}
}

type Option func(*Dispatcher)

// WithDeliverer replaces the deliverer of an integration type.
func WithDeliverer(t model.IntegrationType, d Deliverer) Option {
	return func(dp *Dispatcher) { dp.deliverers[t] = d }
}

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(dp *Dispatcher) { dp.now = now }
}

type Dispatcher struct {
	source      IntegrationSource
	deliverers  map[model.IntegrationType]Deliverer
	concurrency int
	log         *zap.Logger
	now         func() time.Time
}

func New(source IntegrationSource, cfg Config, log *zap.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	d := &Dispatcher{
		source: source,
		deliverers: map[model.IntegrationType]Deliverer{
			model.IntegrationWebhook:      NewWebhook(cfg.WebhookTimeout),
			model.IntegrationEmail:        NewEmail(cfg.SMTPTimeout),
			model.IntegrationGoogleSheets: NewSheets(cfg.AppsScriptTimeout, cfg.SheetsTimeout),
		},
		concurrency: cfg.Concurrency,
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch loads the enabled integrations of formID and delivers to each.
// The returned error is only set when the integrations could not be loaded.
func (d *Dispatcher) Dispatch(ctx context.Context, formID, formTitle string, data map[string]interface{}, steps []model.Step) ([]Result, error) {
	integrations, err := d.source.EnabledIntegrations(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("failed to load integrations: %w", err)
	}

	enabled := integrations[:0:0]
	for _, in := range integrations {
		if in.Enabled {
			enabled = append(enabled, in)
		}
	}

	return d.Run(ctx, enabled, Envelope{
		FormID:    formID,
		FormTitle: formTitle,
		Data:      data,
		Steps:     steps,
	}), nil
}

// Run delivers env through the given integrations regardless of their
// enabled flag. Results keep the order of integrations.
func (d *Dispatcher) Run(ctx context.Context, integrations []model.Integration, env Envelope) []Result {
	if env.Timestamp.IsZero() {
		env.Timestamp = d.now()
	}

	results := make([]Result, len(integrations))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, in := range integrations {
		i, in := i, in
		g.Go(func() error {
			results[i] = d.deliverOne(ctx, in, env)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
			d.log.Warn("Integration failed",
				zap.String("form_id", env.FormID),
				zap.String("integration_id", r.ID),
				zap.String("type", string(r.Type)),
				zap.String("error", r.Error))
		}
	}
	d.log.Info("Dispatched submission",
		zap.String("form_id", env.FormID),
		zap.Int("integrations", len(results)),
		zap.Int("failed", failed))

	return results
}

func (d *Dispatcher) deliverOne(ctx context.Context, in model.Integration, env Envelope) (res Result) {
	res = Result{ID: in.ID, Type: in.Type}

	defer func() {
		if r := recover(); r != nil {
			res.OK = false
			res.Error = (&DeliveryError{Target: string(in.Type), Message: fmt.Sprintf("integration panicked: %v", r)}).Error()
		}
	}()

	deliverer, ok := d.deliverers[in.Type]
	if !ok {
		res.Error = (&ConfigError{Type: string(in.Type), Message: fmt.Sprintf("Unsupported integration type: %s", in.Type)}).Error()
		return res
	}

	if err := deliverer.Deliver(ctx, Settings(in.Config), env); err != nil {
		res.Error = err.Error()
		return res
	}
	res.OK = true
	return res
}
