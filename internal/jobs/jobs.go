package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"openflow/internal/db"
	"openflow/internal/dispatch"
	"openflow/internal/model"
	"openflow/internal/pubsub"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypeSubmissionDispatch delivers one stored submission to its form's
// enabled integrations.
const TypeSubmissionDispatch = "submission:dispatch"

// DispatchTimeout bounds one dispatch run, all integrations included.
const DispatchTimeout = 2 * time.Minute

type DispatchPayload struct {
	SubmissionID string `json:"submissionId"`
	FormID       string `json:"formId"`
}

// Store loads what a dispatch run needs
type Store interface {
	GetFormByID(ctx context.Context, id string) (db.Form, error)
	GetSubmission(ctx context.Context, id string) (db.Submission, error)
}

// Dispatcher runs the enabled integrations of a form
type Dispatcher interface {
	Dispatch(ctx context.Context, formID, formTitle string, data map[string]interface{}, steps []model.Step) ([]dispatch.Result, error)
}

// Publisher announces dispatch results on the form's live channel
type Publisher interface {
	PublishForm(formID string, event map[string]interface{}) error
}

type JobServer struct {
	server     *asynq.Server
	client     *asynq.Client
	store      Store
	dispatcher Dispatcher
	bus        Publisher
	log        *zap.Logger
}

func NewJobServer(redisAddr string, concurrency int, store Store, dispatcher Dispatcher, bus Publisher, log *zap.Logger) (*JobServer, *asynq.Client) {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
			Logger: log.Sugar(),
		},
	)

	client := asynq.NewClient(redisOpt)

	return &JobServer{
		server:     server,
		client:     client,
		store:      store,
		dispatcher: dispatcher,
		bus:        bus,
		log:        log,
	}, client
}

func (js *JobServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSubmissionDispatch, js.handleDispatch)

	return js.server.Start(mux)
}

func (js *JobServer) Stop() {
	js.server.Shutdown()
	js.client.Close()
}

func (js *JobServer) handleDispatch(ctx context.Context, t *asynq.Task) error {
	var p DispatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	return RunDispatch(ctx, js.store, js.dispatcher, js.bus, js.log, p)
}

// RunDispatch loads the submission, delivers it and publishes the results.
// It is shared by the queue worker and the in-process fallback.
func RunDispatch(ctx context.Context, store Store, d Dispatcher, bus Publisher, log *zap.Logger, p DispatchPayload) error {
	form, err := store.GetFormByID(ctx, p.FormID)
	if err != nil {
		return fmt.Errorf("failed to get form: %w", err)
	}
	sub, err := store.GetSubmission(ctx, p.SubmissionID)
	if err != nil {
		return fmt.Errorf("failed to get submission: %w", err)
	}

	results, err := d.Dispatch(ctx, form.ID, form.Title, sub.Data, form.Steps)
	if err != nil {
		return err
	}

	if bus != nil {
		_ = bus.PublishForm(form.ID, map[string]interface{}{
			"type":         pubsub.EventIntegrationsDispatched,
			"submissionId": sub.ID,
			"results":      results,
		})
	}

	log.Info("Submission dispatched",
		zap.String("submission_id", sub.ID),
		zap.String("form_id", form.ID),
		zap.Int("integrations", len(results)))
	return nil
}

// EnqueueDispatch queues a single, non-retried dispatch run.
func EnqueueDispatch(ctx context.Context, client *asynq.Client, p DispatchPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeSubmissionDispatch, payload)
	_, err = client.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.Timeout(DispatchTimeout))
	return err
}
