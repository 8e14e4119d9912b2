package service

import (
	"context"
	"sync"
	"time"

	"openflow/internal/jobs"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// JobClient hands a stored submission over to background dispatch
type JobClient interface {
	EnqueueDispatch(ctx context.Context, p jobs.DispatchPayload) error
}

// AsynqJobClient implements JobClient using asynq
type AsynqJobClient struct {
	client *asynq.Client
}

func NewAsynqJobClient(client *asynq.Client) *AsynqJobClient {
	return &AsynqJobClient{client: client}
}

func (c *AsynqJobClient) EnqueueDispatch(ctx context.Context, p jobs.DispatchPayload) error {
	return jobs.EnqueueDispatch(ctx, c.client, p)
}

// InlineJobClient runs dispatch in a detached goroutine of this process.
type InlineJobClient struct {
	store      jobs.Store
	dispatcher jobs.Dispatcher
	bus        jobs.Publisher
	log        *zap.Logger
	timeout    time.Duration
	wg         sync.WaitGroup
}

func NewInlineJobClient(store jobs.Store, dispatcher jobs.Dispatcher, bus jobs.Publisher, log *zap.Logger) *InlineJobClient {
	return &InlineJobClient{
		store:      store,
		dispatcher: dispatcher,
		bus:        bus,
		log:        log,
		timeout:    jobs.DispatchTimeout,
	}
}

// EnqueueDispatch never blocks on delivery; the request context is not used
// by the run so it outlives the HTTP response.
func (c *InlineJobClient) EnqueueDispatch(_ context.Context, p jobs.DispatchPayload) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := jobs.RunDispatch(ctx, c.store, c.dispatcher, c.bus, c.log, p); err != nil {
			c.log.Error("Integration execution error",
				zap.String("submission_id", p.SubmissionID),
				zap.String("form_id", p.FormID),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every started run has finished.
func (c *InlineJobClient) Wait() {
	c.wg.Wait()
}

// FallbackJobClient enqueues on Primary and runs on Secondary when the queue
// cannot be reached.
type FallbackJobClient struct {
	Primary   JobClient
	Secondary JobClient
	Log       *zap.Logger
}

func (c *FallbackJobClient) EnqueueDispatch(ctx context.Context, p jobs.DispatchPayload) error {
	err := c.Primary.EnqueueDispatch(ctx, p)
	if err == nil {
		return nil
	}
	c.Log.Warn("Dispatch queue unavailable, running in process",
		zap.String("submission_id", p.SubmissionID),
		zap.Error(err))
	return c.Secondary.EnqueueDispatch(ctx, p)
}
