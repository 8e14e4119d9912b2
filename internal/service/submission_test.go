package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"openflow/internal/db"
	"openflow/internal/db/dbtest"
	"openflow/internal/dispatch"
	"openflow/internal/jobs"
	"openflow/internal/model"
	"openflow/internal/pubsub"
	"openflow/internal/sequencer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingJobs struct {
	mu       sync.Mutex
	payloads []jobs.DispatchPayload
	err      error
}

func (r *recordingJobs) EnqueueDispatch(_ context.Context, p jobs.DispatchPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return r.err
}

type recordingBus struct {
	mu     sync.Mutex
	events []map[string]interface{}
}

func (b *recordingBus) PublishForm(formID string, event map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	event["_form"] = formID
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) snapshot() []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]interface{}(nil), b.events...)
}

func seedForm(store *dbtest.Store, published bool, end model.EndScreen) db.Form {
	f := db.Form{
		ID:     "f1",
		UserID: "u1",
		Title:  "Lead form",
		Slug:   "abcd1234",
		Steps: []model.Step{
			{ID: "interested", Type: model.StepYesNo, Required: true},
			{ID: "budget", Type: model.StepNumber, Label: "Budget", Required: true,
				Condition: &model.Condition{Field: "interested", Operator: model.OpEquals, Value: "yes"}},
			{ID: "email", Type: model.StepEmail, Question: "Your email?", Required: true},
		},
		EndScreen: end,
		Published: published,
	}
	store.Forms[f.ID] = f
	return f
}

func newSubmissionService(store *dbtest.Store) (*SubmissionService, *recordingJobs, *recordingBus) {
	jc := &recordingJobs{}
	bus := &recordingBus{}
	svc := NewSubmissionService(store, store, jc, bus, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }
	return svc, jc, bus
}

func TestSubmissionService_Submit(t *testing.T) {
	store := dbtest.New()
	seedForm(store, true, model.EndScreen{})
	svc, jc, bus := newSubmissionService(store)

	data := map[string]interface{}{"interested": "no", "email": "ada@example.com"}
	sub, err := svc.Submit(context.Background(), "abcd1234", data, model.SubmissionMetadata{IP: "1.2.3.4", UserAgent: "test"})
	require.NoError(t, err)

	assert.Equal(t, "f1", sub.FormID)
	assert.Equal(t, "2024-05-01T12:30:00.000Z", sub.Metadata.SubmittedAt)
	assert.Equal(t, "1.2.3.4", sub.Metadata.IP)
	assert.Contains(t, store.Subs, sub.ID)

	require.Len(t, jc.payloads, 1)
	assert.Equal(t, jobs.DispatchPayload{SubmissionID: sub.ID, FormID: "f1"}, jc.payloads[0])

	events := bus.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, pubsub.EventSubmissionCreated, events[0]["type"])
	assert.Equal(t, "f1", events[0]["_form"])
}

func TestSubmissionService_SubmitValidation(t *testing.T) {
	store := dbtest.New()
	seedForm(store, true, model.EndScreen{})
	svc, jc, _ := newSubmissionService(store)
	ctx := context.Background()

	// The visible budget step is required once interested is "yes".
	_, err := svc.Submit(ctx, "abcd1234", map[string]interface{}{"interested": "yes", "email": "ada@example.com"}, model.SubmissionMetadata{})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, sequencer.MsgRequired, err.Error())
	var verr *sequencer.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "budget", verr.StepID)

	_, err = svc.Submit(ctx, "abcd1234", map[string]interface{}{"interested": "no", "email": "nope"}, model.SubmissionMetadata{})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, sequencer.MsgEmail, err.Error())

	_, err = svc.Submit(ctx, "abcd1234", nil, model.SubmissionMetadata{})
	assert.EqualError(t, err, "Invalid submission data")

	assert.Empty(t, store.Subs)
	assert.Empty(t, jc.payloads)
}

func TestSubmissionService_SubmitFinalConsent(t *testing.T) {
	store := dbtest.New()
	seedForm(store, true, model.EndScreen{ConsentEnabled: true})
	svc, _, _ := newSubmissionService(store)
	ctx := context.Background()

	data := map[string]interface{}{"interested": "no", "email": "ada@example.com"}
	_, err := svc.Submit(ctx, "abcd1234", data, model.SubmissionMetadata{})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, sequencer.MsgFinalConsent, err.Error())

	data[sequencer.ConsentKey] = true
	_, err = svc.Submit(ctx, "abcd1234", data, model.SubmissionMetadata{})
	assert.NoError(t, err)
}

func TestSubmissionService_SubmitUnpublished(t *testing.T) {
	store := dbtest.New()
	seedForm(store, false, model.EndScreen{})
	svc, _, _ := newSubmissionService(store)

	_, err := svc.Submit(context.Background(), "abcd1234", map[string]interface{}{}, model.SubmissionMetadata{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmissionService_EnqueueFailureKeepsSubmission(t *testing.T) {
	store := dbtest.New()
	seedForm(store, true, model.EndScreen{})
	svc, jc, _ := newSubmissionService(store)
	jc.err = errors.New("redis down")

	sub, err := svc.Submit(context.Background(), "abcd1234", map[string]interface{}{"interested": "no", "email": "ada@example.com"}, model.SubmissionMetadata{})
	require.NoError(t, err)
	assert.Contains(t, store.Subs, sub.ID)
}

func TestSubmissionService_ListAndExport(t *testing.T) {
	store := dbtest.New()
	seedForm(store, true, model.EndScreen{})
	svc, _, _ := newSubmissionService(store)
	ctx := context.Background()

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := svc.Submit(ctx, "abcd1234", map[string]interface{}{"interested": "no", "email": email}, model.SubmissionMetadata{})
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, "u1", "f1", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Submissions, 1)
	assert.Equal(t, "a@example.com", page.Submissions[0].Data["email"])

	page, err = svc.List(ctx, "u1", "f1", 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.Limit)

	_, err = svc.List(ctx, "u2", "f1", 1, 20)
	assert.ErrorIs(t, err, ErrNotFound)

	export, err := svc.Export(ctx, "u1", "f1")
	require.NoError(t, err)
	assert.Equal(t, "abcd1234-submissions.csv", export.Filename)
	require.Len(t, export.Rows, 4)
	assert.Equal(t, []string{"Submitted At", "interested", "Budget", "Your email?"}, export.Rows[0])
	assert.Equal(t, []string{"no", "", "c@example.com"}, export.Rows[1][1:])
}

func TestSubmissionService_Delete(t *testing.T) {
	store := dbtest.New()
	seedForm(store, true, model.EndScreen{})
	svc, _, _ := newSubmissionService(store)
	ctx := context.Background()

	sub, err := svc.Submit(ctx, "abcd1234", map[string]interface{}{"interested": "no", "email": "a@example.com"}, model.SubmissionMetadata{})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, "u2", "f1", sub.ID), ErrNotFound)
	require.NoError(t, svc.Delete(ctx, "u1", "f1", sub.ID))
	assert.Empty(t, store.Subs)
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls int
	data  map[string]interface{}
}

func (f *fakeDispatcher) Dispatch(_ context.Context, formID, formTitle string, data map[string]interface{}, steps []model.Step) ([]dispatch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.data = data
	return []dispatch.Result{{ID: "i1", Type: model.IntegrationWebhook, OK: true}}, nil
}

func TestInlineJobClient_RunsDetached(t *testing.T) {
	store := dbtest.New()
	seedForm(store, true, model.EndScreen{})
	d := &fakeDispatcher{}
	bus := &recordingBus{}
	inline := NewInlineJobClient(store, d, bus, zap.NewNop())

	svc := NewSubmissionService(store, store, inline, bus, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.Submit(ctx, "abcd1234", map[string]interface{}{"interested": "no", "email": "a@example.com"}, model.SubmissionMetadata{})
	require.NoError(t, err)
	cancel()

	inline.Wait()
	assert.Equal(t, 1, d.calls)
	assert.Equal(t, "a@example.com", d.data["email"])

	events := bus.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, pubsub.EventIntegrationsDispatched, events[1]["type"])
}

func TestFallbackJobClient(t *testing.T) {
	primary := &recordingJobs{err: errors.New("queue down")}
	secondary := &recordingJobs{}
	c := &FallbackJobClient{Primary: primary, Secondary: secondary, Log: zap.NewNop()}

	p := jobs.DispatchPayload{SubmissionID: "s1", FormID: "f1"}
	require.NoError(t, c.EnqueueDispatch(context.Background(), p))
	assert.Len(t, primary.payloads, 1)
	assert.Equal(t, []jobs.DispatchPayload{p}, secondary.payloads)

	primary.err = nil
	require.NoError(t, c.EnqueueDispatch(context.Background(), p))
	assert.Len(t, secondary.payloads, 1)
}
