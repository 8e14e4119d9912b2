package pubsub

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types published on form channels.
const (
	EventSubmissionCreated      = "submission.created"
	EventIntegrationsDispatched = "integrations.dispatched"
)

const formPrefix = "form:"

// FormChannel is the channel carrying live events of one form.
func FormChannel(formID string) string {
	return formPrefix + formID
}

// FormIDFromChannel returns the form id of a form channel.
func FormIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, formPrefix) || len(channel) == len(formPrefix) {
		return "", false
	}
	return channel[len(formPrefix):], true
}

type Bus struct {
	rdb    *redis.Client
	log    *zap.Logger
	ctx    context.Context
	wsHub  WSHub
	origin string
}

type WSHub interface {
	Publish(channel string, message map[string]interface{})
}

func New(rdb *redis.Client, log *zap.Logger) *Bus {
	return &Bus{
		rdb:    rdb,
		log:    log,
		ctx:    context.Background(),
		origin: ulid.Make().String(),
	}
}

// SetWSHub sets the WebSocket hub for event broadcasting
func (b *Bus) SetWSHub(hub WSHub) {
	b.wsHub = hub
}

// PublishForm publishes an event to a form's channel
func (b *Bus) PublishForm(formID string, event map[string]interface{}) error {
	return b.Publish(FormChannel(formID), event)
}

// Publish publishes an event to a channel. Local websocket subscribers are
// served directly; other processes receive it through Redis.
func (b *Bus) Publish(channel string, event map[string]interface{}) error {
	msg := make(map[string]interface{}, len(event)+1)
	for k, v := range event {
		msg[k] = v
	}
	msg["origin"] = b.origin

	if b.wsHub != nil {
		b.wsHub.Publish(channel, event)
	}

	if b.rdb == nil {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if err := b.rdb.Publish(b.ctx, channel, data).Err(); err != nil {
		b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
		return err
	}

	b.log.Debug("Published event", zap.String("channel", channel), zap.String("event", string(data)))
	return nil
}

// Relay forwards form events published by other processes to the local hub
// until ctx is cancelled.
func (b *Bus) Relay(ctx context.Context) {
	if b.rdb == nil || b.wsHub == nil {
		return
	}

	sub := b.rdb.PSubscribe(ctx, formPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var event map[string]interface{}
			if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
				b.log.Warn("Dropping malformed event", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			if origin, _ := event["origin"].(string); origin == b.origin {
				continue
			}
			delete(event, "origin")
			b.wsHub.Publish(m.Channel, event)
		}
	}
}
