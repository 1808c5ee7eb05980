package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "live:session:"
	publishTTL    = 5 * time.Second
)

// Bus event kinds.
const (
	EventSessionUpdated = "session-updated"
	EventCommand        = "command"
	EventBroadcast      = "broadcast"
)

// Event is the cross-instance fan-out payload. REST mutations and socket
// frames on any instance reach the instance(s) holding sockets for the
// session through these.
type Event struct {
	Kind          string          `json:"kind"`
	ParticipantID string          `json:"participantId,omitempty"`
	CommandKind   string          `json:"commandKind,omitempty"`
	RoomID        string          `json:"roomId,omitempty"`
	Frame         json.RawMessage `json:"frame,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	At            int64           `json:"at"`
}

// Publisher publishes session events for every instance (including this one).
type Publisher interface {
	PublishSessionEvent(sessionID uuid.UUID, ev Event) error
}

// Subscriber subscribes to a session's channel and invokes handler per event.
type Subscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(ev Event)) (cancel func(), err error)
}

// RedisBus implements Publisher and Subscriber over Redis pub/sub with one
// channel per session.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBus creates the Redis fan-out bus for session events.
func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, logger: logger}
}

// PublishSessionEvent publishes an event to the session's channel.
func (b *RedisBus) PublishSessionEvent(sessionID uuid.UUID, ev Event) error {
	ev.At = time.Now().Unix()
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTTL)
	defer cancel()
	return b.client.Publish(ctx, channelPrefix+sessionID.String(), body).Err()
}

// SubscribeSession subscribes to a session's channel. The returned cancel
// stops the subscription and its goroutine.
func (b *RedisBus) SubscribeSession(sessionID uuid.UUID, handler func(ev Event)) (cancel func(), err error) {
	channel := channelPrefix + sessionID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("invalid bus event", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(ev)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
