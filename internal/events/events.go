package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Type names a call lifecycle transition as seen by the presence/notification layer.
type Type string

const (
	CallStarted       Type = "call.started"
	ParticipantJoined Type = "call.participant_joined"
	ParticipantLeft   Type = "call.participant_left"
	CallEnded         Type = "call.ended"
	RecordingChanged  Type = "call.recording_changed"
)

// Event is the JSON message published per transition. It never carries access tokens.
type Event struct {
	Type      Type      `json:"type"`
	ChannelID string    `json:"channel_id"`
	CallID    string    `json:"call_id"`
	UserID    string    `json:"user_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher fans lifecycle events out. Delivery is best-effort; callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// ChannelTopic is the pub/sub channel subscribers of one communication channel listen on.
func ChannelTopic(channelID string) string {
	return "calls:channel:" + channelID
}

// RedisPublisher publishes events with Redis PUBLISH.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	if p == nil || p.rdb == nil {
		return errors.New("events: redis client not configured")
	}
	if e.ChannelID == "" || e.Type == "" {
		return errors.New("events: channel id and type are required")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	if err := p.rdb.Publish(ctx, ChannelTopic(e.ChannelID), b).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", e.Type, err)
	}
	return nil
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []Type {
	var out []Type
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}
