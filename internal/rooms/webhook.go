package rooms

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// WebhookSecretHeader carries the shared secret on every provider delivery.
const WebhookSecretHeader = "X-Webhook-Secret"

const maxWebhookBody = 64 << 10

// EventKind is the provider event name.
type EventKind string

const (
	EventSessionStarted    EventKind = "session-started"
	EventSessionEnded      EventKind = "session-ended"
	EventParticipantJoined EventKind = "participant-joined"
	EventParticipantLeft   EventKind = "participant-left"
	EventRecordingStarted  EventKind = "recording-started"
	EventRecordingStopped  EventKind = "recording-stopped"
	EventHLSStarted        EventKind = "hls-started"
	EventHLSStopped        EventKind = "hls-stopped"
	EventLivestreamStarted EventKind = "livestream-started"
	EventLivestreamStopped EventKind = "livestream-stopped"
)

// Known reports whether the kind is one the reconciler understands.
func (k EventKind) Known() bool {
	switch k {
	case EventSessionStarted, EventSessionEnded,
		EventParticipantJoined, EventParticipantLeft,
		EventRecordingStarted, EventRecordingStopped,
		EventHLSStarted, EventHLSStopped,
		EventLivestreamStarted, EventLivestreamStopped:
		return true
	default:
		return false
	}
}

// WebhookEvent is the provider-agnostic form of an inbound provider notification.
// RoomID is the only correlation key; the provider does not know internal call ids.
type WebhookEvent struct {
	Kind          EventKind `json:"event"`
	RoomID        string    `json:"room_id"`
	SessionID     string    `json:"session_id,omitempty"`
	ParticipantID string    `json:"participant_id,omitempty"`
	RecordingID   string    `json:"recording_id,omitempty"`
	StreamID      string    `json:"stream_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type webhookPayload struct {
	Event         string          `json:"event"`
	RoomID        string          `json:"roomId"`
	SessionID     string          `json:"sessionId"`
	ParticipantID string          `json:"participantId"`
	RecordingID   string          `json:"recordingId"`
	StreamID      string          `json:"streamId"`
	Timestamp     json.RawMessage `json:"timestamp"`
}

var ErrInvalidWebhook = errors.New("rooms: invalid webhook payload")

// ParseWebhook decodes a provider webhook body. A missing timestamp falls back to now.
func ParseWebhook(r *http.Request, now time.Time) (WebhookEvent, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	ev := WebhookEvent{
		Kind:          EventKind(strings.TrimSpace(p.Event)),
		RoomID:        strings.TrimSpace(p.RoomID),
		SessionID:     p.SessionID,
		ParticipantID: strings.TrimSpace(p.ParticipantID),
		RecordingID:   p.RecordingID,
		StreamID:      p.StreamID,
	}
	if ev.Kind == "" || ev.RoomID == "" {
		return WebhookEvent{}, fmt.Errorf("%w: event and roomId are required", ErrInvalidWebhook)
	}

	at, ok, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if !ok {
		at = now
	}
	ev.OccurredAt = at.UTC()
	return ev, nil
}

const maxEpochMillis = 1e15

// parseTimestamp accepts RFC 3339 strings and unix epochs in seconds or milliseconds,
// either as JSON numbers or numeric strings.
func parseTimestamp(raw json.RawMessage) (time.Time, bool, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, false, nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, false, err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return time.Time{}, false, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true, nil
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	// Epoch millis stay below 1e15 until the year 33658; the negated form also rejects NaN.
	if err != nil || !(n >= 0 && n < maxEpochMillis) {
		return time.Time{}, false, fmt.Errorf("unsupported timestamp %q", s)
	}
	if n >= 1e12 {
		return time.UnixMilli(int64(n)), true, nil
	}
	sec := int64(n)
	return time.Unix(sec, int64((n-float64(sec))*1e9)), true, nil
}

// VerifyWebhookSecret compares the presented secret with the configured one in constant time.
// An empty configured secret never verifies.
func VerifyWebhookSecret(presented, configured string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}
