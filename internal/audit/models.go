package audit

import "time"

// Event is an immutable, append-only audit log record of a call lifecycle transition.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id and type are required.
// - actor and ip capture are best-effort; audit failures never block call flows.
type Event struct {
	ID        string    `json:"id" db:"id"`
	Type      EventType `json:"type" db:"type"`
	CallID    string    `json:"call_id" db:"call_id"`
	ChannelID string    `json:"channel_id,omitempty" db:"channel_id"`

	// ActorUserID is the authenticated user causing the event. Empty for provider webhooks.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	// Source is "api" or "webhook".
	Source    string `json:"source" db:"source"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	Message  string `json:"message,omitempty" db:"message"`
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventCallStarted       EventType = "call_started"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventCallEnded         EventType = "call_ended"
	EventWebhookApplied    EventType = "webhook_applied"
	EventRecordingRequest  EventType = "recording_requested"
)

const (
	SourceAPI     = "api"
	SourceWebhook = "webhook"
)
