package rooms

import (
	"context"
	"fmt"
)

// Provisioner is the narrow contract the call engine uses to talk to the external
// real-time media provider.
//
// Rules:
// - No provider HTTP calls outside rooms adapters.
// - Room ids returned here are the correlation key for inbound webhooks.
// - Tokens are opaque secrets; callers never log them.
type Provisioner interface {
	Name() string

	// GenerateToken mints a participant-scoped access token for roomID.
	// It is a pure function of its inputs plus configuration and safe to retry.
	GenerateToken(roomID, participantID string) (string, error)

	// CreateRoom provisions a room for a channel. token authorizes the API call.
	CreateRoom(ctx context.Context, channelID, token string) (Room, error)
	// EndRoom deactivates a room. Callers on the termination path treat failures as warnings.
	EndRoom(ctx context.Context, roomID, token string) error

	StartRecording(ctx context.Context, roomID, token string) error
	StopRecording(ctx context.Context, roomID, token string) error
}

// Room is the provider-agnostic result of room creation.
type Room struct {
	RoomID       string `json:"room_id"`
	CustomRoomID string `json:"custom_room_id,omitempty"`
}

// APIError is returned for non-2xx provider responses.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("rooms: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("rooms: %s: status %d: %s", e.Op, e.Status, e.Body)
}
