package calls

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"callhub/internal/audit"
	"callhub/internal/rooms"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_HostLeftWebhookEndsCall(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	s := h.begin(t, "c1", "H")
	assert.Equal(t, StatusOngoing, s.Status)
	_, err := h.svc.JoinCall(ctx, s.CallID, "U")
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	out := h.webhook(t, rooms.EventParticipantLeft, s.RoomID, "H")
	assert.Equal(t, OutcomeApplied, out)

	got := h.session(t, s.CallID)
	assert.Equal(t, StatusEnded, got.Status)
	require.NotNil(t, got.EndedAt)
	for _, p := range got.Participants {
		assert.Equal(t, ParticipantLeft, p.Status, p.UserID)
	}
	assert.Equal(t, []string{s.RoomID}, h.rooms.endedRooms())

	_, err = h.svc.JoinCall(ctx, s.CallID, "U")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReconciler_UnknownRoomIsAcknowledgedWithoutMutation(t *testing.T) {
	h := newHarness(t, nil)
	s := h.begin(t, "c1", "H")
	before := h.session(t, s.CallID)

	out := h.webhook(t, rooms.EventSessionEnded, "room-unknown", "")
	assert.Equal(t, OutcomeUnknownRoom, out)
	assert.Equal(t, before, h.session(t, s.CallID))
}

func TestReconciler_EventsForEndedSessionAreAcknowledged(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.begin(t, "c1", "H")
	_, err := h.svc.JoinCall(ctx, s.CallID, "U")
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, h.webhook(t, rooms.EventSessionEnded, s.RoomID, ""))
	ended := h.session(t, s.CallID)
	assert.Equal(t, StatusEnded, ended.Status)
	assert.Zero(t, ended.ActiveCount())
	// session-ended comes from the provider; no need to close the room again.
	assert.Empty(t, h.rooms.endedRooms())

	// Late participant-left after session-ended.
	assert.Equal(t, OutcomeUnknownRoom, h.webhook(t, rooms.EventParticipantLeft, s.RoomID, "U"))
	assert.Equal(t, OutcomeUnknownRoom, h.webhook(t, rooms.EventSessionEnded, s.RoomID, ""))
	assert.Equal(t, ended, h.session(t, s.CallID))
}

func TestReconciler_ParticipantLeftIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	s := h.begin(t, "c1", "H")
	_, err := h.svc.JoinCall(context.Background(), s.CallID, "U")
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	assert.Equal(t, OutcomeApplied, h.webhook(t, rooms.EventParticipantLeft, s.RoomID, "U"))
	first := h.session(t, s.CallID)

	h.clock.Advance(time.Second)
	assert.Equal(t, OutcomeIgnored, h.webhook(t, rooms.EventParticipantLeft, s.RoomID, "U"))
	assert.Equal(t, first, h.session(t, s.CallID))
	assert.Equal(t, StatusOngoing, first.Status)
}

func TestReconciler_UnknownParticipantJoinedIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	s := h.begin(t, "c1", "H")

	assert.Equal(t, OutcomeIgnored, h.webhook(t, rooms.EventParticipantJoined, s.RoomID, "guest"))
	got := h.session(t, s.CallID)
	_, found := participant(got, "guest")
	assert.False(t, found)
	assert.Len(t, got.Participants, 1)
}

func TestReconciler_ParticipantJoinedRespectsOrdering(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.begin(t, "c1", "H")
	_, err := h.svc.JoinCall(ctx, s.CallID, "U")
	require.NoError(t, err)
	joinedAt := h.clock.Now()

	h.clock.Advance(time.Minute)
	_, err = h.svc.LeaveCall(ctx, s.CallID, "U")
	require.NoError(t, err)

	// A join delivered late, stamped before the leave.
	out, err := h.rec.Handle(ctx, rooms.WebhookEvent{
		Kind: rooms.EventParticipantJoined, RoomID: s.RoomID, ParticipantID: "U", OccurredAt: joinedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	p, _ := participant(h.session(t, s.CallID), "U")
	assert.Equal(t, ParticipantLeft, p.Status)

	// A newer join reactivates the entry.
	h.clock.Advance(time.Minute)
	assert.Equal(t, OutcomeApplied, h.webhook(t, rooms.EventParticipantJoined, s.RoomID, "U"))
	p, _ = participant(h.session(t, s.CallID), "U")
	assert.Equal(t, ParticipantActive, p.Status)
	assert.True(t, p.JoinedAt.Equal(h.clock.Now()))
	assert.Nil(t, p.LeftAt)
}

func TestReconciler_LateWebhooksFromEarlierStintIgnored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.begin(t, "c1", "H")
	_, err := h.svc.JoinCall(ctx, s.CallID, "U")
	require.NoError(t, err)
	firstJoin := h.clock.Now()

	h.clock.Advance(5 * time.Second)
	_, err = h.svc.LeaveCall(ctx, s.CallID, "U")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	_, err = h.svc.JoinCall(ctx, s.CallID, "U")
	require.NoError(t, err)
	rejoin := h.clock.Now()

	// Provider events for the first stint arrive after the rejoin.
	for _, ev := range []rooms.WebhookEvent{
		{Kind: rooms.EventParticipantJoined, OccurredAt: firstJoin.Add(500 * time.Millisecond)},
		{Kind: rooms.EventParticipantLeft, OccurredAt: firstJoin.Add(5200 * time.Millisecond)},
	} {
		ev.RoomID, ev.ParticipantID = s.RoomID, "U"
		out, err := h.rec.Handle(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, out, ev.Kind)
	}

	p, ok := participant(h.session(t, s.CallID), "U")
	require.True(t, ok)
	assert.Equal(t, ParticipantActive, p.Status)
	assert.True(t, p.JoinedAt.Equal(rejoin), "joined_at %v", p.JoinedAt)
	assert.Nil(t, p.LeftAt)
}

func TestReconciler_SessionStartedRecordedOnce(t *testing.T) {
	h := newHarness(t, nil)
	s := h.begin(t, "c1", "H")

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, OutcomeApplied, h.webhook(t, rooms.EventSessionStarted, s.RoomID, ""))
	first := h.session(t, s.CallID).ProviderStartedAt
	require.NotNil(t, first)

	h.clock.Advance(time.Minute)
	assert.Equal(t, OutcomeIgnored, h.webhook(t, rooms.EventSessionStarted, s.RoomID, ""))
	assert.True(t, first.Equal(*h.session(t, s.CallID).ProviderStartedAt))
	assert.Equal(t, StatusOngoing, h.session(t, s.CallID).Status)
}

func TestReconciler_MediaBlocks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.begin(t, "c1", "H")

	handle := func(kind rooms.EventKind, id string) Outcome {
		out, err := h.rec.Handle(ctx, rooms.WebhookEvent{
			Kind: kind, RoomID: s.RoomID, RecordingID: id, StreamID: id, OccurredAt: h.clock.Now(),
		})
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, OutcomeApplied, handle(rooms.EventRecordingStarted, "rec-1"))
	assert.Equal(t, OutcomeIgnored, handle(rooms.EventRecordingStarted, "rec-1"))
	h.clock.Advance(time.Minute)
	assert.Equal(t, OutcomeApplied, handle(rooms.EventRecordingStopped, "rec-1"))
	assert.Equal(t, OutcomeIgnored, handle(rooms.EventRecordingStopped, "rec-1"))
	// A start for the same recording arriving after its stop is stale.
	assert.Equal(t, OutcomeIgnored, handle(rooms.EventRecordingStarted, "rec-1"))

	assert.Equal(t, OutcomeApplied, handle(rooms.EventHLSStarted, "hls-1"))
	assert.Equal(t, OutcomeApplied, handle(rooms.EventLivestreamStopped, "live-1"))

	got := h.session(t, s.CallID)
	require.NotNil(t, got.Recording)
	assert.Equal(t, MediaCompleted, got.Recording.Status)
	assert.Equal(t, "rec-1", got.Recording.ID)
	require.NotNil(t, got.Recording.StartedAt)
	require.NotNil(t, got.Recording.EndedAt)
	assert.Equal(t, time.Minute, got.Recording.EndedAt.Sub(*got.Recording.StartedAt))

	assert.Equal(t, MediaActive, got.Streams[StreamHLS].Status)
	assert.Equal(t, MediaCompleted, got.Streams[StreamLivestream].Status)

	assert.Equal(t, StatusOngoing, got.Status)
	assert.Equal(t, 1, got.ActiveCount())
}

func TestReconciler_AuditKeepsProviderIDs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.begin(t, "c1", "H")

	out, err := h.rec.Handle(ctx, rooms.WebhookEvent{
		Kind: rooms.EventRecordingStarted, RoomID: s.RoomID, RecordingID: "rec-42", OccurredAt: h.clock.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, out)

	var applied []audit.Event
	for _, e := range h.audit.ByCall(s.CallID) {
		if e.Type == audit.EventWebhookApplied {
			applied = append(applied, e)
		}
	}
	require.Len(t, applied, 1)
	assert.Equal(t, string(rooms.EventRecordingStarted), applied[0].Message)

	var got rooms.WebhookEvent
	require.NoError(t, json.Unmarshal([]byte(applied[0].Metadata), &got))
	assert.Equal(t, s.RoomID, got.RoomID)
	assert.Equal(t, "rec-42", got.RecordingID)

	// Ignored deliveries leave no webhook_applied entry behind.
	assert.Equal(t, OutcomeUnknownRoom, h.webhook(t, rooms.EventSessionStarted, "room-x", ""))
	h.clock.Advance(time.Second)
	_, err = h.rec.Handle(ctx, rooms.WebhookEvent{
		Kind: rooms.EventRecordingStarted, RoomID: s.RoomID, RecordingID: "rec-42", OccurredAt: h.clock.Now(),
	})
	require.NoError(t, err)
	n := 0
	for _, e := range h.audit.ByCall(s.CallID) {
		if e.Type == audit.EventWebhookApplied {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestReconciler_UnsupportedKind(t *testing.T) {
	h := newHarness(t, nil)
	s := h.begin(t, "c1", "H")
	assert.Equal(t, OutcomeUnsupported, h.webhook(t, rooms.EventKind("whiteboard-started"), s.RoomID, ""))
}

func TestReconciler_ConcurrentLeavesFromAPIAndWebhook(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	s := h.begin(t, "c1", "H")
	users := []string{"a", "b", "c", "d", "e", "f"}
	for _, u := range users {
		_, err := h.svc.JoinCall(ctx, s.CallID, u)
		require.NoError(t, err)
	}
	h.clock.Advance(time.Second)

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(2)
		go func(u string) {
			defer wg.Done()
			_, err := h.svc.LeaveCall(ctx, s.CallID, u)
			if err != nil && !errors.Is(err, ErrNotActive) {
				t.Errorf("leave %s: %v", u, err)
			}
		}(u)
		go func(u string) {
			defer wg.Done()
			_, err := h.rec.Handle(ctx, rooms.WebhookEvent{
				Kind: rooms.EventParticipantLeft, RoomID: s.RoomID, ParticipantID: u, OccurredAt: h.clock.Now(),
			})
			assert.NoError(t, err)
		}(u)
	}
	wg.Wait()

	got := h.session(t, s.CallID)
	assert.Equal(t, StatusOngoing, got.Status)
	assert.Equal(t, 1, got.ActiveCount())
	for _, u := range users {
		p, _ := participant(got, u)
		assert.Equal(t, ParticipantLeft, p.Status, u)
	}
}
