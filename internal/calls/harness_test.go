package calls

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"callhub/internal/audit"
	"callhub/internal/channels"
	"callhub/internal/events"
	"callhub/internal/rooms"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeRooms is a deterministic provisioner. Tokens are "tok:<room>:<participant>".
type fakeRooms struct {
	mu          sync.Mutex
	seq         int
	ended       []string
	recordings  []string
	createErr   error
	endErr      error
	recordErr   error
	createDelay time.Duration
	// onEnd runs after EndRoom is recorded, outside the lock.
	onEnd func(roomID string)
}

func (f *fakeRooms) Name() string { return "fake" }

func (f *fakeRooms) GenerateToken(roomID, participantID string) (string, error) {
	return "tok:" + roomID + ":" + participantID, nil
}

func (f *fakeRooms) CreateRoom(ctx context.Context, channelID, token string) (rooms.Room, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return rooms.Room{}, f.createErr
	}
	f.seq++
	return rooms.Room{RoomID: fmt.Sprintf("room-%d", f.seq)}, nil
}

func (f *fakeRooms) EndRoom(ctx context.Context, roomID, token string) error {
	f.mu.Lock()
	f.ended = append(f.ended, roomID)
	err, onEnd := f.endErr, f.onEnd
	f.mu.Unlock()
	if onEnd != nil {
		onEnd(roomID)
	}
	return err
}

func (f *fakeRooms) StartRecording(ctx context.Context, roomID, token string) error {
	return f.record("start:" + roomID)
}

func (f *fakeRooms) StopRecording(ctx context.Context, roomID, token string) error {
	return f.record("stop:" + roomID)
}

func (f *fakeRooms) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recordings = append(f.recordings, op)
	return nil
}

func (f *fakeRooms) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

func (f *fakeRooms) endedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ended...)
}

type harness struct {
	svc    *Service
	rec    *Reconciler
	repo   *MemoryRepo
	rooms  *fakeRooms
	audit  *audit.MemoryRepo
	events *events.Recorder
	clock  *testClock
}

func newHarness(t *testing.T, locker ChannelLocker) *harness {
	t.Helper()
	h := &harness{
		repo:   NewMemoryRepo(),
		rooms:  &fakeRooms{},
		audit:  audit.NewMemoryRepo(),
		events: &events.Recorder{},
		clock:  &testClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	opts := Options{
		Locker:          locker,
		Audit:           audit.NewService(h.audit),
		Events:          h.events,
		ProviderTimeout: time.Second,
		Clock:           h.clock.Now,
	}
	h.svc = NewService(h.repo, h.rooms, channels.NewStatic("c1", "c2"), opts)
	h.rec = NewReconciler(h.repo, h.rooms, opts)
	return h
}

func (h *harness) begin(t *testing.T, channelID, hostID string) View {
	t.Helper()
	v, created, err := h.svc.BeginCall(context.Background(), channelID, CallTypeVideo, hostID)
	require.NoError(t, err)
	require.True(t, created)
	return v
}

func (h *harness) webhook(t *testing.T, kind rooms.EventKind, roomID, participantID string) Outcome {
	t.Helper()
	out, err := h.rec.Handle(context.Background(), rooms.WebhookEvent{
		Kind:          kind,
		RoomID:        roomID,
		ParticipantID: participantID,
		OccurredAt:    h.clock.Now(),
	})
	require.NoError(t, err)
	return out
}

func (h *harness) session(t *testing.T, id string) Session {
	t.Helper()
	s, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func participant(s Session, userID string) (Participant, bool) {
	i := s.participantIndex(userID)
	if i < 0 {
		return Participant{}, false
	}
	return s.Participants[i], true
}
