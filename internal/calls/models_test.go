package calls

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ongoingSession(start time.Time) Session {
	return Session{
		ID:        "s1",
		ChannelID: "c1",
		CallType:  CallTypeAudio,
		HostID:    "host",
		Status:    StatusOngoing,
		RoomID:    "room-1",
		StartedAt: start,
		Participants: []Participant{
			{UserID: "host", Status: ParticipantActive, JoinedAt: start},
		},
	}
}

func TestCallTypeValid(t *testing.T) {
	assert.True(t, CallTypeAudio.Valid())
	assert.True(t, CallTypeVideo.Valid())
	assert.False(t, CallType("").Valid())
	assert.False(t, CallType("VIDEO").Valid())
}

func TestSessionEnd_ClosesEveryParticipant(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	s := ongoingSession(start)
	require.NoError(t, s.join("u1", start.Add(time.Second)))
	require.NoError(t, s.join("u2", start.Add(2*time.Second)))
	require.NoError(t, s.leave("u2", start.Add(3*time.Second)))

	at := start.Add(time.Minute)
	require.NoError(t, s.end(at))

	assert.Equal(t, StatusEnded, s.Status)
	assert.True(t, s.EndedAt.Equal(at))
	assert.Zero(t, s.ActiveCount())
	u2, _ := participant(s, "u2")
	assert.True(t, u2.LeftAt.Equal(start.Add(3*time.Second)), "earlier leave is preserved")
	u1, _ := participant(s, "u1")
	assert.True(t, u1.LeftAt.Equal(at))

	assert.ErrorIs(t, s.end(at), ErrNotFound)
}

func TestSessionEnd_ClampsToStart(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	s := ongoingSession(start)
	require.NoError(t, s.end(start.Add(-time.Hour)))
	assert.True(t, s.EndedAt.Equal(start))
}

func TestSessionJoinLeave(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	s := ongoingSession(start)

	assert.ErrorIs(t, s.join("host", start), ErrAlreadyJoined)
	assert.ErrorIs(t, s.leave("u1", start), ErrNotActive)

	require.NoError(t, s.join("u1", start))
	require.NoError(t, s.leave("u1", start.Add(time.Second)))
	require.NoError(t, s.join("u1", start.Add(2*time.Second)))
	assert.Len(t, s.Participants, 2)
	assert.True(t, s.IsActive("u1"))
}

func TestClone_IsDeep(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	s := ongoingSession(start)
	s.Recording = &MediaActivity{Status: MediaActive, ID: "r1", StartedAt: &start}
	s.Streams = map[StreamKind]MediaActivity{StreamHLS: {Status: MediaActive}}

	c := s.clone()
	c.Participants[0].Status = ParticipantLeft
	c.Recording.Status = MediaCompleted
	c.Streams[StreamHLS] = MediaActivity{Status: MediaCompleted}

	assert.Equal(t, ParticipantActive, s.Participants[0].Status)
	assert.Equal(t, MediaActive, s.Recording.Status)
	assert.Equal(t, MediaActive, s.Streams[StreamHLS].Status)
}

func TestNewView(t *testing.T) {
	start := time.Unix(1700000000, 0).UTC()
	s := ongoingSession(start)
	s.AccessToken = "secret"

	v := NewView(s, start.Add(75*time.Second))
	assert.Equal(t, int64(75), v.Duration)
	assert.Empty(t, v.Token)
	assert.Equal(t, 1, v.ActiveParticipants)

	end := start.Add(10 * time.Second)
	require.NoError(t, s.end(end))
	v = NewView(s, start.Add(time.Hour))
	assert.Equal(t, int64(10), v.Duration)

	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
	assert.Contains(t, string(b), `"call_id":"s1"`)
	assert.Contains(t, string(b), `"duration":10`)

	b, err = json.Marshal(v.WithToken("tok"))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"token":"tok"`)
}

func TestNewView_EmptyRosterRendersArray(t *testing.T) {
	b, err := json.Marshal(NewView(Session{ID: "s1"}, time.Now()))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"participants":[]`)
}
