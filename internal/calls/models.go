package calls

import "time"

// Session is one call instance tied to a communication channel.
//
// Invariants:
// - At most one session per channel is ongoing (partial unique index in Postgres).
// - Status only moves ongoing -> ended; ended sessions are kept for history and never reopened.
// - Ended implies every participant has left and EndedAt is set, in the same write.
// - HostID, ChannelID, CallType and RoomID never change after creation.
// - Participants are never removed; a user has at most one entry.
//
// AccessToken is the host's provider credential. It must never reach non-host views.
type Session struct {
	ID        string   `json:"id" db:"id"`
	ChannelID string   `json:"channel_id" db:"channel_id"`
	CallType  CallType `json:"call_type" db:"call_type"`
	HostID    string   `json:"host_id" db:"host_id"`
	Status    Status   `json:"status" db:"status"`

	// RoomID is the provider room and the only key inbound webhooks correlate on.
	RoomID      string `json:"room_id" db:"room_id"`
	AccessToken string `json:"-" db:"access_token"`

	StartedAt         time.Time  `json:"started_at" db:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	ProviderStartedAt *time.Time `json:"provider_started_at,omitempty" db:"provider_started_at"`

	Participants []Participant                `json:"participants" db:"participants"`
	Recording    *MediaActivity               `json:"recording,omitempty" db:"recording"`
	Streams      map[StreamKind]MediaActivity `json:"streams,omitempty" db:"streams"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type Status string

const (
	StatusOngoing Status = "ongoing"
	StatusEnded   Status = "ended"
)

type ParticipantStatus string

const (
	ParticipantActive ParticipantStatus = "active"
	ParticipantLeft   ParticipantStatus = "left"
)

// Participant is embedded in a session. JoinedAt moves forward on every rejoin.
type Participant struct {
	UserID   string            `json:"user_id"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt time.Time         `json:"joined_at"`
	LeftAt   *time.Time        `json:"left_at,omitempty"`
}

type MediaStatus string

const (
	MediaActive    MediaStatus = "active"
	MediaCompleted MediaStatus = "completed"
)

// MediaActivity is the side-channel status of a recording or stream.
// It never affects session status or the roster.
type MediaActivity struct {
	Status    MediaStatus `json:"status"`
	ID        string      `json:"id,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
}

type StreamKind string

const (
	StreamHLS        StreamKind = "hls"
	StreamLivestream StreamKind = "livestream"
)

func (s Session) Ongoing() bool { return s.Status == StatusOngoing }

// ActiveCount returns the number of participants currently in the call.
func (s Session) ActiveCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.Status == ParticipantActive {
			n++
		}
	}
	return n
}

// IsActive reports whether userID currently has an active entry.
func (s Session) IsActive(userID string) bool {
	i := s.participantIndex(userID)
	return i >= 0 && s.Participants[i].Status == ParticipantActive
}

func (s Session) participantIndex(userID string) int {
	for i, p := range s.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func (s Session) clone() Session {
	out := s
	out.EndedAt = cloneTime(s.EndedAt)
	out.ProviderStartedAt = cloneTime(s.ProviderStartedAt)
	if s.Participants != nil {
		out.Participants = make([]Participant, len(s.Participants))
		for i, p := range s.Participants {
			p.LeftAt = cloneTime(p.LeftAt)
			out.Participants[i] = p
		}
	}
	if s.Recording != nil {
		r := s.Recording.clone()
		out.Recording = &r
	}
	if s.Streams != nil {
		out.Streams = make(map[StreamKind]MediaActivity, len(s.Streams))
		for k, v := range s.Streams {
			out.Streams[k] = v.clone()
		}
	}
	return out
}

func (m MediaActivity) clone() MediaActivity {
	m.StartedAt = cloneTime(m.StartedAt)
	m.EndedAt = cloneTime(m.EndedAt)
	return m
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// join adds userID as active, or reactivates the existing entry of a user who left.
func (s *Session) join(userID string, at time.Time) error {
	if !s.Ongoing() {
		return ErrNotFound
	}
	i := s.participantIndex(userID)
	if i < 0 {
		s.Participants = append(s.Participants, Participant{
			UserID:   userID,
			Status:   ParticipantActive,
			JoinedAt: at,
		})
		return nil
	}
	if s.Participants[i].Status == ParticipantActive {
		return ErrAlreadyJoined
	}
	s.Participants[i].Status = ParticipantActive
	s.Participants[i].JoinedAt = at
	s.Participants[i].LeftAt = nil
	return nil
}

func (s *Session) leave(userID string, at time.Time) error {
	if !s.Ongoing() {
		return ErrNotFound
	}
	i := s.participantIndex(userID)
	if i < 0 || s.Participants[i].Status != ParticipantActive {
		return ErrNotActive
	}
	s.Participants[i].Status = ParticipantLeft
	s.Participants[i].LeftAt = &at
	return nil
}

// end terminates the session and closes every active participant with the same timestamp.
func (s *Session) end(at time.Time) error {
	if !s.Ongoing() {
		return ErrNotFound
	}
	if at.Before(s.StartedAt) {
		at = s.StartedAt
	}
	s.Status = StatusEnded
	s.EndedAt = &at
	for i := range s.Participants {
		if s.Participants[i].Status == ParticipantActive {
			left := at
			s.Participants[i].Status = ParticipantLeft
			s.Participants[i].LeftAt = &left
		}
	}
	return nil
}
