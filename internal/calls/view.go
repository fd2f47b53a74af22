package calls

import "time"

// View is the client-facing shape of a session.
// Token is only set for the caller it was minted for; list views never carry one.
type View struct {
	CallID             string                       `json:"call_id"`
	ChannelID          string                       `json:"channel_id"`
	Token              string                       `json:"token,omitempty"`
	RoomID             string                       `json:"room_id"`
	Status             Status                       `json:"status"`
	CallType           CallType                     `json:"call_type"`
	Host               string                       `json:"host"`
	Participants       []Participant                `json:"participants"`
	ActiveParticipants int                          `json:"active_participants"`
	StartedAt          time.Time                    `json:"started_at"`
	EndedAt            *time.Time                   `json:"ended_at,omitempty"`
	ProviderStartedAt  *time.Time                   `json:"provider_started_at,omitempty"`
	Duration           int64                        `json:"duration"`
	Recording          *MediaActivity               `json:"recording,omitempty"`
	Streams            map[StreamKind]MediaActivity `json:"streams,omitempty"`
}

// NewView renders s without any token. Duration is in whole seconds, measured to now while ongoing.
func NewView(s Session, now time.Time) View {
	s = s.clone()
	participants := s.Participants
	if participants == nil {
		participants = []Participant{}
	}
	return View{
		CallID:             s.ID,
		ChannelID:          s.ChannelID,
		RoomID:             s.RoomID,
		Status:             s.Status,
		CallType:           s.CallType,
		Host:               s.HostID,
		Participants:       participants,
		ActiveParticipants: s.ActiveCount(),
		StartedAt:          s.StartedAt,
		EndedAt:            s.EndedAt,
		ProviderStartedAt:  s.ProviderStartedAt,
		Duration:           durationSeconds(s, now),
		Recording:          s.Recording,
		Streams:            s.Streams,
	}
}

// WithToken returns a copy of v carrying token.
func (v View) WithToken(token string) View {
	v.Token = token
	return v
}

func durationSeconds(s Session, now time.Time) int64 {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	d := end.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
