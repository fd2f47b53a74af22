package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"callhub/internal/audit"
	"callhub/internal/events"
	"callhub/internal/rooms"
	"callhub/pkg/logger"

	"github.com/google/uuid"
)

// ChannelDirectory is the channel existence check. *channels.PostgresDirectory satisfies it.
type ChannelDirectory interface {
	Exists(ctx context.Context, channelID string) (bool, error)
}

// Options carries the optional collaborators of Service and Reconciler.
type Options struct {
	Locker ChannelLocker
	Audit  AuditLog
	Events events.Publisher
	// ProviderTimeout bounds every provider call. Defaults to 5s.
	ProviderTimeout time.Duration
	Clock           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Locker == nil {
		o.Locker = nopLocker{}
	}
	if o.Audit == nil {
		o.Audit = nopAudit{}
	}
	if o.Events == nil {
		o.Events = events.Nop{}
	}
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Service is the call lifecycle engine.
//
// Concurrency rules:
// - Every change to an existing session goes through Repository.Update; there is no read-then-write.
// - Creation relies on the store rejecting a second ongoing session per channel.
// - Provider failures abort creation but never block termination.
type Service struct {
	repo     Repository
	rooms    rooms.Provisioner
	channels ChannelDirectory
	locker   ChannelLocker
	notify   notifier

	providerTimeout time.Duration
	clock           func() time.Time
	newID           func() string
}

func NewService(repo Repository, provisioner rooms.Provisioner, channels ChannelDirectory, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		repo:            repo,
		rooms:           provisioner,
		channels:        channels,
		locker:          opts.Locker,
		notify:          notifier{audit: opts.Audit, events: opts.Events},
		providerTimeout: opts.ProviderTimeout,
		clock:           opts.Clock,
		newID:           uuid.NewString,
	}
}

func (s *Service) now() time.Time { return s.clock().UTC() }

// BeginCall starts a call on channelID or returns the one already ongoing there.
// The bool reports whether a new session was created.
func (s *Service) BeginCall(ctx context.Context, channelID string, callType CallType, requesterID string) (View, bool, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" || requesterID == "" {
		return View{}, false, fmt.Errorf("%w: channel_id is required", ErrValidation)
	}
	if !callType.Valid() {
		return View{}, false, fmt.Errorf("%w: call_type must be audio or video", ErrValidation)
	}
	ok, err := s.channels.Exists(ctx, channelID)
	if err != nil {
		return View{}, false, fmt.Errorf("channel lookup: %w", err)
	}
	if !ok {
		return View{}, false, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}

	if existing, found, err := s.ongoingOnChannel(ctx, channelID); err != nil {
		return View{}, false, err
	} else if found {
		v, err := s.reentryView(existing, requesterID)
		return v, false, err
	}

	log := logger.From(ctx)
	unlock, err := s.locker.Lock(ctx, channelID)
	if err != nil {
		if ctx.Err() != nil {
			return View{}, false, ctx.Err()
		}
		log.Warn("begin lock unavailable, relying on store uniqueness", "channel_id", channelID, "err", err)
		unlock = func() {}
	}
	defer unlock()

	// Another starter may have finished while we waited for the lock.
	if existing, found, err := s.ongoingOnChannel(ctx, channelID); err != nil {
		return View{}, false, err
	} else if found {
		v, err := s.reentryView(existing, requesterID)
		return v, false, err
	}

	room, hostToken, err := s.provisionRoom(ctx, channelID, requesterID)
	if err != nil {
		return View{}, false, err
	}

	now := s.now()
	sess := Session{
		ID:          s.newID(),
		ChannelID:   channelID,
		CallType:    callType,
		HostID:      requesterID,
		Status:      StatusOngoing,
		RoomID:      room.RoomID,
		AccessToken: hostToken,
		StartedAt:   now,
		Participants: []Participant{{
			UserID:   requesterID,
			Status:   ParticipantActive,
			JoinedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, sess); err != nil {
		// The room has no local session; release it.
		s.endRoom(ctx, room.RoomID, hostToken)
		if !errors.Is(err, ErrOngoingConflict) {
			return View{}, false, err
		}
		existing, found, lerr := s.ongoingOnChannel(ctx, channelID)
		if lerr != nil {
			return View{}, false, lerr
		}
		if !found {
			// The winner already ended; surface the conflict rather than loop.
			return View{}, false, err
		}
		v, err := s.reentryView(existing, requesterID)
		return v, false, err
	}

	log.Info("call started", "call_id", sess.ID, "channel_id", channelID, "room_id", room.RoomID, "call_type", callType)
	s.notify.record(ctx, sess, transition{
		audit: audit.EventCallStarted, event: events.CallStarted,
		actor: requesterID, userID: requesterID, at: now,
	})
	return NewView(sess, now).WithToken(hostToken), true, nil
}

func (s *Service) provisionRoom(ctx context.Context, channelID, hostID string) (rooms.Room, string, error) {
	createToken, err := s.rooms.GenerateToken(channelID, hostID)
	if err != nil {
		return rooms.Room{}, "", fmt.Errorf("%w: token: %v", ErrProvider, err)
	}
	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()
	room, err := s.rooms.CreateRoom(pctx, channelID, createToken)
	if err != nil {
		return rooms.Room{}, "", fmt.Errorf("%w: create room: %v", ErrProvider, err)
	}
	hostToken, err := s.rooms.GenerateToken(room.RoomID, hostID)
	if err != nil {
		s.endRoom(ctx, room.RoomID, createToken)
		return rooms.Room{}, "", fmt.Errorf("%w: token: %v", ErrProvider, err)
	}
	return room, hostToken, nil
}

func (s *Service) ongoingOnChannel(ctx context.Context, channelID string) (Session, bool, error) {
	list, err := s.repo.ListOngoingByChannel(ctx, channelID)
	if err != nil {
		return Session{}, false, err
	}
	if len(list) == 0 {
		return Session{}, false, nil
	}
	return list[0], true, nil
}

// reentryView answers a repeated start: the host gets the stored token back,
// anyone else a fresh token scoped to themselves. The roster is not touched.
func (s *Service) reentryView(sess Session, requesterID string) (View, error) {
	v := NewView(sess, s.now())
	if requesterID == sess.HostID {
		return v.WithToken(sess.AccessToken), nil
	}
	tok, err := s.rooms.GenerateToken(sess.RoomID, requesterID)
	if err != nil {
		return View{}, fmt.Errorf("%w: token: %v", ErrProvider, err)
	}
	return v.WithToken(tok), nil
}

// JoinCall adds userID to an ongoing session and returns a token scoped to them.
// The "not already active" check and the append happen in one atomic update.
func (s *Service) JoinCall(ctx context.Context, callID, userID string) (View, error) {
	if callID == "" || userID == "" {
		return View{}, fmt.Errorf("%w: call_id is required", ErrValidation)
	}
	now := s.now()
	var token string
	sess, err := s.repo.Update(ctx, callID, func(sess *Session) error {
		if err := sess.join(userID, now); err != nil {
			return err
		}
		tok, err := s.rooms.GenerateToken(sess.RoomID, userID)
		if err != nil {
			return fmt.Errorf("%w: token: %v", ErrProvider, err)
		}
		token = tok
		sess.UpdatedAt = now
		return nil
	})
	if err != nil {
		return View{}, err
	}

	logger.From(ctx).Info("participant joined", "call_id", sess.ID, "user_id", userID)
	s.notify.record(ctx, sess, transition{
		audit: audit.EventParticipantJoined, event: events.ParticipantJoined,
		actor: userID, userID: userID, at: now,
	})
	return NewView(sess, now).WithToken(token), nil
}

var errHostLeaving = errors.New("host leaving")

// LeaveCall marks userID as left. The host leaving ends the whole call.
func (s *Service) LeaveCall(ctx context.Context, callID, userID string) (View, error) {
	if callID == "" || userID == "" {
		return View{}, fmt.Errorf("%w: call_id is required", ErrValidation)
	}
	now := s.now()
	sess, err := s.repo.Update(ctx, callID, func(sess *Session) error {
		if !sess.Ongoing() {
			return ErrNotFound
		}
		if !sess.IsActive(userID) {
			return ErrNotActive
		}
		if sess.HostID == userID {
			return errHostLeaving
		}
		sess.UpdatedAt = now
		return sess.leave(userID, now)
	})
	if errors.Is(err, errHostLeaving) {
		return s.EndCall(ctx, callID, userID)
	}
	if err != nil {
		return View{}, err
	}

	logger.From(ctx).Info("participant left", "call_id", sess.ID, "user_id", userID)
	s.notify.record(ctx, sess, transition{
		audit: audit.EventParticipantLeft, event: events.ParticipantLeft,
		actor: userID, userID: userID, at: now,
	})
	return NewView(sess, now), nil
}

// EndCall terminates an ongoing session. Only the host may end it.
// The provider room is closed first on a best-effort basis; local termination always proceeds.
func (s *Service) EndCall(ctx context.Context, callID, requesterID string) (View, error) {
	if callID == "" || requesterID == "" {
		return View{}, fmt.Errorf("%w: call_id is required", ErrValidation)
	}
	cur, err := s.repo.Get(ctx, callID)
	if err != nil {
		return View{}, err
	}
	if !cur.Ongoing() {
		return View{}, ErrNotFound
	}
	if cur.HostID != requesterID {
		return View{}, ErrForbidden
	}

	s.endRoom(ctx, cur.RoomID, cur.AccessToken)

	now := s.now()
	sess, err := s.repo.Update(ctx, callID, func(sess *Session) error {
		if sess.HostID != requesterID {
			return ErrForbidden
		}
		if !sess.Ongoing() {
			// The provider ended the room first and its webhook got here before us.
			return ErrUnchanged
		}
		sess.UpdatedAt = now
		return sess.end(now)
	})
	if errors.Is(err, ErrUnchanged) {
		logger.From(ctx).Info("call already ended by provider", "call_id", sess.ID)
		return NewView(sess, now).WithToken(sess.AccessToken), nil
	}
	if err != nil {
		return View{}, err
	}

	logger.From(ctx).Info("call ended", "call_id", sess.ID, "channel_id", sess.ChannelID, "by", "host")
	s.notify.record(ctx, sess, transition{
		audit: audit.EventCallEnded, event: events.CallEnded,
		actor: requesterID, userID: requesterID, message: "ended by host", at: now,
	})
	return NewView(sess, now).WithToken(sess.AccessToken), nil
}

// endRoom closes a provider room. Failures are logged and swallowed.
func (s *Service) endRoom(ctx context.Context, roomID, token string) {
	endProviderRoom(ctx, s.rooms, s.providerTimeout, roomID, token)
}

func endProviderRoom(ctx context.Context, p rooms.Provisioner, timeout time.Duration, roomID, token string) {
	// Outlives client cancellation; bounded by the provider timeout only.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := p.EndRoom(pctx, roomID, token); err != nil {
		logger.From(ctx).Warn("provider end room failed", "provider", p.Name(), "room_id", roomID, "err", err)
	}
}

// GetCall returns a session in any status. The stored token is only included for the host.
func (s *Service) GetCall(ctx context.Context, callID, requesterID string) (View, error) {
	if callID == "" {
		return View{}, fmt.Errorf("%w: call_id is required", ErrValidation)
	}
	sess, err := s.repo.Get(ctx, callID)
	if err != nil {
		return View{}, err
	}
	v := NewView(sess, s.now())
	if requesterID != "" && requesterID == sess.HostID {
		v = v.WithToken(sess.AccessToken)
	}
	return v, nil
}

// ActiveChannelCalls lists the ongoing sessions of a channel without tokens.
func (s *Service) ActiveChannelCalls(ctx context.Context, channelID string) ([]View, bool, error) {
	if strings.TrimSpace(channelID) == "" {
		return nil, false, fmt.Errorf("%w: channel_id is required", ErrValidation)
	}
	list, err := s.repo.ListOngoingByChannel(ctx, channelID)
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	out := make([]View, 0, len(list))
	for _, sess := range list {
		out = append(out, NewView(sess, now))
	}
	return out, len(out) > 0, nil
}

// StartRecording asks the provider to record the room. The recording block is
// filled in when the provider confirms through a webhook.
func (s *Service) StartRecording(ctx context.Context, callID, requesterID string) (View, error) {
	return s.recordingRequest(ctx, callID, requesterID, true)
}

func (s *Service) StopRecording(ctx context.Context, callID, requesterID string) (View, error) {
	return s.recordingRequest(ctx, callID, requesterID, false)
}

func (s *Service) recordingRequest(ctx context.Context, callID, requesterID string, start bool) (View, error) {
	if callID == "" || requesterID == "" {
		return View{}, fmt.Errorf("%w: call_id is required", ErrValidation)
	}
	sess, err := s.repo.Get(ctx, callID)
	if err != nil {
		return View{}, err
	}
	if !sess.Ongoing() {
		return View{}, ErrNotFound
	}
	if sess.HostID != requesterID {
		return View{}, ErrForbidden
	}
	recording := sess.Recording != nil && sess.Recording.Status == MediaActive
	if start && recording {
		return View{}, fmt.Errorf("%w: recording already active", ErrValidation)
	}
	if !start && !recording {
		return View{}, fmt.Errorf("%w: no active recording", ErrValidation)
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()
	op := "stop"
	if start {
		op = "start"
		err = s.rooms.StartRecording(pctx, sess.RoomID, sess.AccessToken)
	} else {
		err = s.rooms.StopRecording(pctx, sess.RoomID, sess.AccessToken)
	}
	if err != nil {
		return View{}, fmt.Errorf("%w: %s recording: %v", ErrProvider, op, err)
	}

	logger.From(ctx).Info("recording requested", "call_id", sess.ID, "op", op)
	s.notify.record(ctx, sess, transition{
		audit: audit.EventRecordingRequest, actor: requesterID, message: op,
	})
	return NewView(sess, s.now()).WithToken(sess.AccessToken), nil
}
