package calls

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"callhub/internal/audit"
	"callhub/internal/events"
	"callhub/internal/rooms"
	"callhub/pkg/logger"
)

// Outcome tells the webhook edge what happened to an event. Every outcome is acknowledged.
type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeUnknownRoom Outcome = "unknown_room"
	OutcomeUnsupported Outcome = "unsupported"
)

// Reconciler folds provider webhook events into session state.
// It holds no state of its own; every event is one atomic update keyed by room id,
// so duplicate, late and out-of-order deliveries converge to the same result.
type Reconciler struct {
	repo   Repository
	rooms  rooms.Provisioner
	notify notifier

	providerTimeout time.Duration
	clock           func() time.Time
}

func NewReconciler(repo Repository, provisioner rooms.Provisioner, opts Options) *Reconciler {
	opts = opts.withDefaults()
	return &Reconciler{
		repo:            repo,
		rooms:           provisioner,
		notify:          notifier{audit: opts.Audit, events: opts.Events},
		providerTimeout: opts.ProviderTimeout,
		clock:           opts.Clock,
	}
}

// effect captures what an applied event did, for logging and notifications after commit.
type effect struct {
	ended      bool
	hostLeft   bool
	userID     string
	event      events.Type
	auditType  audit.EventType
	unknownKey string
}

// Handle applies ev. Errors are store failures only; unknown rooms and stale events are not errors.
func (r *Reconciler) Handle(ctx context.Context, ev rooms.WebhookEvent) (Outcome, error) {
	log := logger.From(ctx).With("event", string(ev.Kind), "room_id", ev.RoomID)
	if !ev.Kind.Known() {
		log.Info("webhook event not handled")
		return OutcomeUnsupported, nil
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = r.clock().UTC()
	}

	var eff effect
	sess, err := r.repo.UpdateOngoingByRoom(ctx, ev.RoomID, func(s *Session) error {
		eff = effect{}
		if err := apply(s, ev, at, &eff); err != nil {
			return err
		}
		s.UpdatedAt = r.clock().UTC()
		return nil
	})
	switch {
	case errors.Is(err, ErrNotFound):
		log.Info("webhook for unknown or ended room acknowledged")
		return OutcomeUnknownRoom, nil
	case errors.Is(err, ErrUnchanged):
		if eff.unknownKey != "" {
			log.Info("webhook participant not in roster", "participant_id", eff.unknownKey)
		} else {
			log.Debug("webhook event already reflected", "call_id", sess.ID)
		}
		return OutcomeIgnored, nil
	case err != nil:
		log.Error("webhook apply failed", "err", err)
		return "", err
	}

	log.Info("webhook applied", "call_id", sess.ID, "ended", eff.ended)
	r.notify.record(ctx, sess, transition{
		audit: audit.EventWebhookApplied, source: audit.SourceWebhook,
		message: string(ev.Kind), metadata: webhookMetadata(ev),
	})
	if eff.event != "" {
		r.notify.record(ctx, sess, transition{
			audit: eff.auditType, event: eff.event, source: audit.SourceWebhook,
			userID: eff.userID, at: at,
		})
	}
	if eff.hostLeft {
		// The provider may keep the room alive after the host drops.
		endProviderRoom(ctx, r.rooms, r.providerTimeout, sess.RoomID, sess.AccessToken)
	}
	return OutcomeApplied, nil
}

// webhookMetadata keeps the normalized event on its audit entry so provider ids
// (session, recording, stream) stay traceable after the fact.
func webhookMetadata(ev rooms.WebhookEvent) string {
	b, err := json.Marshal(ev)
	if err != nil {
		return ""
	}
	return string(b)
}

func apply(s *Session, ev rooms.WebhookEvent, at time.Time, eff *effect) error {
	switch ev.Kind {
	case rooms.EventSessionStarted:
		if s.ProviderStartedAt != nil {
			return ErrUnchanged
		}
		s.ProviderStartedAt = &at
		return nil

	case rooms.EventSessionEnded:
		if err := s.end(at); err != nil {
			return err
		}
		eff.ended = true
		eff.event, eff.auditType = events.CallEnded, audit.EventCallEnded
		return nil

	case rooms.EventParticipantJoined:
		return applyJoined(s, ev.ParticipantID, at, eff)

	case rooms.EventParticipantLeft:
		return applyLeft(s, ev.ParticipantID, at, eff)

	case rooms.EventRecordingStarted:
		next, changed := startActivity(s.Recording, ev.RecordingID, at)
		if !changed {
			return ErrUnchanged
		}
		s.Recording = &next
		eff.event = events.RecordingChanged
		return nil

	case rooms.EventRecordingStopped:
		next, changed := stopActivity(s.Recording, ev.RecordingID, at)
		if !changed {
			return ErrUnchanged
		}
		s.Recording = &next
		eff.event = events.RecordingChanged
		return nil

	case rooms.EventHLSStarted, rooms.EventLivestreamStarted,
		rooms.EventHLSStopped, rooms.EventLivestreamStopped:
		return applyStream(s, ev, at)
	}
	return ErrUnchanged
}

func applyJoined(s *Session, userID string, at time.Time, eff *effect) error {
	i := s.participantIndex(userID)
	if i < 0 {
		// No local join request backs this participant; never fabricate one.
		eff.unknownKey = userID
		return ErrUnchanged
	}
	p := &s.Participants[i]
	if p.Status == ParticipantActive {
		// JoinedAt only moves forward; an older join belongs to an earlier stint.
		if !at.After(p.JoinedAt) {
			return ErrUnchanged
		}
		p.JoinedAt = at
		return nil
	}
	// A join older than the recorded leave is a late delivery.
	if p.LeftAt != nil && !at.After(*p.LeftAt) {
		return ErrUnchanged
	}
	p.Status = ParticipantActive
	p.JoinedAt = at
	p.LeftAt = nil
	eff.userID = userID
	eff.event, eff.auditType = events.ParticipantJoined, audit.EventParticipantJoined
	return nil
}

func applyLeft(s *Session, userID string, at time.Time, eff *effect) error {
	i := s.participantIndex(userID)
	if i < 0 {
		eff.unknownKey = userID
		return ErrUnchanged
	}
	p := &s.Participants[i]
	if p.Status != ParticipantActive {
		return ErrUnchanged
	}
	// A leave older than the current join belongs to an earlier stint.
	if at.Before(p.JoinedAt) {
		return ErrUnchanged
	}
	eff.userID = userID
	if userID == s.HostID {
		if err := s.end(at); err != nil {
			return err
		}
		eff.ended, eff.hostLeft = true, true
		eff.event, eff.auditType = events.CallEnded, audit.EventCallEnded
		return nil
	}
	p.Status = ParticipantLeft
	p.LeftAt = &at
	eff.event, eff.auditType = events.ParticipantLeft, audit.EventParticipantLeft
	return nil
}

func applyStream(s *Session, ev rooms.WebhookEvent, at time.Time) error {
	kind, start := StreamHLS, false
	switch ev.Kind {
	case rooms.EventHLSStarted:
		start = true
	case rooms.EventLivestreamStarted:
		kind, start = StreamLivestream, true
	case rooms.EventLivestreamStopped:
		kind = StreamLivestream
	}

	var cur *MediaActivity
	if v, ok := s.Streams[kind]; ok {
		cur = &v
	}
	var next MediaActivity
	var changed bool
	if start {
		next, changed = startActivity(cur, ev.StreamID, at)
	} else {
		next, changed = stopActivity(cur, ev.StreamID, at)
	}
	if !changed {
		return ErrUnchanged
	}
	if s.Streams == nil {
		s.Streams = make(map[StreamKind]MediaActivity)
	}
	s.Streams[kind] = next
	return nil
}

func startActivity(cur *MediaActivity, id string, at time.Time) (MediaActivity, bool) {
	if cur != nil && cur.Status == MediaActive && (id == "" || cur.ID == id) {
		return *cur, false
	}
	// A stop for this id already arrived; the start is late.
	if cur != nil && cur.Status == MediaCompleted && id != "" && cur.ID == id {
		return *cur, false
	}
	return MediaActivity{Status: MediaActive, ID: id, StartedAt: &at}, true
}

func stopActivity(cur *MediaActivity, id string, at time.Time) (MediaActivity, bool) {
	if cur == nil {
		return MediaActivity{Status: MediaCompleted, ID: id, EndedAt: &at}, true
	}
	if cur.Status == MediaCompleted {
		return *cur, false
	}
	next := cur.clone()
	next.Status = MediaCompleted
	next.EndedAt = &at
	if next.ID == "" {
		next.ID = id
	}
	return next, true
}
