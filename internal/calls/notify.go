package calls

import (
	"context"
	"time"

	"callhub/internal/audit"
	"callhub/internal/events"
	"callhub/pkg/logger"
)

// AuditLog records lifecycle transitions. *audit.Service satisfies it.
type AuditLog interface {
	Append(ctx context.Context, e audit.Event) error
}

type nopAudit struct{}

func (nopAudit) Append(context.Context, audit.Event) error { return nil }

// notifier writes the audit trail and publishes lifecycle events after a committed transition.
// Both sinks are best-effort: failures are logged and never change the outcome of the call operation.
type notifier struct {
	audit  AuditLog
	events events.Publisher
}

// transition describes one committed change. metadata is an opaque JSON document
// stored alongside the audit entry.
type transition struct {
	audit    audit.EventType
	event    events.Type
	actor    string
	userID   string
	source   string
	message  string
	metadata string
	at       time.Time
}

func (n notifier) record(ctx context.Context, s Session, t transition) {
	log := logger.From(ctx)
	if t.audit != "" {
		err := n.audit.Append(ctx, audit.Event{
			Type:        t.audit,
			CallID:      s.ID,
			ChannelID:   s.ChannelID,
			ActorUserID: t.actor,
			Source:      t.source,
			Message:     t.message,
			Metadata:    t.metadata,
		})
		if err != nil {
			log.Warn("audit append failed", "call_id", s.ID, "type", t.audit, "err", err)
		}
	}
	if t.event != "" {
		err := n.events.Publish(ctx, events.Event{
			Type:      t.event,
			ChannelID: s.ChannelID,
			CallID:    s.ID,
			UserID:    t.userID,
			Status:    string(s.Status),
			At:        t.at,
		})
		if err != nil {
			log.Warn("event publish failed", "call_id", s.ID, "type", t.event, "err", err)
		}
	}
}
