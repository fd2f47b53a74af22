package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records call lifecycle transitions.
// Callers treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Append fills id, timestamp and client IP, then stores the event.
func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CallID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.Source == "" {
		e.Source = SourceAPI
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}
