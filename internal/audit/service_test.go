package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresCallAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{Type: EventCallStarted}); err == nil {
		t.Fatalf("expected error without call_id")
	}
	if err := svc.Append(context.Background(), Event{CallID: "c1"}); err == nil {
		t.Fatalf("expected error without type")
	}
}

func TestService_FillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	ctx := WithClientIP(context.Background(), "1.2.3.4")
	if err := svc.Append(ctx, Event{CallID: "c1", Type: EventCallStarted, ActorUserID: "u1"}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.ByCall("c1")
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at filled: %+v", e)
	}
	if e.IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured, got %q", e.IPAddress)
	}
	if e.Source != SourceAPI {
		t.Fatalf("expected api source, got %q", e.Source)
	}
}

func TestService_NilIsNotConfigured(t *testing.T) {
	var svc *Service
	if err := svc.Append(context.Background(), Event{CallID: "c", Type: EventCallEnded}); err == nil {
		t.Fatalf("expected error from nil service")
	}
}
