package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory session store used by tests and local runs.
// A single mutex gives Update the same whole-document atomicity as the Postgres row lock.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: make(map[string]Session)}
}

func (r *MemoryRepo) Insert(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return errors.New("call session already exists")
	}
	if s.Ongoing() {
		for _, cur := range r.sessions {
			if cur.ChannelID == s.ChannelID && cur.Ongoing() {
				return ErrOngoingConflict
			}
		}
	}
	r.sessions[s.ID] = s.clone()
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.clone(), nil
}

func (r *MemoryRepo) ListOngoingByChannel(ctx context.Context, channelID string) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Session
	for _, s := range r.sessions {
		if s.ChannelID == channelID && s.Ongoing() {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, fn MutateFunc) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return r.apply(cur, fn)
}

func (r *MemoryRepo) UpdateOngoingByRoom(ctx context.Context, roomID string, fn MutateFunc) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.sessions {
		if cur.RoomID == roomID && cur.Ongoing() {
			return r.apply(cur, fn)
		}
	}
	return Session{}, ErrNotFound
}

// apply must be called with r.mu held.
func (r *MemoryRepo) apply(cur Session, fn MutateFunc) (Session, error) {
	next := cur.clone()
	if err := fn(&next); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return cur.clone(), ErrUnchanged
		}
		return Session{}, err
	}
	r.sessions[next.ID] = next.clone()
	return next, nil
}
