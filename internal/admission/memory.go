package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps windows in process memory. Each identity has its own lock
// so unrelated callers never contend.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	mu     sync.Mutex
	stamps []time.Time
	// swept is set once Sweep has unlinked the window from the map.
	swept bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Admit implements WindowStore.
func (s *MemoryStore) Admit(_ context.Context, identity string, now time.Time, win time.Duration, limit int) (Decision, error) {
	w := s.lockedWindow(identity)
	defer w.mu.Unlock()

	w.prune(now.Add(-win))
	if len(w.stamps) >= limit {
		retry := w.stamps[0].Add(win).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, Count: len(w.stamps), RetryAfter: retry}, nil
	}
	w.stamps = append(w.stamps, now)
	return Decision{Allowed: true, Count: len(w.stamps)}, nil
}

// Count implements WindowStore.
func (s *MemoryStore) Count(_ context.Context, identity string, now time.Time, win time.Duration) (int, error) {
	s.mu.Lock()
	w, ok := s.windows[identity]
	s.mu.Unlock()
	if !ok {
		return 0, nil
	}

	cutoff := now.Add(-win)
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, ts := range w.stamps {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// Sweep drops identities with nothing left in the window and returns how many
// were removed.
func (s *MemoryStore) Sweep(now time.Time, win time.Duration) int {
	cutoff := now.Add(-win)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, w := range s.windows {
		w.mu.Lock()
		w.prune(cutoff)
		if len(w.stamps) == 0 {
			w.swept = true
			delete(s.windows, id)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

// Identities returns the number of tracked identities.
func (s *MemoryStore) Identities() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval, win time.Duration, clock func() time.Time) {
	if interval <= 0 {
		interval = win
	}
	if clock == nil {
		clock = time.Now
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(clock(), win)
			}
		}
	}()
}

// lockedWindow returns the live window for identity with its lock held.
func (s *MemoryStore) lockedWindow(identity string) *window {
	for {
		w := s.windowFor(identity)
		w.mu.Lock()
		if !w.swept {
			return w
		}
		w.mu.Unlock()
	}
}

func (s *MemoryStore) windowFor(identity string) *window {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.windows == nil {
		s.windows = make(map[string]*window)
	}
	w, ok := s.windows[identity]
	if !ok {
		w = &window{}
		s.windows[identity] = w
	}
	return w
}

// prune removes timestamps strictly before cutoff. Stamps are appended in
// clock order so the expired ones form a prefix.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && w.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
