package service

import (
	"sync"
	"time"

	"listing_hunter/internal/domain"
)

// State is the process-local scheduling state shared by both cycles: the
// backfill cursor per category and the notification gate. It is not persisted;
// a restart begins backfill from offset 0 again, which upserts make harmless.
type State struct {
	mu sync.Mutex

	offsets                map[domain.Category]int
	notificationsEnabledAt *time.Time
	lastBackfillAt         *time.Time
	lastCheckAt            *time.Time
}

func NewState() *State {
	return &State{offsets: make(map[domain.Category]int)}
}

func (s *State) Offset(category domain.Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[category]
}

// Advance moves the cursor forward by n and returns the new offset.
func (s *State) Advance(category domain.Category, n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[category] += n
	return s.offsets[category]
}

func (s *State) Reset(category domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[category] = 0
}

// EnableNotifications opens the dispatch gate. Calling it again only moves the
// baseline timestamp; already-notified listings stay notified.
func (s *State) EnableNotifications(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notificationsEnabledAt = &now
}

func (s *State) NotificationsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notificationsEnabledAt != nil
}

func (s *State) MarkBackfill(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBackfillAt = &at
}

func (s *State) MarkCheck(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheckAt = &at
}

func (s *State) Status() domain.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	offsets := make(map[domain.Category]int, len(s.offsets))
	for c, o := range s.offsets {
		offsets[c] = o
	}

	return domain.SyncStatus{
		Offsets:                offsets,
		LastBackfillAt:         s.lastBackfillAt,
		LastCheckAt:            s.lastCheckAt,
		NotificationsEnabledAt: s.notificationsEnabledAt,
		NotificationsEnabled:   s.notificationsEnabledAt != nil,
	}
}
