package notifier

import (
	"context"
	"log"
	"sync"
	"time"
)

type memoryEntry struct {
	alert Alert
	timer *time.Timer
}

// MemoryScheduler fires alerts from in-process timers. It is used when Redis
// is unavailable; pending alerts do not survive a restart.
type MemoryScheduler struct {
	mu        sync.Mutex
	pending   map[string]*memoryEntry
	deliverer Deliverer
	grant     bool
	granted   bool
	closed    bool
}

func NewMemoryScheduler(deliverer Deliverer, grant bool) *MemoryScheduler {
	if deliverer == nil {
		deliverer = LogDeliverer{}
	}
	return &MemoryScheduler{
		pending:   make(map[string]*memoryEntry),
		deliverer: deliverer,
		grant:     grant,
	}
}

func (s *MemoryScheduler) RequestPermission(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = s.grant
	return s.granted, nil
}

func (s *MemoryScheduler) ScheduleAlert(_ context.Context, key string, fireAt time.Time, title, body string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, nil
	}

	if old, ok := s.pending[key]; ok {
		old.timer.Stop()
	}

	entry := &memoryEntry{alert: Alert{
		Key:         key,
		FireAt:      fireAt.UTC(),
		Title:       title,
		Body:        body,
		ScheduledAt: time.Now().UTC(),
	}}

	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	entry.timer = time.AfterFunc(delay, func() { s.fire(key, entry) })
	s.pending[key] = entry

	return true, nil
}

func (s *MemoryScheduler) CancelAlert(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.pending[key]; ok {
		entry.timer.Stop()
		delete(s.pending, key)
	}
	return nil
}

// fire delivers entry unless it was replaced or cancelled after the timer
// started.
func (s *MemoryScheduler) fire(key string, entry *memoryEntry) {
	s.mu.Lock()
	if current, ok := s.pending[key]; !ok || current != entry {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	granted := s.granted
	s.mu.Unlock()

	if !granted {
		log.Printf("🔕 Dropping alert for task %s: notifications not authorized", key)
		return
	}

	if err := s.deliverer.Deliver(context.Background(), entry.alert); err != nil {
		log.Printf("⚠️  Failed to deliver alert for task %s: %v", key, err)
	}
}

func (s *MemoryScheduler) Pending(key string) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[key]
	if !ok {
		return Alert{}, false
	}
	return entry.alert, true
}

func (s *MemoryScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops every pending timer. Later schedules are rejected.
func (s *MemoryScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.pending {
		entry.timer.Stop()
		delete(s.pending, key)
	}
	s.closed = true
}
