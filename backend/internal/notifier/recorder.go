package notifier

import (
	"context"
	"sync"
	"time"
)

const (
	OpRequestPermission = "request_permission"
	OpSchedule          = "schedule"
	OpCancel            = "cancel"
)

type Call struct {
	Op     string
	Key    string
	FireAt time.Time
	Title  string
	Body   string
}

// Recorder is a Service that remembers every call and the resulting pending
// set. Set ScheduleErr, CancelErr or Reject to simulate a failing service.
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	pending map[string]Alert

	Grant       bool
	Reject      bool
	ScheduleErr error
	CancelErr   error
}

func NewRecorder() *Recorder {
	return &Recorder{
		pending: make(map[string]Alert),
		Grant:   true,
	}
}

func (r *Recorder) RequestPermission(_ context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: OpRequestPermission})
	return r.Grant, nil
}

func (r *Recorder) ScheduleAlert(_ context.Context, key string, fireAt time.Time, title, body string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Op: OpSchedule, Key: key, FireAt: fireAt, Title: title, Body: body})
	if r.ScheduleErr != nil {
		return false, r.ScheduleErr
	}
	if r.Reject {
		return false, nil
	}

	r.pending[key] = Alert{Key: key, FireAt: fireAt, Title: title, Body: body, ScheduledAt: time.Now().UTC()}
	return true, nil
}

func (r *Recorder) CancelAlert(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Op: OpCancel, Key: key})
	if r.CancelErr != nil {
		return r.CancelErr
	}
	delete(r.pending, key)
	return nil
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *Recorder) Pending(key string) (Alert, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.pending[key]
	return alert, ok
}

func (r *Recorder) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Reset forgets recorded calls but keeps the pending set.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
