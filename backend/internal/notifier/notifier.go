// Package notifier keeps at most one pending, time-triggered alert per task
// and delivers it when its fire time elapses.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Service is the notification delivery service the task actions talk to.
// Alerts are keyed by task id; scheduling a key replaces its pending alert.
type Service interface {
	RequestPermission(ctx context.Context) (bool, error)
	ScheduleAlert(ctx context.Context, key string, fireAt time.Time, title, body string) (bool, error)
	CancelAlert(ctx context.Context, key string) error
}

type Alert struct {
	Key         string    `json:"key"`
	FireAt      time.Time `json:"fire_at"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Payload flattens the alert for a worker job.
func (a Alert) Payload() map[string]interface{} {
	return map[string]interface{}{
		"key":          a.Key,
		"title":        a.Title,
		"body":         a.Body,
		"fire_at":      a.FireAt.UTC().Format(time.RFC3339Nano),
		"scheduled_at": a.ScheduledAt.UTC().Format(time.RFC3339Nano),
	}
}

func AlertFromPayload(payload map[string]interface{}) (Alert, error) {
	var alert Alert

	key, ok := payload["key"].(string)
	if !ok || key == "" {
		return alert, errors.New("alert payload is missing key")
	}
	alert.Key = key
	alert.Title, _ = payload["title"].(string)
	alert.Body, _ = payload["body"].(string)

	if raw, ok := payload["fire_at"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return alert, fmt.Errorf("invalid fire_at in alert payload: %w", err)
		}
		alert.FireAt = t
	}
	if raw, ok := payload["scheduled_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			alert.ScheduledAt = t
		}
	}

	return alert, nil
}

// Deliverer presents a fired alert to the user.
type Deliverer interface {
	Deliver(ctx context.Context, alert Alert) error
}

type DelivererFunc func(ctx context.Context, alert Alert) error

func (f DelivererFunc) Deliver(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

type LogDeliverer struct{}

func (LogDeliverer) Deliver(_ context.Context, alert Alert) error {
	log.Printf("🔔 %s: %s (task %s, due %s)", alert.Title, alert.Body, alert.Key, alert.FireAt.Format(time.RFC3339))
	return nil
}

// MultiDeliverer hands the alert to every deliverer and joins their errors.
type MultiDeliverer []Deliverer

func (m MultiDeliverer) Deliver(ctx context.Context, alert Alert) error {
	var errs []error
	for _, d := range m {
		if err := d.Deliver(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
