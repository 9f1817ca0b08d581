package notifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"task-reminders/backend/internal/monitoring"
	"task-reminders/backend/internal/worker"
)

// DueSource hands out alerts whose fire time has elapsed, each at most once.
type DueSource interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Alert, error)
	Permission(ctx context.Context) (bool, error)
}

type DispatcherConfig struct {
	Queue     string
	BatchSize int
	Interval  time.Duration
	MaxTries  int
}

// Dispatcher moves due alerts from the scheduler onto the worker queue.
type Dispatcher struct {
	source DueSource
	queue  *worker.JobQueue
	config DispatcherConfig
	now    func() time.Time

	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewDispatcher(source DueSource, queue *worker.JobQueue, cfg DispatcherConfig) *Dispatcher {
	if cfg.Queue == "" {
		cfg.Queue = "reminder_queue"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Dispatcher{
		source: source,
		queue:  queue,
		config: cfg,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), d.config.Interval*5)
				if _, err := d.DispatchDue(ctx); err != nil {
					log.Printf("❌ Reminder dispatch failed: %v", err)
				}
				cancel()
			}
		}
	}()

	log.Printf("⏰ Reminder dispatcher started (every %s, queue %s)", d.config.Interval, d.config.Queue)
}

func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}

// DispatchDue claims one batch of due alerts and returns how many were
// enqueued. Claimed alerts are never re-armed, including dropped ones.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	alerts, err := d.source.ClaimDue(ctx, d.now(), d.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(alerts) == 0 {
		return 0, nil
	}

	granted, err := d.source.Permission(ctx)
	if err != nil {
		log.Printf("⚠️  Could not read notification permission, treating as denied: %v", err)
		granted = false
	}

	if !granted {
		for _, alert := range alerts {
			monitoring.RecordReminder(monitoring.ReminderDropped)
			log.Printf("🔕 Dropping alert for task %s: notifications not authorized", alert.Key)
		}
		return 0, nil
	}

	enqueued := 0
	var errs []error
	for _, alert := range alerts {
		job := &worker.Job{
			Type:     worker.JobTypeTaskReminder,
			Payload:  alert.Payload(),
			MaxTries: d.config.MaxTries,
		}
		if err := d.queue.EnqueueJob(ctx, d.config.Queue, job); err != nil {
			monitoring.RecordReminder(monitoring.ReminderFailed)
			errs = append(errs, fmt.Errorf("failed to enqueue alert for task %s: %w", alert.Key, err))
			continue
		}
		monitoring.RecordReminder(monitoring.ReminderDispatched)
		enqueued++
	}
	return enqueued, errors.Join(errs...)
}

// DeliveryHandler is the worker handler for task_reminder jobs.
func DeliveryHandler(deliverer Deliverer) worker.Handler {
	return func(ctx context.Context, job *worker.Job) error {
		alert, err := AlertFromPayload(job.Payload)
		if err != nil {
			return err
		}

		if err := deliverer.Deliver(ctx, alert); err != nil {
			monitoring.RecordReminder(monitoring.ReminderFailed)
			return fmt.Errorf("failed to deliver alert for task %s: %w", alert.Key, err)
		}

		monitoring.RecordReminder(monitoring.ReminderDelivered)
		return nil
	}
}
