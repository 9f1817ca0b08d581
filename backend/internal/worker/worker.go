package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

type JobType string

const (
	JobTypeTaskReminder JobType = "task_reminder"
	JobTypeCleanup      JobType = "cleanup"
)

const (
	DefaultRetryQueue = "retry_queue"
	DefaultDeadQueue  = "dead_queue"
	defaultMaxTries   = 3
)

type Job struct {
	ID        string                 `json:"id"`
	Type      JobType                `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Attempts  int                    `json:"attempts"`
	MaxTries  int                    `json:"max_tries"`
	CreatedAt time.Time              `json:"created_at"`
	ProcessAt time.Time              `json:"process_at"`
	LastError string                 `json:"last_error,omitempty"`
}

type Handler func(ctx context.Context, job *Job) error

type WorkerConfig struct {
	RedisClient  *redis.Client
	Concurrency  int
	PollInterval time.Duration
	// Queues are polled in order; the retry queue should be among them.
	Queues     []string
	RetryQueue string
	DeadQueue  string
}

// Worker consumes JSON jobs from Redis lists. Failed jobs are retried with
// linear backoff through the retry queue and parked in the dead queue once
// MaxTries is exhausted.
type Worker struct {
	client       *redis.Client
	handlers     map[JobType]Handler
	queues       []string
	retryQueue   string
	deadQueue    string
	concurrency  int
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex

	processed int64
	failed    int64
}

func NewWorker(config WorkerConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.RetryQueue == "" {
		config.RetryQueue = DefaultRetryQueue
	}
	if config.DeadQueue == "" {
		config.DeadQueue = DefaultDeadQueue
	}

	return &Worker{
		client:       config.RedisClient,
		handlers:     make(map[JobType]Handler),
		queues:       config.Queues,
		retryQueue:   config.RetryQueue,
		deadQueue:    config.DeadQueue,
		concurrency:  config.Concurrency,
		pollInterval: config.PollInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (w *Worker) RegisterHandler(jobType JobType, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

// Start launches n polling goroutines; n <= 0 uses the configured concurrency.
func (w *Worker) Start(n int) {
	if n <= 0 {
		n = w.concurrency
	}

	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}

	log.Printf("🏃 Worker started with %d goroutines on queues %v", n, w.queues)
}

func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
	log.Printf("🛑 Worker stopped")
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.processNextJob(); err != nil {
				log.Printf("❌ Worker %d: %v", id, err)
			}
		}
	}
}

// processNextJob handles at most one job from the first non-empty queue.
func (w *Worker) processNextJob() error {
	for _, queue := range w.queues {
		data, err := w.client.LPop(w.ctx, queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("failed to pop from %s: %w", queue, err)
		}

		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return fmt.Errorf("invalid job payload on %s: %w", queue, err)
		}

		if job.ProcessAt.After(time.Now()) {
			return w.client.RPush(w.ctx, queue, data).Err()
		}

		return w.execute(queue, &job)
	}
	return nil
}

func (w *Worker) execute(queue string, job *Job) error {
	w.mu.RLock()
	handler, ok := w.handlers[job.Type]
	w.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no handler registered for job type %s (job %s from %s)", job.Type, job.ID, queue)
	}

	job.Attempts++
	err := handler(w.ctx, job)
	if err == nil {
		w.mu.Lock()
		w.processed++
		w.mu.Unlock()
		return nil
	}

	w.mu.Lock()
	w.failed++
	w.mu.Unlock()

	job.LastError = err.Error()
	log.Printf("⚠️  Job %s (%s) failed (attempt %d/%d): %v", job.ID, job.Type, job.Attempts, job.MaxTries, err)

	target := w.retryQueue
	if job.Attempts >= job.MaxTries {
		target = w.deadQueue
		log.Printf("💀 Job %s moved to %s", job.ID, target)
	} else {
		job.ProcessAt = time.Now().Add(time.Duration(job.Attempts) * time.Second)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	return w.client.RPush(w.ctx, target, payload).Err()
}

func (w *Worker) GetStats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return map[string]interface{}{
		"queues":    w.queues,
		"processed": w.processed,
		"failed":    w.failed,
		"handlers":  len(w.handlers),
	}
}

type JobQueue struct {
	client *redis.Client
}

func NewJobQueue(client *redis.Client) *JobQueue {
	return &JobQueue{client: client}
}

func (q *JobQueue) Enqueue(queue string, jobType JobType, payload map[string]interface{}) error {
	return q.EnqueueAt(queue, jobType, payload, time.Now())
}

func (q *JobQueue) EnqueueAt(queue string, jobType JobType, payload map[string]interface{}, processAt time.Time) error {
	return q.EnqueueJob(context.Background(), queue, &Job{
		Type:      jobType,
		Payload:   payload,
		ProcessAt: processAt,
	})
}

// EnqueueJob fills in ID, MaxTries and CreatedAt when unset.
func (q *JobQueue) EnqueueJob(ctx context.Context, queue string, job *Job) error {
	if job.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("failed to generate job id: %w", err)
		}
		job.ID = id.String()
	}
	if job.MaxTries <= 0 {
		job.MaxTries = defaultMaxTries
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.ProcessAt.IsZero() {
		job.ProcessAt = job.CreatedAt
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queue, data).Err()
}

func (q *JobQueue) GetQueueSize(queue string) (int64, error) {
	return q.client.LLen(context.Background(), queue).Result()
}

// TrimQueueHandler handles cleanup jobs: it keeps the newest "keep" entries
// of the list named by the "queue" payload field.
func TrimQueueHandler(client *redis.Client, defaultKeep int64) Handler {
	return func(ctx context.Context, job *Job) error {
		queue, _ := job.Payload["queue"].(string)
		if queue == "" {
			return errors.New("cleanup job is missing queue")
		}

		keep := defaultKeep
		if v, ok := job.Payload["keep"].(float64); ok && v > 0 {
			keep = int64(v)
		}

		if err := client.LTrim(ctx, queue, -keep, -1).Err(); err != nil {
			return fmt.Errorf("failed to trim %s: %w", queue, err)
		}
		return nil
	}
}
