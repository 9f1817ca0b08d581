package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"task-reminders/backend/internal/models"
	"task-reminders/backend/internal/monitoring"
	"task-reminders/backend/internal/notifier"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

const (
	ReminderTitle       = "Reminder"
	defaultReminderBody = "Your task is due"
	schedulerTimeout    = 5 * time.Second
)

// Result carries a committed task plus any reminder problems that did not
// undo the change.
type Result struct {
	Task     models.Task `json:"task"`
	Warnings []string    `json:"warnings,omitempty"`
}

// ReminderService applies task actions one at a time and keeps the pending
// alert for each task in step with its reminder date. Reads share the lock
// so a cached read cannot store a list that a concurrent mutation has
// already invalidated.
type ReminderService struct {
	mu       sync.RWMutex
	db       *gorm.DB
	tasks    TaskService
	notifier notifier.Service
}

func NewReminderService(db *gorm.DB, tasks TaskService, n notifier.Service) *ReminderService {
	return &ReminderService{db: db, tasks: tasks, notifier: n}
}

func (s *ReminderService) AddTask(ctx context.Context, name string, reminderDate *time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.tasks.CreateTask(s.db.WithContext(ctx), name, reminderDate)
	if err != nil {
		return Result{}, err
	}

	result := Result{Task: task}
	if task.HasReminder() {
		s.schedule(ctx, task, &result)
	}
	return result, nil
}

func (s *ReminderService) EditTask(ctx context.Context, id uuid.UUID, name string, reminderDate *time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.tasks.UpdateTask(s.db.WithContext(ctx), id, name, reminderDate)
	if err != nil {
		return Result{}, err
	}

	result := Result{Task: task}
	s.cancel(ctx, task.ID, &result)
	if task.HasReminder() {
		s.schedule(ctx, task, &result)
	}
	return result, nil
}

// DeleteTask removes the task and cancels its alert. The returned warnings
// describe a cancel that failed after the delete committed.
func (s *ReminderService) DeleteTask(ctx context.Context, id uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tasks.DeleteTask(s.db.WithContext(ctx), id); err != nil {
		return nil, err
	}

	var result Result
	s.cancel(ctx, id, &result)
	return result.Warnings, nil
}

func (s *ReminderService) GetTask(ctx context.Context, id uuid.UUID) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tasks.GetTaskByID(s.db.WithContext(ctx), id)
}

func (s *ReminderService) ListTasks(ctx context.Context) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tasks.GetTasks(s.db.WithContext(ctx))
}

// RequestPermission asks once for delivery permission. Failure is logged.
func (s *ReminderService) RequestPermission(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, schedulerTimeout)
	defer cancel()

	granted, err := s.notifier.RequestPermission(ctx)
	if err != nil {
		log.Printf("⚠️  Notification permission request failed: %v", err)
		return false
	}
	if !granted {
		log.Printf("🔕 Notifications not authorized; reminders will be dropped")
	}
	return granted
}

func (s *ReminderService) schedule(ctx context.Context, task models.Task, result *Result) {
	ctx, cancel := context.WithTimeout(ctx, schedulerTimeout)
	defer cancel()

	body := task.Name
	if body == "" {
		body = defaultReminderBody
	}

	ok, err := s.notifier.ScheduleAlert(ctx, task.ID.String(), *task.ReminderDate, ReminderTitle, body)
	switch {
	case err != nil:
		s.warn(result, fmt.Sprintf("reminder for task %s was not scheduled: %v", task.ID, err))
	case !ok:
		s.warn(result, fmt.Sprintf("reminder for task %s was rejected by the notification service", task.ID))
	default:
		monitoring.RecordReminder(monitoring.ReminderScheduled)
	}
}

func (s *ReminderService) cancel(ctx context.Context, id uuid.UUID, result *Result) {
	ctx, cancel := context.WithTimeout(ctx, schedulerTimeout)
	defer cancel()

	if err := s.notifier.CancelAlert(ctx, id.String()); err != nil {
		s.warn(result, fmt.Sprintf("pending reminder for task %s was not cancelled: %v", id, err))
		return
	}
	monitoring.RecordReminder(monitoring.ReminderCancelled)
}

func (s *ReminderService) warn(result *Result, msg string) {
	monitoring.RecordReminder(monitoring.ReminderFailed)
	log.Printf("⚠️  %s", msg)
	result.Warnings = append(result.Warnings, msg)
}
