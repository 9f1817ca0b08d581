package services

import (
	"errors"
	"log"
	"time"

	"task-reminders/backend/internal/cache"
	"task-reminders/backend/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

const (
	taskListCacheKey = "tasks:list"
	taskCachePattern = "tasks:*"
	taskCacheTTL     = 30 * time.Second
)

// cachedTask keeps Seq, which the API encoding of a task leaves out.
type cachedTask struct {
	Task models.Task `json:"task"`
	Seq  int64       `json:"seq"`
}

func toCached(task models.Task) cachedTask {
	return cachedTask{Task: task, Seq: task.Seq}
}

func (c cachedTask) task() models.Task {
	t := c.Task
	t.Seq = c.Seq
	return t
}

func taskCacheKey(id uuid.UUID) string {
	return "tasks:id:" + id.String()
}

// CachedTaskService serves reads from cache and evicts every task entry on
// each successful mutation. Cache failures fall through to the store.
type CachedTaskService struct {
	next  TaskService
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedTaskService(next TaskService, c cache.Cache) *CachedTaskService {
	return &CachedTaskService{next: next, cache: c, ttl: taskCacheTTL}
}

func (s *CachedTaskService) CreateTask(db *gorm.DB, name string, reminderDate *time.Time) (models.Task, error) {
	task, err := s.next.CreateTask(db, name, reminderDate)
	if err == nil {
		s.invalidate()
	}
	return task, err
}

func (s *CachedTaskService) GetTaskByID(db *gorm.DB, id uuid.UUID) (models.Task, error) {
	var entry cachedTask
	if err := s.cache.Get(taskCacheKey(id), &entry); err == nil {
		return entry.task(), nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Printf("⚠️  Task cache read failed: %v", err)
	}

	task, err := s.next.GetTaskByID(db, id)
	if err != nil {
		return task, err
	}
	if err := s.cache.Set(taskCacheKey(id), toCached(task), s.ttl); err != nil {
		log.Printf("⚠️  Task cache write failed: %v", err)
	}
	return task, nil
}

func (s *CachedTaskService) GetTasks(db *gorm.DB) ([]models.Task, error) {
	var entries []cachedTask
	if err := s.cache.Get(taskListCacheKey, &entries); err == nil {
		tasks := make([]models.Task, 0, len(entries))
		for _, e := range entries {
			tasks = append(tasks, e.task())
		}
		return tasks, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Printf("⚠️  Task cache read failed: %v", err)
	}

	tasks, err := s.next.GetTasks(db)
	if err != nil {
		return nil, err
	}

	entries = make([]cachedTask, 0, len(tasks))
	for _, t := range tasks {
		entries = append(entries, toCached(t))
	}
	if err := s.cache.Set(taskListCacheKey, entries, s.ttl); err != nil {
		log.Printf("⚠️  Task cache write failed: %v", err)
	}
	return tasks, nil
}

func (s *CachedTaskService) UpdateTask(db *gorm.DB, id uuid.UUID, name string, reminderDate *time.Time) (models.Task, error) {
	task, err := s.next.UpdateTask(db, id, name, reminderDate)
	if err == nil {
		s.invalidate()
	}
	return task, err
}

func (s *CachedTaskService) DeleteTask(db *gorm.DB, id uuid.UUID) error {
	err := s.next.DeleteTask(db, id)
	if err == nil {
		s.invalidate()
	}
	return err
}

func (s *CachedTaskService) invalidate() {
	if err := s.cache.DeletePattern(taskCachePattern); err != nil {
		log.Printf("⚠️  Task cache invalidation failed: %v", err)
	}
}
