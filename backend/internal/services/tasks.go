package services

import (
	"errors"
	"fmt"
	"time"

	"task-reminders/backend/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// TaskService is the durable task store. Every call receives the database
// handle it operates on; mutations return only after the commit.
type TaskService interface {
	CreateTask(db *gorm.DB, name string, reminderDate *time.Time) (models.Task, error)
	GetTaskByID(db *gorm.DB, id uuid.UUID) (models.Task, error)
	GetTasks(db *gorm.DB) ([]models.Task, error)
	UpdateTask(db *gorm.DB, id uuid.UUID, name string, reminderDate *time.Time) (models.Task, error)
	DeleteTask(db *gorm.DB, id uuid.UUID) error
}

type TaskServiceImpl struct {
	now func() time.Time
}

func NewTaskService() *TaskServiceImpl {
	return &TaskServiceImpl{now: time.Now}
}

// NewTaskServiceWithClock is NewTaskService with a replaceable time source.
func NewTaskServiceWithClock(now func() time.Time) *TaskServiceImpl {
	return &TaskServiceImpl{now: now}
}

func (s *TaskServiceImpl) CreateTask(db *gorm.DB, name string, reminderDate *time.Time) (models.Task, error) {
	if name == "" {
		return models.Task{}, fmt.Errorf("%w: task name must not be empty", ErrValidation)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return models.Task{}, storageError("generate task id", err)
	}

	task := models.Task{
		ID:           id,
		Name:         name,
		CreatedAt:    creationTime(s.now()),
		ReminderDate: utcPtr(reminderDate),
	}

	// seq is unique; a writer racing another instance for the same value
	// loses the insert and takes the next one.
	for attempt := 1; ; attempt++ {
		err = db.Transaction(func(tx *gorm.DB) error {
			var maxSeq int64
			if err := tx.Model(&models.Task{}).Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
				return err
			}
			task.Seq = maxSeq + 1
			return tx.Create(&task).Error
		})
		if err == nil || !errors.Is(err, gorm.ErrDuplicatedKey) || attempt == maxSeqAttempts {
			break
		}
	}
	if err != nil {
		return models.Task{}, storageError("create task", err)
	}

	return task, nil
}

func (s *TaskServiceImpl) GetTaskByID(db *gorm.DB, id uuid.UUID) (models.Task, error) {
	var task models.Task
	err := db.Where("id = ?", id).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return models.Task{}, storageError("get task", err)
	}
	return task, nil
}

// GetTasks returns every task, newest first. Tasks created at the same
// instant keep their insertion order.
func (s *TaskServiceImpl) GetTasks(db *gorm.DB) ([]models.Task, error) {
	tasks := make([]models.Task, 0)
	if err := db.Order("created_at DESC").Order("seq ASC").Find(&tasks).Error; err != nil {
		return nil, storageError("list tasks", err)
	}
	return tasks, nil
}

func (s *TaskServiceImpl) UpdateTask(db *gorm.DB, id uuid.UUID, name string, reminderDate *time.Time) (models.Task, error) {
	if name == "" {
		return models.Task{}, fmt.Errorf("%w: task name must not be empty", ErrValidation)
	}

	var task models.Task
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&task).Error; err != nil {
			return err
		}

		task.Name = name
		task.ReminderDate = utcPtr(reminderDate)

		return tx.Model(&models.Task{}).Where("id = ?", id).Updates(map[string]interface{}{
			"name":          task.Name,
			"reminder_date": task.ReminderDate,
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return models.Task{}, storageError("update task", err)
	}

	return task, nil
}

func (s *TaskServiceImpl) DeleteTask(db *gorm.DB, id uuid.UUID) error {
	var affected int64
	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&models.Task{})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return storageError("delete task", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const maxSeqAttempts = 3

// creationTime rounds up to the microsecond, the finest precision every
// supported database keeps, so the stored value never precedes the call.
func creationTime(t time.Time) time.Time {
	t = t.UTC()
	rounded := t.Truncate(time.Microsecond)
	if rounded.Before(t) {
		rounded = rounded.Add(time.Microsecond)
	}
	return rounded
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
