package models

import (
	"time"

	"github.com/gofrs/uuid"
)

type Task struct {
	ID           uuid.UUID  `json:"id" gorm:"primaryKey"`
	Seq          int64      `json:"-" gorm:"not null"`
	Name         string     `json:"name" gorm:"not null"`
	CreatedAt    time.Time  `json:"created_at"`
	ReminderDate *time.Time `json:"reminder_date"`
}

// HasReminder reports whether a reminder time is set.
func (t Task) HasReminder() bool {
	return t.ReminderDate != nil
}
