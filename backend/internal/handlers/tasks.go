package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"task-reminders/backend/internal/services"
	"task-reminders/backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type TaskHandler struct {
	reminders *services.ReminderService
}

func NewTaskHandler(reminders *services.ReminderService) *TaskHandler {
	return &TaskHandler{reminders: reminders}
}

// taskInput is the body of create and update. A null reminder_date means
// no reminder. An absent one defaults to now on create and clears the
// reminder on update.
type taskInput struct {
	Name         string       `json:"name"`
	ReminderDate optionalTime `json:"reminder_date"`
}

// optionalTime tells an omitted field apart from an explicit null.
type optionalTime struct {
	Set   bool
	Value *time.Time
}

func (o *optionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}

	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.Value = &t
	return nil
}

func (h *TaskHandler) RegisterRoutes(rg *gin.RouterGroup) {
	tasks := rg.Group("/tasks")
	tasks.POST("", h.CreateTask)
	tasks.GET("", h.GetTasks)
	tasks.GET("/:id", h.GetTaskByID)
	tasks.PUT("/:id", h.UpdateTask)
	tasks.DELETE("/:id", h.DeleteTask)
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	var input taskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reminderDate := input.ReminderDate.Value
	if !input.ReminderDate.Set {
		now := time.Now()
		reminderDate = &now
	}

	result, err := h.reminders.AddTask(c.Request.Context(), input.Name, reminderDate)
	if err != nil {
		handleTaskError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"task":     result.Task,
		"warnings": warningsOrEmpty(result.Warnings),
	})
}

func (h *TaskHandler) GetTasks(c *gin.Context) {
	tasks, err := h.reminders.ListTasks(c.Request.Context())
	if err != nil {
		handleTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

func (h *TaskHandler) GetTaskByID(c *gin.Context) {
	id := taskID(c)

	task, err := h.reminders.GetTask(c.Request.Context(), id)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) UpdateTask(c *gin.Context) {
	id := taskID(c)

	var input taskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.reminders.EditTask(c.Request.Context(), id, input.Name, input.ReminderDate.Value)
	if err != nil {
		handleTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task":     result.Task,
		"warnings": warningsOrEmpty(result.Warnings),
	})
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	id := taskID(c)

	warnings, err := h.reminders.DeleteTask(c.Request.Context(), id)
	if err != nil {
		handleTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "task deleted successfully",
		"warnings": warningsOrEmpty(warnings),
	})
}

func warningsOrEmpty(w []string) []string {
	if w == nil {
		return []string{}
	}
	return w
}

func handleTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, services.ErrStorage):
		log.Printf("❌ Task storage error: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task storage unavailable"})
	default:
		log.Printf("❌ Task request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process task request"})
	}
}

// taskID maps a malformed path id to uuid.Nil, which never names a stored
// task, so the service answers with not found.
func taskID(c *gin.Context) uuid.UUID {
	raw := c.Param("id")
	if !utils.IsValidUUID(raw) {
		return uuid.Nil
	}
	return uuid.Must(uuid.FromString(raw))
}
