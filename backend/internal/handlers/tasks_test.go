package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"task-reminders/backend/internal/config"
	"task-reminders/backend/internal/database"
	"task-reminders/backend/internal/models"
	"task-reminders/backend/internal/notifier"
	"task-reminders/backend/internal/repositories"
	"task-reminders/backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

type taskResponse struct {
	Task     models.Task `json:"task"`
	Warnings []string    `json:"warnings"`
}

func setupTestRouter(t *testing.T) (*gin.Engine, *notifier.Recorder, *database.DatabasePool) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default().Database
	cfg.Driver = config.DriverSQLite
	cfg.Path = filepath.Join(t.TempDir(), "handlers.db")
	cfg.LogLevel = "silent"

	pool, err := database.NewDatabasePool(database.PoolConfigFrom(cfg))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	migrations := repositories.DefaultMigrationConfig()
	migrations.Driver = config.DriverSQLite
	migrations.MaxRetries = 1
	if err := repositories.RunMigrations(pool.DB, migrations); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	rec := notifier.NewRecorder()
	reminders := services.NewReminderService(pool.DB, services.NewTaskService(), rec)

	router := gin.New()
	NewTaskHandler(reminders).RegisterRoutes(router.Group("/api/v1"))

	return router, rec, pool
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateTask(t *testing.T) {
	router, rec, _ := setupTestRouter(t)

	reminder := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	w := doJSON(router, "POST", "/api/v1/tasks", gin.H{
		"name":          "Book dentist",
		"reminder_date": reminder.Format(time.RFC3339),
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp taskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Task.Name != "Book dentist" {
		t.Errorf("Expected name 'Book dentist', got %q", resp.Task.Name)
	}
	if resp.Task.ReminderDate == nil || !resp.Task.ReminderDate.Equal(reminder) {
		t.Errorf("Expected reminder %s, got %v", reminder, resp.Task.ReminderDate)
	}
	if resp.Warnings == nil || len(resp.Warnings) != 0 {
		t.Errorf("Expected empty warnings, got %v", resp.Warnings)
	}

	calls := rec.Calls()
	if len(calls) != 1 || calls[0].Op != notifier.OpSchedule || calls[0].Key != resp.Task.ID.String() {
		t.Errorf("Expected one schedule call for the task, got %+v", calls)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	router, rec, _ := setupTestRouter(t)

	w := doJSON(router, "POST", "/api/v1/tasks", gin.H{"name": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty name, got %d", w.Code)
	}

	req, _ := http.NewRequest("POST", "/api/v1/tasks", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for malformed body, got %d", w.Code)
	}

	if len(rec.Calls()) != 0 {
		t.Errorf("Expected no scheduler calls, got %+v", rec.Calls())
	}
}

func TestCreateTask_OmittedReminderDefaultsToNow(t *testing.T) {
	router, rec, _ := setupTestRouter(t)

	before := time.Now()
	w := doJSON(router, "POST", "/api/v1/tasks", gin.H{"name": "Stretch"})
	after := time.Now()
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp taskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Task.ReminderDate == nil {
		t.Fatal("Expected an omitted reminder_date to default to the creation time")
	}
	if resp.Task.ReminderDate.Before(before) || resp.Task.ReminderDate.After(after) {
		t.Errorf("Expected reminder between %s and %s, got %s", before, after, resp.Task.ReminderDate)
	}

	calls := rec.Calls()
	if len(calls) != 1 || calls[0].Op != notifier.OpSchedule || !calls[0].FireAt.Equal(*resp.Task.ReminderDate) {
		t.Errorf("Expected the default reminder to be scheduled, got %+v", calls)
	}
}

func TestCreateTask_NullReminder(t *testing.T) {
	router, rec, _ := setupTestRouter(t)

	w := doJSON(router, "POST", "/api/v1/tasks", gin.H{"name": "Someday", "reminder_date": nil})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp taskResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Task.ReminderDate != nil {
		t.Errorf("Expected no reminder for an explicit null, got %v", resp.Task.ReminderDate)
	}
	if len(rec.Calls()) != 0 {
		t.Errorf("Expected no scheduler calls, got %+v", rec.Calls())
	}
}

func TestCreateTask_BadReminderDate(t *testing.T) {
	router, rec, _ := setupTestRouter(t)

	w := doJSON(router, "POST", "/api/v1/tasks", gin.H{"name": "Soon", "reminder_date": "tomorrow"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for an unparsable reminder_date, got %d", w.Code)
	}
	if len(rec.Calls()) != 0 {
		t.Errorf("Expected no scheduler calls, got %+v", rec.Calls())
	}
}

func TestCreateTask_SchedulerWarning(t *testing.T) {
	router, rec, _ := setupTestRouter(t)
	rec.ScheduleErr = errors.New("offline")

	w := doJSON(router, "POST", "/api/v1/tasks", gin.H{
		"name":          "Still saved",
		"reminder_date": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	var resp taskResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Warnings) != 1 {
		t.Errorf("Expected one warning, got %v", resp.Warnings)
	}
}

func TestGetTasks(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	for _, name := range []string{"older", "newer"} {
		if w := doJSON(router, "POST", "/api/v1/tasks", gin.H{"name": name}); w.Code != http.StatusCreated {
			t.Fatalf("Failed to create task: %d", w.Code)
		}
		time.Sleep(2 * time.Millisecond)
	}

	w := doJSON(router, "GET", "/api/v1/tasks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp struct {
		Tasks []models.Task `json:"tasks"`
		Total int           `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Total != 2 || len(resp.Tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", resp.Total)
	}
	if resp.Tasks[0].Name != "newer" {
		t.Errorf("Expected newest task first, got %q", resp.Tasks[0].Name)
	}
}

func TestGetTaskByID(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doJSON(router, "POST", "/api/v1/tasks", gin.H{"name": "Find me"})
	var created taskResponse
	json.Unmarshal(w.Body.Bytes(), &created)

	w = doJSON(router, "GET", "/api/v1/tasks/"+created.Task.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var task models.Task
	json.Unmarshal(w.Body.Bytes(), &task)
	if task.ID != created.Task.ID {
		t.Errorf("Expected task %s, got %s", created.Task.ID, task.ID)
	}

	for _, id := range []string{uuid.Must(uuid.NewV4()).String(), "not-a-uuid"} {
		w = doJSON(router, "GET", "/api/v1/tasks/"+id, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status 404 for %s, got %d", id, w.Code)
		}
	}
}

func TestUpdateTask(t *testing.T) {
	router, rec, _ := setupTestRouter(t)

	w := doJSON(router, "POST", "/api/v1/tasks", gin.H{"name": "Old"})
	var created taskResponse
	json.Unmarshal(w.Body.Bytes(), &created)
	rec.Reset()

	reminder := time.Now().Add(3 * time.Hour).UTC().Truncate(time.Second)
	w = doJSON(router, "PUT", "/api/v1/tasks/"+created.Task.ID.String(), gin.H{
		"name":          "New",
		"reminder_date": reminder,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp taskResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Task.Name != "New" {
		t.Errorf("Expected name 'New', got %q", resp.Task.Name)
	}

	calls := rec.Calls()
	if len(calls) != 2 || calls[0].Op != notifier.OpCancel || calls[1].Op != notifier.OpSchedule {
		t.Errorf("Expected cancel then schedule, got %+v", calls)
	}

	w = doJSON(router, "PUT", "/api/v1/tasks/"+uuid.Must(uuid.NewV4()).String(), gin.H{"name": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	w = doJSON(router, "PUT", "/api/v1/tasks/"+created.Task.ID.String(), gin.H{"name": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doJSON(router, "POST", "/api/v1/tasks", gin.H{"name": "Bye"})
	var created taskResponse
	json.Unmarshal(w.Body.Bytes(), &created)
	path := "/api/v1/tasks/" + created.Task.ID.String()

	w = doJSON(router, "DELETE", path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	w = doJSON(router, "DELETE", path, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on second delete, got %d", w.Code)
	}
}

func TestStorageUnavailable(t *testing.T) {
	router, _, pool := setupTestRouter(t)
	pool.Close()

	w := doJSON(router, "GET", "/api/v1/tasks", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}
