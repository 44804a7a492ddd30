package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/taskdeck/internal/middleware"
	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/task"
)

// mockTaskService はTaskServiceInterfaceのテスト用モック。
type mockTaskService struct {
	listFn   func(ctx context.Context, userID string, completed *bool) ([]*model.Task, error)
	createFn func(ctx context.Context, userID string, in task.CreateInput) (*model.Task, error)
	getFn    func(ctx context.Context, userID, taskID string) (*model.Task, error)
	updateFn func(ctx context.Context, userID, taskID string, in task.UpdateInput) (*model.Task, error)
	toggleFn func(ctx context.Context, userID, taskID string) (*model.Task, error)
	deleteFn func(ctx context.Context, userID, taskID string) error
}

func (m *mockTaskService) List(ctx context.Context, userID string, completed *bool) ([]*model.Task, error) {
	return m.listFn(ctx, userID, completed)
}

func (m *mockTaskService) Create(ctx context.Context, userID string, in task.CreateInput) (*model.Task, error) {
	return m.createFn(ctx, userID, in)
}

func (m *mockTaskService) Get(ctx context.Context, userID, taskID string) (*model.Task, error) {
	return m.getFn(ctx, userID, taskID)
}

func (m *mockTaskService) Update(ctx context.Context, userID, taskID string, in task.UpdateInput) (*model.Task, error) {
	return m.updateFn(ctx, userID, taskID, in)
}

func (m *mockTaskService) ToggleComplete(ctx context.Context, userID, taskID string) (*model.Task, error) {
	return m.toggleFn(ctx, userID, taskID)
}

func (m *mockTaskService) Delete(ctx context.Context, userID, taskID string) error {
	return m.deleteFn(ctx, userID, taskID)
}

var _ TaskServiceInterface = (*mockTaskService)(nil)

func sampleTask() *model.Task {
	now := time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC)
	return &model.Task{
		ID:          "task-1",
		UserID:      "user-1",
		Title:       "牛乳を買う",
		Description: "帰り道にスーパーへ寄る",
		Completed:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// taskTestRouter はURLパラメータを解決するため、chiルーター経由でハンドラーを呼び出す。
func taskTestRouter(service TaskServiceInterface) http.Handler {
	h := NewTaskHandler(service)
	r := chi.NewRouter()
	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", h.ListTasks)
		r.Post("/", h.CreateTask)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetTask)
			r.Put("/", h.UpdateTask)
			r.Delete("/", h.DeleteTask)
			r.Patch("/complete", h.ToggleComplete)
		})
	})
	return r
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(middleware.ContextWithUserID(req.Context(), "user-1"))
}

func TestListTasks_NoFilter(t *testing.T) {
	service := &mockTaskService{
		listFn: func(_ context.Context, userID string, completed *bool) ([]*model.Task, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q", userID)
			}
			if completed != nil {
				t.Errorf("completed = %v, want nil", *completed)
			}
			return []*model.Task{sampleTask()}, nil
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/tasks", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp taskListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 1 || len(resp.Tasks) != 1 {
		t.Errorf("total = %d, tasks = %d, want 1 each", resp.Total, len(resp.Tasks))
	}
	if resp.Tasks[0].Title != "牛乳を買う" {
		t.Errorf("title = %q", resp.Tasks[0].Title)
	}
}

func TestListTasks_StatusFilter(t *testing.T) {
	tests := []struct {
		name          string
		status        string
		wantCompleted bool
	}{
		{"pending maps to completed=false", "pending", false},
		{"completed maps to completed=true", "completed", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &mockTaskService{
				listFn: func(_ context.Context, _ string, completed *bool) ([]*model.Task, error) {
					if completed == nil || *completed != tt.wantCompleted {
						t.Errorf("completed = %v, want %v", completed, tt.wantCompleted)
					}
					return []*model.Task{}, nil
				},
			}

			rec := httptest.NewRecorder()
			taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/tasks?status="+tt.status, ""))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
		})
	}
}

func TestListTasks_InvalidStatus(t *testing.T) {
	service := &mockTaskService{
		listFn: func(_ context.Context, _ string, _ *bool) ([]*model.Task, error) {
			t.Error("service should not be called for an invalid filter")
			return nil, nil
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/tasks?status=bogus", ""))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListTasks_EmptyListIsNotNull(t *testing.T) {
	service := &mockTaskService{
		listFn: func(_ context.Context, _ string, _ *bool) ([]*model.Task, error) {
			return []*model.Task{}, nil
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/tasks", ""))

	if strings.Contains(rec.Body.String(), `"tasks":null`) {
		t.Error("tasks should serialize as [], not null")
	}
}

func TestListTasks_Unauthenticated(t *testing.T) {
	service := &mockTaskService{}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestCreateTask_Success(t *testing.T) {
	service := &mockTaskService{
		createFn: func(_ context.Context, userID string, in task.CreateInput) (*model.Task, error) {
			if in.Title != "牛乳を買う" || in.Description != "帰り道にスーパーへ寄る" {
				t.Errorf("unexpected input: %+v", in)
			}
			return sampleTask(), nil
		},
	}

	body := `{"title":"牛乳を買う","description":"帰り道にスーパーへ寄る"}`
	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/tasks", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	var resp taskResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "task-1" {
		t.Errorf("id = %q", resp.ID)
	}
}

func TestCreateTask_ValidationError(t *testing.T) {
	service := &mockTaskService{
		createFn: func(_ context.Context, _ string, _ task.CreateInput) (*model.Task, error) {
			return nil, &model.ValidationError{Fields: map[string]string{"title": "タイトルを入力してください。"}}
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/tasks", `{"title":""}`))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if body := decodeAPIError(t, rec); body.Fields["title"] == "" {
		t.Error("field error for title should be present")
	}
}

func TestGetTask_Success(t *testing.T) {
	service := &mockTaskService{
		getFn: func(_ context.Context, userID, taskID string) (*model.Task, error) {
			if taskID != "task-1" {
				t.Errorf("taskID = %q", taskID)
			}
			return sampleTask(), nil
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/tasks/task-1", ""))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	service := &mockTaskService{
		getFn: func(_ context.Context, _, taskID string) (*model.Task, error) {
			return nil, model.NewTaskNotFoundError(taskID)
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/tasks/missing", ""))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := decodeAPIError(t, rec); body.Code != "TASK_NOT_FOUND" {
		t.Errorf("code = %q, want TASK_NOT_FOUND", body.Code)
	}
}

// 他ユーザーのタスクへのアクセスは存在しないタスクと区別できない応答を返す。
func TestGetTask_ForbiddenPresentsAsNotFound(t *testing.T) {
	service := &mockTaskService{
		getFn: func(_ context.Context, _, _ string) (*model.Task, error) {
			return nil, model.NewForbiddenError()
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/tasks/task-9", ""))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := decodeAPIError(t, rec)
	if body.Code != "TASK_NOT_FOUND" {
		t.Errorf("code = %q, want TASK_NOT_FOUND", body.Code)
	}
}

func TestUpdateTask_PartialUpdate(t *testing.T) {
	service := &mockTaskService{
		updateFn: func(_ context.Context, _, taskID string, in task.UpdateInput) (*model.Task, error) {
			if in.Title == nil || *in.Title != "新しいタイトル" {
				t.Errorf("title = %v", in.Title)
			}
			if in.Description != nil {
				t.Error("description should stay nil for a partial update")
			}
			if in.Completed != nil {
				t.Error("completed should stay nil for a partial update")
			}
			updated := sampleTask()
			updated.Title = *in.Title
			return updated, nil
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodPut, "/api/tasks/task-1", `{"title":"新しいタイトル"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestUpdateTask_NoFields(t *testing.T) {
	service := &mockTaskService{
		updateFn: func(_ context.Context, _, _ string, _ task.UpdateInput) (*model.Task, error) {
			t.Error("service should not be called without update fields")
			return nil, nil
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodPut, "/api/tasks/task-1", `{}`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateTask_ForbiddenPresentsAsNotFound(t *testing.T) {
	service := &mockTaskService{
		updateFn: func(_ context.Context, _, _ string, _ task.UpdateInput) (*model.Task, error) {
			return nil, model.NewForbiddenError()
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodPut, "/api/tasks/task-9", `{"completed":true}`))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestToggleComplete_Success(t *testing.T) {
	service := &mockTaskService{
		toggleFn: func(_ context.Context, _, taskID string) (*model.Task, error) {
			toggled := sampleTask()
			toggled.Completed = true
			return toggled, nil
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodPatch, "/api/tasks/task-1/complete", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp taskResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Completed {
		t.Error("completed should be true after toggle")
	}
}

func TestDeleteTask_Success(t *testing.T) {
	var deleted string
	service := &mockTaskService{
		deleteFn: func(_ context.Context, _, taskID string) error {
			deleted = taskID
			return nil
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodDelete, "/api/tasks/task-1", ""))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if deleted != "task-1" {
		t.Errorf("deleted = %q", deleted)
	}
}

func TestDeleteTask_ForbiddenPresentsAsNotFound(t *testing.T) {
	service := &mockTaskService{
		deleteFn: func(_ context.Context, _, _ string) error {
			return model.NewForbiddenError()
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodDelete, "/api/tasks/task-9", ""))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteTask_StoreUnavailable(t *testing.T) {
	service := &mockTaskService{
		deleteFn: func(_ context.Context, _, _ string) error {
			return model.NewUnavailableError()
		},
	}

	rec := httptest.NewRecorder()
	taskTestRouter(service).ServeHTTP(rec, authedRequest(http.MethodDelete, "/api/tasks/task-1", ""))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
