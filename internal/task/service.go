// Package task はタスクの管理機能を提供する。
package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/repository"
	"github.com/hitoshi/taskdeck/internal/security"
)

// タスク入力の上限。
const (
	titleMaxLength       = 200
	descriptionMaxLength = 1000
)

// Service はタスクのCRUDと所有権制御のサービス。
// すべての操作は認証済みユーザーのIDを起点とし、他ユーザーのタスクへは到達できない。
type Service struct {
	taskRepo  repository.TaskRepository
	sanitizer security.TextSanitizerService

	// テストから時刻を注入するためのフック
	now func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(taskRepo repository.TaskRepository, sanitizer security.TextSanitizerService) *Service {
	return &Service{
		taskRepo:  taskRepo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// CreateInput はタスク作成の入力。
type CreateInput struct {
	Title       string
	Description string
}

// UpdateInput はタスク更新の入力。nilのフィールドは変更しない部分更新を行う。
type UpdateInput struct {
	Title       *string
	Description *string
	Completed   *bool
}

// List はユーザーのタスク一覧を作成日時降順で返す。
// completedがnilでない場合は完了状態で絞り込む。
func (s *Service) List(ctx context.Context, userID string, completed *bool) ([]*model.Task, error) {
	tasks, err := s.taskRepo.ListByUserID(ctx, userID, completed)
	if err != nil {
		slog.Error("failed to list tasks", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil, model.NewUnavailableError()
	}
	return tasks, nil
}

// Create はタスクを作成する。タイトル・説明文はサニタイズしてから保存する。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Task, error) {
	title, description, err := s.sanitizeInput(in.Title, in.Description)
	if err != nil {
		return nil, err
	}

	now := s.now()
	task := &model.Task{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       title,
		Description: description,
		Completed:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		slog.Error("failed to create task", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil, model.NewUnavailableError()
	}

	slog.Info("task created", slog.String("user_id", userID), slog.String("task_id", task.ID))
	return task, nil
}

// Get は指定タスクを取得する。所有者以外には存在を開示しない。
func (s *Service) Get(ctx context.Context, userID, taskID string) (*model.Task, error) {
	return s.authorize(ctx, userID, taskID)
}

// Update はタスクを部分更新する。
func (s *Service) Update(ctx context.Context, userID, taskID string, in UpdateInput) (*model.Task, error) {
	task, err := s.authorize(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		title := s.sanitizer.Sanitize(*in.Title)
		if msg := validateTitle(title); msg != "" {
			return nil, &model.ValidationError{Fields: map[string]string{"title": msg}}
		}
		task.Title = title
	}
	if in.Description != nil {
		description := s.sanitizer.Sanitize(*in.Description)
		if msg := validateDescription(description); msg != "" {
			return nil, &model.ValidationError{Fields: map[string]string{"description": msg}}
		}
		task.Description = description
	}
	if in.Completed != nil {
		task.Completed = *in.Completed
	}
	task.UpdatedAt = s.now()

	if err := s.taskRepo.Update(ctx, task); err != nil {
		slog.Error("failed to update task", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return nil, model.NewUnavailableError()
	}

	return task, nil
}

// ToggleComplete はタスクの完了状態を反転する。
func (s *Service) ToggleComplete(ctx context.Context, userID, taskID string) (*model.Task, error) {
	task, err := s.authorize(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	task.Completed = !task.Completed
	task.UpdatedAt = s.now()

	if err := s.taskRepo.Update(ctx, task); err != nil {
		slog.Error("failed to toggle task", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return nil, model.NewUnavailableError()
	}

	return task, nil
}

// Delete はタスクを削除する。
func (s *Service) Delete(ctx context.Context, userID, taskID string) error {
	if _, err := s.authorize(ctx, userID, taskID); err != nil {
		return err
	}

	if err := s.taskRepo.Delete(ctx, taskID); err != nil {
		slog.Error("failed to delete task", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return model.NewUnavailableError()
	}

	slog.Info("task deleted", slog.String("user_id", userID), slog.String("task_id", taskID))
	return nil
}

// authorize はタスクの存在と所有権を確認する。
// 所有権の不一致は監査のためにログに残す。外部への提示方法はハンドラー層の方針に従う。
func (s *Service) authorize(ctx context.Context, userID, taskID string) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		slog.Error("failed to find task", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return nil, model.NewUnavailableError()
	}
	if task == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}
	if task.UserID != userID {
		slog.Warn("task ownership mismatch",
			slog.String("user_id", userID),
			slog.String("task_id", taskID),
			slog.String("owner_id", task.UserID),
		)
		return nil, model.NewForbiddenError()
	}
	return task, nil
}

// sanitizeInput はタイトルと説明文をサニタイズして検証する。
func (s *Service) sanitizeInput(title, description string) (string, string, error) {
	title = s.sanitizer.Sanitize(title)
	description = s.sanitizer.Sanitize(description)

	fields := map[string]string{}
	if msg := validateTitle(title); msg != "" {
		fields["title"] = msg
	}
	if msg := validateDescription(description); msg != "" {
		fields["description"] = msg
	}
	if len(fields) > 0 {
		return "", "", &model.ValidationError{Fields: fields}
	}

	return title, description, nil
}

func validateTitle(title string) string {
	if title == "" {
		return "タイトルを入力してください。"
	}
	if len(title) > titleMaxLength {
		return fmt.Sprintf("タイトルは%d文字以下で入力してください。", titleMaxLength)
	}
	return ""
}

func validateDescription(description string) string {
	if len(description) > descriptionMaxLength {
		return fmt.Sprintf("説明は%d文字以下で入力してください。", descriptionMaxLength)
	}
	return ""
}
