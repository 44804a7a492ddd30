// Package client はtaskdeck APIのGoクライアントを提供する。
// セッショントークンの保持・伝搬と、期限切れ時の通知を担う。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	sessionCookieName = "session_token"
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"

	defaultTimeout = 10 * time.Second
)

// ErrNoSession は未認証状態で保護された操作を呼び出したことを表す。
var ErrNoSession = errors.New("no active session")

// ErrSessionExpired はサーバーがセッションを拒否したことを表す。
// このエラーを受けた時点でローカルのトークンは破棄済みであり、
// 同じトークンでの再試行は行われない。
var ErrSessionExpired = errors.New("session expired")

// ErrUnavailable はサーバー障害またはネットワーク障害を表す。
var ErrUnavailable = errors.New("service unavailable")

// RateLimitedError はレート制限超過を表す。
type RateLimitedError struct {
	RetryAfter int // 再試行までの推奨秒数
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %d seconds", e.RetryAfter)
}

// APIError はサーバーが返した統一フォーマットのエラーを表す。
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Action     string            `json:"action"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// User はAPIが返すユーザー情報。
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSigninAt *time.Time `json:"last_signin_at"`
}

// Task はAPIが返すタスク。
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskList はタスク一覧のレスポンス。
type TaskList struct {
	Tasks []Task `json:"tasks"`
	Total int    `json:"total"`
}

// AuthResult はサインアップ・サインイン成功時の結果。
type AuthResult struct {
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TaskUpdate はタスクの部分更新の入力。nilのフィールドは変更しない。
type TaskUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// Client はtaskdeck APIのHTTPクライアント。
// 保護された呼び出しには保持中のセッショントークンをCookieとして添付する。
// サーバーが401を返した場合、トークンを破棄し、期限切れフックを
// トークンごとに一度だけ発火する。同じトークンでの再送は行わない。
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu               sync.Mutex
	token            string
	csrfToken        string
	expiredNotified  bool
	onSessionExpired func()
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientがnilの場合はデフォルトタイムアウト付きのクライアントを使用する。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// SetOnSessionExpired はセッション期限切れ検知時のフックを設定する。
// フックはトークンごとに一度だけ呼ばれる。
func (c *Client) SetOnSessionExpired(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSessionExpired = fn
}

// HasSession はトークンを保持しているかどうかを返す。
func (c *Client) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

// SetToken はセッショントークンを直接設定する。
// Cookieを外部から復元する場合に使用する。
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiredNotified = false
}

// Signup は新規アカウントを登録し、発行されたセッションを保持する。
func (c *Client) Signup(ctx context.Context, email, password, confirm string) (*AuthResult, error) {
	body := map[string]string{
		"email":            email,
		"password":         password,
		"confirm_password": confirm,
	}
	var result AuthResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", body, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// Signin は資格情報でサインインし、発行されたセッションを保持する。
func (c *Client) Signin(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var result AuthResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", body, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// Signout はセッションを破棄する。ローカルのトークンは常に破棄される。
func (c *Client) Signout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/signout", nil, nil, false)

	c.mu.Lock()
	c.token = ""
	c.csrfToken = ""
	c.mu.Unlock()

	if err != nil && !errors.Is(err, ErrSessionExpired) {
		return err
	}
	return nil
}

// Me は現在のユーザー情報を取得する。
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &user, true); err != nil {
		return nil, err
	}
	return &user, nil
}

// Refresh はセッションの有効期限を明示的に延長する。
func (c *Client) Refresh(ctx context.Context) (time.Time, error) {
	var resp struct {
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", nil, &resp, true); err != nil {
		return time.Time{}, err
	}
	return resp.ExpiresAt, nil
}

// ListTasks はタスク一覧を取得する。statusは空、"pending"、"completed"のいずれか。
func (c *Client) ListTasks(ctx context.Context, status string) (*TaskList, error) {
	path := "/api/tasks"
	if status != "" {
		path += "?status=" + status
	}
	var list TaskList
	if err := c.do(ctx, http.MethodGet, path, nil, &list, true); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreateTask はタスクを作成する。
func (c *Client) CreateTask(ctx context.Context, title, description string) (*Task, error) {
	body := map[string]string{
		"title":       title,
		"description": description,
	}
	var created Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", body, &created, true); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetTask はタスク詳細を取得する。
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var found Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+taskID, nil, &found, true); err != nil {
		return nil, err
	}
	return &found, nil
}

// UpdateTask はタスクを部分更新する。
func (c *Client) UpdateTask(ctx context.Context, taskID string, update TaskUpdate) (*Task, error) {
	var updated Task
	if err := c.do(ctx, http.MethodPut, "/api/tasks/"+taskID, update, &updated, true); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ToggleComplete はタスクの完了状態を反転する。
func (c *Client) ToggleComplete(ctx context.Context, taskID string) (*Task, error) {
	var toggled Task
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+taskID+"/complete", nil, &toggled, true); err != nil {
		return nil, err
	}
	return &toggled, nil
}

// DeleteTask はタスクを削除する。
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+taskID, nil, nil, true)
}

// do はリクエストを1回だけ実行し、レスポンスをデコードする。
// 保護された呼び出しが401を受けた場合はトークンを破棄して期限切れフックを
// 発火し、再送しない。非保護の呼び出し（サインイン等）の401は資格情報エラー
// であり、サーバーのAPIErrorをそのまま返す。
func (c *Client) do(ctx context.Context, method, path string, body, out any, protected bool) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if protected && token == "" {
		return ErrNoSession
	}

	if protected && isStateChanging(method) {
		if err := c.ensureCSRFToken(ctx); err != nil {
			return err
		}
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.captureSessionCookie(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// セッション失効と判断できるのは保護された呼び出しのみ。
		// サインイン・サインアップの401はINVALID_CREDENTIALSを運ぶ。
		if protected {
			c.discardToken(token)
			return ErrSessionExpired
		}
		return decodeAPIError(resp)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: server returned status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return decodeAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// newRequest はJSONボディとCookieを設定したリクエストを構築する。
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.Lock()
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.token})
	}
	if c.csrfToken != "" && isStateChanging(method) {
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: c.csrfToken})
		req.Header.Set(csrfHeaderName, c.csrfToken)
	}
	c.mu.Unlock()

	return req, nil
}

// ensureCSRFToken は状態変更リクエストの前にCSRFトークンを取得する。
func (c *Client) ensureCSRFToken(ctx context.Context) error {
	c.mu.Lock()
	token := c.csrfToken
	c.mu.Unlock()
	if token != "" {
		return nil
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/csrf-token", nil, &resp, false); err != nil {
		return err
	}

	c.mu.Lock()
	c.csrfToken = resp.Token
	c.mu.Unlock()
	return nil
}

// captureSessionCookie はレスポンスのSet-Cookieからセッショントークンを取り込む。
func (c *Client) captureSessionCookie(resp *http.Response) {
	for _, cookie := range resp.Cookies() {
		switch cookie.Name {
		case sessionCookieName:
			if cookie.MaxAge < 0 || cookie.Value == "" {
				continue
			}
			c.mu.Lock()
			c.token = cookie.Value
			c.expiredNotified = false
			c.mu.Unlock()
		case csrfCookieName:
			if cookie.Value == "" {
				continue
			}
			c.mu.Lock()
			c.csrfToken = cookie.Value
			c.mu.Unlock()
		}
	}
}

// discardToken は401を受けたトークンを破棄し、フックを一度だけ発火する。
// 既に別のトークンが発行されている場合は何もしない。
func (c *Client) discardToken(rejected string) {
	c.mu.Lock()
	if rejected == "" || c.token != rejected {
		c.mu.Unlock()
		return
	}
	c.token = ""
	notify := !c.expiredNotified && c.onSessionExpired != nil
	c.expiredNotified = true
	hook := c.onSessionExpired
	c.mu.Unlock()

	c.logger.Info("session expired, local token discarded")
	if notify {
		hook()
	}
}

// isStateChanging はHTTPメソッドが状態を変更するかどうかを判定する。
func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// parseRetryAfter はRetry-Afterヘッダーを秒数として解釈する。
func parseRetryAfter(resp *http.Response) int {
	if v, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && v > 0 {
		return v
	}
	return 60
}

// decodeAPIError はエラーレスポンスのボディをAPIErrorとして読み取る。
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return apiErr
}
