package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func authOK(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "issued-token", MaxAge: 3600})
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       map[string]any{"id": "user-1", "email": "taro@example.com"},
		"expires_at": "2025-06-15T12:00:00Z",
	})
}

func TestSignin_CapturesSessionToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/signin" {
			t.Errorf("path = %q", r.URL.Path)
		}
		authOK(w)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())

	result, err := c.Signin(context.Background(), "taro@example.com", "password1")
	if err != nil {
		t.Fatalf("Signin() error = %v", err)
	}
	if result.User.Email != "taro@example.com" {
		t.Errorf("email = %q", result.User.Email)
	}
	if !c.HasSession() {
		t.Error("client should hold the issued session token")
	}
}

func TestProtectedCall_AttachesSessionCookie(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value != "my-token" {
			t.Errorf("session cookie = %v, err = %v", cookie, err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "user-1", "email": "taro@example.com"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())
	c.SetToken("my-token")

	if _, err := c.Me(context.Background()); err != nil {
		t.Fatalf("Me() error = %v", err)
	}
}

func TestProtectedCall_WithoutTokenDoesNotHitServer(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())

	_, err := c.Me(context.Background())
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("error = %v, want ErrNoSession", err)
	}
	if requests.Load() != 0 {
		t.Errorf("requests = %d, want 0", requests.Load())
	}
}

func TestUnauthorized_DiscardsTokenAndFiresHookOnce(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "SESSION_EXPIRED"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())
	c.SetToken("stale-token")

	var fired atomic.Int32
	c.SetOnSessionExpired(func() { fired.Add(1) })

	_, err := c.Me(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("error = %v, want ErrSessionExpired", err)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want exactly 1 (no retry)", requests.Load())
	}
	if c.HasSession() {
		t.Error("token should be discarded after 401")
	}
	if fired.Load() != 1 {
		t.Errorf("hook fired %d times, want 1", fired.Load())
	}

	// トークン破棄後の保護された呼び出しはサーバーに到達しない
	if _, err := c.Me(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("error = %v, want ErrNoSession", err)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, discarded token must never be resent", requests.Load())
	}
	if fired.Load() != 1 {
		t.Errorf("hook fired %d times, want still 1", fired.Load())
	}
}

func TestSignin_WrongPasswordSurfacesInvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"code":     "INVALID_CREDENTIALS",
			"message":  "メールアドレスまたはパスワードが正しくありません。",
			"category": "auth",
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())

	var fired atomic.Int32
	c.SetOnSessionExpired(func() { fired.Add(1) })

	_, err := c.Signin(context.Background(), "taro@example.com", "wrong-password")

	// サインインの401はセッション失効ではなく資格情報エラー
	if errors.Is(err, ErrSessionExpired) {
		t.Fatal("credential failure must not surface as ErrSessionExpired")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.Code != "INVALID_CREDENTIALS" {
		t.Errorf("code = %q, want INVALID_CREDENTIALS", apiErr.Code)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", apiErr.StatusCode)
	}
	if fired.Load() != 0 {
		t.Errorf("hook fired %d times, want 0", fired.Load())
	}
}

func TestSignin_WrongPasswordKeepsExistingSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "INVALID_CREDENTIALS"})
	}))
	defer server.Close()

	// 別アカウントへの切り替え失敗で保持中のセッションを失わないこと
	c := NewClient(server.URL, nil, discardLogger())
	c.SetToken("current-token")

	if _, err := c.Signin(context.Background(), "hanako@example.com", "wrong-password"); err == nil {
		t.Fatal("Signin() should fail")
	}
	if !c.HasSession() {
		t.Error("held session token must survive a failed signin")
	}
}

func TestHookFiresAgainForNewToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "SESSION_EXPIRED"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())

	var fired atomic.Int32
	c.SetOnSessionExpired(func() { fired.Add(1) })

	c.SetToken("token-a")
	c.Me(context.Background())

	c.SetToken("token-b")
	c.Me(context.Background())

	if fired.Load() != 2 {
		t.Errorf("hook fired %d times, want once per token", fired.Load())
	}
}

func TestRateLimited_SurfacesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"code": "RATE_LIMITED"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())

	_, err := c.Signin(context.Background(), "taro@example.com", "password1")

	var rlErr *RateLimitedError
	if !errors.As(err, &rlErr) {
		t.Fatalf("error = %v, want RateLimitedError", err)
	}
	if rlErr.RetryAfter != 12 {
		t.Errorf("RetryAfter = %d, want 12", rlErr.RetryAfter)
	}
}

func TestServerError_SurfacesUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())
	c.SetToken("my-token")

	if _, err := c.Me(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestNetworkError_SurfacesUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // 即座に閉じて接続エラーを誘発する

	c := NewClient(server.URL, nil, discardLogger())
	c.SetToken("my-token")

	if _, err := c.Me(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestAPIError_DecodedFromBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code":    "VALIDATION_FAILED",
			"message": "入力内容に誤りがあります。",
			"fields":  map[string]string{"email": "形式が不正です。"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())

	_, err := c.Signup(context.Background(), "bad", "x", "x")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
	if apiErr.Code != "VALIDATION_FAILED" {
		t.Errorf("code = %q", apiErr.Code)
	}
	if apiErr.Fields["email"] == "" {
		t.Error("field errors should be decoded")
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
}

func TestStateChangingCall_FetchesAndSendsCSRFToken(t *testing.T) {
	var csrfFetched atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/csrf-token":
			csrfFetched.Add(1)
			writeJSON(w, http.StatusOK, map[string]string{"token": "csrf-abc"})
		case "/api/tasks":
			if got := r.Header.Get(csrfHeaderName); got != "csrf-abc" {
				t.Errorf("CSRF header = %q, want csrf-abc", got)
			}
			if cookie, err := r.Cookie(csrfCookieName); err != nil || cookie.Value != "csrf-abc" {
				t.Errorf("CSRF cookie missing: %v", err)
			}
			writeJSON(w, http.StatusCreated, map[string]any{"id": "task-1", "title": "x"})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())
	c.SetToken("my-token")

	if _, err := c.CreateTask(context.Background(), "x", ""); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	// 2回目はキャッシュされたトークンを使う
	if _, err := c.CreateTask(context.Background(), "y", ""); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if csrfFetched.Load() != 1 {
		t.Errorf("csrf token fetched %d times, want 1", csrfFetched.Load())
	}
}

func TestSignout_ClearsLocalToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())
	c.SetToken("my-token")

	if err := c.Signout(context.Background()); err != nil {
		t.Fatalf("Signout() error = %v", err)
	}
	if c.HasSession() {
		t.Error("local token should be cleared after signout")
	}
}

func TestListTasks_StatusQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "pending" {
			t.Errorf("status = %q, want pending", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": []any{}, "total": 0})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())
	c.SetToken("my-token")

	list, err := c.ListTasks(context.Background(), "pending")
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if list.Total != 0 {
		t.Errorf("total = %d", list.Total)
	}
}
