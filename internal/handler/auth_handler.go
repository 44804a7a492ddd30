// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/taskdeck/internal/auth"
	"github.com/hitoshi/taskdeck/internal/middleware"
	"github.com/hitoshi/taskdeck/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, email, password, confirm string, meta auth.ClientMeta) (*auth.AuthResult, error)
	Signin(ctx context.Context, email, password string, meta auth.ClientMeta) (*auth.AuthResult, error)
	Refresh(ctx context.Context, token string) (*auth.Identity, error)
	Signout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (*model.User, error)
	RetryAfterSeconds() int
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain    string
	CookieSecure    bool
	SessionLifetime time.Duration // セッションCookieのMaxAgeに使用
}

// AuthHandler は資格情報認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// --- リクエスト・レスポンス型 ---

// signupRequest はサインアップリクエストのボディ。
type signupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// signinRequest はサインインリクエストのボディ。
type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse はユーザー情報のレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSigninAt *time.Time `json:"last_signin_at"`
}

// authResponse はサインアップ・サインイン成功時のレスポンス。
type authResponse struct {
	User      userResponse `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// refreshResponse はセッション延長のレスポンス。
type refreshResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

func toUserResponse(user *model.User) userResponse {
	return userResponse{
		ID:           user.ID,
		Email:        user.Email,
		CreatedAt:    user.CreatedAt,
		LastSigninAt: user.LastSigninAt,
	}
}

// Signup は新規アカウントを登録し、セッションCookieを設定する。
// POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	result, err := h.service.Signup(r.Context(), req.Email, req.Password, req.ConfirmPassword, clientMeta(r))
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	h.setSessionCookie(w, result.Token)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(authResponse{
		User:      toUserResponse(result.User),
		ExpiresAt: result.ExpiresAt,
	})
}

// Signin は資格情報を検証し、セッションCookieを設定する。
// POST /api/auth/signin
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	result, err := h.service.Signin(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	h.setSessionCookie(w, result.Token)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(authResponse{
		User:      toUserResponse(result.User),
		ExpiresAt: result.ExpiresAt,
	})
}

// Signout はセッションを破棄し、Cookieをクリアする。冪等。
// POST /api/auth/signout
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.service.Signout(r.Context(), cookie.Value); err != nil {
			// 破棄に失敗してもCookieはクリアする
			slog.Error("failed to signout", slog.String("error", err.Error()))
		}
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Refresh はセッションの有効期限を明示的に延長する。
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewSessionInvalidError())
		return
	}

	identity, err := h.service.Refresh(r.Context(), cookie.Value)
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	// MaxAgeを延長後の期限に合わせて再設定する
	h.setSessionCookie(w, cookie.Value)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(refreshResponse{ExpiresAt: identity.ExpiresAt})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewSessionInvalidError())
		return
	}

	user, err := h.service.CurrentUser(r.Context(), cookie.Value)
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toUserResponse(user))
}

// handleAuthError は認証サービスのエラーをHTTPレスポンスに変換する。
// レート制限超過の場合はRetry-Afterヘッダーを設定する。
func (h *AuthHandler) handleAuthError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if isAPIError(err, &apiErr) && apiErr.Code == model.ErrCodeRateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(h.service.RetryAfterSeconds()))
	}
	handleServiceError(w, err)
}

// setSessionCookie はHTTP OnlyのセッションCookieを設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.config.SessionLifetime.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを削除する。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientMeta はリクエストからセッションに記録するクライアント情報を抽出する。
// X-Forwarded-Forがある場合は先頭のアドレスを送信元とみなす。
func clientMeta(r *http.Request) auth.ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			ip = strings.TrimSpace(first)
		}
	}

	return auth.ClientMeta{
		UserAgent: r.UserAgent(),
		IPAddress: ip,
	}
}
