// Package auth は資格情報認証とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/taskdeck/internal/model"
	"github.com/hitoshi/taskdeck/internal/repository"
	"github.com/hitoshi/taskdeck/internal/validation"
)

// セッションレコードに保存するクライアントメタデータの上限。
const (
	maxUserAgentLength = 500
	maxIPAddressLength = 45
)

// Identity は検証済みセッションの認証結果を表す。
type Identity struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// AuthResult はサインアップ・サインイン成功時の結果を表す。
// Tokenはこの時点でのみ平文で得られる。保存されるのはダイジェストのみ。
type AuthResult struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// ClientMeta はセッションに紐付けるクライアント情報を表す。
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionSecret   string        // トークンダイジェストのHMAC鍵
	SessionLifetime time.Duration // セッション有効期間
	RenewalInterval time.Duration // スライディング延長の最小間隔
	BcryptCost      int           // bcryptのコストパラメータ
	StoreTimeout    time.Duration // ストア操作のタイムアウト
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	validator   *validation.Validator
	limiter     *AttemptLimiter
	recorder    Recorder
	config      ServiceConfig

	// テストから時刻を注入するためのフック
	now func() time.Time
}

// NewService はServiceを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	validator *validation.Validator,
	limiter *AttemptLimiter,
	recorder Recorder,
	config ServiceConfig,
) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if config.SessionLifetime <= 0 {
		config.SessionLifetime = 7 * 24 * time.Hour
	}
	if config.RenewalInterval <= 0 {
		config.RenewalInterval = 24 * time.Hour
	}
	if config.BcryptCost < bcrypt.MinCost || config.BcryptCost > bcrypt.MaxCost {
		config.BcryptCost = 12
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 5 * time.Second
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		validator:   validator,
		limiter:     limiter,
		recorder:    recorder,
		config:      config,
		now:         time.Now,
	}
}

// Signup は新規アカウントを登録し、セッションを発行する。
func (s *Service) Signup(ctx context.Context, email, password, confirm string, meta ClientMeta) (*AuthResult, error) {
	cred, err := s.validator.ValidateSignup(email, password, confirm)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword(prehashPassword(cred.Password), s.config.BcryptCost)
	if err != nil {
		slog.Error("failed to hash password", slog.String("error", err.Error()))
		return nil, model.NewUnavailableError()
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        cred.Email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.userRepo.Create(sctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateAccountError()
		}
		slog.Error("failed to create user", slog.String("error", err.Error()))
		return nil, model.NewUnavailableError()
	}

	s.recorder.RecordSignup()
	slog.Info("user signed up", slog.String("user_id", user.ID))

	token, session, err := s.issueSession(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}

	return &AuthResult{User: user, Token: token, ExpiresAt: session.ExpiresAt}, nil
}

// Signin は資格情報を検証し、セッションを発行する。
// ユーザー不在とパスワード不一致は同一のエラーとして報告する。
func (s *Service) Signin(ctx context.Context, email, password string, meta ClientMeta) (*AuthResult, error) {
	cred, err := s.validator.ValidateSignin(email, password)
	if err != nil {
		return nil, err
	}

	keys := signinKeys(cred.Email, meta.IPAddress)
	if s.limiter != nil {
		allowed := true
		for _, key := range keys {
			if !s.limiter.Allow(key) {
				allowed = false
			}
		}
		if !allowed {
			s.recorder.RecordRateLimited()
			slog.Warn("signin rate limit exceeded", slog.String("ip", meta.IPAddress))
			return nil, model.NewRateLimitedError()
		}
	}

	sctx, cancel := s.storeCtx(ctx)
	user, err := s.userRepo.FindByEmail(sctx, cred.Email)
	cancel()
	if err != nil {
		slog.Error("failed to find user by email", slog.String("error", err.Error()))
		return nil, model.NewUnavailableError()
	}
	if user == nil {
		// ユーザー不在でも照合時間を揃えるためダミーハッシュと比較する
		bcrypt.CompareHashAndPassword(dummyPasswordHash(), prehashPassword(cred.Password))
		s.recorder.RecordSigninFailure()
		return nil, model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), prehashPassword(cred.Password)); err != nil {
		s.recorder.RecordSigninFailure()
		slog.Info("signin failed", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	if s.limiter != nil {
		for _, key := range keys {
			s.limiter.Clear(key)
		}
	}

	now := s.now()
	sctx, cancel = s.storeCtx(ctx)
	if err := s.userRepo.UpdateLastSigninAt(sctx, user.ID, now); err != nil {
		// 記録の失敗はサインイン自体を失敗させない
		slog.Warn("failed to update last signin", slog.String("user_id", user.ID), slog.String("error", err.Error()))
	} else {
		user.LastSigninAt = &now
	}
	cancel()

	token, session, err := s.issueSession(ctx, user.ID, meta)
	if err != nil {
		return nil, err
	}

	s.recorder.RecordSigninSuccess()
	slog.Info("user signed in", slog.String("user_id", user.ID))

	return &AuthResult{User: user, Token: token, ExpiresAt: session.ExpiresAt}, nil
}

// VerifySession はトークンを検証し、認証結果を返す。
// 前回のアクティビティからRenewalInterval以上経過していた場合は有効期限を延長する。
// ストア障害時はフェイルクローズし、セッション無効として扱う。
func (s *Service) VerifySession(ctx context.Context, token string) (*Identity, error) {
	session, err := s.lookupSession(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if now.Sub(session.LastActivityAt) >= s.config.RenewalInterval {
		if err := s.renew(ctx, session, now); err != nil {
			// 延長の失敗でリクエスト自体は落とさない
			slog.Warn("failed to renew session", slog.String("session_id", session.ID), slog.String("error", err.Error()))
		}
	}

	return &Identity{UserID: session.UserID, SessionID: session.ID, ExpiresAt: session.ExpiresAt}, nil
}

// Refresh はトークンを検証し、経過時間に関わらず有効期限を延長する。
func (s *Service) Refresh(ctx context.Context, token string) (*Identity, error) {
	session, err := s.lookupSession(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := s.renew(ctx, session, s.now()); err != nil {
		slog.Error("failed to refresh session", slog.String("session_id", session.ID), slog.String("error", err.Error()))
		return nil, model.NewUnavailableError()
	}

	return &Identity{UserID: session.UserID, SessionID: session.ID, ExpiresAt: session.ExpiresAt}, nil
}

// Signout はセッションを破棄する。冪等であり、トークンが無効でもエラーにしない。
func (s *Service) Signout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.sessionRepo.DeleteByTokenHash(sctx, s.tokenDigest(token)); err != nil {
		slog.Error("failed to delete session", slog.String("error", err.Error()))
		return model.NewUnavailableError()
	}

	s.recorder.RecordSessionRevoked()
	slog.Info("user signed out")
	return nil
}

// RetryAfterSeconds はレート制限超過時にクライアントへ提示する待ち秒数を返す。
func (s *Service) RetryAfterSeconds() int {
	if s.limiter == nil {
		return 60
	}
	return s.limiter.RetryAfter()
}

// CurrentUser はトークンから現在のユーザーを取得する。
func (s *Service) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	identity, err := s.VerifySession(ctx, token)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	user, err := s.userRepo.FindByID(sctx, identity.UserID)
	if err != nil {
		slog.Error("failed to find user", slog.String("error", err.Error()))
		return nil, model.NewUnavailableError()
	}
	if user == nil {
		// セッションだけが残っている場合は無効として扱う
		return nil, model.NewSessionInvalidError()
	}

	return user, nil
}

// lookupSession はトークンからセッションを取得し、期限を判定する。
// 期限切れの行は遅延削除する。
func (s *Service) lookupSession(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, model.NewSessionInvalidError()
	}

	digest := s.tokenDigest(token)

	sctx, cancel := s.storeCtx(ctx)
	session, err := s.sessionRepo.FindByTokenHash(sctx, digest)
	cancel()
	if err != nil {
		// フェイルクローズ: ストア障害は認証失敗として扱う
		slog.Warn("session lookup failed, failing closed", slog.String("error", err.Error()))
		return nil, model.NewSessionInvalidError()
	}
	if session == nil {
		return nil, model.NewSessionInvalidError()
	}

	if subtle.ConstantTimeCompare([]byte(session.TokenHash), []byte(digest)) != 1 {
		return nil, model.NewSessionInvalidError()
	}

	if session.Expired(s.now()) {
		sctx, cancel := s.storeCtx(ctx)
		if err := s.sessionRepo.DeleteByTokenHash(sctx, digest); err != nil {
			slog.Warn("failed to delete expired session", slog.String("error", err.Error()))
		}
		cancel()
		s.recorder.RecordSessionRevoked()
		return nil, model.NewSessionExpiredError()
	}

	return session, nil
}

// renew はセッションの有効期限と最終アクティビティ日時を更新する。
func (s *Service) renew(ctx context.Context, session *model.Session, now time.Time) error {
	expiresAt := now.Add(s.config.SessionLifetime)

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.sessionRepo.Touch(sctx, session.ID, expiresAt, now); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	session.ExpiresAt = expiresAt
	session.LastActivityAt = now
	s.recorder.RecordSessionRenewed()
	return nil
}

// issueSession はセッションを作成し永続化する。戻り値のtokenは平文トークン。
func (s *Service) issueSession(ctx context.Context, userID string, meta ClientMeta) (string, *model.Session, error) {
	token, err := generateToken()
	if err != nil {
		slog.Error("failed to generate session token", slog.String("error", err.Error()))
		return "", nil, model.NewUnavailableError()
	}

	now := s.now()
	session := &model.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		TokenHash:      s.tokenDigest(token),
		ExpiresAt:      now.Add(s.config.SessionLifetime),
		CreatedAt:      now,
		LastActivityAt: now,
		UserAgent:      truncate(meta.UserAgent, maxUserAgentLength),
		IPAddress:      truncate(meta.IPAddress, maxIPAddressLength),
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.sessionRepo.Create(sctx, session); err != nil {
		slog.Error("failed to save session", slog.String("error", err.Error()))
		return "", nil, model.NewUnavailableError()
	}

	s.recorder.RecordSessionIssued()
	return token, session, nil
}

// tokenDigest はトークンのHMAC-SHA256ダイジェストを返す。
// DBにはこのダイジェストのみを保存し、平文トークンは保存しない。
func (s *Service) tokenDigest(token string) string {
	mac := hmac.New(sha256.New, []byte(s.config.SessionSecret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// storeCtx はストア操作用のタイムアウト付きコンテキストを返す。
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.StoreTimeout)
}

// signinKeys はサインイン試行制限のキーを返す。
// メールアドレス単位とIPアドレス単位の両方で数える。
func signinKeys(email, ip string) []string {
	keys := []string{"email:" + email}
	if ip != "" {
		keys = append(keys, "ip:"+ip)
	}
	return keys
}

// generateToken は暗号的に安全なセッショントークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// prehashPassword はパスワードをSHA-256ダイジェスト（hex）に変換する。
// bcryptは72バイトを超える入力を受け付けないため、長いパスワードも
// 固定長に落としてから照合する。
func prehashPassword(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	dst := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(dst, sum[:])
	return dst
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// dummyPasswordHash はユーザー不在時の照合時間を揃えるためのダミーハッシュを返す。
func dummyPasswordHash() []byte {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword(prehashPassword("taskdeck.dummy"), bcrypt.DefaultCost)
	})
	return dummyHash
}

// truncate は文字列をmaxバイトに切り詰める。
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
