package auth

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AttemptLimiterConfig はサインイン試行レート制限の設定を保持する。
type AttemptLimiterConfig struct {
	Window          time.Duration // 試行回数を数える時間窓
	MaxAttempts     int           // 窓あたりの最大試行回数
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultAttemptLimiterConfig はデフォルトのサインイン試行制限設定を返す。
// 要件: 1分間あたり5回まで
func DefaultAttemptLimiterConfig() AttemptLimiterConfig {
	return AttemptLimiterConfig{
		Window:          time.Minute,
		MaxAttempts:     5,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// AttemptLimiter はキー（メールアドレスやIPアドレス）ごとのサインイン試行を制限する。
// トークンバケット方式で、窓の経過とともに試行枠が回復する。
type AttemptLimiter struct {
	config AttemptLimiterConfig

	mu       sync.RWMutex
	limiters map[string]*keyLimiter

	stopCh chan struct{}
}

// NewAttemptLimiter は新しいAttemptLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewAttemptLimiter(config AttemptLimiterConfig) *AttemptLimiter {
	al := &AttemptLimiter{
		config:   config,
		limiters: make(map[string]*keyLimiter),
		stopCh:   make(chan struct{}),
	}

	go al.cleanupLoop()

	return al
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (al *AttemptLimiter) Stop() {
	close(al.stopCh)
}

// Allow は指定キーの試行を1回消費し、許可されるかどうかを返す。
func (al *AttemptLimiter) Allow(key string) bool {
	return al.getOrCreateLimiter(key).Allow()
}

// Clear は指定キーの試行履歴を破棄する。サインイン成功時に呼ぶ。
func (al *AttemptLimiter) Clear(key string) {
	al.mu.Lock()
	delete(al.limiters, key)
	al.mu.Unlock()
}

// RetryAfter は1回の試行枠が回復するまでの推定秒数を返す。
func (al *AttemptLimiter) RetryAfter() int {
	r := float64(al.config.MaxAttempts) / al.config.Window.Seconds()
	retryAfterSec := int(math.Ceil(1.0 / r))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}
	return retryAfterSec
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (al *AttemptLimiter) LimiterCount() int {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return len(al.limiters)
}

// getOrCreateLimiter はキーのリミッターを取得または作成する。
func (al *AttemptLimiter) getOrCreateLimiter(key string) *rate.Limiter {
	al.mu.RLock()
	kl, exists := al.limiters[key]
	al.mu.RUnlock()

	if exists {
		al.mu.Lock()
		kl.lastAccess = time.Now()
		al.mu.Unlock()
		return kl.limiter
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	// ダブルチェック
	if kl, exists := al.limiters[key]; exists {
		kl.lastAccess = time.Now()
		return kl.limiter
	}

	r := rate.Limit(float64(al.config.MaxAttempts) / al.config.Window.Seconds())
	limiter := rate.NewLimiter(r, al.config.MaxAttempts)
	al.limiters[key] = &keyLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (al *AttemptLimiter) cleanupLoop() {
	ticker := time.NewTicker(al.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			al.cleanup()
		case <-al.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (al *AttemptLimiter) cleanup() {
	ttl := al.config.CleanupInterval * 2

	now := time.Now()

	al.mu.Lock()
	for key, kl := range al.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(al.limiters, key)
		}
	}
	al.mu.Unlock()
}
