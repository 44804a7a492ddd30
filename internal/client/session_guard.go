package client

import (
	"context"
	"log/slog"
	"sync"
)

// State は認証状態の3値を表す。
type State int

const (
	// StatePending は認証状態が未確定であることを表す。
	// この状態の間、保護された呼び出しは発行されない。
	StatePending State = iota
	// StateAuthenticated は有効なセッションが確認済みであることを表す。
	StateAuthenticated
	// StateUnauthenticated はセッションが存在しないか無効であることを表す。
	StateUnauthenticated
)

// String はStateの文字列表現を返す。
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// SessionGuard はクライアント側の認証状態を管理する。
// 起動時はpendingから始まり、/api/auth/meへの1回の問い合わせで確定する。
// 状態変化は購読チャネルへ通知される。ポーリングは行わない。
type SessionGuard struct {
	client *Client
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	subscribers []chan State
}

// NewSessionGuard はSessionGuardを生成し、クライアントの
// セッション期限切れフックに自身を接続する。
func NewSessionGuard(client *Client, logger *slog.Logger) *SessionGuard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &SessionGuard{
		client: client,
		logger: logger,
		state:  StatePending,
	}
	client.SetOnSessionExpired(g.Invalidate)
	return g
}

// State は現在の認証状態を返す。
func (g *SessionGuard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Subscribe は状態変化の通知チャネルを返す。
// チャネルはバッファ付きであり、受信が追いつかない通知は破棄される。
func (g *SessionGuard) Subscribe() <-chan State {
	ch := make(chan State, 4)
	g.mu.Lock()
	g.subscribers = append(g.subscribers, ch)
	g.mu.Unlock()
	return ch
}

// Resolve はサーバーに問い合わせて認証状態を確定する。
// pending以外の状態からも呼び出せる（再確認）。
func (g *SessionGuard) Resolve(ctx context.Context) State {
	if !g.client.HasSession() {
		g.setState(StateUnauthenticated)
		return StateUnauthenticated
	}

	if _, err := g.client.Me(ctx); err != nil {
		g.logger.Info("session resolution failed", slog.String("error", err.Error()))
		g.setState(StateUnauthenticated)
		return StateUnauthenticated
	}

	g.setState(StateAuthenticated)
	return StateAuthenticated
}

// Invalidate は状態を強制的にunauthenticatedへ遷移させる。
// クライアントがセッション期限切れを検知した際に呼ばれる。
func (g *SessionGuard) Invalidate() {
	g.setState(StateUnauthenticated)
}

// Authenticated はサインイン・サインアップ成功後に状態を確定させる。
func (g *SessionGuard) Authenticated() {
	g.setState(StateAuthenticated)
}

// setState は状態を更新し、変化があれば購読者へ通知する。
func (g *SessionGuard) setState(next State) {
	g.mu.Lock()
	if g.state == next {
		g.mu.Unlock()
		return
	}
	g.state = next
	subscribers := make([]chan State, len(g.subscribers))
	copy(subscribers, g.subscribers)
	g.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- next:
		default:
			// 受信が追いつかない購読者には最新状態の取得をState()に委ねる
		}
	}
}
