package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSessionGuard_InitialStateIsPending(t *testing.T) {
	c := NewClient("http://localhost:0", nil, discardLogger())
	g := NewSessionGuard(c, discardLogger())

	if g.State() != StatePending {
		t.Errorf("state = %v, want pending", g.State())
	}
}

func TestSessionGuard_ResolveWithoutTokenIsUnauthenticated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be issued while no token is held")
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())
	g := NewSessionGuard(c, discardLogger())

	if got := g.Resolve(context.Background()); got != StateUnauthenticated {
		t.Errorf("Resolve() = %v, want unauthenticated", got)
	}
}

func TestSessionGuard_ResolveWithValidSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "user-1", "email": "taro@example.com"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())
	c.SetToken("valid-token")
	g := NewSessionGuard(c, discardLogger())

	if got := g.Resolve(context.Background()); got != StateAuthenticated {
		t.Errorf("Resolve() = %v, want authenticated", got)
	}
}

func TestSessionGuard_ResolveWithRejectedSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())
	c.SetToken("stale-token")
	g := NewSessionGuard(c, discardLogger())

	if got := g.Resolve(context.Background()); got != StateUnauthenticated {
		t.Errorf("Resolve() = %v, want unauthenticated", got)
	}
}

func TestSessionGuard_SubscriberNotifiedOnChange(t *testing.T) {
	c := NewClient("http://localhost:0", nil, discardLogger())
	g := NewSessionGuard(c, discardLogger())

	ch := g.Subscribe()

	g.Authenticated()

	select {
	case got := <-ch:
		if got != StateAuthenticated {
			t.Errorf("notified state = %v, want authenticated", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}
}

func TestSessionGuard_NoNotificationWithoutChange(t *testing.T) {
	c := NewClient("http://localhost:0", nil, discardLogger())
	g := NewSessionGuard(c, discardLogger())

	g.Invalidate()
	ch := g.Subscribe()
	g.Invalidate() // 既にunauthenticated

	select {
	case got := <-ch:
		t.Errorf("unexpected notification: %v", got)
	default:
	}
}

// クライアントが401を検知するとガードは強制的にunauthenticatedになる。
func TestSessionGuard_ClientExpiryForcesUnauthenticated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, discardLogger())
	c.SetToken("valid-token")
	g := NewSessionGuard(c, discardLogger())
	g.Authenticated()

	ch := g.Subscribe()

	// 保護された呼び出しが401を受ける
	c.Me(context.Background())

	if g.State() != StateUnauthenticated {
		t.Errorf("state = %v, want unauthenticated", g.State())
	}

	select {
	case got := <-ch:
		if got != StateUnauthenticated {
			t.Errorf("notified state = %v, want unauthenticated", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified of forced expiry")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "pending"},
		{StateAuthenticated, "authenticated"},
		{StateUnauthenticated, "unauthenticated"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
