package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"terminal-log-sync/internal/storage"
	"terminal-log-sync/internal/terminal"
)

// fakeTerminal emulates the session endpoints of a terminal with a single
// session slot per credential.
type fakeTerminal struct {
	mu           chan struct{}
	active       string
	loginCount   atomic.Int64
	logoutCount  atomic.Int64
	nextSession  atomic.Int64
	rejectLogins atomic.Bool
}

func newFakeTerminal() *fakeTerminal {
	f := &fakeTerminal{mu: make(chan struct{}, 1)}
	f.mu <- struct{}{}
	return f
}

func (f *fakeTerminal) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-f.mu
		defer func() { f.mu <- struct{}{} }()

		session := r.URL.Query().Get("session")

		switch r.URL.Path {
		case "/login.fcgi":
			f.loginCount.Add(1)
			if f.rejectLogins.Load() {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if f.active != "" {
				w.WriteHeader(http.StatusConflict)
				return
			}
			f.active = fmt.Sprintf("sess-%d", f.nextSession.Add(1))
			json.NewEncoder(w).Encode(map[string]string{"session": f.active})

		case "/logout.fcgi":
			f.logoutCount.Add(1)
			f.active = ""
			w.WriteHeader(http.StatusOK)

		case "/load_objects.fcgi":
			if session == "" || session != f.active {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"users": []}`))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func testSetup(t *testing.T) (*fakeTerminal, *Keeper, storage.Device) {
	t.Helper()
	fake := newFakeTerminal()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	keeper := NewKeeper(terminal.NewClient(2*time.Second), 2)
	device := storage.Device{
		ID:       1,
		Name:     "front door",
		Address:  strings.TrimPrefix(server.URL, "http://"),
		Username: "admin",
		Password: "admin",
	}
	return fake, keeper, device
}

func TestEnsureSession_LogsInOnce(t *testing.T) {
	fake, keeper, device := testSetup(t)
	ctx := context.Background()

	token, err := keeper.EnsureSession(ctx, device)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	// Second call reuses the validated session.
	again, err := keeper.EnsureSession(ctx, device)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again != token {
		t.Fatalf("expected cached token %q, got %q", token, again)
	}
	if got := fake.loginCount.Load(); got != 1 {
		t.Fatalf("expected exactly 1 login, got %d", got)
	}
}

func TestEnsureSession_RecoversStaleServerSession(t *testing.T) {
	fake, keeper, device := testSetup(t)
	ctx := context.Background()

	// Simulate a stale session held by the terminal from a previous process:
	// the keeper has no token, the terminal rejects login with a conflict.
	fake.active = "stale-session"

	token, err := keeper.EnsureSession(ctx, device)
	if err != nil {
		t.Fatalf("ensure should recover from active session: %v", err)
	}
	if token == "" || token == "stale-session" {
		t.Fatalf("expected a fresh session, got %q", token)
	}
	if fake.logoutCount.Load() == 0 {
		t.Fatal("keeper never asked the terminal to drop the stale session")
	}
}

func TestEnsureSession_ReplacesInvalidatedToken(t *testing.T) {
	fake, keeper, device := testSetup(t)
	ctx := context.Background()

	first, err := keeper.EnsureSession(ctx, device)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	// Terminal forgets the session, probe fails, keeper logs in again.
	fake.active = ""

	second, err := keeper.EnsureSession(ctx, device)
	if err != nil {
		t.Fatalf("ensure after expiry: %v", err)
	}
	if second == first {
		t.Fatalf("expected a new session, got the old token back")
	}
}

func TestEnsureSession_SurfacesAuthError(t *testing.T) {
	fake, keeper, device := testSetup(t)
	fake.rejectLogins.Store(true)

	_, err := keeper.EnsureSession(context.Background(), device)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.DeviceID != device.ID {
		t.Fatalf("wrong device in error: %+v", authErr)
	}
	// Attempt count honored.
	if got := fake.loginCount.Load(); got != 2 {
		t.Fatalf("expected 2 login attempts, got %d", got)
	}
}

func TestInvalidate(t *testing.T) {
	_, keeper, device := testSetup(t)
	ctx := context.Background()

	if _, err := keeper.EnsureSession(ctx, device); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !keeper.HasSession(device.ID) {
		t.Fatal("expected cached session")
	}

	keeper.Invalidate(device.ID)
	if keeper.HasSession(device.ID) {
		t.Fatal("invalidate should drop the token")
	}
}

func TestLogout(t *testing.T) {
	fake, keeper, device := testSetup(t)
	ctx := context.Background()

	// Logout without a session is a no-op.
	if err := keeper.Logout(ctx, device); err != nil {
		t.Fatalf("logout without session: %v", err)
	}
	if fake.logoutCount.Load() != 0 {
		t.Fatal("no-op logout should not hit the terminal")
	}

	if _, err := keeper.EnsureSession(ctx, device); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := keeper.Logout(ctx, device); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if keeper.HasSession(device.ID) {
		t.Fatal("token should be forgotten after logout")
	}
	if fake.active != "" {
		t.Fatal("terminal side session should be closed")
	}
}
