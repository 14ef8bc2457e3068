// Package session owns the per-device terminal sessions. At most one session
// token is kept per device; devices never block each other.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"terminal-log-sync/internal/storage"
	"terminal-log-sync/internal/terminal"
)

// AuthError means a session could not be established or validated for a
// device after the configured attempts.
type AuthError struct {
	DeviceID int64
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for device %d: %v", e.DeviceID, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

type deviceSession struct {
	mu    sync.Mutex
	token string
}

// Keeper maintains one authenticated session per device and re-authenticates
// transparently when the terminal stops accepting the token.
type Keeper struct {
	client   *terminal.Client
	attempts int
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*deviceSession
}

func NewKeeper(client *terminal.Client, loginAttempts int) *Keeper {
	if loginAttempts < 1 {
		loginAttempts = 1
	}
	return &Keeper{
		client:   client,
		attempts: loginAttempts,
		logger:   slog.With("component", "session"),
		sessions: make(map[int64]*deviceSession),
	}
}

func (k *Keeper) entry(deviceID int64) *deviceSession {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.sessions[deviceID]
	if !ok {
		s = &deviceSession{}
		k.sessions[deviceID] = s
	}
	return s
}

// EnsureSession returns a session token that passed a validity probe,
// re-authenticating if needed.
func (k *Keeper) EnsureSession(ctx context.Context, device storage.Device) (string, error) {
	s := k.entry(device.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && k.client.SessionValid(ctx, device.Address, s.token) {
		return s.token, nil
	}

	return k.reauthenticateLocked(ctx, device, s)
}

// Reauthenticate drops the cached token and establishes a fresh session.
func (k *Keeper) Reauthenticate(ctx context.Context, device storage.Device) (string, error) {
	s := k.entry(device.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return k.reauthenticateLocked(ctx, device, s)
}

// The terminal allows a single session per credential: a stale server-side
// session rejects a fresh login. Logout first, always, errors swallowed.
func (k *Keeper) reauthenticateLocked(ctx context.Context, device storage.Device, s *deviceSession) (string, error) {
	if s.token != "" {
		if err := k.client.Logout(ctx, device.Address, s.token); err != nil {
			k.logger.Debug("Best-effort logout failed", "device_id", device.ID, "error", err)
		}
		s.token = ""
	}

	var lastErr error
	for attempt := 1; attempt <= k.attempts; attempt++ {
		token, err := k.client.Login(ctx, device.Address, device.Username, device.Password)
		if err == nil {
			s.token = token
			k.logger.Info("Session established", "device_id", device.ID, "address", device.Address)
			return token, nil
		}
		lastErr = err

		if errors.Is(err, terminal.ErrSessionActive) {
			// Stale server-side session without a token to revoke it with.
			// A plain logout asks the terminal to drop it.
			if lerr := k.client.Logout(ctx, device.Address, ""); lerr != nil {
				k.logger.Debug("Stale session logout failed", "device_id", device.ID, "error", lerr)
			}
		}

		k.logger.Warn("Login attempt failed", "device_id", device.ID, "attempt", attempt, "error", err)
		if attempt < k.attempts {
			select {
			case <-ctx.Done():
				return "", &AuthError{DeviceID: device.ID, Err: ctx.Err()}
			case <-time.After(time.Second):
			}
		}
	}

	return "", &AuthError{DeviceID: device.ID, Err: lastErr}
}

// IsValid probes the cached session without re-authenticating.
func (k *Keeper) IsValid(ctx context.Context, device storage.Device) bool {
	s := k.entry(device.ID)
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return false
	}
	return k.client.SessionValid(ctx, device.Address, token)
}

// HasSession reports whether a token is cached for the device. It does not
// probe the terminal.
func (k *Keeper) HasSession(deviceID int64) bool {
	s := k.entry(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

// Token returns the cached session token, if any.
func (k *Keeper) Token(deviceID int64) (string, bool) {
	s := k.entry(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// Invalidate drops the cached token so the next EnsureSession logs in again.
func (k *Keeper) Invalidate(deviceID int64) {
	s := k.entry(deviceID)
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// Logout closes the device session and forgets the token.
func (k *Keeper) Logout(ctx context.Context, device storage.Device) error {
	s := k.entry(device.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		return nil
	}

	err := k.client.Logout(ctx, device.Address, s.token)
	s.token = ""
	return err
}
