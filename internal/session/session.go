// Package session drives the per-user upstream login state machine.
//
// States move absent -> pending_otp -> authenticated; any upstream
// authentication rejection moves authenticated -> expired, and expired
// recovers only through a fresh login.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/SinzaXh/Shein-suto-verse/internal/model"
	"github.com/SinzaXh/Shein-suto-verse/internal/shein"
	"github.com/SinzaXh/Shein-suto-verse/internal/storage"
)

// Sentinel errors for illegal transitions and missing credentials.
var (
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrInvalidCode      = errors.New("invalid OTP code")
	ErrNoPendingLogin   = errors.New("no login in progress")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionExpired   = errors.New("session expired, re-login required")
	ErrUpstreamRejected = errors.New("upstream rejected the request")
)

var phoneRe = regexp.MustCompile(`^[6-9]\d{9}$`)

// LoginClient performs the two upstream identity calls.
type LoginClient interface {
	RequestOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone, code string) (cookies string, err error)
}

// Manager owns session state transitions. State is persisted per user so a
// restart does not force a re-login.
type Manager struct {
	store  storage.Storage
	client LoginClient
	log    *slog.Logger
}

// NewManager creates a session Manager.
func NewManager(store storage.Storage, client LoginClient, log *slog.Logger) *Manager {
	return &Manager{store: store, client: client, log: log}
}

// StartLogin requests an OTP for the phone number and moves the user to
// pending_otp. A repeated call restarts the flow, replacing any earlier
// pending request.
func (m *Manager) StartLogin(ctx context.Context, userID int64, phone string) error {
	if !phoneRe.MatchString(phone) {
		return ErrInvalidPhone
	}

	if err := m.client.RequestOTP(ctx, phone); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamRejected, err)
	}

	if err := m.store.UpdateUserAuth(ctx, userID, model.AuthPendingOTP, phone, ""); err != nil {
		return fmt.Errorf("persist pending login: %w", err)
	}
	m.log.Info("otp requested", "user_id", userID)
	return nil
}

// CompleteLogin verifies the OTP and, on success, stores the credential
// payload and moves the user to authenticated.
func (m *Manager) CompleteLogin(ctx context.Context, userID int64, code string) error {
	u, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.AuthState != model.AuthPendingOTP {
		return ErrNoPendingLogin
	}

	cookies, err := m.client.VerifyOTP(ctx, u.Phone, code)
	if err != nil {
		// Only an explicit upstream "no" means the code was wrong. A
		// transport fault is surfaced as such; the login stays pending
		// either way so the user can retry.
		if errors.Is(err, shein.ErrLoginRejected) {
			return fmt.Errorf("%w: %v", ErrInvalidCode, err)
		}
		return fmt.Errorf("verify otp: %w", err)
	}

	if err := m.store.UpdateUserAuth(ctx, userID, model.AuthAuthenticated, u.Phone, cookies); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	m.log.Info("login completed", "user_id", userID)
	return nil
}

// SetCredentials installs externally obtained credentials, moving the user
// straight to authenticated.
func (m *Manager) SetCredentials(ctx context.Context, userID int64, cookies string) error {
	if cookies == "" {
		return fmt.Errorf("%w: empty credential payload", ErrNotAuthenticated)
	}
	u, err := m.store.EnsureUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if err := m.store.UpdateUserAuth(ctx, userID, model.AuthAuthenticated, u.Phone, cookies); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	m.log.Info("credentials set manually", "user_id", userID)
	return nil
}

// Credentials returns the user's credential payload. It distinguishes an
// expired session (needs explicit re-login) from one that never existed.
func (m *Manager) Credentials(ctx context.Context, userID int64) (string, error) {
	u, err := m.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNotAuthenticated
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	switch u.AuthState {
	case model.AuthAuthenticated:
		return u.Cookies, nil
	case model.AuthExpired:
		return "", ErrSessionExpired
	default:
		return "", ErrNotAuthenticated
	}
}

// MarkExpired transitions an authenticated session to expired. Called when
// any upstream call reports an authentication rejection. Transitions at
// most once; other states are left alone.
func (m *Manager) MarkExpired(ctx context.Context, userID int64) error {
	u, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.AuthState != model.AuthAuthenticated {
		return nil
	}
	if err := m.store.UpdateUserAuth(ctx, userID, model.AuthExpired, u.Phone, ""); err != nil {
		return fmt.Errorf("persist expiry: %w", err)
	}
	m.log.Warn("session expired", "user_id", userID)
	return nil
}

// State returns the user's current auth state.
func (m *Manager) State(ctx context.Context, userID int64) (model.AuthState, error) {
	u, err := m.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.AuthAbsent, nil
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	return u.AuthState, nil
}
