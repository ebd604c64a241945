package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/SinzaXh/Shein-suto-verse/internal/model"
	"github.com/SinzaXh/Shein-suto-verse/internal/shein"
	"github.com/SinzaXh/Shein-suto-verse/internal/storage"
)

type mockLoginClient struct {
	otpErr      error
	verifyErr   error
	cookies     string
	otpCalls    int
	verifyPhone string
	verifyCode  string
}

func (m *mockLoginClient) RequestOTP(_ context.Context, _ string) error {
	m.otpCalls++
	return m.otpErr
}

func (m *mockLoginClient) VerifyOTP(_ context.Context, phone, code string) (string, error) {
	m.verifyPhone = phone
	m.verifyCode = code
	if m.verifyErr != nil {
		return "", m.verifyErr
	}
	return m.cookies, nil
}

func newTestManager(t *testing.T, client *mockLoginClient) (*Manager, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(store, client, log), store
}

func TestStartLoginInvalidPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
	}{
		{name: "too short", phone: "98765"},
		{name: "letters", phone: "98765abcde"},
		{name: "bad prefix", phone: "1234567890"},
		{name: "empty", phone: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockLoginClient{}
			m, _ := newTestManager(t, client)

			err := m.StartLogin(context.Background(), 1, tt.phone)
			if !errors.Is(err, ErrInvalidPhone) {
				t.Fatalf("expected ErrInvalidPhone, got %v", err)
			}
			if client.otpCalls != 0 {
				t.Error("upstream called for invalid phone")
			}
		})
	}
}

func TestLoginFlow(t *testing.T) {
	ctx := context.Background()
	client := &mockLoginClient{cookies: "A=access; R=refresh; LS=LOGGED_IN"}
	m, store := newTestManager(t, client)
	if _, err := store.EnsureUser(ctx, 1); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	if err := m.StartLogin(ctx, 1, "9876543210"); err != nil {
		t.Fatalf("start login: %v", err)
	}
	state, err := m.State(ctx, 1)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if diff := cmp.Diff(model.AuthPendingOTP, state); diff != "" {
		t.Errorf("state after start (-want +got):\n%s", diff)
	}

	// Credentials are unavailable mid-login.
	if _, err := m.Credentials(ctx, 1); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	if err := m.CompleteLogin(ctx, 1, "123456"); err != nil {
		t.Fatalf("complete login: %v", err)
	}
	cookies, err := m.Credentials(ctx, 1)
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if diff := cmp.Diff(client.cookies, cookies); diff != "" {
		t.Errorf("credentials mismatch (-want +got):\n%s", diff)
	}
}

func TestCompleteLoginWithoutPending(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, &mockLoginClient{})
	if _, err := store.EnsureUser(ctx, 1); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	if err := m.CompleteLogin(ctx, 1, "123456"); !errors.Is(err, ErrNoPendingLogin) {
		t.Fatalf("expected ErrNoPendingLogin, got %v", err)
	}
}

func TestCompleteLoginRejectedCode(t *testing.T) {
	ctx := context.Background()
	client := &mockLoginClient{verifyErr: fmt.Errorf("%w: upstream said %q", shein.ErrLoginRejected, "Invalid OTP")}
	m, store := newTestManager(t, client)
	if _, err := store.EnsureUser(ctx, 1); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	if err := m.StartLogin(ctx, 1, "9876543210"); err != nil {
		t.Fatalf("start login: %v", err)
	}
	if err := m.CompleteLogin(ctx, 1, "000000"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	// A rejected code keeps the login pending so the user can retry.
	state, _ := m.State(ctx, 1)
	if diff := cmp.Diff(model.AuthPendingOTP, state); diff != "" {
		t.Errorf("state after rejection (-want +got):\n%s", diff)
	}
}

func TestCompleteLoginTransportFault(t *testing.T) {
	ctx := context.Background()
	client := &mockLoginClient{verifyErr: errors.New("connection reset by peer")}
	m, store := newTestManager(t, client)
	if _, err := store.EnsureUser(ctx, 1); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	if err := m.StartLogin(ctx, 1, "9876543210"); err != nil {
		t.Fatalf("start login: %v", err)
	}

	// A flaky network path must not be reported as a wrong code.
	err := m.CompleteLogin(ctx, 1, "123456")
	if err == nil {
		t.Fatal("expected error for transport fault")
	}
	if errors.Is(err, ErrInvalidCode) {
		t.Fatalf("transport fault misreported as invalid code: %v", err)
	}

	state, _ := m.State(ctx, 1)
	if diff := cmp.Diff(model.AuthPendingOTP, state); diff != "" {
		t.Errorf("state after transport fault (-want +got):\n%s", diff)
	}
}

func TestStartLoginReplacesPending(t *testing.T) {
	ctx := context.Background()
	client := &mockLoginClient{cookies: "A=acc"}
	m, store := newTestManager(t, client)
	if _, err := store.EnsureUser(ctx, 1); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	if err := m.StartLogin(ctx, 1, "9876543210"); err != nil {
		t.Fatalf("start login: %v", err)
	}
	if err := m.StartLogin(ctx, 1, "9123456789"); err != nil {
		t.Fatalf("restart login: %v", err)
	}

	// The later number wins; completing verifies against it.
	if err := m.CompleteLogin(ctx, 1, "123456"); err != nil {
		t.Fatalf("complete login: %v", err)
	}
	if diff := cmp.Diff("9123456789", client.verifyPhone); diff != "" {
		t.Errorf("verified phone mismatch (-want +got):\n%s", diff)
	}
}

func TestStartLoginUpstreamRejected(t *testing.T) {
	ctx := context.Background()
	client := &mockLoginClient{otpErr: errors.New("access denied")}
	m, store := newTestManager(t, client)
	if _, err := store.EnsureUser(ctx, 1); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	err := m.StartLogin(ctx, 1, "9876543210")
	if !errors.Is(err, ErrUpstreamRejected) {
		t.Fatalf("expected ErrUpstreamRejected, got %v", err)
	}

	// A failed OTP request must not move the state machine.
	state, _ := m.State(ctx, 1)
	if diff := cmp.Diff(model.AuthAbsent, state); diff != "" {
		t.Errorf("state after upstream rejection (-want +got):\n%s", diff)
	}
}

func TestSetCredentials(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &mockLoginClient{})

	if err := m.SetCredentials(ctx, 1, "A=manual-token; LS=LOGGED_IN"); err != nil {
		t.Fatalf("set credentials: %v", err)
	}
	cookies, err := m.Credentials(ctx, 1)
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if diff := cmp.Diff("A=manual-token; LS=LOGGED_IN", cookies); diff != "" {
		t.Errorf("credentials mismatch (-want +got):\n%s", diff)
	}

	if err := m.SetCredentials(ctx, 1, ""); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestMarkExpiredOnce(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &mockLoginClient{})

	if err := m.SetCredentials(ctx, 1, "A=token"); err != nil {
		t.Fatalf("set credentials: %v", err)
	}

	if err := m.MarkExpired(ctx, 1); err != nil {
		t.Fatalf("mark expired: %v", err)
	}
	state, _ := m.State(ctx, 1)
	if diff := cmp.Diff(model.AuthExpired, state); diff != "" {
		t.Errorf("state after expiry (-want +got):\n%s", diff)
	}
	if _, err := m.Credentials(ctx, 1); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	// Second expiry is a no-op, and pending logins are never clobbered.
	if err := m.MarkExpired(ctx, 1); err != nil {
		t.Fatalf("second mark expired: %v", err)
	}
	if err := m.StartLogin(ctx, 1, "9876543210"); err != nil {
		t.Fatalf("re-login after expiry: %v", err)
	}
	if err := m.MarkExpired(ctx, 1); err != nil {
		t.Fatalf("mark expired while pending: %v", err)
	}
	state, _ = m.State(ctx, 1)
	if diff := cmp.Diff(model.AuthPendingOTP, state); diff != "" {
		t.Errorf("pending login clobbered (-want +got):\n%s", diff)
	}
}

func TestCredentialsUnknownUser(t *testing.T) {
	m, _ := newTestManager(t, &mockLoginClient{})
	if _, err := m.Credentials(context.Background(), 404); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}
