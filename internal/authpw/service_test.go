package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"casefile/api/internal/store"
)

type resetRecord struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// mockUserStore is an in-memory UserStore for tests
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
	resets     map[string]resetRecord
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
		resets:     make(map[string]resetRecord),
	}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, store.ErrNotFound
}

func (m *mockUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	user := m.users[userID]
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	m.users[userID] = user
	return nil
}

func (m *mockUserStore) VerifyUserEmail(_ context.Context, token string) error {
	for id, user := range m.users {
		if user.VerificationToken == token && user.VerificationExpiresAt != nil && user.VerificationExpiresAt.After(time.Now()) {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			m.users[id] = user
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *mockUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	user := m.users[userID]
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *mockUserStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = resetRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *mockUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	rec, ok := m.resets[token]
	if !ok || rec.used || rec.expiresAt.Before(time.Now()) {
		return "", store.ErrNotFound
	}
	return rec.userID, nil
}

func (m *mockUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	rec := m.resets[token]
	rec.used = true
	m.resets[token] = rec
	return nil
}

func TestSignUpThenVerifyThenSignIn(t *testing.T) {
	ctx := context.Background()
	mock := newMockUserStore()
	svc := NewService(mock)

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "cm@example.org",
		Password:    "sufficiently-long",
		DisplayName: "Casey Manager",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if !resp.RequiresEmailVerify || resp.VerificationToken == "" {
		t.Fatalf("unexpected sign-up response: %+v", resp)
	}

	// Correct password but unverified: sign-in reports RequiresVerify.
	signIn, err := svc.SignIn(ctx, SignInRequest{Email: "cm@example.org", Password: "sufficiently-long"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if !signIn.RequiresVerify {
		t.Fatal("expected RequiresVerify before email verification")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	signIn, err = svc.SignIn(ctx, SignInRequest{Email: "cm@example.org", Password: "sufficiently-long"})
	if err != nil {
		t.Fatalf("SignIn() after verify error = %v", err)
	}
	if signIn.RequiresVerify {
		t.Fatal("verified account should not require verification")
	}
	if signIn.User.DisplayName != "Casey Manager" {
		t.Errorf("DisplayName = %q", signIn.User.DisplayName)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockUserStore())

	req := SignUpRequest{Email: "cm@example.org", Password: "sufficiently-long", DisplayName: "Casey"}
	if _, err := svc.SignUp(ctx, req); err != nil {
		t.Fatalf("first SignUp() error = %v", err)
	}
	if _, err := svc.SignUp(ctx, req); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("second SignUp() error = %v, want ErrEmailTaken", err)
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newMockUserStore())
	_, err := svc.SignUp(context.Background(), SignUpRequest{
		Email: "cm@example.org", Password: "short", DisplayName: "Casey",
	})
	if err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestSignInWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockUserStore())
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "cm@example.org", Password: "sufficiently-long", DisplayName: "Casey"}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "cm@example.org", Password: "wrong-password"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn() error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@example.org", Password: "whatever1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn() unknown email error = %v, want ErrInvalidCredentials", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	mock := newMockUserStore()
	svc := NewService(mock)

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "cm@example.org", Password: "original-pass", DisplayName: "Casey"}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	token, err := svc.RequestPasswordReset(ctx, "cm@example.org")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if token == "" {
		t.Fatal("expected a reset token for a known email")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "brand-new-pass"}); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}

	// Token is single-use.
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "another-new-pass"}); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("reused token error = %v, want ErrInvalidResetToken", err)
	}
}

func TestRequestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	svc := NewService(newMockUserStore())
	token, err := svc.RequestPasswordReset(context.Background(), "nobody@example.org")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if token != "" {
		t.Fatal("unknown email must not yield a token")
	}
}
