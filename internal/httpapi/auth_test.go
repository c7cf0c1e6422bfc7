package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"nurserypos/internal/domain"
	"nurserypos/internal/store/memory"
)

func newTestAuth(t *testing.T) *AuthManager {
	t.Helper()
	t.Setenv("SEED_MANAGER_PASSWORD", "manager123")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier123")
	return NewAuthManager("test-secret-key", time.Hour, memory.NewSeeded())
}

func TestLoginAndParseTokenRoundTrip(t *testing.T) {
	auth := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Email: "manager@greenvalley.test", Password: "manager123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != domain.RoleManager || resp.NurseryID != "nursery-main" {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Email != "manager@greenvalley.test" || actor.Role != domain.RoleManager {
		t.Fatalf("unexpected actor: %+v", actor)
	}
	if actor.NurseryID != "nursery-main" || actor.UserID == "" {
		t.Fatalf("actor missing nursery scoping: %+v", actor)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.Login(domain.LoginRequest{Email: "manager@greenvalley.test", Password: "wrong"}); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
	if _, err := auth.Login(domain.LoginRequest{Email: "nobody@greenvalley.test", Password: "manager123"}); err == nil {
		t.Fatalf("expected unknown email to fail")
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	auth := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Email: "cashier@greenvalley.test", Password: "cashier123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	tampered := resp.AccessToken[:len(resp.AccessToken)-2] + "xx"
	if _, err := auth.ParseToken(tampered); err == nil {
		t.Fatalf("expected tampered token to be rejected")
	}

	other := NewAuthManager("a-completely-different-secret!!!", time.Hour, nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestCreateStaffValidation(t *testing.T) {
	auth := newTestAuth(t)

	cases := []struct {
		name string
		req  domain.UserCreateRequest
		role string
	}{
		{"bad email", domain.UserCreateRequest{Email: "not-an-email", Password: "longenough"}, domain.RoleCashier},
		{"short password", domain.UserCreateRequest{Email: "ok@greenvalley.test", Password: "tiny"}, domain.RoleCashier},
		{"bad role", domain.UserCreateRequest{Email: "ok@greenvalley.test", Password: "longenough"}, "owner"},
		{"duplicate email", domain.UserCreateRequest{Email: "cashier@greenvalley.test", Password: "longenough"}, domain.RoleCashier},
	}
	for _, tc := range cases {
		if _, err := auth.CreateStaff(tc.req, tc.role, "nursery-main"); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	user, err := auth.CreateStaff(domain.UserCreateRequest{
		FullName: "Second Cashier",
		Email:    "Second.Cashier@GreenValley.test",
		Password: "longenough",
	}, domain.RoleCashier, "nursery-main")
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	if user.Email != strings.ToLower("Second.Cashier@GreenValley.test") {
		t.Fatalf("expected email lowercased, got %s", user.Email)
	}
	if user.NurseryID != "nursery-main" {
		t.Fatalf("expected nursery scoping, got %s", user.NurseryID)
	}
}

func TestBootstrapUpgradesPlainTextPasswords(t *testing.T) {
	repo := memory.NewEmpty()
	seedUser := domain.UserAccount{
		ID:        "user-legacy-01",
		NurseryID: "nursery-main",
		FullName:  "Legacy User",
		Email:     "legacy@greenvalley.test",
		Password:  "plain-text-password",
		Role:      domain.RoleManager,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateUser(context.Background(), seedUser); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	if _, err := auth.Login(domain.LoginRequest{Email: "legacy@greenvalley.test", Password: "plain-text-password"}); err != nil {
		t.Fatalf("login with upgraded password: %v", err)
	}

	stored, err := repo.GetUserByEmail(context.Background(), "legacy@greenvalley.test")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !isPasswordHash(stored.Password) {
		t.Fatalf("expected stored password upgraded to bcrypt hash")
	}
}
