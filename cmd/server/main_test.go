package main

import (
	"context"
	"strings"
	"testing"

	"shopkeeper/backend/internal/config"
	"shopkeeper/backend/internal/domain"
	"shopkeeper/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"})
	if err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	err = validateSecurityConfig(config.Config{AuthSecret: strings.Repeat("k", 32), ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected common pin to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"444444", "345678", "987654", "786786"} {
		if validatePINStrength(pin) == nil {
			t.Fatalf("expected %s to be rejected", pin)
		}
	}
	if err := validatePINStrength("582047"); err != nil {
		t.Fatalf("expected 582047 to pass, got %v", err)
	}
}

type fakeUsers struct {
	users []domain.UserAccount
}

func (f *fakeUsers) CreateUser(_ context.Context, user domain.UserAccount) error {
	f.users = append(f.users, user)
	return nil
}

func (f *fakeUsers) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	return f.users, nil
}

func TestEnsureAdminCreatesHashedAccountOnce(t *testing.T) {
	users := &fakeUsers{}
	if err := ensureAdmin(context.Background(), users, "s3cret-pass"); err != nil {
		t.Fatalf("ensureAdmin failed: %v", err)
	}
	if len(users.users) != 1 || users.users[0].Role != domain.RoleAdmin {
		t.Fatalf("expected one admin, got %+v", users.users)
	}
	if !strings.HasPrefix(users.users[0].Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", users.users[0].Password)
	}

	if err := ensureAdmin(context.Background(), users, "s3cret-pass"); err != nil {
		t.Fatalf("second ensureAdmin failed: %v", err)
	}
	if len(users.users) != 1 {
		t.Fatalf("expected admin to be created once, got %d users", len(users.users))
	}
}

func TestEnsureAdminSkipsSeededStore(t *testing.T) {
	repo := memory.NewSeeded()
	before, _ := repo.ListUsers(context.Background())

	if err := ensureAdmin(context.Background(), repo, "another-pass"); err != nil {
		t.Fatalf("ensureAdmin failed: %v", err)
	}
	after, _ := repo.ListUsers(context.Background())
	if len(after) != len(before) {
		t.Fatalf("expected no new users, had %d now %d", len(before), len(after))
	}
}

func TestEnsureAdminRejectsShortPassword(t *testing.T) {
	if err := ensureAdmin(context.Background(), &fakeUsers{}, "short"); err == nil {
		t.Fatalf("expected short bootstrap password to be rejected")
	}
}
