package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"shopkeeper/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func (s *userStoreStub) SetUserActive(_ context.Context, username string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Active = active
	s.users[username] = user
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)
	cashier, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{
		Username: "rahimcash",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Username != "rahimcash" {
		t.Fatalf("unexpected username %s", cashier.Username)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "rahimcash" {
			found = &users[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected cashier to be saved")
	}
	if found.Password == "pass1234" {
		t.Fatalf("expected cashier password to be hashed")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	_, err = manager.Login(context.Background(), domain.LoginRequest{
		Username: "rahimcash",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("login with hashed cashier failed: %v", err)
	}
}

func TestLoginRejectsInactiveAndUnknownUsers(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"retired": {
				Username:  "retired",
				Password:  "retired123",
				Role:      domain.RoleCashier,
				Active:    false,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "retired", Password: "retired123"}); err != errInactiveAccount {
		t.Fatalf("expected inactive account error, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "whatever"}); err != errInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthManager("secret-a", time.Hour, "123456", nil, nil)
	verifier := NewAuthManager("secret-b", time.Hour, "123456", nil, nil)

	token, err := issuer.sign("admin", domain.RoleAdmin, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
	actor, err := issuer.ParseToken(token)
	if err != nil || actor.Role != domain.RoleAdmin {
		t.Fatalf("expected admin actor, got %+v (%v)", actor, err)
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "654321", store, nil)

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}

	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}

	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}

func TestDeactivatedCashierLosesAccess(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)
	ctx := context.Background()

	if _, err := manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "salma", Password: "pass1234"}); err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	login, err := manager.Login(ctx, domain.LoginRequest{Username: "salma", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	cashier, err := manager.SetCashierActive(ctx, "Salma", false)
	if err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if cashier.Active {
		t.Fatalf("expected cashier to be inactive")
	}
	if store.users["salma"].Active {
		t.Fatalf("expected store to record inactive cashier")
	}
	if _, err := manager.ParseToken(login.AccessToken); err != errInactiveAccount {
		t.Fatalf("expected issued token to be refused, got %v", err)
	}
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "salma", Password: "pass1234"}); err != errInactiveAccount {
		t.Fatalf("expected inactive login error, got %v", err)
	}

	if _, err := manager.SetCashierActive(ctx, "nobody", true); err != errUnknownCashier {
		t.Fatalf("expected unknown cashier error, got %v", err)
	}
}

func TestCreateCashierRejectsBadInput(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", &userStoreStub{}, nil)
	cases := []domain.CashierCreateRequest{
		{Username: "abc", Password: "pass1234"},
		{Username: "two words", Password: "pass1234"},
		{Username: "validname", Password: "123"},
	}
	for _, req := range cases {
		if _, err := manager.CreateCashier(context.Background(), req); err == nil {
			t.Fatalf("expected %+v to be rejected", req)
		}
	}
}
