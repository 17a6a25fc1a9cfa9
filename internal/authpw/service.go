// Package authpw checks usernames and passwords against bcrypt hashes.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"newsagent/api/internal/rbac"
	"newsagent/api/internal/store"
	"newsagent/api/internal/util"
)

const minPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrDeactivated        = errors.New("account is deactivated")
	ErrUsernameTaken      = errors.New("username already registered")
)

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

type SignInRequest struct {
	Username string
	Password string
}

// SignIn returns the user when the password matches. Unknown users and wrong
// passwords both report ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if store.IsNotFound(err) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if user.DeactivatedAt != nil {
		return store.User{}, ErrDeactivated
	}
	return user, nil
}

type CreateUserRequest struct {
	Username    string
	DisplayName string
	Password    string
	Role        string
}

func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (store.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return store.User{}, errors.New("username and password are required")
	}
	if err := checkPassword(req.Password); err != nil {
		return store.User{}, err
	}

	_, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return store.User{}, ErrUsernameTaken
	}
	if !store.IsNotFound(err) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := s.hash(req.Password)
	if err != nil {
		return store.User{}, err
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = username
	}
	role := rbac.RoleAuthor
	if req.Role != "" {
		role = rbac.Normalize(req.Role)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         string(role),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	if err := checkPassword(next); err != nil {
		return err
	}
	hash, err := s.hash(next)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return nil
}
