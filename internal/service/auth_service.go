package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/epibuilder/portal/internal/middleware"
	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/storage"
)

// ErrInvalidCredentials is returned for unknown users and wrong passwords
// alike, so login failures do not leak which usernames exist.
var ErrInvalidCredentials = errors.New("invalid username or password")

// AuthService authenticates users and mints session tokens.
type AuthService struct {
	users *storage.UserRepository
	auth  *middleware.AuthMiddleware
}

func NewAuthService(users *storage.UserRepository, auth *middleware.AuthMiddleware) *AuthService {
	return &AuthService{users: users, auth: auth}
}

// Login verifies the credentials and returns the flat identity payload
// the portal client persists.
func (s *AuthService) Login(ctx context.Context, req *model.LoginRequest) (*model.LoginResponse, error) {
	user, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("user lookup: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.auth.GenerateToken(user)
	if err != nil {
		return nil, fmt.Errorf("token generation: %w", err)
	}

	return &model.LoginResponse{
		ID:       user.ID,
		Username: user.Username,
		Name:     user.Name,
		Role:     user.Role,
		Token:    token,
	}, nil
}
