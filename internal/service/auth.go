package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"openflow/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// TokenIssuer signs session tokens
type TokenIssuer interface {
	Issue(userID string) (string, time.Time, error)
}

type AuthService struct {
	users  UserStore
	tokens TokenIssuer
	log    *zap.Logger
}

func NewAuthService(users UserStore, tokens TokenIssuer, log *zap.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, log: log}
}

// Session is the outcome of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      model.User
}

func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Session{}, invalidInput(nil, "Email and password required")
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, unauthorized("Invalid credentials")
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.log.Warn("Failed login", zap.String("email", email))
		return Session{}, unauthorized("Invalid credentials")
	}

	token, expires, err := s.tokens.Issue(u.ID)
	if err != nil {
		return Session{}, fmt.Errorf("failed to issue token: %w", err)
	}
	return Session{Token: token, ExpiresAt: expires, User: userToModel(u)}, nil
}

func (s *AuthService) Me(ctx context.Context, userID string) (model.User, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return model.User{}, lookup(err, "User")
	}
	return userToModel(u), nil
}

// SeedAdmin creates the admin account unless a user with that email exists.
func (s *AuthService) SeedAdmin(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil
	}

	_, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to look up admin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if _, err := s.users.CreateUser(ctx, ulid.Make().String(), email, string(hash)); err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}
	s.log.Info("Seeded admin user", zap.String("email", email))
	return nil
}
