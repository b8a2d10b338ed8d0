package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthRejected covers every admission failure: missing, malformed, or
// expired token, or a token that resolves to no existing user. The caller
// closes the connection without mutating any state.
var ErrAuthRejected = errors.New("authentication rejected")

type Service struct {
	db  database.Database
	cfg *config.Config
}

func NewService(db database.Database, cfg *config.Config) *Service {
	return &Service{
		db:  db,
		cfg: cfg,
	}
}

// Admit validates a credential token and resolves it to a durable user.
// It is side-effect free: repeated failed attempts are cheap and mutate
// nothing. Runs once per connection, before any registry mutation.
func (s *Service) Admit(ctx context.Context, tokenString string) (*models.User, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", ErrAuthRejected)
	}

	claims, err := s.validateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}

	userIDFloat, ok := (*claims)["user_id"].(float64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid user id in token", ErrAuthRejected)
	}

	user, err := s.db.GetUserByID(ctx, int(userIDFloat))
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: user not found", ErrAuthRejected)
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

// ExchangeIdentity upserts the user record for a provider-verified profile
// and issues a credential token for it. Re-login refreshes the stored name
// and avatar.
func (s *Service) ExchangeIdentity(ctx context.Context, profile *models.ExternalProfile) (*models.LoginResponse, error) {
	if profile.ExternalID == "" {
		return nil, fmt.Errorf("%w: missing external id", ErrAuthRejected)
	}

	user, err := s.db.UpsertUserByExternalID(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	token, err := s.generateToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &models.LoginResponse{
		Token: token,
		User:  *user,
	}, nil
}

func (s *Service) validateToken(tokenString string) (*jwt.MapClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.JWT.Secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

func (s *Service) generateToken(user *models.User) (string, error) {
	claims := jwt.MapClaims{
		"user_id":     user.ID,
		"external_id": user.ExternalID,
		"exp":         time.Now().Add(s.cfg.JWT.ExpiresIn).Unix(),
		"iat":         time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.cfg.JWT.Secret)
}
