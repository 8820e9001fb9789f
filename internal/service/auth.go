package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"partyledger/internal/store"
	"partyledger/pkg"
)

type AuthService interface {
	Authenticate(username, password string) (string, error)
}

type authService struct {
	authStore store.AuthStore
	log       pkg.Logger
	jwtSecret string
}

func NewAuthService(authStore store.AuthStore, logger pkg.Logger, jwtSecret string) AuthService {
	return &authService{
		authStore: authStore,
		log:       logger,
		jwtSecret: jwtSecret,
	}
}

func (s *authService) Authenticate(username, password string) (string, error) {
	if s.jwtSecret == "" {
		s.log.Error("auth: empty JWT secret key")
		return "", errors.New("could not generate token: empty secret key")
	}
	participant, passHash, err := s.authStore.ParticipantAuth(context.Background(), username)
	if err != nil {
		s.log.Warn("invalid credentials", zap.String("username", username), zap.Error(err))
		return "", fmt.Errorf("invalid credentials: %w", err)
	}
	if passHash != password {
		s.log.Warn("invalid credentials: password mismatch", zap.String("username", username))
		return "", fmt.Errorf("invalid credentials: password mismatch")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"participant_id": participant.ID,
		"username":       participant.Name,
		"actor_id":       participant.ActorID,
		"scene":          participant.Scene,
		"gm":             participant.GM,
		"exp":            time.Now().Add(12 * time.Hour).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		s.log.Error("failed to generate token", zap.String("username", username), zap.Error(err))
		return "", fmt.Errorf("could not generate token: %w", err)
	}
	s.log.Info("Participant authenticated",
		zap.String("participantID", participant.ID),
		zap.String("username", username),
		zap.Bool("gm", participant.GM))
	return tokenString, nil
}
