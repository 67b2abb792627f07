package auth

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dduho/trading-bot/config"
	"github.com/dduho/trading-bot/internal/logging"
)

// Service authenticates the single bot operator against a bcrypt
// password hash from configuration and issues access tokens.
type Service struct {
	jwtManager   *JWTManager
	passwordHash string
	enabled      bool
	log          *logging.Logger
}

// NewService creates the authentication service from configuration
func NewService(cfg config.AuthConfig, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Default()
	}
	return &Service{
		jwtManager:   NewJWTManager(cfg.JWTSecret, time.Duration(cfg.TokenDurationMins)*time.Minute),
		passwordHash: cfg.OperatorPasswordHash,
		enabled:      cfg.Enabled,
		log:          log.WithComponent("auth"),
	}
}

// Enabled reports whether authentication is enforced
func (s *Service) Enabled() bool {
	return s.enabled
}

// JWTManager exposes the token manager for middleware wiring
func (s *Service) JWTManager() *JWTManager {
	return s.jwtManager
}

// Login verifies the operator password and returns a signed token
func (s *Service) Login(password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err != nil {
		s.log.Warn("Login attempt with invalid credentials")
		return "", ErrInvalidCredentials
	}

	token, err := s.jwtManager.GenerateToken()
	if err != nil {
		s.log.Error("Failed to generate token", "error", err.Error())
		return "", err
	}

	s.log.Info("Operator logged in")
	return token, nil
}

// HashPassword produces a bcrypt hash suitable for the config file
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
