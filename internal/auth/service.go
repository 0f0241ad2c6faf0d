package auth

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"paper-trading-engine/config"
)

// Service authenticates the single operator account configured at
// startup and manages refresh token rotation in memory.
type Service struct {
	jwt       *JWTManager
	passwords *PasswordManager
	logger    zerolog.Logger

	username     string
	passwordHash string

	mu            sync.Mutex
	refreshTokens map[string]refreshRecord // key = SHA-256 of token
}

type refreshRecord struct {
	userID    string
	expiresAt time.Time
}

// NewService builds the auth service from config.
func NewService(cfg config.AuthConfig, logger zerolog.Logger) *Service {
	return &Service{
		jwt:           NewJWTManager(cfg.JWTSecret, cfg.AccessTokenDuration, cfg.RefreshTokenDuration),
		passwords:     NewPasswordManager(DefaultBcryptCost, cfg.MinPasswordLength),
		logger:        logger.With().Str("component", "Auth").Logger(),
		username:      cfg.AdminUsername,
		passwordHash:  cfg.AdminPasswordHash,
		refreshTokens: make(map[string]refreshRecord),
	}
}

// JWT exposes the token manager for middleware wiring.
func (s *Service) JWT() *JWTManager {
	return s.jwt
}

// Login verifies credentials and issues a token pair.
func (s *Service) Login(username, password string) (*TokenPair, error) {
	if username != s.username || !s.passwords.VerifyPassword(password, s.passwordHash) {
		s.logger.Warn().Str("username", username).Msg("Failed login attempt")
		return nil, ErrInvalidCredentials
	}

	pair, err := s.jwt.GenerateTokenPair(UserClaims{
		UserID:   "operator",
		Username: username,
		IsAdmin:  true,
	})
	if err != nil {
		return nil, err
	}

	s.storeRefreshToken(pair.RefreshToken, "operator")
	s.logger.Info().Str("username", username).Msg("Operator logged in")
	return pair, nil
}

// Refresh exchanges a valid refresh token for a new token pair. The
// old token is revoked.
func (s *Service) Refresh(refreshToken string) (*TokenPair, error) {
	key := HashRefreshToken(refreshToken)

	s.mu.Lock()
	record, ok := s.refreshTokens[key]
	if ok {
		delete(s.refreshTokens, key)
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrInvalidToken
	}
	if time.Now().After(record.expiresAt) {
		return nil, ErrTokenExpired
	}

	pair, err := s.jwt.GenerateTokenPair(UserClaims{
		UserID:   record.userID,
		Username: s.username,
		IsAdmin:  true,
	})
	if err != nil {
		return nil, err
	}

	s.storeRefreshToken(pair.RefreshToken, record.userID)
	return pair, nil
}

// Logout revokes a refresh token.
func (s *Service) Logout(refreshToken string) {
	s.mu.Lock()
	delete(s.refreshTokens, HashRefreshToken(refreshToken))
	s.mu.Unlock()
}

func (s *Service) storeRefreshToken(token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, record := range s.refreshTokens {
		if now.After(record.expiresAt) {
			delete(s.refreshTokens, key)
		}
	}
	s.refreshTokens[HashRefreshToken(token)] = refreshRecord{
		userID:    userID,
		expiresAt: now.Add(s.jwt.GetRefreshTokenDuration()),
	}
}
