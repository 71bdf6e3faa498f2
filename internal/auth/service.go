package auth

import (
	"crypto/subtle"

	"github.com/rs/zerolog"
)

// Service authenticates the single operator account
type Service struct {
	jwt          *JWTManager
	adminUser    string
	passwordHash string
	logger       zerolog.Logger
}

// NewService creates an auth service. Login is disabled when no password hash is set.
func NewService(jwtManager *JWTManager, adminUser, passwordHash string, logger zerolog.Logger) *Service {
	return &Service{
		jwt:          jwtManager,
		adminUser:    adminUser,
		passwordHash: passwordHash,
		logger:       logger.With().Str("component", "auth").Logger(),
	}
}

// JWT returns the token manager used by the middleware
func (s *Service) JWT() *JWTManager {
	return s.jwt
}

// Login checks the operator credentials and issues an access token
func (s *Service) Login(username, password string) (*TokenPair, error) {
	if s.passwordHash == "" || s.adminUser == "" {
		return nil, ErrAuthDisabled
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.adminUser)) == 1
	passOK := VerifyPassword(password, s.passwordHash)
	if !userOK || !passOK {
		s.logger.Warn().Str("username", username).Msg("Failed admin login")
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateAccessToken(AdminClaims{Username: username, Role: "admin"})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", username).Msg("Admin logged in")
	return &TokenPair{AccessToken: token, ExpiresIn: s.jwt.AccessTokenSeconds(), TokenType: "Bearer"}, nil
}
