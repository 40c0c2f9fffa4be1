package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/port"
)

var authTracer = otel.Tracer("service/auth")

// AuthService handles signup, login and token lifecycle.
// Access tokens are short-lived HS256 JWTs; refresh tokens are opaque
// random strings stored hashed and rotated on every use.
type AuthService struct {
	accounts   port.AccountStore
	tokens     port.AuthStore
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *zap.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(accounts port.AccountStore, tokens port.AuthStore, jwtSecret string, accessTTL, refreshTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		accounts:   accounts,
		tokens:     tokens,
		jwtSecret:  []byte(jwtSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

// Signup registers a new account and returns a token pair.
func (s *AuthService) Signup(ctx context.Context, req *domain.SignupRequest) (*domain.TokenResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Signup")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &domain.ErrValidation{Field: "email", Message: "a valid email is required"}
	}
	if len(req.Password) < 8 {
		return nil, &domain.ErrValidation{Field: "password", Message: "password must be at least 8 characters"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	acc, err := s.accounts.CreateAccount(ctx, email, string(hash), strings.TrimSpace(req.FullName))
	if err != nil {
		return nil, err
	}

	s.logger.Info("account created", zap.String("account_id", acc.ID))
	return s.issueTokens(ctx, acc)
}

// Login verifies credentials and returns a token pair.
func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.TokenResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	acc, err := s.accounts.GetAccountByEmail(ctx, req.Email)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, &domain.ErrUnauthorized{Message: "invalid email or password"}
		}
		return nil, err
	}
	if !acc.IsActive {
		return nil, &domain.ErrAccountInactive{AccountID: acc.ID}
	}
	if acc.PasswordHash == "" {
		// Account was auto-created from a payment event; no password yet.
		return nil, &domain.ErrUnauthorized{Message: "account has no password set"}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)); err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid email or password"}
	}

	if err := s.accounts.UpdateLastLogin(ctx, acc.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to stamp last login", zap.Error(err))
	}

	return s.issueTokens(ctx, acc)
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued. A revoked or expired token yields 401.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Refresh")
	defer span.End()

	stored, err := s.tokens.GetRefreshToken(ctx, hashToken(refreshToken))
	if err != nil {
		return nil, err
	}
	if stored.Revoked {
		// Reuse of a rotated token: assume theft and revoke the session.
		s.logger.Warn("revoked refresh token presented", zap.String("account_id", stored.AccountID))
		_ = s.tokens.RevokeAllRefreshTokens(ctx, stored.AccountID)
		return nil, &domain.ErrUnauthorized{Message: "refresh token revoked"}
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, &domain.ErrUnauthorized{Message: "refresh token expired"}
	}

	acc, err := s.accounts.GetAccountByID(ctx, stored.AccountID)
	if err != nil {
		return nil, err
	}
	if !acc.IsActive {
		return nil, &domain.ErrAccountInactive{AccountID: acc.ID}
	}

	if err := s.tokens.RevokeRefreshToken(ctx, stored.TokenHash); err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, acc)
}

// Logout revokes every refresh token for the account.
func (s *AuthService) Logout(ctx context.Context, accountID string) error {
	ctx, span := authTracer.Start(ctx, "AuthService.Logout")
	defer span.End()

	return s.tokens.RevokeAllRefreshTokens(ctx, accountID)
}

// Me returns the account behind an access token's subject.
func (s *AuthService) Me(ctx context.Context, accountID string) (*domain.Account, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Me")
	defer span.End()

	return s.accounts.GetAccountByID(ctx, accountID)
}

// ValidateAccessToken parses and verifies a JWT, returning the account id.
func (s *AuthService) ValidateAccessToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", &domain.ErrUnauthorized{Message: "invalid or expired access token"}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", &domain.ErrUnauthorized{Message: "invalid token claims"}
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", &domain.ErrUnauthorized{Message: "token missing subject"}
	}
	return sub, nil
}

func (s *AuthService) issueTokens(ctx context.Context, acc *domain.Account) (*domain.TokenResponse, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   acc.ID,
		"email": acc.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.accessTTL).Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}

	refresh, err := generateToken()
	if err != nil {
		return nil, err
	}
	if err := s.tokens.StoreRefreshToken(ctx, acc.ID, hashToken(refresh), now.Add(s.refreshTTL)); err != nil {
		return nil, err
	}

	return &domain.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.accessTTL.Seconds()),
		Account: &domain.AccountInfo{
			ID:             acc.ID,
			Email:          acc.Email,
			FullName:       acc.FullName,
			CreditsBalance: acc.CreditsBalance,
		},
	}, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
