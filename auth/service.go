package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"sourcingflow/apperr"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = fmt.Errorf("auth: invalid credentials: %w", apperr.ErrUnauthorized)
	// ErrInvalidToken signals a missing, expired or forged token.
	ErrInvalidToken = fmt.Errorf("auth: invalid token: %w", apperr.ErrUnauthorized)
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = fmt.Errorf("auth: %w: password must be at least 8 characters", apperr.ErrValidation)
)

const defaultTTL = 24 * time.Hour

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		ttl:       defaultTTL,
		now:       time.Now,
	}
}

// WithTTL sets the token lifetime.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.TenantID == "" || req.Email == "" || req.FullName == "" {
		return nil, fmt.Errorf("auth: %w: tenant, email and full name are required", apperr.ErrValidation)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleBuyer
	}
	if !isValidRole(role) {
		return nil, fmt.Errorf("auth: %w: invalid role %q", apperr.ErrValidation, role)
	}
	var partyID *string
	if role == RoleCustomer || role == RoleSupplier {
		if req.PartyID == "" {
			return nil, fmt.Errorf("auth: %w: %s users must be linked to a party", apperr.ErrValidation, role)
		}
		partyID = &req.PartyID
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, CreateUserParams{
		TenantID:     req.TenantID,
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		FullName:     req.FullName,
		PasswordHash: string(passwordHash),
		Role:         role,
		PartyID:      partyID,
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Login authenticates a user and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	p := Principal{UserID: user.ID, TenantID: user.TenantID, Role: user.Role}
	if user.PartyID != nil {
		p.PartyID = *user.PartyID
	}
	token, expires, err := s.IssueToken(p)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		Token:     token,
		ExpiresAt: expires,
		User:      user,
	}, nil
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// IssueToken signs a token for p.
func (s *Service) IssueToken(p Principal) (string, time.Time, error) {
	if p.UserID == "" || p.TenantID == "" || !isValidRole(p.Role) {
		return "", time.Time{}, fmt.Errorf("auth: %w: incomplete principal", apperr.ErrValidation)
	}
	if (p.Role == RoleCustomer || p.Role == RoleSupplier) && p.PartyID == "" {
		return "", time.Time{}, fmt.Errorf("auth: %w: %s principal needs a party", apperr.ErrValidation, p.Role)
	}
	now := s.now()
	expires := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"user_id":   p.UserID,
		"tenant_id": p.TenantID,
		"role":      string(p.Role),
		"exp":       expires.Unix(),
		"iat":       now.Unix(),
	}
	if p.PartyID != "" {
		claims["party_id"] = p.PartyID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expires, nil
}

// VerifyToken validates a JWT token and returns its principal.
func (s *Service) VerifyToken(tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	userID, _ := claims["user_id"].(string)
	tenantID, _ := claims["tenant_id"].(string)
	roleStr, _ := claims["role"].(string)
	partyID, _ := claims["party_id"].(string)
	role := Role(roleStr)
	if userID == "" || tenantID == "" || !isValidRole(role) {
		return Principal{}, fmt.Errorf("%w: missing claims", ErrInvalidToken)
	}
	if (role == RoleCustomer || role == RoleSupplier) && partyID == "" {
		return Principal{}, fmt.Errorf("%w: %s token without party", ErrInvalidToken, role)
	}
	return Principal{UserID: userID, TenantID: tenantID, Role: role, PartyID: partyID}, nil
}

func isValidRole(role Role) bool {
	switch role {
	case RoleCustomer, RoleSupplier, RoleBuyer, RoleCarrier, RoleAdmin:
		return true
	default:
		return false
	}
}
