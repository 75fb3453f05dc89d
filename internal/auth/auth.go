// Package auth registers users, checks passwords and issues the bearer
// tokens that guard the trading API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/papertrade/market-sim/internal/model"
	"github.com/papertrade/market-sim/internal/money"
	"github.com/papertrade/market-sim/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrDuplicateUser      = errors.New("auth: username or email already exists")
	ErrInvalidRequest     = errors.New("auth: invalid request")
)

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=32,excludesall=@"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=6,max=72"`
	FullNames string `json:"full_names" validate:"required,max=128"`
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	UsernameOrEmail string `json:"username_or_email" validate:"required"`
	Password        string `json:"password" validate:"required"`
}

// Service handles registration and login.
type Service struct {
	store        store.Store
	tokens       *jwtauth.JWTAuth
	tokenTTL     time.Duration
	startingCash money.Money
	bcryptCost   int
	validate     *validator.Validate
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// NewService creates an auth service signing HS256 tokens with secret.
func NewService(st store.Store, secret string, tokenTTL time.Duration, startingCash money.Money, opts ...Option) *Service {
	s := &Service{
		store:        st,
		tokens:       jwtauth.New("HS256", []byte(secret), nil),
		tokenTTL:     tokenTTL,
		startingCash: startingCash,
		bcryptCost:   bcrypt.DefaultCost,
		validate:     validator.New(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a user and its account funded with the starting cash.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*model.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.FullNames = strings.TrimSpace(req.FullNames)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		FullNames:    req.FullNames,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.store.CreateUser(ctx, u, s.startingCash); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	return u, nil
}

// Login checks the password and returns a signed token for the user.
func (s *Service) Login(ctx context.Context, req LoginRequest) (string, *model.User, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	u, err := s.store.GetUserByLogin(ctx, strings.TrimSpace(req.UsernameOrEmail))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(u.ID)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// IssueToken signs a token whose subject is userID.
func (s *Service) IssueToken(userID string) (string, error) {
	claims := map[string]interface{}{"sub": userID}
	jwtauth.SetIssuedAt(claims, s.now())
	jwtauth.SetExpiry(claims, s.now().Add(s.tokenTTL))
	_, token, err := s.tokens.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Middleware verifies the bearer token and rejects the request with 401
// when it is missing, malformed or expired.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return jwtauth.Verifier(s.tokens)(jwtauth.Authenticator(next))
}

// UserID returns the subject of the verified token in ctx.
func UserID(ctx context.Context) (string, bool) {
	token, _, err := jwtauth.FromContext(ctx)
	if err != nil || token == nil {
		return "", false
	}
	sub := token.Subject()
	return sub, sub != ""
}
