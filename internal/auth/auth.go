package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"duet/internal/content"
	"duet/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	loginFailedMessage = "Login failed"
	minPasswordLength  = 6
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrWeakPassword = errors.New("password is too short")
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message,omitempty"`
	Token       string       `json:"token,omitempty"`
	TokenExpiry int64        `json:"tokenExpiry,omitempty"`
	User        *models.User `json:"user,omitempty"`
}

type UserCredentials struct {
	models.User
	PasswordHash string `json:"passwordHash"`
}

// UserStore is the persistent user directory.
type UserStore interface {
	CreateUser(ctx context.Context, creds UserCredentials) error
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetCredentials(ctx context.Context, username string) (UserCredentials, error)
}

// loginAttempts throttles brute force per username.
type loginAttempts struct {
	failed      int64
	lastAttempt int64
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

type AuthService struct {
	Config
	store    UserStore
	attempts *geche.Locker[string, *loginAttempts]
	// revoked holds token ids until they would have expired anyway.
	revoked geche.Geche[string, string]
	now     func() time.Time
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

func NewAuthService(ctx context.Context, config Config, store UserStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:   config,
		store:    store,
		attempts: geche.NewLocker[string, *loginAttempts](geche.NewMapCache[string, *loginAttempts]()),
		revoked:  geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:      time.Now,
	}, nil
}

func (as *AuthService) Register(ctx context.Context, req RegisterRequest) (models.User, error) {
	if err := content.ValidateUsername(req.Username); err != nil {
		return models.User{}, err
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		return models.User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	creds := UserCredentials{
		User: models.User{
			ID:        uuid.NewString(),
			UserName:  req.Username,
			CreatedAt: as.now().Unix(),
		},
		PasswordHash: string(hash),
	}
	if err := as.store.CreateUser(ctx, creds); err != nil {
		return models.User{}, err
	}

	return creds.User, nil
}

func (as *AuthService) Login(ctx context.Context, req LoginRequest) LoginResponse {
	now := as.now()
	tx := as.attempts.Lock()
	defer tx.Unlock()

	attempt, err := tx.Get(req.Username)
	if err != nil {
		attempt = &loginAttempts{}
		tx.Set(req.Username, attempt)
	}

	if attempt.failed > 3 {
		nextAttempt := attempt.lastAttempt + 30*(attempt.failed*attempt.failed)
		if now.Unix() < nextAttempt {
			return LoginResponse{
				Message: fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", nextAttempt-now.Unix()),
			}
		}
	}

	creds, err := as.store.GetCredentials(ctx, req.Username)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			slog.Error("login lookup failed", "username", req.Username, "error", err)
		}
		return LoginResponse{Message: loginFailedMessage}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(req.Password)); err != nil {
		attempt.failed++
		attempt.lastAttempt = now.Unix()
		return LoginResponse{Message: loginFailedMessage}
	}

	token, expiresAt, err := as.IssueToken(creds.User)
	if err != nil {
		slog.Error("login failed", "user_id", creds.ID, "error", err)
		return LoginResponse{Message: "internal error"}
	}

	attempt.failed = 0
	attempt.lastAttempt = now.Unix()

	user := creds.User
	return LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: expiresAt.Unix(),
		User:        &user,
	}
}

// Logout revokes the token. Sessions already open with it are not closed.
func (as *AuthService) Logout(token string) error {
	claims, err := as.parseToken(token)
	if err != nil {
		return err
	}
	as.revoked.Set(claims.ID, claims.Subject)
	return nil
}

// Verify resolves a token to the identity it was issued for.
func (as *AuthService) Verify(ctx context.Context, token string) (models.Identity, error) {
	claims, err := as.parseToken(token)
	if err != nil {
		return models.Identity{}, err
	}

	if _, err := as.revoked.Get(claims.ID); err == nil {
		return models.Identity{}, fmt.Errorf("%w: token revoked", models.ErrUnauthorized)
	}

	user, err := as.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Identity{}, fmt.Errorf("%w: unknown user", models.ErrUnauthorized)
		}
		return models.Identity{}, fmt.Errorf("failed to load user: %w", err)
	}

	return models.Identity{UserID: user.ID, UserName: user.UserName}, nil
}
