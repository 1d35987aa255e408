package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultMaxAttempts  = 5
	defaultLockDuration = 15 * time.Minute

	minPasswordLen      = 8
	minAdminPasswordLen = 12

	adminPasswordSymbols = "!@#$%^&*()-_=+[]{};:,.?"
)

// Store is the credential-store surface the service depends on. The
// Postgres Repository satisfies it; tests use an in-memory fake.
type Store interface {
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	IdentityExists(ctx context.Context, username, email string) (bool, error)
	Create(ctx context.Context, user User) (User, error)
	RecordFailedAttempt(ctx context.Context, userID string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginState(ctx context.Context, userID string) error
	AppendRefreshToken(ctx context.Context, userID, rawToken string, issuedAt time.Time) error
	HasRefreshToken(ctx context.Context, userID, rawToken string) (bool, error)
	RemoveRefreshToken(ctx context.Context, userID, rawToken string) error
}

type Service struct {
	store        Store
	tokens       *TokenIssuer
	adminSecret  string
	maxAttempts  int
	lockDuration time.Duration
	now          func() time.Time
}

func NewService(store Store, tokens *TokenIssuer, adminSecret string) *Service {
	return &Service{
		store:        store,
		tokens:       tokens,
		adminSecret:  adminSecret,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockDuration,
		now:          time.Now,
	}
}

func (s *Service) WithLockoutPolicy(maxAttempts int, lockDuration time.Duration) *Service {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	return s
}

// Login walks the attempt through credential lookup, the admin step-up
// when the account is an admin, the lock check and the password check.
// Lockout is account-wide: attempts from any source accumulate on the
// same counter.
func (s *Service) Login(ctx context.Context, email, password, adminToken string) (LoginResult, error) {
	email = strings.TrimSpace(email)
	adminToken = strings.TrimSpace(adminToken)

	if email == "" || password == "" {
		return LoginResult{}, validationErrorf("email and password are required")
	}

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Never reveal whether the email exists.
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	now := s.now().UTC()

	if user.Role == RoleAdmin {
		if adminToken == "" {
			if _, err := s.store.RecordFailedAttempt(ctx, user.ID, s.maxAttempts, s.lockDuration, now); err != nil {
				return LoginResult{}, err
			}
			return LoginResult{}, ErrAdminTokenRequired
		}
		if adminToken != s.adminSecret {
			if _, err := s.store.RecordFailedAttempt(ctx, user.ID, s.maxAttempts, s.lockDuration, now); err != nil {
				return LoginResult{}, err
			}
			return LoginResult{}, ErrInvalidAdminToken
		}
	}

	if user.Locked(now) {
		return LoginResult{}, ErrAccountLocked{Until: *user.LockedUntil}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if _, err := s.store.RecordFailedAttempt(ctx, user.ID, s.maxAttempts, s.lockDuration, now); err != nil {
			return LoginResult{}, err
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.store.ResetLoginState(ctx, user.ID); err != nil {
		return LoginResult{}, err
	}

	accessToken, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, err
	}
	refreshToken, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.store.AppendRefreshToken(ctx, user.ID, refreshToken, now); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user.Public(),
	}, nil
}

// Register is the self-registration path. The role is always forced to
// user; callers attempting to supply one are rejected outright.
func (s *Service) Register(ctx context.Context, username, email, password, requestedRole string) (PublicUser, error) {
	if strings.TrimSpace(requestedRole) != "" {
		return PublicUser{}, validationErrorf("role cannot be set on registration")
	}

	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return PublicUser{}, validationErrorf("username, email and password are required")
	}
	if len(password) < minPasswordLen {
		return PublicUser{}, validationErrorf("password must be at least %d characters", minPasswordLen)
	}

	return s.createUser(ctx, username, email, password, RoleUser)
}

// RegisterAdmin requires the shared admin secret and a stronger
// password than self-registration.
func (s *Service) RegisterAdmin(ctx context.Context, username, email, password, adminToken string) (PublicUser, error) {
	adminToken = strings.TrimSpace(adminToken)
	if adminToken == "" {
		return PublicUser{}, ErrAdminTokenRequired
	}
	if adminToken != s.adminSecret {
		return PublicUser{}, ErrInvalidAdminToken
	}

	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return PublicUser{}, validationErrorf("username, email and password are required")
	}
	if len(password) < minAdminPasswordLen {
		return PublicUser{}, validationErrorf("admin password must be at least %d characters", minAdminPasswordLen)
	}
	if !passwordMeetsComplexity(password) {
		return PublicUser{}, validationErrorf("admin password must contain lowercase, uppercase, digit and symbol")
	}

	return s.createUser(ctx, username, email, password, RoleAdmin)
}

func (s *Service) createUser(ctx context.Context, username, email, password string, role Role) (PublicUser, error) {
	exists, err := s.store.IdentityExists(ctx, username, email)
	if err != nil {
		return PublicUser{}, err
	}
	if exists {
		return PublicUser{}, ErrDuplicateIdentity
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return PublicUser{}, err
	}

	user, err := s.store.Create(ctx, User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return PublicUser{}, err
	}

	return user.Public(), nil
}

// Refresh mints a new access token off a valid refresh token. The token
// must verify, its subject must still exist and be active, and its
// literal string must still be a member of the user's refresh-token
// set. Refresh tokens are not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return "", ErrInvalidRefreshToken
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return "", ErrInvalidRefreshToken
	}

	user, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrInvalidRefreshToken
		}
		return "", err
	}
	if !user.IsActive {
		return "", ErrInvalidRefreshToken
	}

	member, err := s.store.HasRefreshToken(ctx, user.ID, refreshToken)
	if err != nil {
		return "", err
	}
	if !member {
		return "", ErrInvalidRefreshToken
	}

	return s.tokens.IssueAccessToken(user.ID, user.Role)
}

// Logout removes the refresh token from the caller's set. A token that
// was never present, or was already removed, is not an error.
func (s *Service) Logout(ctx context.Context, userID, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	return s.store.RemoveRefreshToken(ctx, userID, refreshToken)
}

func (s *Service) CurrentUser(ctx context.Context, userID string) (PublicUser, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return PublicUser{}, err
	}

	return user.Public(), nil
}

// ActiveUser confirms the token subject still exists and is active.
// Used by the access guard before trusting token claims.
func (s *Service) ActiveUser(ctx context.Context, userID string) (User, error) {
	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if !user.IsActive {
		return User{}, ErrUserInactive
	}

	return user, nil
}

func passwordMeetsComplexity(password string) bool {
	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(adminPasswordSymbols, r):
			symbol = true
		}
	}
	return lower && upper && digit && symbol
}
