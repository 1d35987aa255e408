package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"

	defaultAccessTTL  = 24 * time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the payload carried by both token kinds. Role is only set
// on access tokens.
type Claims struct {
	Role      Role   `json:"role,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenIssuer signs access and refresh tokens with two independent
// secrets, so a leaked refresh token cannot be replayed as an access
// token and vice versa.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenIssuer(accessSecret, refreshSecret string) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
}

func (t *TokenIssuer) WithTTL(accessTTL, refreshTTL time.Duration) *TokenIssuer {
	if accessTTL > 0 {
		t.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		t.refreshTTL = refreshTTL
	}
	return t
}

func (t *TokenIssuer) IssueAccessToken(userID string, role Role) (string, error) {
	now := t.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:      role,
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
		},
	})
	return token.SignedString(t.accessSecret)
}

func (t *TokenIssuer) IssueRefreshToken(userID string) (string, error) {
	now := t.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TokenType: typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.refreshTTL)),
		},
	})
	return token.SignedString(t.refreshSecret)
}

// VerifyAccessToken validates signature and expiry against the access
// secret. Expiry is reported as ErrTokenExpired so callers can surface
// a machine-readable expired code; every other failure collapses to
// ErrTokenInvalid.
func (t *TokenIssuer) VerifyAccessToken(tokenString string) (Claims, error) {
	return t.verify(tokenString, t.accessSecret, typeAccess)
}

func (t *TokenIssuer) VerifyRefreshToken(tokenString string) (Claims, error) {
	return t.verify(tokenString, t.refreshSecret, typeRefresh)
}

func (t *TokenIssuer) verify(tokenString string, secret []byte, wantType string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if !token.Valid || claims.TokenType != wantType || claims.Subject == "" {
		return Claims{}, ErrTokenInvalid
	}

	return claims, nil
}
