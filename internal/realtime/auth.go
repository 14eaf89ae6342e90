package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	appErr "arenaoj/pkg/errors"
)

const defaultTokenTTL = 24 * time.Hour

// TokenVerifier validates a websocket ticket and returns the user behind it.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Claims carries the identity encoded in a websocket ticket.
type Claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// TokenAuthenticator issues and verifies the HS256 tickets that authenticate
// websocket connections. The upgrade request carries the ticket as a query
// parameter because browsers cannot set headers on websocket dials.
type TokenAuthenticator struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTokenAuthenticator creates an authenticator from a shared secret.
func NewTokenAuthenticator(secret string, ttl time.Duration) (*TokenAuthenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenAuthenticator{secret: []byte(secret), ttl: ttl, issuer: "arenaoj"}, nil
}

// Issue creates a ticket for one user.
func (a *TokenAuthenticator) Issue(userID int64) (string, error) {
	if userID <= 0 {
		return "", appErr.ValidationError("user_id", "required")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", appErr.Wrap(err, appErr.InternalServerError)
	}
	return signed, nil
}

// Verify validates a ticket and returns the user id it carries.
func (a *TokenAuthenticator) Verify(token string) (int64, error) {
	if token == "" {
		return 0, appErr.New(appErr.TokenInvalid)
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, appErr.Wrap(err, appErr.TokenExpired)
		}
		return 0, appErr.Wrap(err, appErr.TokenInvalid)
	}
	if !parsed.Valid || claims.UserID <= 0 {
		return 0, appErr.New(appErr.TokenInvalid)
	}
	return claims.UserID, nil
}
