package token

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers malformed tokens, bad signatures and
	// unexpected signing methods.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned when the token's embedded expiry has
	// passed.
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the verified identity carried by a session token.
type Claims struct {
	UserID   int
	IssuedAt time.Time
}

// Issuer creates and verifies signed, time-limited session tokens bound
// to a user id. Verification is stateless: a signature and expiry check
// against the configured secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer constructs an Issuer. An empty secret is a configuration
// error and must be rejected at startup by the caller.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue produces a signed token embedding the user id, issue time and
// expiry.
func (i *Issuer) Issue(userID int) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.Itoa(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify checks the token signature and expiry and returns the embedded
// identity. Failures map to ErrExpiredToken or ErrInvalidToken.
func (i *Issuer) Verify(tokenString string) (Claims, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	userID, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || userID < 1 {
		return Claims{}, ErrInvalidToken
	}
	if claims.IssuedAt == nil {
		return Claims{}, ErrInvalidToken
	}

	return Claims{UserID: userID, IssuedAt: claims.IssuedAt.Time}, nil
}
