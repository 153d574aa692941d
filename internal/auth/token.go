package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL bounds how long a member token stays valid.
const DefaultTTL = 12 * time.Hour

// ErrInvalidToken is returned for expired, malformed or foreign tokens.
var ErrInvalidToken = errors.New("invalid member token")

// MemberClaims identify a member inside one party room.
type MemberClaims struct {
	RoomCode string `json:"room"`
	jwt.RegisteredClaims
}

// MemberID returns the member the token was issued to.
func (c MemberClaims) MemberID() string {
	return c.Subject
}

// Issuer signs and verifies member tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. A non-positive ttl uses DefaultTTL.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue creates a signed token for memberID in roomCode.
func (i *Issuer) Issue(roomCode, memberID string) (string, error) {
	now := i.now()
	claims := MemberClaims{
		RoomCode: roomCode,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   memberID,
			Audience:  jwt.ClaimStrings{"party"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign member token: %w", err)
	}
	return token, nil
}

// Verify parses a token and checks it belongs to roomCode.
func (i *Issuer) Verify(tokenString, roomCode string) (*MemberClaims, error) {
	claims := &MemberClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience("party"),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.RoomCode != roomCode || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
