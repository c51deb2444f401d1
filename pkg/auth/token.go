package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
)

// TokenIssuer is the iss claim of rentshelf access tokens
const TokenIssuer = "rentshelf"

var (
	// ErrInvalidToken is returned for malformed, forged or foreign tokens
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned once a token's exp has passed
	ErrExpiredToken = errors.New("token expired")
)

// TokenManager issues and verifies HS256 access tokens.
// Tokens carry only the user id; admin status is read from the store on every request.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewTokenManager creates a token manager
func NewTokenManager(secret string, ttl time.Duration, clock clockwork.Clock) *TokenManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clock,
	}
}

// IssueToken signs a token for userID
func (tm *TokenManager) IssueToken(userID int64) (string, time.Time, error) {
	now := tm.clock.Now()
	expiresAt := now.Add(tm.ttl)

	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// ParseToken verifies token and returns its subject user id
func (tm *TokenManager) ParseToken(token string) (int64, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return tm.secret, nil
	}); err != nil {
		return 0, ErrInvalidToken
	}

	// Time-based claims are checked against the injected clock.
	now := tm.clock.Now()
	if !claims.VerifyExpiresAt(now, true) {
		return 0, ErrExpiredToken
	}
	if !claims.VerifyNotBefore(now, false) || !claims.VerifyIssuer(TokenIssuer, true) {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}
