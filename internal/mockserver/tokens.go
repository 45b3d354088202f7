package mockserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errTokenRejected = errors.New("token rejected")

// tokenIssuer mints HS256 access tokens and opaque refresh tokens. Exactly one
// pair is live at a time; rotating it invalidates the previous one.
type tokenIssuer struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time

	mu      sync.Mutex
	access  string
	refresh string
	rotated int
	revoked bool
}

func newTokenIssuer(lifetime time.Duration, now func() time.Time) *tokenIssuer {
	return &tokenIssuer{
		secret:   []byte(uuid.NewString()),
		lifetime: lifetime,
		now:      now,
	}
}

func (t *tokenIssuer) sign(subject string) (string, error) {
	issued := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(t.lifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// issue replaces the live pair.
func (t *tokenIssuer) issue() (access, refresh string, err error) {
	access, err = t.sign("gameday-user")
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}
	refresh = "rt-" + uuid.NewString()
	t.mu.Lock()
	t.access, t.refresh, t.revoked = access, refresh, false
	t.mu.Unlock()
	return access, refresh, nil
}

// rotate exchanges a refresh token for a new pair.
func (t *tokenIssuer) rotate(refresh string) (string, string, error) {
	t.mu.Lock()
	ok := refresh != "" && refresh == t.refresh
	t.mu.Unlock()
	if !ok {
		return "", "", errTokenRejected
	}
	access, next, err := t.issue()
	if err != nil {
		return "", "", err
	}
	t.mu.Lock()
	t.rotated++
	t.mu.Unlock()
	return access, next, nil
}

// verify accepts only the live, unrevoked access token with a valid signature.
func (t *tokenIssuer) verify(token string) error {
	t.mu.Lock()
	live := token != "" && token == t.access && !t.revoked
	t.mu.Unlock()
	if !live {
		return errTokenRejected
	}
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return errors.Join(errTokenRejected, err)
	}
	return nil
}

func (t *tokenIssuer) revokeAccess() {
	t.mu.Lock()
	t.revoked = true
	t.mu.Unlock()
}

func (t *tokenIssuer) rotations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rotated
}
