package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

var ErrTokenExpired = errors.New("auth token expired, log in again")

// expirySkew treats tokens about to expire as already expired.
const expirySkew = 30 * time.Second

// TokenSource serves the bearer token for the session channel and REST
// client. An environment override wins over the stored token.
type TokenSource struct {
	store  *Store
	envKey string
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewTokenSource(store *Store, envKey string, log logrus.FieldLogger) *TokenSource {
	if log == nil {
		log = store.log
	}
	return &TokenSource{
		store:  store,
		envKey: envKey,
		log:    log.WithField("component", "token"),
		now:    time.Now,
	}
}

// Token returns a usable token. JWTs past their expiry are rejected;
// opaque tokens are passed through.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	token := ""
	if t.envKey != "" {
		token = strings.TrimSpace(os.Getenv(t.envKey))
	}
	if token == "" {
		stored, err := t.store.StoredToken(ctx)
		if err != nil {
			return "", err
		}
		token = stored
	}

	expiry, ok := TokenExpiry(token)
	if !ok {
		t.log.Debug("token has no readable expiry")
		return token, nil
	}
	if !t.now().Add(expirySkew).Before(expiry) {
		return "", fmt.Errorf("%w (expired %s)", ErrTokenExpired, expiry.Format(time.RFC3339))
	}
	return token, nil
}

// TokenExpiry reads the exp claim of a JWT without verifying its
// signature. The signature is the backend's to check.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// TokenSubject returns the sub claim of a JWT, empty when unreadable.
func TokenSubject(token string) string {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return claims.Subject
}
