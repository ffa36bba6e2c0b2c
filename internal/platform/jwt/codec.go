// Package jwtmw issues and verifies signed, time-limited tokens and provides
// the bearer-token middleware for gin.
package jwtmw

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"account_backend/internal/feature/account/usecase"
)

const defaultIssuer = "account_backend"

// ErrEmptySecret is returned when the codec is constructed without a signing secret.
var ErrEmptySecret = errors.New("jwt: signing secret is empty")

// Claims is the token payload. Subject carries the email for confirmation
// tokens and the public user id for session tokens. Session tokens also
// carry the account identity claims.
type Claims struct {
	jwt.RegisteredClaims
	Purpose  string `json:"purpose"`
	Refresh  bool   `json:"refresh,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	// AccountID is the numeric primary key. The name avoids RegisteredClaims.ID (jti).
	AccountID uint `json:"id,omitempty"`
}

// Codec signs tokens with HS256 using a key derived per purpose from one secret.
// A token issued for one purpose never verifies for another.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source used for iat, exp and age checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithIssuer sets the iss claim written and required on every token.
func WithIssuer(issuer string) Option {
	return func(c *Codec) { c.issuer = issuer }
}

var _ usecase.TokenCodec = (*Codec)(nil)

// NewCodec creates a Codec from the service signing secret.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	c := &Codec{
		secret: []byte(secret),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for subject. A zero ttl omits the exp claim; such
// tokens are bounded only by the maxAge given to Verify.
func (c *Codec) Issue(subject, purpose string, ttl time.Duration) (string, error) {
	return c.sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}, purpose, ttl)
}

// IssueSession signs an access or refresh token whose subject is the public
// user id and which carries the user_id, email, username and id claims.
func (c *Codec) IssueSession(s usecase.SessionClaims, purpose string, ttl time.Duration) (string, error) {
	return c.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: s.UserID},
		UserID:           s.UserID,
		Email:            s.Email,
		Username:         s.Username,
		AccountID:        s.ID,
	}, purpose, ttl)
}

func (c *Codec) sign(claims Claims, purpose string, ttl time.Duration) (string, error) {
	key, err := c.key(purpose)
	if err != nil {
		return "", err
	}
	now := c.now()
	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ID = uuid.NewString()
	claims.Purpose = purpose
	claims.Refresh = purpose == usecase.PurposeRefresh
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, purpose and age and returns the subject.
// Errors are usecase.ErrTokenExpired for authentic but stale tokens and
// usecase.ErrTokenInvalid for everything else.
func (c *Codec) Verify(token, purpose string, maxAge time.Duration) (string, error) {
	claims, err := c.Parse(token, purpose, maxAge)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Parse is Verify returning the full claims.
func (c *Codec) Parse(token, purpose string, maxAge time.Duration) (*Claims, error) {
	key, err := c.key(purpose)
	if err != nil {
		return nil, err
	}

	var claims Claims
	_, err = jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(c.issuer),
	)
	if err != nil {
		// The signature is checked before exp, so expiry is only reported for authentic tokens.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, usecase.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", usecase.ErrTokenInvalid, err)
	}

	if claims.Purpose != purpose || claims.Subject == "" || claims.IssuedAt == nil {
		return nil, usecase.ErrTokenInvalid
	}
	// iat has whole-second precision, so the age is measured in whole seconds too.
	if maxAge > 0 && c.now().Truncate(time.Second).Sub(claims.IssuedAt.Time) > maxAge {
		return nil, usecase.ErrTokenExpired
	}
	return &claims, nil
}

// key derives the HMAC key for purpose.
func (c *Codec) key(purpose string) ([]byte, error) {
	if purpose == "" {
		return nil, fmt.Errorf("%w: empty purpose", usecase.ErrTokenInvalid)
	}
	k := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.secret, nil, []byte(c.issuer+"/"+purpose)), k); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return k, nil
}
