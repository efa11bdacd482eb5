// Package token issues and verifies the signed tokens used for sessions and
// item transfers
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// ErrInvalidToken covers every way a token can fail verification
var ErrInvalidToken = errors.New("invalid token")

// Token types carried in the typ claim
const (
	TypeSession  = "session"
	TypeTransfer = "transfer"
)

// Claims embedded in every token
type Claims struct {
	Type string `json:"typ,omitempty"`
	// Ref binds a transfer token to what it transfers
	Ref string `json:"ref,omitempty"`
	jwt.RegisteredClaims
}

// Expiry returns the embedded expiry, zero when absent
func (c Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Config for a Codec
type Config struct {
	Secret      []byte
	Algorithm   string // HS256, HS384 or HS512
	Issuer      string
	SessionTTL  time.Duration
	TransferTTL time.Duration
	// Now overrides the clock, nil means time.Now
	Now func() time.Time
}

// Codec signs and verifies HMAC tokens with one fixed algorithm
type Codec struct {
	method      *jwt.SigningMethodHMAC
	secret      []byte
	issuer      string
	sessionTTL  time.Duration
	transferTTL time.Duration
	now         func() time.Time
	parser      *jwt.Parser
}

// NewCodec validates cfg and builds a Codec
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.SessionTTL <= 0 || cfg.TransferTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}

	var method *jwt.SigningMethodHMAC
	switch strings.ToUpper(cfg.Algorithm) {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Codec{
		method:      method,
		secret:      cfg.Secret,
		issuer:      cfg.Issuer,
		sessionTTL:  cfg.SessionTTL,
		transferTTL: cfg.TransferTTL,
		now:         now,
		parser:      jwt.NewParser(opts...),
	}, nil
}

// Issue signs a token for subject that expires after ttl
func (c *Codec) Issue(subject string, ttl time.Duration) (string, error) {
	return c.issue(subject, "", "", ttl)
}

// IssueSession signs a session token
func (c *Codec) IssueSession(subject string) (string, error) {
	return c.issue(subject, TypeSession, "", c.sessionTTL)
}

// IssueTransfer signs a short-lived transfer token for the recipient. ref is
// carried verbatim in the ref claim.
func (c *Codec) IssueTransfer(subject, ref string) (string, error) {
	return c.issue(subject, TypeTransfer, ref, c.transferTTL)
}

func (c *Codec) issue(subject, typ, ref string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}

	now := c.now()
	claims := Claims{
		Type: typ,
		Ref:  ref,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiryAt(now, ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// expiryAt rounds now+ttl up to a whole second. NumericDate truncates, which
// would otherwise expire a sub-second ttl before it is ever used.
func expiryAt(now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	if t := exp.Truncate(time.Second); t.Before(exp) {
		return t.Add(time.Second)
	}
	return exp
}

// Verify checks signature, algorithm and expiry. Every failure is reported
// as ErrInvalidToken wrapping the parser's reason.
func (c *Codec) Verify(raw string) (Claims, error) {
	var claims Claims
	if raw == "" {
		return claims, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	_, err := c.parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok || t.Method.Alg() != c.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
