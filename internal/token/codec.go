// Package token issues and verifies short-lived signed tokens that carry a
// small string claim set (mobile, user id, email).
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Audiences separate tokens issued for different flows so one cannot be replayed as another.
const (
	AudienceSMSCode     = "sms_code"
	AudienceSetPassword = "set_password"
	AudienceVerifyEmail = "verify_email"
	AudienceSession     = "session"
	AudienceOAuthQQ     = "oauth_qq"
)

// ErrInvalidToken is the only verification failure. Tampering, expiry and
// malformed input are deliberately indistinguishable to callers.
var ErrInvalidToken = errors.New("invalid token")

type Config struct {
	Secret string
	Issuer string
}

// IssuedAtNano keeps the sub-second issue instant; the registered iat and exp
// claims are whole seconds.
type claims struct {
	Data         map[string]string `json:"data"`
	IssuedAtNano int64             `json:"iat_ns,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs tokens with HS256 for a single audience.
type Codec struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Codec)

// WithClock overrides time.Now, used for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Codec) { c.logger = logger }
}

func NewCodec(cfg Config, audience string, opts ...Option) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if audience == "" {
		return nil, fmt.Errorf("token audience is required")
	}

	c := &Codec{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: audience,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs claims with an issuance time of now and an expiry of now+ttl.
func (c *Codec) Issue(data map[string]string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}

	now := c.now()
	payload := make(map[string]string, len(data))
	for k, v := range data {
		payload[k] = v
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		Data:         payload,
		IssuedAtNano: now.UnixNano(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ceilSecond(now.Add(ttl))),
		},
	})

	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, audience and age. Any failure yields ErrInvalidToken.
func (c *Codec) Verify(tokenString string, ttl time.Duration) (map[string]string, error) {
	parsed := &claims{}
	_, err := jwt.ParseWithClaims(tokenString, parsed, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(c.audience),
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		c.logger.Debug("Token rejected", zap.String("audience", c.audience), zap.Error(err))
		return nil, ErrInvalidToken
	}

	if parsed.IssuedAt == nil {
		return nil, ErrInvalidToken
	}
	issued := parsed.IssuedAt.Time
	if parsed.IssuedAtNano != 0 {
		issued = time.Unix(0, parsed.IssuedAtNano)
	}
	if c.now().Sub(issued) > ttl {
		c.logger.Debug("Token older than allowed ttl",
			zap.String("audience", c.audience),
			zap.Duration("ttl", ttl))
		return nil, ErrInvalidToken
	}

	if parsed.Data == nil {
		return map[string]string{}, nil
	}
	return parsed.Data, nil
}

// ceilSecond rounds t up so a whole-second exp never lands before t.
func ceilSecond(t time.Time) time.Time {
	whole := t.Truncate(time.Second)
	if whole.Before(t) {
		return whole.Add(time.Second)
	}
	return whole
}

func (c *Codec) Audience() string {
	return c.audience
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return c.secret, nil
}
