package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "lumos-assistant"
	defaultAudience = "lumos-api"
	defaultLeeway   = 30 * time.Second
	defaultTTL      = 12 * time.Hour
)

var ErrInvalidSession = errors.New("invalid session")

// TokenRevoker tracks revoked token ids until they expire.
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type SessionConfig struct {
	Secret   string
	TTL      time.Duration
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// SessionIssuer issues and validates HS256 session tokens.
type SessionIssuer struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
	leeway   time.Duration
	revoker  TokenRevoker
	now      func() time.Time
}

// NewSessionIssuer builds an issuer. revoker may be nil, in which case
// tokens stay valid until they expire.
func NewSessionIssuer(cfg SessionConfig, revoker TokenRevoker) (*SessionIssuer, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 characters")
	}
	s := &SessionIssuer{
		secret:   []byte(secret),
		ttl:      cfg.TTL,
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		leeway:   cfg.Leeway,
		revoker:  revoker,
		now:      time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.issuer == "" {
		s.issuer = defaultIssuer
	}
	if s.audience == "" {
		s.audience = defaultAudience
	}
	if s.leeway <= 0 {
		s.leeway = defaultLeeway
	}
	return s, nil
}

// Issue signs a token for subject and returns it with its expiry.
func (s *SessionIssuer) Issue(subject string) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify validates token and returns its subject.
func (s *SessionIssuer) Verify(ctx context.Context, token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return "", err
		}
		if revoked {
			return "", ErrInvalidSession
		}
	}
	return claims.Subject, nil
}

// Revoke invalidates token until it would have expired.
func (s *SessionIssuer) Revoke(ctx context.Context, token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time.Sub(s.now()))
}

func (s *SessionIssuer) parse(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidSession
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return claims, ErrInvalidSession
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.ID) == "" {
		return claims, ErrInvalidSession
	}
	return claims, nil
}
