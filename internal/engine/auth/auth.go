package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskboard/internal/repo"
)

// ErrUnauthenticated is returned for any credential that cannot be verified.
var ErrUnauthenticated = errors.New("authentication required")

const (
	SourceJWT          = "jwt"
	SourceAPIKey       = "api_key"
	SourceLegacyHeader = "legacy_header"
)

// Principal is an authenticated caller.
type Principal struct {
	ActorID string
	Roles   []string
	Source  string
}

type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// Service verifies bearer tokens and API keys.
type Service struct {
	Repo      repo.Repo
	JWTSecret string
	TokenTTL  time.Duration
	Now       func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// AuthenticateJWT validates an HS256 token and returns its subject.
func (s Service) AuthenticateJWT(token string) (Principal, error) {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.JWTSecret), nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: subject claim required", ErrUnauthenticated)
	}
	return Principal{
		ActorID: claims.Subject,
		Roles:   claims.Roles,
		Source:  SourceJWT,
	}, nil
}

// AuthenticateAPIKey looks up the hashed key.
func (s Service) AuthenticateAPIKey(ctx context.Context, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, fmt.Errorf("%w: api key required", ErrUnauthenticated)
	}
	apiKey, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if errors.Is(err, repo.ErrNotFound) {
		return Principal{}, fmt.Errorf("%w: unknown api key", ErrUnauthenticated)
	}
	if err != nil {
		return Principal{}, err
	}
	if apiKey.ActorID == "" {
		return Principal{}, fmt.Errorf("%w: api key missing actor", ErrUnauthenticated)
	}
	return Principal{
		ActorID: apiKey.ActorID,
		Source:  SourceAPIKey,
	}, nil
}

// SignToken mints an HS256 token for actorID valid for TokenTTL (24h when unset).
func (s Service) SignToken(actorID string, roles []string) (string, time.Time, error) {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(actorID) == "" {
		return "", time.Time{}, errors.New("actor_id required")
	}
	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := s.now()
	expires := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    "taskboard",
		},
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}
