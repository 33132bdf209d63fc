package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrTokenExpired reports a structurally valid, correctly signed credential
// whose expiry has passed. Callers that need the decoded claims anyway
// (admission orders its gates around this) still receive them alongside
// this error.
var ErrTokenExpired = errors.New("token expired")

// ErrTokenInvalid reports any other verification failure: bad signature,
// malformed structure, or a disallowed signing method.
var ErrTokenInvalid = errors.New("invalid token")

// Claims is the credential payload.
type Claims struct {
	// Tel is the subscriber identifier (the subject).
	Tel string `json:"tel"`
	// MaxConcurrent is the subscriber's concurrency ceiling.
	MaxConcurrent int `json:"maxConcurrent"`
	jwt.RegisteredClaims
}

// Config holds signing configuration. Instances are treated as immutable
// after NewManager.
type Config struct {
	// Secret is the HS256 signing key. Required.
	Secret []byte
	// Issuer, when set, is stamped into minted credentials and enforced
	// on parse.
	Issuer string
	// Leeway tolerates small clock skew during expiry validation.
	Leeway time.Duration
}

// Manager mints and parses credentials with a fixed signing configuration.
type Manager struct {
	config Config
}

// NewManager validates the configuration and returns a [Manager].
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("hs256 requires a signing secret")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// Mint signs a credential for the given subject. expiresAt is truncated to
// whole seconds, matching the exp claim's resolution.
func (m *Manager) Mint(tel string, expiresAt time.Time, maxConcurrent int) (string, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	claims := Claims{
		Tel:           tel,
		MaxConcurrent: maxConcurrent,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt.Truncate(time.Second)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.NewString(),
		},
	}
	if m.config.Issuer != "" {
		claims.Issuer = m.config.Issuer
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
}

// Parse verifies a credential and returns its claims.
//
// An expired credential returns the decoded claims together with
// [ErrTokenExpired]; every other failure returns nil claims and
// [ErrTokenInvalid]. The signing method allow-list rejects alg-confusion
// attempts regardless of what the header declares.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && parsed != nil {
			if claims, ok := parsed.Claims.(*Claims); ok {
				return claims, ErrTokenExpired
			}
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Tel == "" || claims.ExpiresAt == nil {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
