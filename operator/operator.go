package operator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("operator: invalid token")
	ErrMissingSecret = errors.New("operator: signing secret is required")
	ErrEmptyName     = errors.New("operator: name is required")
)

// Claims identify the operator acting on the queue. The name is what gets
// recorded in claimed_by, created_by and the ledger.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock overrides the time source used for issuing and verifying.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	if now != nil {
		t.now = now
	}
	return t
}

// Issue signs an HS256 token for name and returns it with its expiry.
func (t *Tokens) Issue(name string) (string, time.Time, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", time.Time{}, ErrEmptyName
	}
	issued := t.now()
	expires := issued.Add(t.ttl)

	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(issued),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("operator: sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a token and returns the operator name it carries.
func (t *Tokens) Verify(token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}

	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name = strings.TrimSpace(claims.Subject)
	}
	if name == "" {
		return "", fmt.Errorf("%w: no operator name", ErrInvalidToken)
	}
	return name, nil
}

// FromHeader extracts the token from an "Authorization: Bearer <token>" value.
func FromHeader(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: expected bearer authorization", ErrInvalidToken)
	}
	return strings.TrimSpace(parts[1]), nil
}
