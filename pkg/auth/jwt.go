package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/config"
)

var (
	ErrNoAccount    = errors.New("token carries no account id")
	ErrInvalidToken = errors.New("invalid access token")
)

// Identity is what a verified access token says about its bearer.
type Identity struct {
	AccountID uuid.UUID
	Email     string
	TokenID   string
}

// accessClaims mirrors the identity provider's token. Older tokens only
// carry the account in sub.
type accessClaims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Keys signs and verifies HS256 access tokens for one issuer.
type Keys struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

func NewKeys(cfg config.JWTConfig) (*Keys, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("jwt issuer is required")
	}
	if cfg.ExpirationMinutes <= 0 {
		return nil, errors.New("jwt expiration minutes must be positive")
	}
	if cfg.LeewaySeconds < 0 {
		return nil, errors.New("jwt leeway cannot be negative")
	}
	return &Keys{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(time.Duration(cfg.LeewaySeconds)*time.Second),
		),
	}, nil
}

// Verify checks signature, issuer and expiry and resolves the account id
// from user_id, falling back to sub.
func (k *Keys) Verify(token string) (Identity, error) {
	claims := &accessClaims{}
	if _, err := k.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return k.secret, nil
	}); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	raw := strings.TrimSpace(claims.UserID)
	if raw == "" {
		raw = strings.TrimSpace(claims.Subject)
	}
	if raw == "" {
		return Identity{}, ErrNoAccount
	}
	accountID, err := uuid.Parse(raw)
	if err != nil || accountID == uuid.Nil {
		return Identity{}, fmt.Errorf("%w: malformed account id %q", ErrInvalidToken, raw)
	}
	return Identity{
		AccountID: accountID,
		Email:     strings.ToLower(strings.TrimSpace(claims.Email)),
		TokenID:   claims.ID,
	}, nil
}

// Issue signs a token for id valid from now for the configured TTL. The API
// never issues tokens itself; this backs tests and local tooling.
func (k *Keys) Issue(now time.Time, id Identity) (string, error) {
	if id.AccountID == uuid.Nil {
		return "", ErrNoAccount
	}
	jti := id.TokenID
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := accessClaims{
		UserID: id.AccountID.String(),
		Email:  strings.TrimSpace(id.Email),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    k.issuer,
			Subject:   id.AccountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(k.ttl)),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}
