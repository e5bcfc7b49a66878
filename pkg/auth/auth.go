package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coscribe/coscribe/pkg/types"
)

// ErrInvalidToken is returned for missing, malformed or expired tokens.
var ErrInvalidToken = errors.New("invalid token")

// Verifier validates bearer tokens and extracts the principal they assert.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for HS256 tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

type claims struct {
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

// Verify parses and validates token, returning the asserted principal.
// Expiry is enforced by the jwt library when the exp claim is present.
func (v *Verifier) Verify(token string) (*types.Principal, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" {
		return nil, ErrInvalidToken
	}

	name := c.DisplayName
	if name == "" {
		name = c.Subject
	}
	return &types.Principal{ID: c.Subject, DisplayName: name}, nil
}

// Sign mints a token for principal. Used by tests and local tooling; token
// issuance in production belongs to the account service.
func (v *Verifier) Sign(principal *types.Principal) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		DisplayName: principal.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: principal.ID,
		},
	})
	return token.SignedString(v.secret)
}
