package esign

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for webhook calls whose token does not verify
// or does not cover the event being delivered.
var ErrUnauthorized = errors.New("esign: unauthorized")

// Claims are what the signing provider asserts about one completion event.
type Claims struct {
	DocumentID string
	SignerID   string
	EventID    string
}

// Verifier checks HS256 tokens issued by the signing provider.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) (*Verifier, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("esign: webhook secret must be at least 16 characters")
	}
	return &Verifier{secret: []byte(secret), now: time.Now}, nil
}

func (v *Verifier) Verify(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, ErrUnauthorized
	}
	var c Claims
	if c.DocumentID, ok = mc["document_id"].(string); !ok || c.DocumentID == "" {
		return Claims{}, fmt.Errorf("%w: missing document_id", ErrUnauthorized)
	}
	if c.SignerID, ok = mc["signer_id"].(string); !ok || c.SignerID == "" {
		return Claims{}, fmt.Errorf("%w: missing signer_id", ErrUnauthorized)
	}
	c.EventID, _ = mc["jti"].(string)
	return c, nil
}

// Issue signs claims the way the provider does. Used by tooling and tests.
func (v *Verifier) Issue(c Claims, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.MapClaims{
		"document_id": c.DocumentID,
		"signer_id":   c.SignerID,
		"iat":         now.Unix(),
		"exp":         now.Add(ttl).Unix(),
	}
	if c.EventID != "" {
		claims["jti"] = c.EventID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
