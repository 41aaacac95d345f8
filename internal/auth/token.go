// Package auth mints and verifies the tenant assertions attached to event
// bus envelopes. Producers sign an HS256 token naming the tenant they act
// for; the recorder refuses envelopes whose assertion does not check out,
// so tenant attribution on the bus is never taken on faith.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "berthhook"

var (
	ErrInvalidToken  = errors.New("auth: invalid tenant assertion")
	ErrMissingTenant = errors.New("auth: assertion has no tenant_id claim")
)

// Issuer mints tenant assertions for bus producers.
type Issuer struct {
	key []byte
	ttl time.Duration
}

// NewIssuer creates an issuer with the shared bus signing key.
func NewIssuer(key string, ttl time.Duration) *Issuer {
	return &Issuer{key: []byte(key), ttl: ttl}
}

// Mint returns a signed assertion for tenantID.
func (i *Issuer) Mint(tenantID string) (string, error) {
	if tenantID == "" {
		return "", ErrMissingTenant
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":       issuer,
		"iat":       now.Unix(),
		"exp":       now.Add(i.ttl).Unix(),
		"tenant_id": tenantID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
}

// Verifier validates tenant assertions on the consuming side.
type Verifier struct {
	key []byte
}

// NewVerifier creates a verifier with the shared bus signing key.
func NewVerifier(key string) *Verifier {
	return &Verifier{key: []byte(key)}
}

// Verify checks the assertion and returns the tenant id it names.
func (v *Verifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	tenantID, ok := claims["tenant_id"].(string)
	if !ok || tenantID == "" {
		return "", ErrMissingTenant
	}
	return tenantID, nil
}
