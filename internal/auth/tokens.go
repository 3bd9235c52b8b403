// Package auth verifies bearer tokens on the read API.
package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by read API tokens. An empty GatewayAccountIDs list grants
// access to every account.
type Claims struct {
	GatewayAccountIDs []string `json:"gateway_account_ids,omitempty"`
	jwt.RegisteredClaims
}

// AllowsAccount reports whether the token may read data of the gateway account.
func (c *Claims) AllowsAccount(id string) bool {
	return len(c.GatewayAccountIDs) == 0 || slices.Contains(c.GatewayAccountIDs, id)
}

// Restricted reports whether the token is limited to specific accounts.
func (c *Claims) Restricted() bool {
	return len(c.GatewayAccountIDs) > 0
}

// Verifier signs and validates HS256 tokens with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Sign issues a token for subject, valid for ttl.
func (v *Verifier) Sign(subject string, accounts []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		GatewayAccountIDs: accounts,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Validate parses tokenString and checks its signature, expiry and issuer.
func (v *Verifier) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
