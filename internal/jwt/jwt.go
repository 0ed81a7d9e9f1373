package jwt

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/principal"
)

// Claims carried by a principal token.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string         `json:"user_id"`
	CompanyID string         `json:"company_id,omitempty"`
	Kind      principal.Kind `json:"kind"`
}

// GetPrincipal extracts and verifies the principal from a JWT string.
func GetPrincipal(tokenString, secret string) (*principal.Principal, error) {
	claims := new(Claims)

	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			// Verify that the token method is HS256.
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf(
					"unexpected signing method: %v", token.Header["alg"],
				)
			}
			return []byte(secret), nil
		})
	if err != nil {
		return nil, fmt.Errorf("error parsing token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return &principal.Principal{
		UserID:    claims.UserID,
		CompanyID: claims.CompanyID,
		Kind:      claims.Kind,
	}, nil
}

// BuildString creates a signed token for the given principal. The
// identity service is the real issuer; this helper exists for tests
// and local tooling.
func BuildString(p *principal.Principal, secret string, tokenExp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenExp)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID:    p.UserID,
		CompanyID: p.CompanyID,
		Kind:      p.Kind,
	})

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Bearer %s", tokenString), nil
}
