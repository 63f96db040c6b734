// Package auth issues and verifies the HS256 access tokens that carry the
// caller's user id and, optionally, the tenant the token is scoped to.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/tenantry/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the registered claims plus the user id and an optional tenant slug.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Tenant string `json:"tenant,omitempty"`
}

// GenerateToken signs a token for userID. An empty tenant makes the token
// valid for every tenant the user can reach.
func GenerateToken(userID, tenant string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: userID,
		Tenant: tenant,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies tokenString and returns its claims. Expired tokens
// yield common.ErrTokenExpired; anything else invalid yields
// common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}

func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims, err := ParseToken(tokenString, secretKey)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
