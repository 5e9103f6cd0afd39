// Package auth holds the admin authentication primitives: bcrypt password
// checks and short-lived JWTs for the operator surface.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"x402_gateway/internal/config"
)

const adminTokenTTL = 15 * time.Minute

// GenerateAdminJWT creates a short-lived admin token.
func GenerateAdminJWT(cfg *config.Config) (string, int64, error) {
	expirationTime := time.Now().Add(adminTokenTTL).Unix()
	claims := jwt.MapClaims{
		"sub": "admin",
		"exp": expirationTime,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(cfg.JWTSecret)
	if err != nil {
		return "", 0, err
	}
	return signedToken, expirationTime, nil
}

// ValidateAdminJWT verifies the provided token and returns its claims.
func ValidateAdminJWT(tokenString string, cfg *config.Config) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.JWTSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
