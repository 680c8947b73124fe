package apitest

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// TokenConfig controls the access tokens the fake API issues.
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

func defaultTokenConfig() TokenConfig {
	return TokenConfig{
		Secret: "apitest-secret",
		Issuer: "storefront-apitest",
		TTL:    time.Hour,
	}
}

// accessClaims is the typed JWT handed to shoppers at login.
type accessClaims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// mintAccessToken issues a signed JWT for the user.
func mintAccessToken(cfg TokenConfig, now time.Time, userID int64, email string) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if cfg.TTL <= 0 {
		return "", fmt.Errorf("jwt ttl must be positive")
	}

	claims := accessClaims{
		UserID: userID,
		Email:  strings.ToLower(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// parseAccessToken validates signature, issuer and expiry.
func parseAccessToken(cfg TokenConfig, now func() time.Time, tokenString string) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
