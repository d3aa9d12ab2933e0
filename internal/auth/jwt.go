package auth

import (
	"fmt"
	"time"

	"duet/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "duet"

type Claims struct {
	Username string `json:"name"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for the user. The subject is the user id.
func (as *AuthService) IssueToken(user models.User) (string, time.Time, error) {
	now := as.now()
	expiresAt := now.Add(as.TokenExpiry)

	claims := Claims{
		Username: user.UserName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(as.secretBytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

func (as *AuthService) parseToken(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", models.ErrUnauthorized)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			return as.secretBytes, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(as.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: incomplete claims", models.ErrUnauthorized)
	}
	return claims, nil
}
