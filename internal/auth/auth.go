package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var ErrNoSubject = errors.New("token has no user id")

type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
}

// Tokens signs and validates HS256 bearer tokens with one shared secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

// BuildJWT issues a token for userID. Token issuance belongs to the user
// service; this exists for the simulator and tests.
func (t *Tokens) BuildJWT(userID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	})

	tokenString, err := token.SignedString(t.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// ValidateJWT returns the user id carried by tokenString.
func (t *Tokens) ValidateJWT(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(tk *jwt.Token) (interface{}, error) {
			if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tk.Header["alg"])
			}
			return t.secret, nil
		})
	if err != nil {
		return "", fmt.Errorf("token error: %w", err)
	}
	if !token.Valid {
		return "", errors.New("token is not valid")
	}
	if claims.UserID == "" {
		return "", ErrNoSubject
	}
	return claims.UserID, nil
}
