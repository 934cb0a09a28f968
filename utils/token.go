package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const RoleAdmin = "Admin"

type JwtCustomClaim struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.StandardClaims
}

func jwtSecret() []byte {
	return []byte(os.Getenv("API_SECRET"))
}

// JwtGenerate signs an operator token; TOKEN_HOUR_LIFESPAN defaults to 12.
func JwtGenerate(userID int, username string, role string) (string, error) {
	secret := jwtSecret()
	if len(secret) == 0 {
		return "", errors.New("API_SECRET not set")
	}
	lifespan := 12
	if v := os.Getenv("TOKEN_HOUR_LIFESPAN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", err
		}
		lifespan = n
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		ID:       userID,
		Username: username,
		Role:     role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(time.Hour * time.Duration(lifespan)).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})

	return t.SignedString(secret)
}

func JwtValidate(token string) (*jwt.Token, error) {
	secret := jwtSecret()
	if len(secret) == 0 {
		return nil, errors.New("API_SECRET not set")
	}
	return jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return secret, nil
	})
}
