package auth

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte(os.Getenv("JWT_SECRET"))

const accessTokenTTL = 15 * time.Minute

var ErrInvalidClaims = errors.New("invalid token claims")

// SetSecret replaces the signing secret, called once at startup with the loaded config.
func SetSecret(s string) {
	secret = []byte(s)
}

func GenerateAccessToken(userID uint64, tokenVersion uint64) (string, error) {
	return generate(userID, tokenVersion, accessTokenTTL)
}

func generate(userID uint64, tokenVersion uint64, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id":       userID,
		"token_version": tokenVersion,
		"exp":           time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func VerifyJWT(tokenString string) (*jwt.Token, error) {
	jwtToken, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})

	if err != nil {
		return nil, err
	}

	// isValid
	if !jwtToken.Valid {
		return nil, errors.New("token invalid")
	}

	return jwtToken, nil
}

// GetDataFromToken extracts the user id and token version from a verified token
func GetDataFromToken(token *jwt.Token) (uint64, uint64, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, 0, ErrInvalidClaims
	}

	// numbers decode as float64
	userID, ok := claims["user_id"].(float64)
	if !ok || userID <= 0 {
		return 0, 0, ErrInvalidClaims
	}
	version, ok := claims["token_version"].(float64)
	if !ok {
		return 0, 0, ErrInvalidClaims
	}

	return uint64(userID), uint64(version), nil
}
