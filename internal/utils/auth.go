package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xelth-com/dairysync/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL is the lifetime of a principal token
const DefaultTokenTTL = 12 * time.Hour

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	return string(bytes), err
}

// CheckPasswordHash compares a password with a hash
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateToken signs a bearer token carrying the principal
func GenerateToken(p models.Principal, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	claims := jwt.MapClaims{
		"id":         p.ID,
		"username":   p.Username,
		"role":       p.Role,
		"employeeId": p.EmployeeID,
		"exp":        time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken parses and validates a token
func ValidateToken(tokenString string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// PrincipalFromClaims rebuilds the principal carried by a token
func PrincipalFromClaims(claims jwt.MapClaims) (models.Principal, error) {
	str := func(key string) string {
		v, _ := claims[key].(string)
		return v
	}
	p := models.Principal{
		ID:         str("id"),
		Username:   str("username"),
		Role:       str("role"),
		EmployeeID: str("employeeId"),
	}
	if p.ID == "" || p.Role == "" {
		return models.Principal{}, errors.New("token carries no principal")
	}
	return p, nil
}
