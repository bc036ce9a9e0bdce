// Package auth issues and validates the bearer tokens that gate the
// metrics surface when an admin secret is configured.
package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// APIKeyPrefix marks tokens minted by the token subcommand.
const APIKeyPrefix = "lmbridge-"

// JWTManager manages JWT tokens
type JWTManager struct {
	secretKey string
}

// Claims represents the JWT claims
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secretKey string) *JWTManager {
	return &JWTManager{
		secretKey: secretKey,
	}
}

// GenerateToken generates a new JWT token valid for 24 hours
func (j *JWTManager) GenerateToken(clientID string) (string, error) {
	claims := &Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(j.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns the claims
func (j *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(j.secretKey), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// GenerateAPIKey generates a JWT token and encodes it with the lmbridge- prefix
func (j *JWTManager) GenerateAPIKey(clientID string) (string, error) {
	jwtToken, err := j.GenerateToken(clientID)
	if err != nil {
		return "", fmt.Errorf("failed to generate JWT token: %w", err)
	}

	// Base64 without padding keeps the key shell-friendly
	encodedToken := base64.URLEncoding.EncodeToString([]byte(jwtToken))
	encodedToken = strings.TrimRight(encodedToken, "=")

	return APIKeyPrefix + encodedToken, nil
}

// ValidateAPIKey validates a prefixed API key and returns the JWT claims
func (j *JWTManager) ValidateAPIKey(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	if !strings.HasPrefix(tokenString, APIKeyPrefix) {
		return nil, fmt.Errorf("invalid API key format: must start with %q", APIKeyPrefix)
	}

	encodedToken := tokenString[len(APIKeyPrefix):]

	// Base64 decoding requires proper padding
	if padding := len(encodedToken) % 4; padding != 0 {
		encodedToken += strings.Repeat("=", 4-padding)
	}

	jwtBytes, err := base64.URLEncoding.DecodeString(encodedToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decode API key: %w", err)
	}

	return j.ValidateToken(string(jwtBytes))
}

// IsAPIKeyFormat checks if the token follows the prefixed API key format
func (j *JWTManager) IsAPIKeyFormat(tokenString string) bool {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	return strings.HasPrefix(tokenString, APIKeyPrefix)
}
