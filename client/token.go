package client

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// LocalToken returns an HS256 token accepted by an API running in local auth
// mode.
func LocalToken(secret, userID, tenantID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("local auth secret must be set")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(ttl).Unix(),
	}
	if tenantID != "" {
		claims["org_id"] = tenantID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
