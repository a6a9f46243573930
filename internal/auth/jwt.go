package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fleetd/internal/config"
)

// Operator sessions are the only JWT surface in the system. Devices never
// hold JWTs; they authenticate with the opaque per-device token minted by the
// registry at registration.

// OperatorClaims are the claims carried by an operator session token.
type OperatorClaims struct {
	UID      int    `json:"uid"`
	Username string `json:"sub"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

var (
	jwtSecret []byte
	jwtIssuer string
	jwtTTL    time.Duration
)

// Init wires the JWT settings from configuration. Must be called before any
// token is issued or parsed.
func Init(cfg config.JWTConfig) {
	jwtSecret = []byte(cfg.Secret)
	jwtIssuer = cfg.Issuer
	jwtTTL = time.Duration(cfg.ExpireMinutes) * time.Minute
}

// IssueOperatorToken mints a session token for an operator account and
// returns it with its expiry.
func IssueOperatorToken(uid int, username, role string) (string, time.Time, error) {
	if len(jwtSecret) == 0 {
		return "", time.Time{}, fmt.Errorf("JWT secret not initialized")
	}

	now := time.Now()
	expireAt := now.Add(jwtTTL)
	claims := OperatorClaims{
		UID:      uid,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expireAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    jwtIssuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expireAt, nil
}

// ParseOperatorToken validates a session token: HMAC signature, expiry and
// the configured issuer all have to match.
func ParseOperatorToken(tokenString string) (*OperatorClaims, error) {
	if len(jwtSecret) == 0 {
		return nil, fmt.Errorf("JWT secret not initialized")
	}

	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	}, jwt.WithIssuer(jwtIssuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
