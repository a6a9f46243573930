package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashOperatorPassword hashes an operator password with bcrypt. Empty
// passwords are refused here rather than at every call site.
func HashOperatorPassword(plain string) (string, error) {
	if plain == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyOperatorPassword checks a plain password against its stored bcrypt
// hash. A nil return means the password matches.
func VerifyOperatorPassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
