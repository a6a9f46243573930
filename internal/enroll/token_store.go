package enroll

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenStore handles enrollment token storage and one-shot consumption.
// An enrollment token lets an operator pre-name a device before it first
// registers; registration without one is still accepted.
type TokenStore struct {
	rdb *redis.Client
}

// NewTokenStore creates a new token store
func NewTokenStore(rdb *redis.Client) *TokenStore {
	return &TokenStore{rdb: rdb}
}

// TokenData represents the data stored in Redis for an enrollment token
type TokenData struct {
	DeviceName string `json:"deviceName"`
	UserID     int    `json:"userId"`
}

// GenerateToken generates a random token string
func GenerateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// CreateToken creates a new enrollment token in Redis
func (ts *TokenStore) CreateToken(ctx context.Context, deviceName string, userID, ttlSec int) (string, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	key := fmt.Sprintf("enroll:token:%s", token)
	data := TokenData{DeviceName: deviceName, UserID: userID}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token data: %w", err)
	}

	if err := ts.rdb.Set(ctx, key, jsonData, time.Duration(ttlSec)*time.Second).Err(); err != nil {
		return "", fmt.Errorf("failed to store token in Redis: %w", err)
	}

	return token, nil
}

// ValidateToken checks if a token exists without consuming it
func (ts *TokenStore) ValidateToken(ctx context.Context, token string) (bool, error) {
	key := fmt.Sprintf("enroll:token:%s", token)
	exists, err := ts.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token existence: %w", err)
	}
	return exists > 0, nil
}

// ConsumeToken atomically consumes a token and returns its data.
// Uses a Lua script so check-read-delete is a single step; a token can only
// ever enroll one device.
func (ts *TokenStore) ConsumeToken(ctx context.Context, token string) (*TokenData, error) {
	key := fmt.Sprintf("enroll:token:%s", token)

	script := `
		local key = KEYS[1]
		local data = redis.call('GET', key)
		if not data then
			return nil
		end
		redis.call('DEL', key)
		return data
	`

	result, err := ts.rdb.Eval(ctx, script, []string{key}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to execute consume script: %w", err)
	}

	if result == nil {
		return nil, fmt.Errorf("token not found or already consumed")
	}

	jsonData, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from Redis")
	}

	var data TokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}

	return &data, nil
}
