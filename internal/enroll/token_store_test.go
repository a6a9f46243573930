package enroll

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
)

// testStore connects to a local Redis and skips the test when none is
// reachable; the consume path runs a Lua script and cannot be faked.
func testStore(t *testing.T) *TokenStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { rdb.Close() })

	return NewTokenStore(rdb)
}

func TestGenerateToken_Unique(t *testing.T) {
	t1, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	t2, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	if len(t1) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(t1))
	}
	if t1 == t2 {
		t.Error("Expected distinct tokens per call")
	}
}

func TestConsumeToken_OneShot(t *testing.T) {
	ts := testStore(t)
	ctx := context.Background()

	token, err := ts.CreateToken(ctx, "warehouse-rack-3", 7, 60)
	if err != nil {
		t.Fatalf("CreateToken() failed: %v", err)
	}

	valid, err := ts.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken() failed: %v", err)
	}
	if !valid {
		t.Fatal("Expected a freshly created token to validate")
	}

	data, err := ts.ConsumeToken(ctx, token)
	if err != nil {
		t.Fatalf("ConsumeToken() failed: %v", err)
	}
	if data.DeviceName != "warehouse-rack-3" || data.UserID != 7 {
		t.Errorf("Unexpected token data: %+v", data)
	}

	// The token can only ever enroll one device.
	if _, err := ts.ConsumeToken(ctx, token); err == nil {
		t.Error("Expected error on a second consume")
	}
	valid, err = ts.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken() failed: %v", err)
	}
	if valid {
		t.Error("Expected the token to be gone after consumption")
	}
}

func TestConsumeToken_Unknown(t *testing.T) {
	ts := testStore(t)

	if _, err := ts.ConsumeToken(context.Background(), "never-issued"); err == nil {
		t.Error("Expected error for a token that was never issued")
	}
}
