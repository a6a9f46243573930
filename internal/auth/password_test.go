package auth

import "testing"

func TestHashOperatorPassword(t *testing.T) {
	hash, err := HashOperatorPassword("fleet-op-secret")
	if err != nil {
		t.Fatalf("HashOperatorPassword() failed: %v", err)
	}
	if hash == "" || hash == "fleet-op-secret" {
		t.Error("Expected a non-empty hash different from the plain text")
	}
}

func TestHashOperatorPassword_EmptyRefused(t *testing.T) {
	if _, err := HashOperatorPassword(""); err == nil {
		t.Error("Expected error for an empty password")
	}
}

func TestVerifyOperatorPassword(t *testing.T) {
	hash, err := HashOperatorPassword("fleet-op-secret")
	if err != nil {
		t.Fatalf("HashOperatorPassword() failed: %v", err)
	}

	if err := VerifyOperatorPassword(hash, "fleet-op-secret"); err != nil {
		t.Errorf("VerifyOperatorPassword() failed for the correct password: %v", err)
	}
	if err := VerifyOperatorPassword(hash, "guess"); err == nil {
		t.Error("Expected error for a wrong password")
	}
}

func TestHashOperatorPassword_SaltedPerCall(t *testing.T) {
	hash1, _ := HashOperatorPassword("fleet-op-secret")
	hash2, _ := HashOperatorPassword("fleet-op-secret")

	// bcrypt salts every hash, so two hashes of the same input differ but
	// both verify.
	if hash1 == hash2 {
		t.Error("Expected different hashes for the same password")
	}
	if err := VerifyOperatorPassword(hash1, "fleet-op-secret"); err != nil {
		t.Errorf("First hash failed to verify: %v", err)
	}
	if err := VerifyOperatorPassword(hash2, "fleet-op-secret"); err != nil {
		t.Errorf("Second hash failed to verify: %v", err)
	}
}
