package crypto

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if !VerifyPassword(hash, "secret") {
		t.Fatal("expected password verification to succeed")
	}

	if VerifyPassword(hash, "incorrect") {
		t.Fatal("expected password verification to fail")
	}
}

func TestHashPasswordWithCost(t *testing.T) {
	hash, err := HashPasswordWithCost("secret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("cost error: %v", err)
	}
	if cost != bcrypt.MinCost {
		t.Fatalf("expected cost %d, got %d", bcrypt.MinCost, cost)
	}

	fallback, err := HashPasswordWithCost("secret", 99)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if cost, _ := bcrypt.Cost([]byte(fallback)); cost != bcrypt.DefaultCost {
		t.Fatalf("expected default cost for out of range value, got %d", cost)
	}
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	if len(token) == 0 {
		t.Fatal("expected token to be non-empty")
	}

	other, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if token == other {
		t.Fatal("expected distinct tokens")
	}
}

func TestHashTokenIsDeterministic(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Fatal("expected identical digests")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Fatal("expected different digests")
	}
	if len(HashToken("abc")) != 64 {
		t.Fatalf("expected hex sha256 digest, got %q", HashToken("abc"))
	}
}
