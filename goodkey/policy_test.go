package goodkey

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/Half-Shot/hds/hderr"
)

func TestEncodeDecodeServerKeyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	serverKey, err := EncodeServerKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeServerKey(serverKey)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.N.Cmp(key.PublicKey.N) != 0 || decoded.E != key.PublicKey.E {
		t.Fatalf("decoded key does not match original")
	}
}

func TestDecodeServerKeyRejectsGarbage(t *testing.T) {
	_, err := DecodeServerKey("not-valid-base58-!!!")
	if !hderr.Is(err, hderr.ServernameNotRSA) {
		t.Fatalf("expected servername.not_rsa, got %v", err)
	}
}

func TestValidateRejectsUndersizedKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := Validate(&key.PublicKey); !hderr.Is(err, hderr.ServernameNotRSA) {
		t.Fatalf("expected rejection of undersized key, got %v", err)
	}
}

func TestValidateAcceptsPolicyKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, MinRSAKeyBits)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := Validate(&key.PublicKey); err != nil {
		t.Fatalf("expected %d-bit key to pass policy, got %v", MinRSAKeyBits, err)
	}
}
