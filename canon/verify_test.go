package canon

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/Half-Shot/hds/core"
	"github.com/Half-Shot/hds/goodkey"
	"github.com/Half-Shot/hds/hderr"
)

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

// TestSignVerifyRoundTrip exercises property P1.
func TestSignVerifyRoundTrip(t *testing.T) {
	priv := mustKey(t)
	serverKey, err := goodkey.EncodeServerKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("encode server key: %v", err)
	}

	payload := core.Payload{core.FieldTTL: int64(3600), "hds.host": "example.com"}
	signed, err := Sign(priv, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := Verify(serverKey, signed); err != nil {
		t.Fatalf("verify of freshly-signed payload failed: %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	priv := mustKey(t)
	serverKey, _ := goodkey.EncodeServerKey(&priv.PublicKey)

	signed, err := Sign(priv, core.Payload{core.FieldTTL: int64(3600), "hds.host": "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	signed["hds.host"] = "evil.example.com"

	err = Verify(serverKey, signed)
	if !hderr.Is(err, hderr.PayloadBadSignature) {
		t.Fatalf("expected bad_signature, got %v", err)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	priv := mustKey(t)
	serverKey, _ := goodkey.EncodeServerKey(&priv.PublicKey)

	signed, err := Sign(priv, core.Payload{core.FieldTTL: int64(3600), "hds.host": "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	signed[core.FieldSignature] = "notarealsig"

	err = Verify(serverKey, signed)
	if !hderr.Is(err, hderr.PayloadBadSignature) {
		t.Fatalf("expected bad_signature, got %v", err)
	}
}

// TestVerifyRejectsCrossPayloadSignatureReuse covers scenario 4's second
// case: re-signing a different payload and reusing that signature must
// still fail, not merely succeed against the wrong payload silently.
func TestVerifyRejectsCrossPayloadSignatureReuse(t *testing.T) {
	priv := mustKey(t)
	serverKey, _ := goodkey.EncodeServerKey(&priv.PublicKey)

	signedA, err := Sign(priv, core.Payload{core.FieldTTL: int64(3600), "hds.host": "a.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	otherSig := signedA[core.FieldSignature]

	payloadB := core.Payload{core.FieldTTL: int64(3600), "hds.host": "b.example.com", core.FieldSignature: otherSig}
	err = Verify(serverKey, payloadB)
	if !hderr.Is(err, hderr.PayloadBadSignature) {
		t.Fatalf("expected bad_signature for reused signature, got %v", err)
	}
}
