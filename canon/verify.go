package canon

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"encoding/base64"

	"github.com/Half-Shot/hds/core"
	"github.com/Half-Shot/hds/goodkey"
	"github.com/Half-Shot/hds/hderr"
)

// Verify checks that payload carries a valid RSA-PSS/SHA-512 signature
// under serverKey, per spec.md §4.1:
//
//  1. Decode serverKey to an RSA public key.
//  2. Remove hds.signature from a copy of the payload, base64-decode it.
//  3. Verify PSS(MGF1-SHA512, salt length detected from the signature, so
//     the maximum-length salt Sign produces is accepted) over the
//     canonical JSON of the payload minus its signature.
//
// Success returns nil; every failure mode returns an *hderr.Error with the
// kind the wire protocol expects.
func Verify(serverKey string, payload core.Payload) error {
	pub, err := goodkey.DecodeServerKey(serverKey)
	if err != nil {
		return err
	}

	sigB64, ok := payload[core.FieldSignature].(string)
	if !ok {
		return hderr.New(hderr.PayloadBadSignature, "hds.signature missing or not a string")
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return hderr.New(hderr.PayloadBadSignature, "could not decode signature bytes: %s", err)
	}

	stripped := make(core.Payload, len(payload)-1)
	for k, v := range payload {
		if k == core.FieldSignature {
			continue
		}
		stripped[k] = v
	}

	encoded, err := Encode(map[string]interface{}(stripped))
	if err != nil {
		return hderr.New(hderr.PayloadBadSignature, "could not canonicalize payload: %s", err)
	}

	digest := sha512.Sum512(encoded)
	err = rsa.VerifyPSS(pub, crypto.SHA512, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA512,
	})
	if err != nil {
		return hderr.New(hderr.PayloadBadSignature, "signature failed to verify")
	}
	return nil
}

// Sign signs payload with priv, the way a publishing client would, and
// returns a copy of it with hds.signature set; payload itself is not
// modified. It is exported for use by tests
// and the federation client, which signs on this directory's own behalf.
func Sign(priv *rsa.PrivateKey, payload core.Payload) (core.Payload, error) {
	encoded, err := Encode(map[string]interface{}(payload))
	if err != nil {
		return nil, err
	}
	digest := sha512.Sum512(encoded)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA512, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA512,
	})
	if err != nil {
		return nil, err
	}
	out := make(core.Payload, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out[core.FieldSignature] = base64.StdEncoding.EncodeToString(sig)
	return out, nil
}
