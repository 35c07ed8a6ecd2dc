// Package goodkey decodes and validates HDS host identifiers: a ServerKey
// is the Base58 encoding of the DER SubjectPublicKeyInfo of an RSA public
// key (spec.md §3), and this package is where that decode/validate step
// lives, the way boulder's goodkey package is where ACME account key
// policy (size, weak-key blocklist) is centralized.
package goodkey

import (
	"crypto/rsa"
	"crypto/x509"

	"github.com/mr-tron/base58"

	"github.com/Half-Shot/hds/hderr"
)

// MinRSAKeyBits is the smallest RSA modulus size HDS will accept as a host
// identifier. Boulder's goodkey.KeyPolicy enforces an equivalent floor for
// ACME account keys; HDS reuses the same 2048-bit floor since the
// identifier doubles as a long-lived signing key.
const MinRSAKeyBits = 2048

// DecodeServerKey decodes a ServerKey (Base58 of DER SPKI) into an RSA
// public key, per spec.md §4.1 step 1.
func DecodeServerKey(serverKey string) (*rsa.PublicKey, error) {
	der, err := base58.Decode(serverKey)
	if err != nil {
		return nil, hderr.New(hderr.ServernameNotRSA, "could not base58-decode server key: %s", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, hderr.New(hderr.ServernameNotRSA, "could not parse DER SPKI: %s", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, hderr.New(hderr.ServernameNotRSA, "server key is not an RSA public key")
	}
	return rsaPub, nil
}

// EncodeServerKey is the inverse of DecodeServerKey: it derives the
// ServerKey identifier for an RSA public key. Used by the Federation
// Client and Bootstrap to learn this directory's own identifier from its
// configured key pair.
func EncodeServerKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base58.Encode(der), nil
}

// Validate applies HDS's key policy to a freshly-decoded public key: a
// floor on modulus size. This is the extension point a real deployment
// would also use to reject known-weak moduli (ROCA etc.), the way
// boulder's KeyPolicy consults a blocklist — HDS does not carry that
// blocklist itself (out of the distilled spec's scope) but the hook lives
// here rather than inline in the verifier so it can be added without
// reshaping callers.
func Validate(pub *rsa.PublicKey) error {
	if pub.N.BitLen() < MinRSAKeyBits {
		return hderr.New(hderr.ServernameNotRSA, "RSA key is smaller than the minimum of %d bits", MinRSAKeyBits)
	}
	return nil
}
