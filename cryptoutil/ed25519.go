// Package cryptoutil wraps the Ed25519 primitives and hashing/canonical-
// JSON helpers every other component signs or digests with.
//
// Keypair derivation and mnemonic handling are explicitly out of scope
// (spec.md §1): callers bring their own PrivateKey/PublicKey; this package
// only signs, verifies, and hashes.
package cryptoutil

import (
	stded25519 "crypto/ed25519"
	"errors"
)

const (
	PublicKeySize  = stded25519.PublicKeySize
	PrivateKeySize = stded25519.PrivateKeySize
	SignatureSize  = stded25519.SignatureSize
)

type (
	PublicKey  = stded25519.PublicKey
	PrivateKey = stded25519.PrivateKey
)

var ErrInvalidPublicKeySize = errors.New("cryptoutil: public key must be 32 bytes")

// Sign produces an Ed25519 signature over msg.
func Sign(priv PrivateKey, msg []byte) []byte {
	return stded25519.Sign(priv, msg)
}

// Verify reports whether sig is a valid Ed25519 signature of msg under pub.
// A malformed public key is a verification failure, not a panic.
func Verify(pub PublicKey, msg, sig []byte) bool {
	if len(pub) != PublicKeySize {
		return false
	}
	return stded25519.Verify(pub, msg, sig)
}

// ParsePublicKey validates and returns a 32-byte Ed25519 public key.
func ParsePublicKey(b []byte) (PublicKey, error) {
	if len(b) != PublicKeySize {
		return nil, ErrInvalidPublicKeySize
	}
	out := make(PublicKey, PublicKeySize)
	copy(out, b)
	return out, nil
}
