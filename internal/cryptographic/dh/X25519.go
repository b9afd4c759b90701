package dh

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const KeySize = curve25519.ScalarSize

// NewX25519KeyPair generates a leaf or init key pair.
func NewX25519KeyPair() (priv, pub []byte, err error) {
	priv = make([]byte, KeySize)
	if _, err = rand.Read(priv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	pub, err = PublicKey(priv)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// PublicKey derives the public half of an X25519 private key.
func PublicKey(priv []byte) ([]byte, error) {
	if len(priv) != KeySize {
		return nil, fmt.Errorf("invalid private key length %d", len(priv))
	}
	return curve25519.X25519(priv, curve25519.Basepoint)
}

// X25519SharedSecret performs priv * pub. Low-order public keys are rejected.
func X25519SharedSecret(priv, pub []byte) ([]byte, error) {
	if len(priv) != KeySize || len(pub) != KeySize {
		return nil, fmt.Errorf("invalid key length: priv=%d pub=%d", len(priv), len(pub))
	}
	return curve25519.X25519(priv, pub)
}
