package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

const labelPrefix = "mls10 "

var ErrInvalidKey = errors.New("invalid ed25519 key")

func NewEd25519Keypair() ([]byte, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// SignWithLabel signs content under a domain separation label.
func SignWithLabel(privKeyBytes []byte, label string, content []byte) ([]byte, error) {
	if len(privKeyBytes) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	return ed25519.Sign(ed25519.PrivateKey(privKeyBytes), labeled(label, content)), nil
}

func VerifyWithLabel(pubKeyBytes []byte, label string, content, sig []byte) bool {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), labeled(label, content), sig)
}

func labeled(label string, content []byte) []byte {
	b := make([]byte, 0, len(labelPrefix)+len(label)+len(content))
	b = append(b, labelPrefix...)
	b = append(b, label...)
	return append(b, content...)
}

func PublicKey(privKeyBytes []byte) ([]byte, error) {
	if len(privKeyBytes) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	return ed25519.PrivateKey(privKeyBytes).Public().(ed25519.PublicKey), nil
}
