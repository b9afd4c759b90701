package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

type Algorithm int

const (
	AES128GCM Algorithm = iota
	ChaCha20Poly1305
)

// KeySize is the key length the algorithm expects.
func (a Algorithm) KeySize() int {
	switch a {
	case ChaCha20Poly1305:
		return chacha20poly1305.KeySize
	default:
		return 16
	}
}

func (a Algorithm) aead(key []byte) (cipher.AEAD, error) {
	switch a {
	case ChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("chacha20poly1305.New: %w", err)
		}
		return aead, nil
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes.NewCipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("cipher.NewGCM: %w", err)
		}
		return aead, nil
	}
}

// Seal returns nonce || ciphertext.
func (a Algorithm) Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := a.aead(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand.Read nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func (a Algorithm) Open(key, nonceAndCiphertext, aad []byte) ([]byte, error) {
	aead, err := a.aead(key)
	if err != nil {
		return nil, err
	}
	ns := aead.NonceSize()
	if len(nonceAndCiphertext) < ns {
		return nil, fmt.Errorf("ciphertext too short")
	}
	plain, err := aead.Open(nil, nonceAndCiphertext[:ns], nonceAndCiphertext[ns:], aad)
	if err != nil {
		return nil, fmt.Errorf("aead.Open: %w", err)
	}
	return plain, nil
}
