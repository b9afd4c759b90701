package seal

import (
	"errors"

	"mls_chat/internal/cryptographic/dh"
	"mls_chat/internal/cryptographic/encryption"
	"mls_chat/internal/cryptographic/kdf"
)

var ErrMissingKey = errors.New("missing recipient key")

// Sealed is a payload encrypted to one recipient's X25519 public key
// under a fresh ephemeral key.
type Sealed struct {
	EphemeralKey []byte `msgpack:"ephemeral_key" json:"ephemeral_key"`
	Ciphertext   []byte `msgpack:"ciphertext" json:"ciphertext"`
}

// Seal encrypts plaintext so that only the holder of the private key
// matching recipientPub can open it. info binds the ciphertext to its use.
func Seal(alg encryption.Algorithm, recipientPub, info, plaintext []byte) (*Sealed, error) {
	if len(recipientPub) == 0 {
		return nil, ErrMissingKey
	}

	ekPriv, ekPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}

	shared, err := dh.X25519SharedSecret(ekPriv, recipientPub)
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(alg, shared, ekPub, recipientPub, info)
	if err != nil {
		return nil, err
	}

	ct, err := alg.Seal(key, plaintext, info)
	if err != nil {
		return nil, err
	}
	return &Sealed{EphemeralKey: ekPub, Ciphertext: ct}, nil
}

func Open(alg encryption.Algorithm, recipientPriv, info []byte, s *Sealed) ([]byte, error) {
	if len(recipientPriv) == 0 {
		return nil, ErrMissingKey
	}

	recipientPub, err := dh.PublicKey(recipientPriv)
	if err != nil {
		return nil, err
	}

	shared, err := dh.X25519SharedSecret(recipientPriv, s.EphemeralKey)
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(alg, shared, s.EphemeralKey, recipientPub, info)
	if err != nil {
		return nil, err
	}
	return alg.Open(key, s.Ciphertext, info)
}

func deriveKey(alg encryption.Algorithm, shared, ekPub, recipientPub, info []byte) ([]byte, error) {
	var salt []byte = make([]byte, 0, len(ekPub)+len(recipientPub))
	salt = append(salt, ekPub...)
	salt = append(salt, recipientPub...)

	key := make([]byte, alg.KeySize())
	if _, err := kdf.HKDF(shared, salt, append([]byte("SealKey"), info...), key); err != nil {
		return nil, err
	}
	return key, nil
}
