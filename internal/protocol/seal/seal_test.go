package seal

import (
	"testing"

	"mls_chat/internal/cryptographic/dh"
	"mls_chat/internal/cryptographic/encryption"

	"github.com/stretchr/testify/require"
)

func TestSeal_RoundTrip(t *testing.T) {
	for _, alg := range []encryption.Algorithm{encryption.AES128GCM, encryption.ChaCha20Poly1305} {
		priv, pub, err := dh.NewX25519KeyPair()
		require.NoError(t, err)

		s, err := Seal(alg, pub, []byte("info"), []byte("secret"))
		require.NoError(t, err)

		plain, err := Open(alg, priv, []byte("info"), s)
		require.NoError(t, err)
		require.Equal(t, []byte("secret"), plain)
	}
}

func TestSeal_WrongRecipientOrInfo(t *testing.T) {
	_, pub, err := dh.NewX25519KeyPair()
	require.NoError(t, err)
	otherPriv, _, err := dh.NewX25519KeyPair()
	require.NoError(t, err)

	s, err := Seal(encryption.AES128GCM, pub, []byte("info"), []byte("secret"))
	require.NoError(t, err)

	_, err = Open(encryption.AES128GCM, otherPriv, []byte("info"), s)
	require.Error(t, err)

	_, err = Seal(encryption.AES128GCM, nil, []byte("info"), []byte("secret"))
	require.ErrorIs(t, err, ErrMissingKey)
	_, err = Open(encryption.AES128GCM, nil, []byte("info"), s)
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestSeal_InfoIsBound(t *testing.T) {
	priv, pub, err := dh.NewX25519KeyPair()
	require.NoError(t, err)

	s, err := Seal(encryption.ChaCha20Poly1305, pub, []byte("epoch 1"), []byte("secret"))
	require.NoError(t, err)

	_, err = Open(encryption.ChaCha20Poly1305, priv, []byte("epoch 2"), s)
	require.Error(t, err)
}
