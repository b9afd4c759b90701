package encryption

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlgorithm_SealOpen(t *testing.T) {
	for _, alg := range []Algorithm{AES128GCM, ChaCha20Poly1305} {
		key := make([]byte, alg.KeySize())
		key[0] = 1

		ct, err := alg.Seal(key, []byte("plaintext"), []byte("aad"))
		require.NoError(t, err)

		pt, err := alg.Open(key, ct, []byte("aad"))
		require.NoError(t, err)
		require.Equal(t, []byte("plaintext"), pt)

		_, err = alg.Open(key, ct, []byte("other aad"))
		require.Error(t, err)
		_, err = alg.Open(key, ct[:4], []byte("aad"))
		require.Error(t, err)
		_, err = alg.Seal(key[:5], []byte("plaintext"), nil)
		require.Error(t, err)
	}
}
