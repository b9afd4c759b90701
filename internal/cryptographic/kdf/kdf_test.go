package kdf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandWithLabel(t *testing.T) {
	secret := []byte("epoch secret")

	a, err := ExpandWithLabel(secret, "application", nil, 32)
	require.NoError(t, err)
	require.Len(t, a, 32)

	again, err := ExpandWithLabel(secret, "application", nil, 32)
	require.NoError(t, err)
	require.Equal(t, a, again)

	b, err := ExpandWithLabel(secret, "welcome", nil, 32)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	short, err := ExpandWithLabel(secret, "application", nil, 16)
	require.NoError(t, err)
	require.NotEqual(t, a[:16], short)
}

func TestHKDF(t *testing.T) {
	buf := make([]byte, 64)
	n, err := HKDF([]byte("secret"), []byte("salt"), []byte("info"), buf)
	require.NoError(t, err)
	require.Equal(t, 64, n)
	require.NotEqual(t, make([]byte, 64), buf)
}
