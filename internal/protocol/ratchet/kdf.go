package ratchet

import (
	"mls_chat/internal/cryptographic/kdf"
)

// KDFEpoch derives the next epoch secret and the application secret of the
// new epoch from the current epoch secret and a fresh commit secret.
// Uses HKDF with SHA-256, info = "EpochKDF".
func KDFEpoch(epochSecret, commitSecret []byte) (nextEpochSecret, applicationSecret []byte, err error) {
	buffer := make([]byte, 64)
	_, err = kdf.HKDF(commitSecret, epochSecret, []byte("EpochKDF"), buffer)
	if err != nil {
		return nil, nil, err
	}
	return buffer[:32], buffer[32:], nil
}

// KDFChainKey derives the next chain key and a message key.
// Uses HKDF with SHA-256, info = "ChainKDF".
func KDFChainKey(chainKey []byte) (nextChainKey, msgKey []byte, err error) {
	buffer := make([]byte, 64)
	_, err = kdf.HKDF([]byte("ChainInput"), chainKey, []byte("ChainKDF"), buffer)
	if err != nil {
		return nil, nil, err
	}
	return buffer[:32], buffer[32:], nil
}

// SenderChainKey derives the first chain key of one sender in an epoch.
func SenderChainKey(applicationSecret, sender []byte) ([]byte, error) {
	return kdf.ExpandWithLabel(applicationSecret, "sender", sender, 32)
}
