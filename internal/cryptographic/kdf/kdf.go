package kdf

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
)

const labelPrefix = "mls10 "

// HKDF fills buffer with HKDF-SHA256(secret, salt, info).
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// ExpandWithLabel derives length bytes from secret bound to a label and a
// context, the way every secret of the key schedule is derived.
func ExpandWithLabel(secret []byte, label string, context []byte, length int) ([]byte, error) {
	info := make([]byte, 0, 2+len(labelPrefix)+len(label)+len(context))
	info = binary.BigEndian.AppendUint16(info, uint16(length))
	info = append(info, labelPrefix...)
	info = append(info, label...)
	info = append(info, context...)

	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
