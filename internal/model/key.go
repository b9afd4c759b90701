package model

import (
	"encoding/base64"
	"fmt"
)

type (
	// KeyPackage is a claimed one-time credential of another client.
	KeyPackage struct {
		Ref        []byte       `json:"key_package_ref"`
		Client     MemberHandle `json:"client"`
		KeyPackage string       `json:"key_package"`
	}

	// BackendPublicKeys are the external sender keys published by the
	// delivery service.
	BackendPublicKeys struct {
		Removal RemovalKeys `json:"removal"`
	}

	RemovalKeys struct {
		Ed25519 []byte `json:"ed25519,omitempty"`
	}
)

// Invitee decodes the wire payload into an invitee record.
func (k KeyPackage) Invitee() (Invitee, error) {
	kp, err := base64.StdEncoding.DecodeString(k.KeyPackage)
	if err != nil {
		return Invitee{}, fmt.Errorf("key package of %s: %w", k.Client, err)
	}
	return Invitee{Client: k.Client, KeyPackage: kp}, nil
}

// ExternalSenders lists the keys a new group should trust as
// non-member senders.
func (b *BackendPublicKeys) ExternalSenders() [][]byte {
	if b == nil || len(b.Removal.Ed25519) == 0 {
		return nil
	}
	return [][]byte{b.Removal.Ed25519}
}
