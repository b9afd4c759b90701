package model

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

type (
	// GroupID identifies a cryptographic group. Equality is by content.
	GroupID []byte

	// MemberHandle identifies one client of one user: "user:client@domain".
	MemberHandle []byte

	// QualifiedID names a user on a (possibly federated) backend.
	QualifiedID struct {
		ID     string `json:"id" bson:"id"`
		Domain string `json:"domain" bson:"domain"`
	}

	// Invitee is a client about to be added, together with the key package
	// that was claimed for it.
	Invitee struct {
		Client     MemberHandle
		KeyPackage []byte
	}

	Ciphersuite uint16

	// GroupRecord is the persistent metadata kept next to a group. A nil
	// CommitBy means no proposals are waiting to be committed.
	GroupRecord struct {
		GroupID              GroupID    `json:"group_id" bson:"group_id"`
		CommitBy             *time.Time `json:"commit_by,omitempty" bson:"commit_by,omitempty"`
		KeyMaterialUpdatedAt *time.Time `json:"key_material_updated_at,omitempty" bson:"key_material_updated_at,omitempty"`
		CreatedAt            time.Time  `json:"created_at" bson:"created_at"`
	}

	// GroupConfig is what the engine needs to create a new group.
	GroupConfig struct {
		Ciphersuite     Ciphersuite
		ExternalSenders [][]byte
	}
)

const (
	MLS128X25519AES128GCMSHA256Ed25519        Ciphersuite = 1
	MLS128X25519ChaCha20Poly1305SHA256Ed25519 Ciphersuite = 3
)

const DefaultCiphersuite = MLS128X25519AES128GCMSHA256Ed25519

func (c Ciphersuite) String() string {
	switch c {
	case MLS128X25519AES128GCMSHA256Ed25519:
		return "MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519"
	case MLS128X25519ChaCha20Poly1305SHA256Ed25519:
		return "MLS_128_DHKEMX25519_CHACHA20POLY1305_SHA256_Ed25519"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(c))
	}
}

func ParseCiphersuite(name string) (Ciphersuite, error) {
	for _, c := range []Ciphersuite{MLS128X25519AES128GCMSHA256Ed25519, MLS128X25519ChaCha20Poly1305SHA256Ed25519} {
		if strings.EqualFold(name, c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unsupported ciphersuite %q", name)
}

func (g GroupID) Equal(other GroupID) bool {
	return bytes.Equal(g, other)
}

// String is the base64 form used on the wire and as a map key.
func (g GroupID) String() string {
	return base64.StdEncoding.EncodeToString(g)
}

func ParseGroupID(s string) (GroupID, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed group id: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("malformed group id: empty")
	}
	return GroupID(b), nil
}

func NewMemberHandle(userID, clientID, domain string) MemberHandle {
	return MemberHandle(fmt.Sprintf("%s:%s@%s",
		strings.ToLower(userID), strings.ToLower(clientID), strings.ToLower(domain)))
}

// ParseMemberHandle accepts the textual "user:client@domain" form.
func ParseMemberHandle(s string) (MemberHandle, error) {
	at := strings.LastIndex(s, "@")
	colon := strings.Index(s, ":")
	if colon <= 0 || at <= colon+1 || at == len(s)-1 {
		return nil, fmt.Errorf("malformed member handle %q", s)
	}
	return NewMemberHandle(s[:colon], s[colon+1:at], s[at+1:]), nil
}

func (m MemberHandle) String() string {
	return string(m)
}

func (m MemberHandle) Equal(other MemberHandle) bool {
	return bytes.Equal(m, other)
}

// User returns the user part of the handle.
func (m MemberHandle) User() QualifiedID {
	s := string(m)
	colon := strings.Index(s, ":")
	at := strings.LastIndex(s, "@")
	if colon < 0 || at < colon {
		return QualifiedID{}
	}
	return QualifiedID{ID: s[:colon], Domain: s[at+1:]}
}

func (q QualifiedID) String() string {
	return strings.ToLower(q.ID) + "@" + strings.ToLower(q.Domain)
}

func ParseQualifiedID(s, defaultDomain string) QualifiedID {
	if at := strings.LastIndex(s, "@"); at > 0 {
		return QualifiedID{ID: strings.ToLower(s[:at]), Domain: strings.ToLower(s[at+1:])}
	}
	return QualifiedID{ID: strings.ToLower(s), Domain: strings.ToLower(defaultDomain)}
}

func (m MemberHandle) ClientID() string {
	s := string(m)
	colon := strings.Index(s, ":")
	at := strings.LastIndex(s, "@")
	if colon < 0 || at < colon {
		return ""
	}
	return s[colon+1 : at]
}
