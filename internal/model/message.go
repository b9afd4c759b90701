package model

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v4"
)

type (
	MessageKind  uint8
	ProposalKind uint8
	EventType    string

	// Envelope is the signed outer structure of every protocol message.
	// The delivery service reads the cleartext header fields for routing
	// and ordering; Payload is opaque to it.
	Envelope struct {
		Kind       MessageKind    `msgpack:"kind"`
		GroupID    GroupID        `msgpack:"group_id"`
		Epoch      uint64         `msgpack:"epoch"`
		Sender     MemberHandle   `msgpack:"sender,omitempty"`
		External   bool           `msgpack:"external,omitempty"`
		Generation uint32         `msgpack:"generation,omitempty"`
		Added      []MemberHandle `msgpack:"added,omitempty"`
		Removed    []MemberHandle `msgpack:"removed,omitempty"`
		Recipients []MemberHandle `msgpack:"recipients,omitempty"`
		Payload    []byte         `msgpack:"payload"`
		Signature  []byte         `msgpack:"signature,omitempty"`
	}

	// Proposal is a single pending change carried in a proposal envelope.
	Proposal struct {
		Kind       ProposalKind `msgpack:"kind"`
		Member     MemberHandle `msgpack:"member,omitempty"`
		KeyPackage []byte       `msgpack:"key_package,omitempty"`
	}

	// Message is a delivery frame pushed to a client over the websocket or
	// kept in its offline queue.
	Message struct {
		From    MemberHandle `json:"from,omitempty"`
		To      MemberHandle `json:"to"`
		GroupID GroupID      `json:"group_id,omitempty"`
		Kind    MessageKind  `json:"kind"`
		Payload []byte       `json:"payload"`
	}

	Event struct {
		ID      string         `json:"id"`
		Type    EventType      `json:"type"`
		GroupID GroupID        `json:"group_id"`
		From    MemberHandle   `json:"from,omitempty"`
		Members []MemberHandle `json:"members,omitempty"`
		Time    time.Time      `json:"time"`
	}

	// DecryptedMessage is the result of processing an incoming message.
	// Message is nil for handshake messages.
	DecryptedMessage struct {
		Message     []byte
		Proposals   [][]byte
		IsActive    bool
		CommitDelay *time.Duration
		Sender      MemberHandle
	}
)

const (
	KindApplication MessageKind = iota + 1
	KindCommit
	KindProposal
	KindWelcome
)

const (
	ProposalAdd ProposalKind = iota + 1
	ProposalRemove
)

const (
	EventMemberJoin     EventType = "conversation.member-join"
	EventMemberLeave    EventType = "conversation.member-leave"
	EventMLSMessageAdd  EventType = "conversation.mls-message-add"
	EventMLSWelcome     EventType = "conversation.mls-welcome"
	EventMLSCommitAdded EventType = "conversation.mls-commit-add"
)

func (k MessageKind) String() string {
	switch k {
	case KindApplication:
		return "application"
	case KindCommit:
		return "commit"
	case KindProposal:
		return "proposal"
	case KindWelcome:
		return "welcome"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (e *Envelope) Encode() ([]byte, error) {
	return msgpack.Marshal(e)
}

func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Kind < KindApplication || e.Kind > KindWelcome {
		return nil, fmt.Errorf("decode envelope: unknown %s", e.Kind)
	}
	return &e, nil
}

// SigningBytes is the encoding covered by Signature.
func (e *Envelope) SigningBytes() ([]byte, error) {
	c := *e
	c.Signature = nil
	return msgpack.Marshal(&c)
}

func (p *Proposal) Encode() ([]byte, error) {
	return msgpack.Marshal(p)
}

func DecodeProposal(data []byte) (*Proposal, error) {
	var p Proposal
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	return &p, nil
}

func (m MemberHandle) MarshalText() ([]byte, error) {
	return []byte(m), nil
}

func (m *MemberHandle) UnmarshalText(text []byte) error {
	*m = append((*m)[:0], text...)
	return nil
}
