package engine

import (
	"bytes"
	"context"

	"mls_chat/internal/model"
	"mls_chat/internal/protocol/ratchet"
)

type (
	// StateStore persists everything the engine must not lose between
	// restarts. Load methods return nil, nil when nothing is stored.
	StateStore interface {
		LoadIdentity(ctx context.Context) (*Identity, error)
		SaveIdentity(ctx context.Context, id *Identity) error

		LoadGroup(ctx context.Context, id model.GroupID) (*GroupState, error)
		SaveGroup(ctx context.Context, state *GroupState) error
		DeleteGroup(ctx context.Context, id model.GroupID) error

		SaveKeyPackageSecret(ctx context.Context, ref []byte, secret *KeyPackageSecret) error
		LoadKeyPackageSecret(ctx context.Context, ref []byte) (*KeyPackageSecret, error)
		DeleteKeyPackageSecret(ctx context.Context, ref []byte) error
		CountKeyPackageSecrets(ctx context.Context) (int, error)
	}

	// Identity is the long-term signature key pair of this client.
	Identity struct {
		SignaturePriv []byte `json:"signature_priv"`
		SignaturePub  []byte `json:"signature_pub"`
	}

	// KeyPackageSecret is the private init key of a published key package.
	KeyPackageSecret struct {
		InitPriv []byte `json:"init_priv"`
	}

	Member struct {
		Client       model.MemberHandle `json:"client"`
		LeafKey      []byte             `json:"leaf_key"`
		SignatureKey []byte             `json:"signature_key"`
	}

	PendingProposal struct {
		Ref      []byte             `json:"ref"`
		Proposal model.Proposal     `json:"proposal"`
		Sender   model.MemberHandle `json:"sender,omitempty"`
		External bool               `json:"external,omitempty"`
	}

	// PendingCommit is the next epoch as computed by our own commit, kept
	// until it is merged or cleared.
	PendingCommit struct {
		CommitRef         []byte   `json:"commit_ref"`
		Epoch             uint64   `json:"epoch"`
		EpochSecret       []byte   `json:"epoch_secret"`
		ApplicationSecret []byte   `json:"application_secret"`
		Members           []Member `json:"members"`
		LeafPriv          []byte   `json:"leaf_priv"`
	}

	GroupState struct {
		ID                model.GroupID             `json:"id"`
		Ciphersuite       model.Ciphersuite         `json:"ciphersuite"`
		Epoch             uint64                    `json:"epoch"`
		EpochSecret       []byte                    `json:"epoch_secret"`
		ApplicationSecret []byte                    `json:"application_secret"`
		ExternalSenders   [][]byte                  `json:"external_senders,omitempty"`
		Members           []Member                  `json:"members"`
		LeafPriv          []byte                    `json:"leaf_priv"`
		Ratchets          map[string]*ratchet.Chain `json:"ratchets,omitempty"`
		Proposals         []PendingProposal         `json:"proposals,omitempty"`
		Pending           *PendingCommit            `json:"pending,omitempty"`
	}
)

func (s *GroupState) member(client model.MemberHandle) (Member, bool) {
	for _, m := range s.Members {
		if m.Client.Equal(client) {
			return m, true
		}
	}
	return Member{}, false
}

func (s *GroupState) position(client model.MemberHandle) int {
	for i, m := range s.Members {
		if m.Client.Equal(client) {
			return i
		}
	}
	return -1
}

func (s *GroupState) hasProposal(ref []byte) bool {
	for _, p := range s.Proposals {
		if bytes.Equal(p.Ref, ref) {
			return true
		}
	}
	return false
}

// chain returns the application ratchet of sender in the current epoch.
func (s *GroupState) chain(sender model.MemberHandle) (*ratchet.Chain, error) {
	if s.Ratchets == nil {
		s.Ratchets = make(map[string]*ratchet.Chain)
	}
	if c, ok := s.Ratchets[sender.String()]; ok {
		return c, nil
	}
	key, err := ratchet.SenderChainKey(s.ApplicationSecret, sender)
	if err != nil {
		return nil, err
	}
	c := ratchet.NewChain(key)
	s.Ratchets[sender.String()] = c
	return c, nil
}

// advance moves the group into a new epoch. Proposals and ratchets never
// survive an epoch change.
func (s *GroupState) advance(epoch uint64, epochSecret, appSecret []byte, members []Member, leafPriv []byte) {
	s.Epoch = epoch
	s.EpochSecret = epochSecret
	s.ApplicationSecret = appSecret
	s.Members = members
	s.LeafPriv = leafPriv
	s.Ratchets = nil
	s.Proposals = nil
	s.Pending = nil
}

func cloneMembers(in []Member) []Member {
	out := make([]Member, len(in))
	copy(out, in)
	return out
}
