package engine

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"mls_chat/internal/cryptographic/dh"
	"mls_chat/internal/model"
	"mls_chat/internal/protocol/ratchet"
	"mls_chat/internal/protocol/seal"
	"mls_chat/internal/utils/log"

	"github.com/vmihailenco/msgpack/v4"
	"go.uber.org/zap"
)

type (
	commitContent struct {
		Added        [][]byte             `msgpack:"added,omitempty"`
		Removed      []model.MemberHandle `msgpack:"removed,omitempty"`
		ProposalRefs [][]byte             `msgpack:"proposal_refs,omitempty"`
		LeafKey      []byte               `msgpack:"leaf_key"`
		Secrets      []sealedSecret       `msgpack:"secrets"`
	}

	sealedSecret struct {
		Recipient model.MemberHandle `msgpack:"recipient"`
		Sealed    seal.Sealed        `msgpack:"sealed"`
	}

	publicGroupInfo struct {
		GroupID model.GroupID        `msgpack:"group_id"`
		Epoch   uint64               `msgpack:"epoch"`
		Members []model.MemberHandle `msgpack:"members"`
	}

	// changes is what one commit does to the member list.
	changes struct {
		added        []*keyPackage
		addedRaw     [][]byte
		removed      []model.MemberHandle
		proposalRefs [][]byte
	}
)

// GenerateCommit builds a commit for the intent and keeps the resulting
// epoch as pending. A nil bundle means there was nothing to commit.
func (e *Engine) GenerateCommit(ctx context.Context, id model.GroupID, intent model.Intent) (*model.CommitBundle, error) {
	unlock, err := e.groups.Lock(ctx, id.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if state.Pending != nil {
		return nil, ErrPendingCommit
	}

	ch, err := e.resolveIntent(state, intent)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, nil
	}

	alg, err := algorithm(state.Ciphersuite)
	if err != nil {
		return nil, err
	}

	leafPriv, leafPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}
	members, err := applyChanges(state.Members, ch, e.self, leafPub)
	if err != nil {
		return nil, err
	}

	commitSecret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	nextEpoch := state.Epoch + 1
	epochSecret, appSecret, err := ratchet.KDFEpoch(state.EpochSecret, commitSecret)
	if err != nil {
		return nil, err
	}

	content := commitContent{
		Added:        ch.addedRaw,
		Removed:      ch.removed,
		ProposalRefs: ch.proposalRefs,
		LeafKey:      leafPub,
	}
	info := epochInfo(id, nextEpoch)
	for _, m := range members {
		if m.Client.Equal(e.self) || isAdded(ch, m.Client) {
			continue
		}
		s, err := seal.Seal(alg, m.LeafKey, info, commitSecret)
		if err != nil {
			return nil, fmt.Errorf("seal commit secret for %s: %w", m.Client, err)
		}
		content.Secrets = append(content.Secrets, sealedSecret{Recipient: m.Client, Sealed: *s})
	}

	payload, err := msgpack.Marshal(&content)
	if err != nil {
		return nil, err
	}
	env := &model.Envelope{
		Kind:    model.KindCommit,
		GroupID: id,
		Epoch:   state.Epoch,
		Sender:  e.self,
		Removed: ch.removed,
		Payload: payload,
	}
	for _, kp := range ch.added {
		env.Added = append(env.Added, kp.Client)
	}
	commit, err := e.sign(env)
	if err != nil {
		return nil, err
	}

	bundle := &model.CommitBundle{Commit: commit}
	if len(ch.added) > 0 {
		bundle.Welcome, err = e.buildWelcome(state, alg, nextEpoch, epochSecret, appSecret, members, ch)
		if err != nil {
			return nil, err
		}
	}
	bundle.GroupInfo, err = groupInfo(id, nextEpoch, members)
	if err != nil {
		return nil, err
	}

	state.Pending = &PendingCommit{
		CommitRef:         messageRef(commit),
		Epoch:             nextEpoch,
		EpochSecret:       epochSecret,
		ApplicationSecret: appSecret,
		Members:           members,
		LeafPriv:          leafPriv,
	}
	if err := e.store.SaveGroup(ctx, state); err != nil {
		return nil, err
	}
	return bundle, nil
}

// MergeCommit makes the pending commit the authoritative group state.
func (e *Engine) MergeCommit(ctx context.Context, id model.GroupID) error {
	unlock, err := e.groups.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()

	state, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if state.Pending == nil {
		return ErrNoPendingCommit
	}
	p := state.Pending
	state.advance(p.Epoch, p.EpochSecret, p.ApplicationSecret, p.Members, p.LeafPriv)
	return e.store.SaveGroup(ctx, state)
}

// ClearPendingCommit discards a commit that the delivery service never
// accepted so that a new one can be generated.
func (e *Engine) ClearPendingCommit(ctx context.Context, id model.GroupID) error {
	unlock, err := e.groups.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()

	state, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if state.Pending == nil {
		return ErrNoPendingCommit
	}
	state.Pending = nil
	return e.store.SaveGroup(ctx, state)
}

// CreateProposal signs a proposal for the current epoch and keeps it as
// pending locally.
func (e *Engine) CreateProposal(ctx context.Context, id model.GroupID, p model.Proposal) ([]byte, error) {
	unlock, err := e.groups.Lock(ctx, id.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := p.Encode()
	if err != nil {
		return nil, err
	}
	env := &model.Envelope{
		Kind:    model.KindProposal,
		GroupID: id,
		Epoch:   state.Epoch,
		Sender:  e.self,
		Payload: payload,
	}
	out, err := e.sign(env)
	if err != nil {
		return nil, err
	}

	state.Proposals = append(state.Proposals, PendingProposal{Ref: messageRef(out), Proposal: p, Sender: e.self})
	if err := e.store.SaveGroup(ctx, state); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) resolveIntent(state *GroupState, intent model.Intent) (*changes, error) {
	ch := &changes{}
	switch intent.Kind {
	case model.IntentAddMembers:
		for _, inv := range intent.Invitees {
			kp, err := decodeKeyPackage(inv.KeyPackage)
			if err != nil {
				return nil, err
			}
			if kp.Ciphersuite != state.Ciphersuite {
				return nil, fmt.Errorf("%w: ciphersuite %s", ErrMalformedKeyPackage, kp.Ciphersuite)
			}
			ch.added = append(ch.added, kp)
			ch.addedRaw = append(ch.addedRaw, inv.KeyPackage)
		}
	case model.IntentRemoveMembers:
		ch.removed = append(ch.removed, intent.Clients...)
	case model.IntentUpdateKeyMaterial:
	case model.IntentCommitPendingProposals:
		for _, p := range state.Proposals {
			switch p.Proposal.Kind {
			case model.ProposalAdd:
				kp, err := decodeKeyPackage(p.Proposal.KeyPackage)
				if err != nil {
					log.Warn("dropping invalid add proposal", zap.Error(err))
					continue
				}
				if _, ok := state.member(kp.Client); ok || isAdded(ch, kp.Client) {
					continue
				}
				ch.added = append(ch.added, kp)
				ch.addedRaw = append(ch.addedRaw, p.Proposal.KeyPackage)
			case model.ProposalRemove:
				// A committer cannot remove itself; other members will.
				if p.Proposal.Member.Equal(e.self) || isRemoved(ch, p.Proposal.Member) {
					continue
				}
				if _, ok := state.member(p.Proposal.Member); !ok {
					continue
				}
				ch.removed = append(ch.removed, p.Proposal.Member)
			default:
				continue
			}
			ch.proposalRefs = append(ch.proposalRefs, p.Ref)
		}
		if len(ch.proposalRefs) == 0 {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("unknown intent %d", intent.Kind)
	}
	return ch, nil
}

// applyChanges returns the member list after a commit: removals first,
// then additions in order, then the committer's new leaf key.
func applyChanges(current []Member, ch *changes, committer model.MemberHandle, committerLeaf []byte) ([]Member, error) {
	members := cloneMembers(current)

	for _, r := range ch.removed {
		if r.Equal(committer) {
			return nil, fmt.Errorf("%w: committer cannot remove itself", ErrMalformedMessage)
		}
		idx := -1
		for i, m := range members {
			if m.Client.Equal(r) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotMember, r)
		}
		members = append(members[:idx], members[idx+1:]...)
	}

	for _, kp := range ch.added {
		for _, m := range members {
			if m.Client.Equal(kp.Client) {
				return nil, fmt.Errorf("%w: %s", ErrAlreadyMember, kp.Client)
			}
		}
		members = append(members, Member{
			Client:       kp.Client,
			LeafKey:      kp.InitKey,
			SignatureKey: kp.SignatureKey,
		})
	}

	found := false
	for i := range members {
		if members[i].Client.Equal(committer) {
			members[i].LeafKey = committerLeaf
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: committer %s", ErrUnknownSender, committer)
	}
	return members, nil
}

// processCommit handles a commit arriving from the delivery service,
// including copies of our own commits.
func (e *Engine) processCommit(ctx context.Context, state *GroupState, env *model.Envelope, raw []byte) (*model.DecryptedMessage, error) {
	if env.Sender.Equal(e.self) {
		return e.processOwnCommit(ctx, state, env, raw)
	}
	if env.Epoch != state.Epoch {
		return nil, fmt.Errorf("%w: commit for %d, at %d", ErrWrongEpoch, env.Epoch, state.Epoch)
	}
	if err := e.verifyMember(state, env); err != nil {
		return nil, err
	}

	var content commitContent
	if err := msgpack.Unmarshal(env.Payload, &content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	for _, r := range content.Removed {
		if r.Equal(e.self) {
			log.Info("removed from group", zap.String("group", state.ID.String()), zap.String("by", env.Sender.String()))
			if err := e.store.DeleteGroup(ctx, state.ID); err != nil {
				return nil, err
			}
			return &model.DecryptedMessage{IsActive: false, Sender: env.Sender}, nil
		}
	}

	ch := &changes{removed: content.Removed, addedRaw: content.Added}
	for _, kpRaw := range content.Added {
		kp, err := decodeKeyPackage(kpRaw)
		if err != nil {
			return nil, err
		}
		ch.added = append(ch.added, kp)
	}
	members, err := applyChanges(state.Members, ch, env.Sender, content.LeafKey)
	if err != nil {
		return nil, err
	}

	alg, err := algorithm(state.Ciphersuite)
	if err != nil {
		return nil, err
	}
	var commitSecret []byte
	for _, s := range content.Secrets {
		if !s.Recipient.Equal(e.self) {
			continue
		}
		sealed := s.Sealed
		commitSecret, err = seal.Open(alg, state.LeafPriv, epochInfo(state.ID, state.Epoch+1), &sealed)
		if err != nil {
			return nil, err
		}
		break
	}
	if commitSecret == nil {
		return nil, ErrNoMatchingSecret
	}

	epochSecret, appSecret, err := ratchet.KDFEpoch(state.EpochSecret, commitSecret)
	if err != nil {
		return nil, err
	}
	if state.Pending != nil {
		log.Info("discarding own pending commit, another commit won",
			zap.String("group", state.ID.String()), zap.Uint64("epoch", state.Epoch))
	}
	state.advance(state.Epoch+1, epochSecret, appSecret, members, state.LeafPriv)

	if err := e.store.SaveGroup(ctx, state); err != nil {
		return nil, err
	}
	return &model.DecryptedMessage{IsActive: true, Sender: env.Sender}, nil
}

func (e *Engine) processOwnCommit(ctx context.Context, state *GroupState, env *model.Envelope, raw []byte) (*model.DecryptedMessage, error) {
	res := &model.DecryptedMessage{IsActive: true, Sender: env.Sender}

	if p := state.Pending; p != nil && p.Epoch == env.Epoch+1 && bytes.Equal(p.CommitRef, messageRef(raw)) {
		log.Info("merging own commit on self-delivery", zap.String("group", state.ID.String()), zap.Uint64("epoch", p.Epoch))
		state.advance(p.Epoch, p.EpochSecret, p.ApplicationSecret, p.Members, p.LeafPriv)
		if err := e.store.SaveGroup(ctx, state); err != nil {
			return nil, err
		}
		return res, nil
	}

	if env.Epoch < state.Epoch {
		// Already merged.
		return res, nil
	}
	return nil, fmt.Errorf("%w: own commit for %d without matching pending commit", ErrWrongEpoch, env.Epoch)
}

func (e *Engine) processProposal(ctx context.Context, state *GroupState, env *model.Envelope, raw []byte) (*model.DecryptedMessage, error) {
	if env.Epoch != state.Epoch {
		return nil, fmt.Errorf("%w: proposal for %d, at %d", ErrWrongEpoch, env.Epoch, state.Epoch)
	}

	if env.External {
		if err := verifyExternal(state, env); err != nil {
			return nil, err
		}
	} else if err := e.verifyMember(state, env); err != nil {
		return nil, err
	}

	p, err := model.DecodeProposal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if p.Kind != model.ProposalAdd && p.Kind != model.ProposalRemove {
		return nil, fmt.Errorf("%w: proposal kind %d", ErrUnsupportedMessage, p.Kind)
	}

	ref := messageRef(raw)
	if !state.hasProposal(ref) {
		state.Proposals = append(state.Proposals, PendingProposal{
			Ref:      ref,
			Proposal: *p,
			Sender:   env.Sender,
			External: env.External,
		})
		if err := e.store.SaveGroup(ctx, state); err != nil {
			return nil, err
		}
	}

	delay := e.commitDelay(state)
	return &model.DecryptedMessage{
		Proposals:   [][]byte{ref},
		IsActive:    true,
		CommitDelay: &delay,
		Sender:      env.Sender,
	}, nil
}

// commitDelay staggers members by their position so that usually only
// one of them commits a batch of proposals.
func (e *Engine) commitDelay(state *GroupState) time.Duration {
	pos := state.position(e.self)
	if pos < 0 {
		pos = 0
	}
	return time.Duration(pos) * e.delayStep
}

func verifyExternal(state *GroupState, env *model.Envelope) error {
	for _, key := range state.ExternalSenders {
		if verifyEnvelope(key, env) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: external sender", ErrInvalidSignature)
}

func groupInfo(id model.GroupID, epoch uint64, members []Member) (model.GroupInfoBundle, error) {
	info := publicGroupInfo{GroupID: id, Epoch: epoch}
	for _, m := range members {
		info.Members = append(info.Members, m.Client)
	}
	payload, err := msgpack.Marshal(&info)
	if err != nil {
		return model.GroupInfoBundle{}, err
	}
	return model.GroupInfoBundle{
		EncryptionType:  model.GroupInfoPlaintext,
		RatchetTreeType: model.RatchetTreeFull,
		Payload:         payload,
	}, nil
}

func isAdded(ch *changes, client model.MemberHandle) bool {
	for _, kp := range ch.added {
		if kp.Client.Equal(client) {
			return true
		}
	}
	return false
}

func isRemoved(ch *changes, client model.MemberHandle) bool {
	for _, r := range ch.removed {
		if r.Equal(client) {
			return true
		}
	}
	return false
}
