package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"mls_chat/internal/cryptographic/signature"
	"mls_chat/internal/model"
	"mls_chat/internal/service/mls"

	"github.com/stretchr/testify/require"
)

var _ mls.GroupEngine = (*Engine)(nil)

type memStore struct {
	mu          sync.Mutex
	identity    []byte
	groups      map[string][]byte
	keyPackages map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{
		groups:      make(map[string][]byte),
		keyPackages: make(map[string][]byte),
	}
}

func (s *memStore) LoadIdentity(ctx context.Context) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil, nil
	}
	var id Identity
	return &id, json.Unmarshal(s.identity, &id)
}

func (s *memStore) SaveIdentity(ctx context.Context, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(id)
	s.identity = data
	return err
}

func (s *memStore) LoadGroup(ctx context.Context, id model.GroupID) (*GroupState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.groups[id.String()]
	if !ok {
		return nil, nil
	}
	var st GroupState
	return &st, json.Unmarshal(data, &st)
}

func (s *memStore) SaveGroup(ctx context.Context, state *GroupState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.groups[state.ID.String()] = data
	return nil
}

func (s *memStore) DeleteGroup(ctx context.Context, id model.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, id.String())
	return nil
}

func (s *memStore) SaveKeyPackageSecret(ctx context.Context, ref []byte, secret *KeyPackageSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(secret)
	s.keyPackages[hex.EncodeToString(ref)] = data
	return err
}

func (s *memStore) LoadKeyPackageSecret(ctx context.Context, ref []byte) (*KeyPackageSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.keyPackages[hex.EncodeToString(ref)]
	if !ok {
		return nil, nil
	}
	var kps KeyPackageSecret
	return &kps, json.Unmarshal(data, &kps)
}

func (s *memStore) DeleteKeyPackageSecret(ctx context.Context, ref []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keyPackages, hex.EncodeToString(ref))
	return nil
}

func (s *memStore) CountKeyPackageSecrets(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keyPackages), nil
}

var groupID = model.GroupID("group-1")

func newTestEngine(t *testing.T, user string) *Engine {
	e, err := New(context.Background(), model.NewMemberHandle(user, "c1", "example.com"), newMemStore(),
		WithCommitDelayStep(time.Second))
	require.NoError(t, err)
	return e
}

func invitee(t *testing.T, e *Engine) model.Invitee {
	kps, err := e.GenerateKeyPackages(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, kps, 1)
	return model.Invitee{Client: e.Self(), KeyPackage: kps[0]}
}

// addAndJoin adds the given engines to alice's group and has them process
// the welcome.
func addAndJoin(t *testing.T, alice *Engine, others ...*Engine) {
	ctx := context.Background()
	var invitees []model.Invitee
	for _, o := range others {
		invitees = append(invitees, invitee(t, o))
	}

	bundle, err := alice.GenerateCommit(ctx, groupID, model.AddMembers(invitees))
	require.NoError(t, err)
	require.NotNil(t, bundle.Welcome)
	require.NoError(t, alice.MergeCommit(ctx, groupID))

	for _, o := range others {
		id, err := o.ProcessWelcome(ctx, bundle.Welcome)
		require.NoError(t, err)
		require.True(t, id.Equal(groupID))
	}
}

func TestEngine_WelcomeAndMessages(t *testing.T) {
	ctx := context.Background()
	alice := newTestEngine(t, "alice")
	bob := newTestEngine(t, "bob")

	require.NoError(t, alice.CreateGroup(ctx, groupID, model.GroupConfig{}))
	require.ErrorIs(t, alice.CreateGroup(ctx, groupID, model.GroupConfig{}), ErrGroupExists)

	addAndJoin(t, alice, bob)

	exists, err := bob.GroupExists(ctx, groupID)
	require.NoError(t, err)
	require.True(t, exists)

	count, err := bob.ValidKeyPackageCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	aliceEpoch, err := alice.Epoch(ctx, groupID)
	require.NoError(t, err)
	bobEpoch, err := bob.Epoch(ctx, groupID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), aliceEpoch)
	require.Equal(t, aliceEpoch, bobEpoch)

	ct, err := alice.Encrypt(ctx, groupID, []byte("hello bob"))
	require.NoError(t, err)
	msg, err := bob.Decrypt(ctx, groupID, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("hello bob"), msg.Message)
	require.True(t, msg.Sender.Equal(alice.Self()))

	// A key is only handed out once.
	_, err = bob.Decrypt(ctx, groupID, ct)
	require.Error(t, err)

	ct1, err := bob.Encrypt(ctx, groupID, []byte("one"))
	require.NoError(t, err)
	ct2, err := bob.Encrypt(ctx, groupID, []byte("two"))
	require.NoError(t, err)

	// Out of order delivery.
	msg, err = alice.Decrypt(ctx, groupID, ct2)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), msg.Message)
	msg, err = alice.Decrypt(ctx, groupID, ct1)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), msg.Message)
}

func TestEngine_ProcessWelcomeTwice(t *testing.T) {
	ctx := context.Background()
	alice := newTestEngine(t, "alice")
	bob := newTestEngine(t, "bob")
	require.NoError(t, alice.CreateGroup(ctx, groupID, model.GroupConfig{}))

	inv := invitee(t, bob)
	bundle, err := alice.GenerateCommit(ctx, groupID, model.AddMembers([]model.Invitee{inv}))
	require.NoError(t, err)

	_, err = bob.ProcessWelcome(ctx, bundle.Welcome)
	require.NoError(t, err)
	_, err = bob.ProcessWelcome(ctx, bundle.Welcome)
	require.ErrorIs(t, err, ErrGroupExists)

	carol := newTestEngine(t, "carol")
	_, err = carol.ProcessWelcome(ctx, bundle.Welcome)
	require.ErrorIs(t, err, ErrNoMatchingSecret)
}

func TestEngine_RemoveMember(t *testing.T) {
	ctx := context.Background()
	alice := newTestEngine(t, "alice")
	bob := newTestEngine(t, "bob")
	carol := newTestEngine(t, "carol")

	require.NoError(t, alice.CreateGroup(ctx, groupID, model.GroupConfig{}))
	addAndJoin(t, alice, bob, carol)

	bundle, err := alice.GenerateCommit(ctx, groupID, model.RemoveMembers([]model.MemberHandle{bob.Self()}))
	require.NoError(t, err)
	require.Nil(t, bundle.Welcome)
	require.NoError(t, alice.MergeCommit(ctx, groupID))

	res, err := bob.Decrypt(ctx, groupID, bundle.Commit)
	require.NoError(t, err)
	require.False(t, res.IsActive)
	exists, err := bob.GroupExists(ctx, groupID)
	require.NoError(t, err)
	require.False(t, exists)

	res, err = carol.Decrypt(ctx, groupID, bundle.Commit)
	require.NoError(t, err)
	require.True(t, res.IsActive)
	require.Nil(t, res.Message)

	members, err := carol.Members(ctx, groupID)
	require.NoError(t, err)
	require.Equal(t, []model.MemberHandle{alice.Self(), carol.Self()}, members)

	ct, err := carol.Encrypt(ctx, groupID, []byte("just us"))
	require.NoError(t, err)
	msg, err := alice.Decrypt(ctx, groupID, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("just us"), msg.Message)

	_, err = alice.GenerateCommit(ctx, groupID, model.RemoveMembers([]model.MemberHandle{bob.Self()}))
	require.ErrorIs(t, err, ErrNotMember)
}

func TestEngine_PendingCommitBlocksGeneration(t *testing.T) {
	ctx := context.Background()
	alice := newTestEngine(t, "alice")
	require.NoError(t, alice.CreateGroup(ctx, groupID, model.GroupConfig{}))

	_, err := alice.GenerateCommit(ctx, groupID, model.UpdateKeyMaterial())
	require.NoError(t, err)

	_, err = alice.GenerateCommit(ctx, groupID, model.UpdateKeyMaterial())
	require.ErrorIs(t, err, ErrPendingCommit)

	require.NoError(t, alice.ClearPendingCommit(ctx, groupID))
	require.ErrorIs(t, alice.ClearPendingCommit(ctx, groupID), ErrNoPendingCommit)

	epoch, err := alice.Epoch(ctx, groupID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), epoch)

	_, err = alice.GenerateCommit(ctx, groupID, model.UpdateKeyMaterial())
	require.NoError(t, err)
}

func TestEngine_SelfDeliveryMergesPendingCommit(t *testing.T) {
	ctx := context.Background()
	alice := newTestEngine(t, "alice")
	bob := newTestEngine(t, "bob")
	require.NoError(t, alice.CreateGroup(ctx, groupID, model.GroupConfig{}))
	addAndJoin(t, alice, bob)

	bundle, err := alice.GenerateCommit(ctx, groupID, model.UpdateKeyMaterial())
	require.NoError(t, err)

	res, err := alice.Decrypt(ctx, groupID, bundle.Commit)
	require.NoError(t, err)
	require.True(t, res.IsActive)

	epoch, err := alice.Epoch(ctx, groupID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), epoch)

	// A second copy is ignored.
	_, err = alice.Decrypt(ctx, groupID, bundle.Commit)
	require.NoError(t, err)

	_, err = bob.Decrypt(ctx, groupID, bundle.Commit)
	require.NoError(t, err)
	ct, err := alice.Encrypt(ctx, groupID, []byte("rotated"))
	require.NoError(t, err)
	msg, err := bob.Decrypt(ctx, groupID, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("rotated"), msg.Message)
}

func TestEngine_StaleCommitRejected(t *testing.T) {
	ctx := context.Background()
	alice := newTestEngine(t, "alice")
	bob := newTestEngine(t, "bob")
	require.NoError(t, alice.CreateGroup(ctx, groupID, model.GroupConfig{}))
	addAndJoin(t, alice, bob)

	first, err := alice.GenerateCommit(ctx, groupID, model.UpdateKeyMaterial())
	require.NoError(t, err)
	require.NoError(t, alice.MergeCommit(ctx, groupID))
	_, err = bob.Decrypt(ctx, groupID, first.Commit)
	require.NoError(t, err)

	_, err = bob.Decrypt(ctx, groupID, first.Commit)
	require.ErrorIs(t, err, ErrWrongEpoch)
}

func TestEngine_ExternalRemoveProposal(t *testing.T) {
	ctx := context.Background()
	backendPub, backendPriv, err := signature.NewEd25519Keypair()
	require.NoError(t, err)

	alice := newTestEngine(t, "alice")
	bob := newTestEngine(t, "bob")
	carol := newTestEngine(t, "carol")
	require.NoError(t, alice.CreateGroup(ctx, groupID, model.GroupConfig{ExternalSenders: [][]byte{backendPub}}))
	addAndJoin(t, alice, bob, carol)

	raw, err := ExternalProposal(backendPriv, groupID, 1, model.Proposal{Kind: model.ProposalRemove, Member: carol.Self()})
	require.NoError(t, err)

	res, err := bob.Decrypt(ctx, groupID, raw)
	require.NoError(t, err)
	require.Nil(t, res.Message)
	require.Len(t, res.Proposals, 1)
	require.NotNil(t, res.CommitDelay)
	require.Equal(t, time.Second, *res.CommitDelay)

	res, err = alice.Decrypt(ctx, groupID, raw)
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), *res.CommitDelay)

	bundle, err := alice.GenerateCommit(ctx, groupID, model.CommitPendingProposals())
	require.NoError(t, err)
	require.NotNil(t, bundle)
	require.NoError(t, alice.MergeCommit(ctx, groupID))

	_, err = bob.Decrypt(ctx, groupID, bundle.Commit)
	require.NoError(t, err)
	members, err := bob.Members(ctx, groupID)
	require.NoError(t, err)
	require.Equal(t, []model.MemberHandle{alice.Self(), bob.Self()}, members)

	// The proposal was folded into the epoch change.
	bundle, err = bob.GenerateCommit(ctx, groupID, model.CommitPendingProposals())
	require.NoError(t, err)
	require.Nil(t, bundle)
}

func TestEngine_ForgedExternalProposalRejected(t *testing.T) {
	ctx := context.Background()
	backendPub, _, err := signature.NewEd25519Keypair()
	require.NoError(t, err)
	_, otherPriv, err := signature.NewEd25519Keypair()
	require.NoError(t, err)

	alice := newTestEngine(t, "alice")
	require.NoError(t, alice.CreateGroup(ctx, groupID, model.GroupConfig{ExternalSenders: [][]byte{backendPub}}))

	payload, err := (&model.Proposal{Kind: model.ProposalRemove, Member: alice.Self()}).Encode()
	require.NoError(t, err)
	env := &model.Envelope{Kind: model.KindProposal, GroupID: groupID, External: true, Payload: payload}
	tbs, err := env.SigningBytes()
	require.NoError(t, err)
	env.Signature, err = signature.SignWithLabel(otherPriv, labelMessage, tbs)
	require.NoError(t, err)
	raw, err := env.Encode()
	require.NoError(t, err)

	_, err = alice.Decrypt(ctx, groupID, raw)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestEngine_MemberLeaveProposal(t *testing.T) {
	ctx := context.Background()
	alice := newTestEngine(t, "alice")
	bob := newTestEngine(t, "bob")
	require.NoError(t, alice.CreateGroup(ctx, groupID, model.GroupConfig{}))
	addAndJoin(t, alice, bob)

	raw, err := bob.CreateProposal(ctx, groupID, model.Proposal{Kind: model.ProposalRemove, Member: bob.Self()})
	require.NoError(t, err)

	// Bob cannot commit his own removal.
	bundle, err := bob.GenerateCommit(ctx, groupID, model.CommitPendingProposals())
	require.NoError(t, err)
	require.Nil(t, bundle)

	_, err = alice.Decrypt(ctx, groupID, raw)
	require.NoError(t, err)
	bundle, err = alice.GenerateCommit(ctx, groupID, model.CommitPendingProposals())
	require.NoError(t, err)
	require.NoError(t, alice.MergeCommit(ctx, groupID))

	res, err := bob.Decrypt(ctx, groupID, bundle.Commit)
	require.NoError(t, err)
	require.False(t, res.IsActive)
}

func TestEngine_ChaChaCiphersuite(t *testing.T) {
	ctx := context.Background()
	alice := newTestEngine(t, "alice")
	bob, err := New(ctx, model.NewMemberHandle("bob", "c1", "example.com"), newMemStore(),
		WithCiphersuite(model.MLS128X25519ChaCha20Poly1305SHA256Ed25519))
	require.NoError(t, err)

	cfg := model.GroupConfig{Ciphersuite: model.MLS128X25519ChaCha20Poly1305SHA256Ed25519}
	require.NoError(t, alice.CreateGroup(ctx, groupID, cfg))

	inv := invitee(t, bob)
	bundle, err := alice.GenerateCommit(ctx, groupID, model.AddMembers([]model.Invitee{inv}))
	require.NoError(t, err)
	require.NoError(t, alice.MergeCommit(ctx, groupID))
	_, err = bob.ProcessWelcome(ctx, bundle.Welcome)
	require.NoError(t, err)

	ct, err := bob.Encrypt(ctx, groupID, []byte("chacha"))
	require.NoError(t, err)
	msg, err := alice.Decrypt(ctx, groupID, ct)
	require.NoError(t, err)
	require.Equal(t, []byte("chacha"), msg.Message)

	// A key package of another suite cannot be added.
	carol := newTestEngine(t, "carol")
	_, err = alice.GenerateCommit(ctx, groupID, model.AddMembers([]model.Invitee{invitee(t, carol)}))
	require.ErrorIs(t, err, ErrMalformedKeyPackage)
}
