package engine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"mls_chat/internal/cryptographic/dh"
	"mls_chat/internal/cryptographic/encryption"
	"mls_chat/internal/cryptographic/signature"
	"mls_chat/internal/model"
	"mls_chat/internal/protocol/ratchet"
	"mls_chat/internal/utils/keylock"
	"mls_chat/internal/utils/log"

	"go.uber.org/zap"
)

var (
	ErrGroupNotFound       = errors.New("group not found")
	ErrGroupExists         = errors.New("group already exists")
	ErrPendingCommit       = errors.New("group has a pending commit")
	ErrNoPendingCommit     = errors.New("group has no pending commit")
	ErrWrongEpoch          = errors.New("message is for another epoch")
	ErrWrongGroup          = errors.New("message is for another group")
	ErrUnknownSender       = errors.New("sender is not a group member")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrAlreadyMember       = errors.New("client is already a member")
	ErrNotMember           = errors.New("client is not a member")
	ErrMalformedKeyPackage = errors.New("malformed key package")
	ErrMalformedMessage    = errors.New("malformed message")
	ErrNoMatchingSecret    = errors.New("no secret for this client")
	ErrUnsupportedMessage  = errors.New("unsupported message kind")
)

const defaultCommitDelayStep = 5 * time.Second

type (
	// Engine is the local group engine: it owns the cryptographic state of
	// every group this client is in and never talks to the network.
	Engine struct {
		self        model.MemberHandle
		ciphersuite model.Ciphersuite
		store       StateStore
		identity    *Identity
		groups      *keylock.Locker
		kpMu        sync.Mutex
		delayStep   time.Duration
	}

	Option func(*Engine)
)

func WithCiphersuite(c model.Ciphersuite) Option {
	return func(e *Engine) {
		e.ciphersuite = c
	}
}

// WithCommitDelayStep sets how far apart members are staggered when they
// race to commit the same proposals.
func WithCommitDelayStep(d time.Duration) Option {
	return func(e *Engine) {
		e.delayStep = d
	}
}

// New loads the client identity from the store, creating it on first use.
func New(ctx context.Context, self model.MemberHandle, store StateStore, opts ...Option) (*Engine, error) {
	e := &Engine{
		self:        self,
		ciphersuite: model.DefaultCiphersuite,
		store:       store,
		groups:      keylock.New(),
		delayStep:   defaultCommitDelayStep,
	}
	for _, opt := range opts {
		opt(e)
	}

	id, err := store.LoadIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if id == nil {
		pub, priv, err := signature.NewEd25519Keypair()
		if err != nil {
			return nil, err
		}
		id = &Identity{SignaturePriv: priv, SignaturePub: pub}
		if err := store.SaveIdentity(ctx, id); err != nil {
			return nil, fmt.Errorf("save identity: %w", err)
		}
		log.Info("generated client identity", zap.String("client", self.String()))
	}
	e.identity = id
	return e, nil
}

func (e *Engine) Self() model.MemberHandle {
	return e.self
}

// PublicKey is the client's signature public key.
func (e *Engine) PublicKey() []byte {
	return e.identity.SignaturePub
}

func (e *Engine) CreateGroup(ctx context.Context, id model.GroupID, cfg model.GroupConfig) error {
	if len(id) == 0 {
		return fmt.Errorf("%w: empty group id", ErrMalformedMessage)
	}
	unlock, err := e.groups.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()

	existing, err := e.store.LoadGroup(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrGroupExists
	}

	suite := cfg.Ciphersuite
	if suite == 0 {
		suite = e.ciphersuite
	}
	if _, err := algorithm(suite); err != nil {
		return err
	}

	leafPriv, leafPub, err := dh.NewX25519KeyPair()
	if err != nil {
		return err
	}
	epochSecret, err := randomSecret()
	if err != nil {
		return err
	}
	_, appSecret, err := ratchet.KDFEpoch(epochSecret, nil)
	if err != nil {
		return err
	}

	state := &GroupState{
		ID:                id,
		Ciphersuite:       suite,
		EpochSecret:       epochSecret,
		ApplicationSecret: appSecret,
		ExternalSenders:   cfg.ExternalSenders,
		Members: []Member{{
			Client:       e.self,
			LeafKey:      leafPub,
			SignatureKey: e.identity.SignaturePub,
		}},
		LeafPriv: leafPriv,
	}
	return e.store.SaveGroup(ctx, state)
}

func (e *Engine) GroupExists(ctx context.Context, id model.GroupID) (bool, error) {
	state, err := e.store.LoadGroup(ctx, id)
	if err != nil {
		return false, err
	}
	return state != nil, nil
}

func (e *Engine) WipeGroup(ctx context.Context, id model.GroupID) error {
	unlock, err := e.groups.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()
	return e.store.DeleteGroup(ctx, id)
}

func (e *Engine) Epoch(ctx context.Context, id model.GroupID) (uint64, error) {
	state, err := e.load(ctx, id)
	if err != nil {
		return 0, err
	}
	return state.Epoch, nil
}

// Members lists the clients of the group in the current epoch.
func (e *Engine) Members(ctx context.Context, id model.GroupID) ([]model.MemberHandle, error) {
	state, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	res := make([]model.MemberHandle, 0, len(state.Members))
	for _, m := range state.Members {
		res = append(res, m.Client)
	}
	return res, nil
}

func (e *Engine) Encrypt(ctx context.Context, id model.GroupID, plaintext []byte) ([]byte, error) {
	unlock, err := e.groups.Lock(ctx, id.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	alg, err := algorithm(state.Ciphersuite)
	if err != nil {
		return nil, err
	}

	chain, err := state.chain(e.self)
	if err != nil {
		return nil, err
	}
	gen, msgKey, err := chain.Next()
	if err != nil {
		return nil, err
	}

	env := &model.Envelope{
		Kind:       model.KindApplication,
		GroupID:    id,
		Epoch:      state.Epoch,
		Sender:     e.self,
		Generation: gen,
	}
	env.Payload, err = alg.Seal(msgKey[:alg.KeySize()], plaintext, applicationAAD(env))
	if err != nil {
		return nil, err
	}

	out, err := e.sign(env)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveGroup(ctx, state); err != nil {
		return nil, err
	}
	return out, nil
}

// Decrypt processes any incoming group message. Handshake messages update
// the group state and return a result without a payload.
func (e *Engine) Decrypt(ctx context.Context, id model.GroupID, data []byte) (*model.DecryptedMessage, error) {
	env, err := model.DecodeEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !env.GroupID.Equal(id) {
		return nil, ErrWrongGroup
	}

	unlock, err := e.groups.Lock(ctx, id.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch env.Kind {
	case model.KindApplication:
		return e.decryptApplication(ctx, state, env)
	case model.KindCommit:
		return e.processCommit(ctx, state, env, data)
	case model.KindProposal:
		return e.processProposal(ctx, state, env, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessage, env.Kind)
	}
}

func (e *Engine) decryptApplication(ctx context.Context, state *GroupState, env *model.Envelope) (*model.DecryptedMessage, error) {
	if env.Epoch != state.Epoch {
		return nil, fmt.Errorf("%w: got %d, at %d", ErrWrongEpoch, env.Epoch, state.Epoch)
	}
	if err := e.verifyMember(state, env); err != nil {
		return nil, err
	}
	alg, err := algorithm(state.Ciphersuite)
	if err != nil {
		return nil, err
	}

	chain, err := state.chain(env.Sender)
	if err != nil {
		return nil, err
	}
	msgKey, err := chain.KeyFor(env.Generation)
	if err != nil {
		return nil, err
	}
	plain, err := alg.Open(msgKey[:alg.KeySize()], env.Payload, applicationAAD(env))
	if err != nil {
		return nil, err
	}

	if err := e.store.SaveGroup(ctx, state); err != nil {
		return nil, err
	}
	return &model.DecryptedMessage{
		Message:  plain,
		IsActive: true,
		Sender:   env.Sender,
	}, nil
}

func (e *Engine) load(ctx context.Context, id model.GroupID) (*GroupState, error) {
	state, err := e.store.LoadGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	return state, nil
}

func (e *Engine) sign(env *model.Envelope) ([]byte, error) {
	tbs, err := env.SigningBytes()
	if err != nil {
		return nil, err
	}
	env.Signature, err = signature.SignWithLabel(e.identity.SignaturePriv, labelMessage, tbs)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}

func (e *Engine) verifyMember(state *GroupState, env *model.Envelope) error {
	m, ok := state.member(env.Sender)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSender, env.Sender)
	}
	return verifyEnvelope(m.SignatureKey, env)
}

func verifyEnvelope(key []byte, env *model.Envelope) error {
	tbs, err := env.SigningBytes()
	if err != nil {
		return err
	}
	if !signature.VerifyWithLabel(key, labelMessage, tbs, env.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

func algorithm(c model.Ciphersuite) (encryption.Algorithm, error) {
	switch c {
	case model.MLS128X25519AES128GCMSHA256Ed25519:
		return encryption.AES128GCM, nil
	case model.MLS128X25519ChaCha20Poly1305SHA256Ed25519:
		return encryption.ChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("unsupported ciphersuite %s", c)
	}
}

func applicationAAD(env *model.Envelope) []byte {
	b := make([]byte, 0, len(env.GroupID)+len(env.Sender)+12)
	b = append(b, env.GroupID...)
	b = binary.BigEndian.AppendUint64(b, env.Epoch)
	b = binary.BigEndian.AppendUint32(b, env.Generation)
	return append(b, env.Sender...)
}

func epochInfo(id model.GroupID, epoch uint64) []byte {
	b := make([]byte, 0, len(id)+8)
	b = append(b, id...)
	return binary.BigEndian.AppendUint64(b, epoch)
}

func messageRef(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func randomSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
