package engine

import (
	"bytes"
	"context"
	"fmt"

	"mls_chat/internal/cryptographic/dh"
	"mls_chat/internal/cryptographic/encryption"
	"mls_chat/internal/model"
	"mls_chat/internal/protocol/seal"
	"mls_chat/internal/utils/log"

	"github.com/vmihailenco/msgpack/v4"
	"go.uber.org/zap"
)

type (
	welcomeContent struct {
		Ciphersuite model.Ciphersuite `msgpack:"ciphersuite"`
		Secrets     []welcomeSecret   `msgpack:"secrets"`
		GroupInfo   []byte            `msgpack:"group_info"`
	}

	welcomeSecret struct {
		KeyPackageRef []byte      `msgpack:"key_package_ref"`
		Sealed        seal.Sealed `msgpack:"sealed"`
	}

	// groupSecrets is everything a new member needs to start at the epoch
	// the commit created.
	groupSecrets struct {
		GroupID           model.GroupID     `msgpack:"group_id"`
		Ciphersuite       model.Ciphersuite `msgpack:"ciphersuite"`
		Epoch             uint64            `msgpack:"epoch"`
		EpochSecret       []byte            `msgpack:"epoch_secret"`
		ApplicationSecret []byte            `msgpack:"application_secret"`
		ExternalSenders   [][]byte          `msgpack:"external_senders,omitempty"`
		Members           []Member          `msgpack:"members"`
	}
)

var welcomeInfo = []byte("Welcome")

func (e *Engine) buildWelcome(state *GroupState, alg encryption.Algorithm, epoch uint64, epochSecret, appSecret []byte, members []Member, ch *changes) ([]byte, error) {
	secrets, err := msgpack.Marshal(&groupSecrets{
		GroupID:           state.ID,
		Ciphersuite:       state.Ciphersuite,
		Epoch:             epoch,
		EpochSecret:       epochSecret,
		ApplicationSecret: appSecret,
		ExternalSenders:   state.ExternalSenders,
		Members:           members,
	})
	if err != nil {
		return nil, err
	}

	welcomeKey := make([]byte, alg.KeySize())
	key, err := randomSecret()
	if err != nil {
		return nil, err
	}
	copy(welcomeKey, key)

	content := welcomeContent{Ciphersuite: state.Ciphersuite}
	content.GroupInfo, err = alg.Seal(welcomeKey, secrets, welcomeInfo)
	if err != nil {
		return nil, err
	}

	recipients := make([]model.MemberHandle, 0, len(ch.added))
	for i, kp := range ch.added {
		s, err := seal.Seal(alg, kp.InitKey, welcomeInfo, welcomeKey)
		if err != nil {
			return nil, fmt.Errorf("seal welcome for %s: %w", kp.Client, err)
		}
		content.Secrets = append(content.Secrets, welcomeSecret{
			KeyPackageRef: KeyPackageRef(ch.addedRaw[i]),
			Sealed:        *s,
		})
		recipients = append(recipients, kp.Client)
	}

	payload, err := msgpack.Marshal(&content)
	if err != nil {
		return nil, err
	}
	env := &model.Envelope{
		Kind:       model.KindWelcome,
		GroupID:    state.ID,
		Epoch:      epoch,
		Sender:     e.self,
		Recipients: recipients,
		Payload:    payload,
	}
	return e.sign(env)
}

// ProcessWelcome joins the group described by a welcome addressed to one
// of our key packages. The key package is consumed.
func (e *Engine) ProcessWelcome(ctx context.Context, data []byte) (model.GroupID, error) {
	env, err := model.DecodeEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Kind != model.KindWelcome {
		return nil, fmt.Errorf("%w: expected welcome, got %s", ErrUnsupportedMessage, env.Kind)
	}

	var content welcomeContent
	if err := msgpack.Unmarshal(env.Payload, &content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	alg, err := algorithm(content.Ciphersuite)
	if err != nil {
		return nil, err
	}

	unlock, err := e.groups.Lock(ctx, env.GroupID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := e.store.LoadGroup(ctx, env.GroupID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrGroupExists
	}

	e.kpMu.Lock()
	defer e.kpMu.Unlock()

	var (
		ref    []byte
		secret *KeyPackageSecret
		key    []byte
	)
	for _, s := range content.Secrets {
		kps, err := e.store.LoadKeyPackageSecret(ctx, s.KeyPackageRef)
		if err != nil {
			return nil, err
		}
		if kps == nil {
			continue
		}
		sealed := s.Sealed
		key, err = seal.Open(alg, kps.InitPriv, welcomeInfo, &sealed)
		if err != nil {
			return nil, err
		}
		ref, secret = s.KeyPackageRef, kps
		break
	}
	if secret == nil {
		return nil, ErrNoMatchingSecret
	}

	plain, err := alg.Open(key, content.GroupInfo, welcomeInfo)
	if err != nil {
		return nil, err
	}
	var gs groupSecrets
	if err := msgpack.Unmarshal(plain, &gs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !gs.GroupID.Equal(env.GroupID) || gs.Epoch != env.Epoch {
		return nil, fmt.Errorf("%w: welcome header does not match its secrets", ErrMalformedMessage)
	}

	state := &GroupState{
		ID:                gs.GroupID,
		Ciphersuite:       gs.Ciphersuite,
		Epoch:             gs.Epoch,
		EpochSecret:       gs.EpochSecret,
		ApplicationSecret: gs.ApplicationSecret,
		ExternalSenders:   gs.ExternalSenders,
		Members:           gs.Members,
		LeafPriv:          secret.InitPriv,
	}

	if err := e.verifyMember(state, env); err != nil {
		return nil, err
	}
	self, ok := state.member(e.self)
	if !ok {
		return nil, fmt.Errorf("%w: welcome does not list us", ErrNotMember)
	}
	pub, err := dh.PublicKey(secret.InitPriv)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(self.LeafKey, pub) {
		return nil, fmt.Errorf("%w: leaf key does not match key package", ErrMalformedMessage)
	}

	if err := e.store.SaveGroup(ctx, state); err != nil {
		return nil, err
	}
	if err := e.store.DeleteKeyPackageSecret(ctx, ref); err != nil {
		log.Warn("failed to delete consumed key package", zap.Error(err))
	}
	return state.ID, nil
}
