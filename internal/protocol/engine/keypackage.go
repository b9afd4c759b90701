package engine

import (
	"context"
	"crypto/sha256"
	"fmt"

	"mls_chat/internal/cryptographic/dh"
	"mls_chat/internal/cryptographic/signature"
	"mls_chat/internal/model"

	"github.com/vmihailenco/msgpack/v4"
)

const (
	protocolVersion = 1

	labelKeyPackage = "KeyPackageTBS"
	labelMessage    = "FramedContentTBS"
)

type keyPackage struct {
	Version      uint16             `msgpack:"version"`
	Ciphersuite  model.Ciphersuite  `msgpack:"ciphersuite"`
	Client       model.MemberHandle `msgpack:"client"`
	InitKey      []byte             `msgpack:"init_key"`
	SignatureKey []byte             `msgpack:"signature_key"`
	Signature    []byte             `msgpack:"signature,omitempty"`
}

func (kp *keyPackage) tbs() ([]byte, error) {
	c := *kp
	c.Signature = nil
	return msgpack.Marshal(&c)
}

// KeyPackageRef hashes an encoded key package into its reference.
func KeyPackageRef(encoded []byte) []byte {
	h := sha256.New()
	h.Write([]byte("MLS 1.0 KeyPackage Reference"))
	h.Write(encoded)
	return h.Sum(nil)
}

func decodeKeyPackage(data []byte) (*keyPackage, error) {
	var kp keyPackage
	if err := msgpack.Unmarshal(data, &kp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKeyPackage, err)
	}
	if kp.Version != protocolVersion || len(kp.Client) == 0 || len(kp.InitKey) != dh.KeySize {
		return nil, ErrMalformedKeyPackage
	}

	tbs, err := kp.tbs()
	if err != nil {
		return nil, err
	}
	if !signature.VerifyWithLabel(kp.SignatureKey, labelKeyPackage, tbs, kp.Signature) {
		return nil, fmt.Errorf("%w: key package of %s", ErrInvalidSignature, kp.Client)
	}
	return &kp, nil
}

// GenerateKeyPackages creates count fresh key packages and keeps their
// private init keys until they are used by a welcome.
func (e *Engine) GenerateKeyPackages(ctx context.Context, count int) ([][]byte, error) {
	e.kpMu.Lock()
	defer e.kpMu.Unlock()

	res := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		initPriv, initPub, err := dh.NewX25519KeyPair()
		if err != nil {
			return res, err
		}

		kp := &keyPackage{
			Version:      protocolVersion,
			Ciphersuite:  e.ciphersuite,
			Client:       e.self,
			InitKey:      initPub,
			SignatureKey: e.identity.SignaturePub,
		}
		tbs, err := kp.tbs()
		if err != nil {
			return res, err
		}
		kp.Signature, err = signature.SignWithLabel(e.identity.SignaturePriv, labelKeyPackage, tbs)
		if err != nil {
			return res, err
		}

		encoded, err := msgpack.Marshal(kp)
		if err != nil {
			return res, err
		}
		if err := e.store.SaveKeyPackageSecret(ctx, KeyPackageRef(encoded), &KeyPackageSecret{InitPriv: initPriv}); err != nil {
			return res, err
		}
		res = append(res, encoded)
	}
	return res, nil
}

// ValidKeyPackageCount is the number of generated key packages that have
// not been consumed by a welcome yet.
func (e *Engine) ValidKeyPackageCount(ctx context.Context) (int, error) {
	e.kpMu.Lock()
	defer e.kpMu.Unlock()
	return e.store.CountKeyPackageSecrets(ctx)
}
