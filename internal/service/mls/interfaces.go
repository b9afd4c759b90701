package mls

import (
	"context"
	"time"

	"mls_chat/internal/model"
)

//go:generate mockery --name GroupEngine --output ./mock --outpkg mock
//go:generate mockery --name DeliveryGateway --output ./mock --outpkg mock

type (
	// GroupEngine owns the cryptographic group state. All calls for one
	// group are serialized by the caller.
	GroupEngine interface {
		CreateGroup(ctx context.Context, id model.GroupID, cfg model.GroupConfig) error
		GroupExists(ctx context.Context, id model.GroupID) (bool, error)
		WipeGroup(ctx context.Context, id model.GroupID) error
		GenerateCommit(ctx context.Context, id model.GroupID, intent model.Intent) (*model.CommitBundle, error)
		MergeCommit(ctx context.Context, id model.GroupID) error
		ClearPendingCommit(ctx context.Context, id model.GroupID) error
		CreateProposal(ctx context.Context, id model.GroupID, p model.Proposal) ([]byte, error)
		ProcessWelcome(ctx context.Context, welcome []byte) (model.GroupID, error)
		Encrypt(ctx context.Context, id model.GroupID, plaintext []byte) ([]byte, error)
		Decrypt(ctx context.Context, id model.GroupID, message []byte) (*model.DecryptedMessage, error)
		GenerateKeyPackages(ctx context.Context, count int) ([][]byte, error)
		ValidKeyPackageCount(ctx context.Context) (int, error)
	}

	// DeliveryGateway talks to the delivery service.
	DeliveryGateway interface {
		SendMessage(ctx context.Context, message []byte) ([]model.Event, error)
		SendWelcome(ctx context.Context, welcome []byte) error
		ClaimKeyPackages(ctx context.Context, user model.QualifiedID) ([]model.KeyPackage, error)
		CountUnclaimedKeyPackages(ctx context.Context, client model.MemberHandle) (int, error)
		UploadKeyPackages(ctx context.Context, client model.MemberHandle, keyPackages []string) error
		FetchBackendPublicKeys(ctx context.Context) (*model.BackendPublicKeys, error)
	}

	// GroupStore holds the persistent per-group metadata.
	GroupStore interface {
		CreateGroup(ctx context.Context, record *model.GroupRecord) error
		// GetGroup returns nil when the group has no record.
		GetGroup(ctx context.Context, id model.GroupID) (*model.GroupRecord, error)
		DeleteGroup(ctx context.Context, id model.GroupID) error
		ListGroups(ctx context.Context) ([]*model.GroupRecord, error)

		// SetCommitByIfAbsent stores at unless a commit-by time is already
		// set. It reports whether at was stored.
		SetCommitByIfAbsent(ctx context.Context, id model.GroupID, at time.Time) (bool, error)
		ClearCommitBy(ctx context.Context, id model.GroupID) error
		GroupsWithCommitBy(ctx context.Context) ([]*model.GroupRecord, error)

		SetKeyMaterialUpdatedAt(ctx context.Context, id model.GroupID, at time.Time) error
	}

	InventoryStore interface {
		LastChecked(ctx context.Context) (time.Time, error)
		SetLastChecked(ctx context.Context, t time.Time) error
	}

	EventSink interface {
		Publish(ctx context.Context, events []model.Event)
	}

	Metrics interface {
		CommitExecuted(intent model.IntentKind, err error)
		DueCommitFired()
		KeyPackagesUploaded(count int)
	}
)

type noopMetrics struct{}

func (noopMetrics) CommitExecuted(model.IntentKind, error) {}
func (noopMetrics) DueCommitFired()                        {}
func (noopMetrics) KeyPackagesUploaded(int)                {}

type noopSink struct{}

func (noopSink) Publish(context.Context, []model.Event) {}
