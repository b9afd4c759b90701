package mls

import (
	"errors"
	"fmt"

	"mls_chat/internal/model"
)

var (
	ErrCommitGeneration = errors.New("commit generation failed")
	ErrCommitDelivery   = errors.New("commit delivery failed")
	ErrCommitMerge      = errors.New("commit merge failed")
	ErrWelcomeDelivery  = errors.New("welcome delivery failed")
	ErrCommitCleanup    = errors.New("clearing pending commit failed")

	ErrNoParticipantsToAdd  = errors.New("no participants to add")
	ErrNoClientsToRemove    = errors.New("no clients to remove")
	ErrGroupCreation        = errors.New("group creation failed")
	ErrMalformedWelcome     = errors.New("malformed welcome message")
	ErrKeyPackageGeneration = errors.New("key package generation failed")
)

type CommitErrorKind int

const (
	CommitGenerationFailed CommitErrorKind = iota
	CommitDeliveryFailed
	CommitMergeFailed
	WelcomeDeliveryFailed
	CommitCleanupFailed
)

func (k CommitErrorKind) sentinel() error {
	switch k {
	case CommitGenerationFailed:
		return ErrCommitGeneration
	case CommitDeliveryFailed:
		return ErrCommitDelivery
	case CommitMergeFailed:
		return ErrCommitMerge
	case WelcomeDeliveryFailed:
		return ErrWelcomeDelivery
	default:
		return ErrCommitCleanup
	}
}

func (k CommitErrorKind) String() string {
	return k.sentinel().Error()
}

// CommitError is returned by the executor. It matches both the sentinel of
// its kind and the underlying cause with errors.Is.
type CommitError struct {
	Kind    CommitErrorKind
	GroupID model.GroupID
	Err     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s for group %s: %v", e.Kind, e.GroupID, e.Err)
}

func (e *CommitError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

// IsPartialSuccess reports whether err left the commit merged and only
// failed to deliver the welcome.
func IsPartialSuccess(err error) bool {
	var ce *CommitError
	return errors.As(err, &ce) && ce.Kind == WelcomeDeliveryFailed
}

// PartialSuccess reports whether the commit was merged despite the error.
func (e *CommitError) PartialSuccess() bool {
	return e.Kind == WelcomeDeliveryFailed
}
