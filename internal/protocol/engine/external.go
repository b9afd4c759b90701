package engine

import (
	"mls_chat/internal/cryptographic/signature"
	"mls_chat/internal/model"
)

// ExternalProposal builds a proposal sent on behalf of the delivery
// service. Members accept it when key is one of the group's external
// senders.
func ExternalProposal(key []byte, id model.GroupID, epoch uint64, p model.Proposal) ([]byte, error) {
	payload, err := p.Encode()
	if err != nil {
		return nil, err
	}
	env := &model.Envelope{
		Kind:     model.KindProposal,
		GroupID:  id,
		Epoch:    epoch,
		External: true,
		Payload:  payload,
	}
	tbs, err := env.SigningBytes()
	if err != nil {
		return nil, err
	}
	env.Signature, err = signature.SignWithLabel(key, labelMessage, tbs)
	if err != nil {
		return nil, err
	}
	return env.Encode()
}
