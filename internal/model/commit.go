package model

type (
	GroupInfoEncryptionType uint8
	RatchetTreeType         uint8

	GroupInfoBundle struct {
		EncryptionType  GroupInfoEncryptionType `msgpack:"encryption_type"`
		RatchetTreeType RatchetTreeType         `msgpack:"ratchet_tree_type"`
		Payload         []byte                  `msgpack:"payload"`
	}

	// CommitBundle is what the engine produces for one commit. Welcome is
	// nil unless members were added.
	CommitBundle struct {
		Commit    []byte
		Welcome   []byte
		GroupInfo GroupInfoBundle
	}

	IntentKind int

	// Intent describes what a commit should do.
	Intent struct {
		Kind     IntentKind
		Invitees []Invitee
		Clients  []MemberHandle
	}
)

const (
	GroupInfoPlaintext GroupInfoEncryptionType = iota
	GroupInfoJWEEncrypted
)

const (
	RatchetTreeFull RatchetTreeType = iota
	RatchetTreeDelta
	RatchetTreeByRef
)

const (
	IntentAddMembers IntentKind = iota
	IntentRemoveMembers
	IntentUpdateKeyMaterial
	IntentCommitPendingProposals
)

func (k IntentKind) String() string {
	switch k {
	case IntentAddMembers:
		return "add_members"
	case IntentRemoveMembers:
		return "remove_members"
	case IntentUpdateKeyMaterial:
		return "update_key_material"
	case IntentCommitPendingProposals:
		return "commit_pending_proposals"
	default:
		return "unknown"
	}
}

func AddMembers(invitees []Invitee) Intent {
	return Intent{Kind: IntentAddMembers, Invitees: invitees}
}

func RemoveMembers(clients []MemberHandle) Intent {
	return Intent{Kind: IntentRemoveMembers, Clients: clients}
}

func UpdateKeyMaterial() Intent {
	return Intent{Kind: IntentUpdateKeyMaterial}
}

func CommitPendingProposals() Intent {
	return Intent{Kind: IntentCommitPendingProposals}
}
