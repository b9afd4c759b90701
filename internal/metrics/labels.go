package metrics

const (
	namespaceMLS = "mls"

	subsystemClient   = "client"
	subsystemDelivery = "delivery"
)

const (
	LabelIntent  = "intent"
	LabelOutcome = "outcome"
	LabelKind    = "kind"
)

const (
	OutcomeSuccess  = "success"
	OutcomePartial  = "partial"
	OutcomeFailure  = "failure"
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)
