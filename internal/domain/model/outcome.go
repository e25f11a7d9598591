package model

// RejectReason explains why the sequencer refused an execution request.
type RejectReason string

const (
	// RejectNoFirstSeenRecord: the transaction was never observed on chain,
	// so there is no fairness anchor to order it against.
	RejectNoFirstSeenRecord RejectReason = "NO_FIRST_SEEN_RECORD"
	// RejectStaleOrdering: the claimed submission time predates the
	// transaction's own first-seen anchor.
	RejectStaleOrdering RejectReason = "STALE_ORDERING"
	// RejectConflictingPriorClaim: a strictly-earlier-observed transaction
	// holds a pending claim on the same resource.
	RejectConflictingPriorClaim RejectReason = "CONFLICTING_PRIOR_CLAIM"
	// RejectDuplicateSubmission: the transaction was already accepted.
	RejectDuplicateSubmission RejectReason = "DUPLICATE_SUBMISSION"
)

func (r RejectReason) String() string { return string(r) }

// Outcome is the sequencer's verdict on an execution request.
type Outcome struct {
	Accepted bool
	Reason   RejectReason // empty when Accepted
}

// Accept is the positive outcome.
func Accept() Outcome { return Outcome{Accepted: true} }

// Reject builds a negative outcome with the given reason.
func Reject(reason RejectReason) Outcome { return Outcome{Reason: reason} }

// Kind returns the label used for outcome counters: "accepted" or the
// rejection reason.
func (o Outcome) Kind() string {
	if o.Accepted {
		return "accepted"
	}
	return string(o.Reason)
}
