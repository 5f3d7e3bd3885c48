package domain

// CallID is the opaque call token generated by the initiator.
type CallID string

type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

func (k CallKind) Valid() bool {
	return k == CallKindAudio || k == CallKindVideo
}

// CallOutcome is the terminal disposition of a call attempt.
type CallOutcome string

const (
	// CallOutcomeAnswered is set when the callee accepts (or the first
	// mesh participant joins); it survives a later normal hangup.
	CallOutcomeAnswered CallOutcome = "answered"
	// CallOutcomeMissed means the ring timeout fired with no acceptance.
	CallOutcomeMissed CallOutcome = "missed"
	// CallOutcomeDeclined means the callee rejected or vanished mid-ring.
	CallOutcomeDeclined CallOutcome = "declined"
	// CallOutcomeCanceled means the caller hung up or vanished before
	// the callee answered.
	CallOutcomeCanceled CallOutcome = "canceled"
	// CallOutcomeBusy means the target was committed to another session.
	CallOutcomeBusy CallOutcome = "busy"
	// CallOutcomeEnded is the terminal state of a mesh call that drained.
	CallOutcomeEnded CallOutcome = "ended"
)
