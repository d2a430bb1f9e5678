package calls

import "strings"

// NormalizeStatus maps the provider's case-inconsistent call status strings to
// the canonical CallStatus enum. Unrecognized values pass through lower-cased,
// uninterpreted.
func NormalizeStatus(raw string) CallStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "RINGING":
		return StatusRinging
	case "CONNECTED", "ANSWERED":
		return StatusConnected
	case "ENDED", "COMPLETED":
		return StatusEnded
	case "REJECTED", "DECLINED", "BUSY":
		return StatusRejected
	case "MISSED", "NO_ANSWER", "CANCELLED", "CANCELED", "TIMEOUT", "UNANSWERED":
		return StatusMissed
	case "FAILED":
		return StatusFailed
	default:
		return CallStatus(strings.ToLower(strings.TrimSpace(raw)))
	}
}

// ApplyStatus computes the stored status after an event reporting next.
//
// A call that rings and then ends without ever being marked connected was
// never answered: ringing + ended stores missed. The override applies only to
// transitions from ringing; connected + ended stores ended. The
// reclassification is sticky: a redelivered ended event for a call already
// stored missed keeps missed, so duplicate deliveries cannot undo it.
func ApplyStatus(current, next CallStatus) CallStatus {
	if current == StatusRinging && next == StatusEnded {
		return StatusMissed
	}
	if current == StatusMissed && next == StatusEnded {
		return StatusMissed
	}
	return next
}

// OutcomeFor derives the permission-facing outcome of a transition, if the
// applied status is terminal. Ended after connected counts as a connected
// call; ended reached any other way carries no outcome of its own (the
// ringing case has already been reclassified to missed by ApplyStatus).
func OutcomeFor(previous, applied CallStatus) (Outcome, bool) {
	switch applied {
	case StatusMissed:
		return OutcomeMissed, true
	case StatusRejected:
		return OutcomeRejected, true
	case StatusFailed:
		return OutcomeFailed, true
	case StatusEnded:
		if previous == StatusConnected {
			return OutcomeConnected, true
		}
		return "", false
	default:
		return "", false
	}
}
