package common

import (
	"resv/src/types"
)

// validTransitions holds every state change the reservation lifecycle allows.
// Terminal states map to an empty set; nothing leaves a terminal state.
var validTransitions = map[types.ReservationState][]types.ReservationState{
	types.RESERVATION_PENDING_AUTH: {
		types.RESERVATION_AUTHORIZED,
		types.RESERVATION_FAILED_AUTH,
		types.RESERVATION_EXPIRED,
		types.RESERVATION_CANCELLED,
	},
	types.RESERVATION_AUTHORIZED: {
		types.RESERVATION_PENDING_CAPTURE,
		types.RESERVATION_EXPIRED,
		types.RESERVATION_CANCELLED,
	},
	types.RESERVATION_PENDING_CAPTURE: {
		types.RESERVATION_CAPTURING,
		types.RESERVATION_FAILED_VENDOR_TIMEOUT,
		types.RESERVATION_CANCELLED,
	},
	types.RESERVATION_CAPTURING: {
		types.RESERVATION_CONFIRMED,
		types.RESERVATION_FAILED_COMMIT,
		types.RESERVATION_MANUAL_REVIEW,
		types.RESERVATION_FAILED_VENDOR_TIMEOUT,
	},
	types.RESERVATION_CONFIRMED:             {},
	types.RESERVATION_FAILED_AUTH:           {},
	types.RESERVATION_FAILED_VENDOR_TIMEOUT: {},
	types.RESERVATION_FAILED_COMMIT:         {},
	types.RESERVATION_MANUAL_REVIEW:         {},
	types.RESERVATION_EXPIRED:               {},
	types.RESERVATION_CANCELLED:             {},
}

func IsTerminalState(s types.ReservationState) bool {
	next, ok := validTransitions[s]
	return ok && len(next) == 0
}

func IsValidTransition(from, to types.ReservationState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStates returns the states reachable from s. The returned slice is a
// copy; callers may mutate it.
func NextStates(s types.ReservationState) []types.ReservationState {
	next := validTransitions[s]
	out := make([]types.ReservationState, len(next))
	copy(out, next)
	return out
}
