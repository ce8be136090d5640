package common

import (
	"resv/src/types"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleTransitions(t *testing.T) {
	cases := []struct {
		from  types.ReservationState
		to    types.ReservationState
		valid bool
	}{
		{types.RESERVATION_PENDING_AUTH, types.RESERVATION_AUTHORIZED, true},
		{types.RESERVATION_PENDING_AUTH, types.RESERVATION_FAILED_AUTH, true},
		{types.RESERVATION_PENDING_AUTH, types.RESERVATION_EXPIRED, true},
		{types.RESERVATION_PENDING_AUTH, types.RESERVATION_CANCELLED, true},
		{types.RESERVATION_PENDING_AUTH, types.RESERVATION_CONFIRMED, false},
		{types.RESERVATION_AUTHORIZED, types.RESERVATION_PENDING_CAPTURE, true},
		{types.RESERVATION_AUTHORIZED, types.RESERVATION_CONFIRMED, false},
		{types.RESERVATION_AUTHORIZED, types.RESERVATION_FAILED_AUTH, false},
		{types.RESERVATION_PENDING_CAPTURE, types.RESERVATION_CAPTURING, true},
		{types.RESERVATION_PENDING_CAPTURE, types.RESERVATION_FAILED_VENDOR_TIMEOUT, true},
		{types.RESERVATION_CAPTURING, types.RESERVATION_CONFIRMED, true},
		{types.RESERVATION_CAPTURING, types.RESERVATION_FAILED_COMMIT, true},
		{types.RESERVATION_CAPTURING, types.RESERVATION_MANUAL_REVIEW, true},
		{types.RESERVATION_CAPTURING, types.RESERVATION_CANCELLED, false},
		{types.RESERVATION_CAPTURING, types.RESERVATION_EXPIRED, false},
	}
	for _, c := range cases {
		assert.Equalf(t, c.valid, IsValidTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	terminals := []types.ReservationState{
		types.RESERVATION_CONFIRMED,
		types.RESERVATION_FAILED_AUTH,
		types.RESERVATION_FAILED_VENDOR_TIMEOUT,
		types.RESERVATION_FAILED_COMMIT,
		types.RESERVATION_MANUAL_REVIEW,
		types.RESERVATION_EXPIRED,
		types.RESERVATION_CANCELLED,
	}
	all := []types.ReservationState{
		types.RESERVATION_PENDING_AUTH,
		types.RESERVATION_AUTHORIZED,
		types.RESERVATION_PENDING_CAPTURE,
		types.RESERVATION_CAPTURING,
	}
	all = append(all, terminals...)
	for _, from := range terminals {
		assert.True(t, IsTerminalState(from))
		assert.Empty(t, NextStates(from))
		for _, to := range all {
			assert.Falsef(t, IsValidTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestActiveStatesAreNotTerminal(t *testing.T) {
	for _, s := range []types.ReservationState{
		types.RESERVATION_PENDING_AUTH,
		types.RESERVATION_AUTHORIZED,
		types.RESERVATION_PENDING_CAPTURE,
		types.RESERVATION_CAPTURING,
	} {
		assert.False(t, IsTerminalState(s))
		assert.NotEmpty(t, NextStates(s))
	}
}
