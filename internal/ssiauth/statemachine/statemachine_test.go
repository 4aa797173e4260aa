package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscp-io/connector/internal/ssiauth/entities"
	"github.com/dscp-io/connector/pkg/errs"
)

func TestDecide_GrantHappyPath(t *testing.T) {
	next, err := Decide("", false, EventGrantRequest)
	require.NoError(t, err)
	assert.Equal(t, entities.StateAwaitingInteraction, next)

	next, err = Decide(entities.StateAwaitingInteraction, true, EventRequestVPD)
	require.NoError(t, err)
	assert.Equal(t, entities.StateAwaitingVP, next)

	next, err = Decide(entities.StateAwaitingVP, true, EventVPValid)
	require.NoError(t, err)
	assert.Equal(t, entities.StateVerified, next)

	next, err = Decide(entities.StateVerified, true, EventApprove)
	require.NoError(t, err)
	assert.Equal(t, entities.StateApproved, next)

	next, err = Decide(entities.StateApproved, true, EventContinueValid)
	require.NoError(t, err)
	assert.Equal(t, entities.StateCompleted, next)
}

func TestDecide_VPFailureAndDenial(t *testing.T) {
	next, err := Decide(entities.StateAwaitingVP, true, EventVPInvalid)
	require.NoError(t, err)
	assert.Equal(t, entities.StateFailed, next)

	next, err = Decide(entities.StateVerified, true, EventDeny)
	require.NoError(t, err)
	assert.Equal(t, entities.StateDenied, next)

	next, err = Decide(entities.StateApproved, true, EventContinueInvalid)
	require.NoError(t, err)
	assert.Equal(t, entities.StateFailed, next)
}

func TestDecide_ExpireFromAnyNonTerminalState(t *testing.T) {
	for _, s := range []entities.State{entities.StateAwaitingInteraction, entities.StateAwaitingVP, entities.StateVerified, entities.StateApproved} {
		next, err := Decide(s, true, EventExpire)
		require.NoError(t, err)
		assert.Equal(t, entities.StateExpired, next)
	}
}

func TestDecide_ExpireFromTerminalStateIsForbidden(t *testing.T) {
	_, err := Decide(entities.StateCompleted, true, EventExpire)
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.Forbidden, e.Kind)
}

func TestDecide_UnknownCombinationIsForbidden(t *testing.T) {
	_, err := Decide(entities.StateAwaitingInteraction, true, EventVPValid)
	require.Error(t, err)
}
