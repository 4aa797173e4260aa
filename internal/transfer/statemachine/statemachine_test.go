package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dscp-io/connector/internal/transfer/dataplane"
	"github.com/dscp-io/connector/internal/transfer/entities"
	"github.com/dscp-io/connector/pkg/errs"
)

func TestDecide_RequestOpensSession(t *testing.T) {
	d, err := Decide(Input{Message: entities.MessageTransferRequest})
	require.NoError(t, err)
	assert.Equal(t, entities.StateRequested, d.Next)
	assert.Equal(t, dataplane.Intent(""), d.Intent)
}

func TestDecide_ProviderStartProvisionsDataPlane(t *testing.T) {
	d, err := Decide(Input{
		Role: entities.RoleProvider, HasState: true, State: entities.StateRequested,
		Message: entities.MessageTransferStart, Outbound: true,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.StateStarted, d.Next)
	assert.Equal(t, dataplane.IntentProvision, d.Intent)
}

func TestDecide_ConsumerStartAttaches(t *testing.T) {
	d, err := Decide(Input{
		Role: entities.RoleConsumer, HasState: true, State: entities.StateRequested,
		Message: entities.MessageTransferStart,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.StateStarted, d.Next)
	assert.Equal(t, dataplane.IntentAttach, d.Intent)
}

func TestDecide_SuspendAndResume(t *testing.T) {
	d, err := Decide(Input{HasState: true, State: entities.StateStarted, Message: entities.MessageTransferSuspension})
	require.NoError(t, err)
	assert.Equal(t, entities.StateSuspended, d.Next)
	assert.Equal(t, dataplane.IntentDetach, d.Intent)

	d, err = Decide(Input{HasState: true, State: entities.StateSuspended, Message: entities.MessageTransferStart})
	require.NoError(t, err)
	assert.Equal(t, entities.StateStarted, d.Next)
	assert.Equal(t, dataplane.IntentProvision, d.Intent)
}

func TestDecide_CompletionFromStartedOrSuspended(t *testing.T) {
	for _, s := range []entities.State{entities.StateStarted, entities.StateSuspended} {
		d, err := Decide(Input{HasState: true, State: s, Message: entities.MessageTransferCompletion})
		require.NoError(t, err)
		assert.Equal(t, entities.StateCompleted, d.Next)
		assert.Equal(t, dataplane.IntentTeardown, d.Intent)
	}
}

func TestDecide_TerminationTearsDown(t *testing.T) {
	d, err := Decide(Input{HasState: true, State: entities.StateStarted, Message: entities.MessageTransferTermination})
	require.NoError(t, err)
	assert.Equal(t, entities.StateTerminated, d.Next)
	assert.Equal(t, dataplane.IntentTeardown, d.Intent)
}

func TestDecide_TerminalStateRejectsFurtherTransitions(t *testing.T) {
	_, err := Decide(Input{HasState: true, State: entities.StateCompleted, Message: entities.MessageTransferStart})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.Forbidden, e.Kind)
}

func TestDecide_UnknownCombinationIsForbidden(t *testing.T) {
	_, err := Decide(Input{HasState: true, State: entities.StateRequested, Message: entities.MessageTransferCompletion})
	require.Error(t, err)
}
