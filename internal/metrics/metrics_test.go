package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	r := New(false)
	assert.Nil(t, r)
}

func TestNilRegistryMethodsDoNotPanic(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.SetDeviceCounts(3, 1)
		r.SetPauseReason("SAFETY_LATCHED")
		r.SetGraphState(2, 5)
		r.IncDispatchPublish()
		r.IncDispatchFault("COMMAND_REJECTED")
		r.IncSafetyLatch()
		r.SetBrokerConnected(true)
		r.IncEventWriteDrop()
	})
	assert.Nil(t, r.Gatherer())
}

func TestEnabledRegistryRecordsMetrics(t *testing.T) {
	r := New(true)
	require.NotNil(t, r)

	r.SetDeviceCounts(5, 2)
	r.IncDispatchPublish()
	r.IncDispatchFault("COMMAND_REJECTED")

	mfs, err := r.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}
