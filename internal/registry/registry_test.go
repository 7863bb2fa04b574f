package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	devices map[string]StoredDevice
	err     error
}

func (f fakeStore) LoadDevices() (map[string]StoredDevice, error) {
	return f.devices, f.err
}

func TestLoadSeedOnlyWhenStoreNil(t *testing.T) {
	seed := Seed{
		SafetyClassByDevice: map[string]SafetyClass{"door-1": SafetyCritical},
		HMACKeyHexByDevice:  map[string]string{"door-1": "deadbeef"},
	}

	reg, err := Load(nil, seed)
	require.NoError(t, err)

	entry := reg.Lookup("door-1")
	require.NotNil(t, entry)
	assert.Equal(t, SafetyCritical, entry.SafetyClass)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, entry.HMACKey)
}

func TestLoadStoreOverridesSeed(t *testing.T) {
	seed := Seed{
		SafetyClassByDevice: map[string]SafetyClass{"door-1": SafetyNonCritical},
	}
	store := fakeStore{devices: map[string]StoredDevice{
		"door-1": {DeviceID: "door-1", SafetyClass: SafetyCritical, Enabled: true, HMACKeyHex: "aa"},
	}}

	reg, err := Load(store, seed)
	require.NoError(t, err)

	entry := reg.Lookup("door-1")
	require.NotNil(t, entry)
	assert.Equal(t, SafetyCritical, entry.SafetyClass)
	assert.True(t, entry.Enabled)
}

func TestLookupUnknownDeviceReturnsNil(t *testing.T) {
	reg, err := Load(nil, Seed{})
	require.NoError(t, err)
	assert.Nil(t, reg.Lookup("missing"))
}

func TestEffectiveSafetyClassPrefersCritical(t *testing.T) {
	entry := &Entry{SafetyClass: SafetyCritical}
	assert.Equal(t, SafetyCritical, EffectiveSafetyClass(SafetyNonCritical, entry))
	assert.Equal(t, SafetyCritical, EffectiveSafetyClass(SafetyCritical, &Entry{SafetyClass: SafetyNonCritical}))
	assert.Equal(t, SafetyNonCritical, EffectiveSafetyClass(SafetyNonCritical, &Entry{SafetyClass: SafetyNonCritical}))
}
