// Package registry holds the per-device static configuration loaded
// once at startup: safety class, enabled flag, and HMAC key. The core
// never mutates it after load; operator-driven registry changes are
// out of scope.
package registry

import "encoding/hex"

// SafetyClass mirrors envelope.SafetyClass; duplicated here (rather
// than imported) to keep the registry free of a dependency on the
// envelope wire type it merely labels devices with.
type SafetyClass string

const (
	SafetyNonCritical SafetyClass = "NON_CRITICAL"
	SafetyCritical    SafetyClass = "CRITICAL"
)

// Entry is one device's static registry record.
type Entry struct {
	DeviceID    string
	SafetyClass SafetyClass
	Enabled     bool
	HMACKey     []byte

	// DisplayName and Tags are operator-facing labels, never consulted
	// by admission logic.
	DisplayName string
	Tags        []string
}

// Store is the external collaborator the registry loads from: devices
// keyed by id, read once at startup.
type Store interface {
	LoadDevices() (map[string]StoredDevice, error)
}

// StoredDevice is the persisted shape of one device record.
type StoredDevice struct {
	DeviceID    string
	SafetyClass SafetyClass
	Enabled     bool
	HMACKeyHex  string
	DisplayName string
	Tags        []string
}

// Seed is the environment-provided pre-population merged under
// whatever the store returns; the store always wins on conflict.
type Seed struct {
	SafetyClassByDevice map[string]SafetyClass
	HMACKeyHexByDevice  map[string]string
}

// Registry is the immutable-after-load device directory.
type Registry struct {
	entries map[string]*Entry
}

// Load builds a Registry from an optional seed overlaid by the store
// (store wins on every field present in both). A nil store is valid:
// the registry is then seed-only, useful for tests and dry-run setups
// with no event store configured.
func Load(store Store, seed Seed) (*Registry, error) {
	entries := make(map[string]*Entry)

	for deviceID, class := range seed.SafetyClassByDevice {
		e := entries[deviceID]
		if e == nil {
			e = &Entry{DeviceID: deviceID}
			entries[deviceID] = e
		}
		e.SafetyClass = class
	}
	for deviceID, keyHex := range seed.HMACKeyHexByDevice {
		e := entries[deviceID]
		if e == nil {
			e = &Entry{DeviceID: deviceID}
			entries[deviceID] = e
		}
		e.HMACKey = decodeHexKey(keyHex)
	}

	if store != nil {
		stored, err := store.LoadDevices()
		if err != nil {
			return nil, err
		}
		for deviceID, sd := range stored {
			entries[deviceID] = &Entry{
				DeviceID:    deviceID,
				SafetyClass: sd.SafetyClass,
				Enabled:     sd.Enabled,
				HMACKey:     decodeHexKey(sd.HMACKeyHex),
				DisplayName: sd.DisplayName,
				Tags:        sd.Tags,
			}
		}
	}

	return &Registry{entries: entries}, nil
}

// Lookup returns the entry for deviceID, or nil if unknown.
func (r *Registry) Lookup(deviceID string) *Entry {
	if r == nil {
		return nil
	}
	return r.entries[deviceID]
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// DeviceIDs returns every known device id, order unspecified.
func (r *Registry) DeviceIDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// EffectiveSafetyClass returns the stricter of requested and the
// device's registered class: CRITICAL wins over NON_CRITICAL.
func EffectiveSafetyClass(requested SafetyClass, entry *Entry) SafetyClass {
	if requested == SafetyCritical || (entry != nil && entry.SafetyClass == SafetyCritical) {
		return SafetyCritical
	}
	return SafetyNonCritical
}

func decodeHexKey(hexStr string) []byte {
	if hexStr == "" {
		return nil
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil
	}
	return b
}
