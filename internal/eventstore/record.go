// Package eventstore is the coordinator's external collaborator for
// durable state: the append-only fault/event log, the device
// registry's backing store, and graph documents. A Postgres
// implementation backs multi-instance deployments; an embedded Badger
// implementation backs single-binary ones with no external database.
package eventstore

import "time"

// Record is one append-only event-log row.
type Record struct {
	RoomID     string
	DeviceID   string // empty for room-scoped events
	Topic      string
	Kind       string
	ObservedAt time.Time
	PayloadJSON []byte
}

// GraphRecord is one row of the graphs table: a versioned graph
// document for a room.
type GraphRecord struct {
	RoomID    string
	Version   int64
	GraphJSON []byte
}

// GraphActive is the single active-version pointer for a room.
type GraphActive struct {
	RoomID        string
	ActiveVersion int64
	ActivatedAt   time.Time
}
