package eventstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/roomctl/roomcore/internal/graph"
	"github.com/roomctl/roomcore/internal/registry"
)

// Badger is the embedded-KV Store used when event_store_enabled is
// true but no Postgres DSN is configured: a single binary with no
// external database dependency, at the cost of single-instance-only
// access.
type Badger struct {
	db     *badger.DB
	seq    *badger.Sequence
	roomID string
}

// OpenBadger opens (creating if needed) a Badger database at dir.
// roomID scopes the single active-graph pointer this coordinator
// instance reads, since graph.Store.LoadGraph takes no room argument.
func OpenBadger(dir, roomID string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte("events_seq"), 1000)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("eventstore: event sequence: %w", err)
	}
	return &Badger{db: db, seq: seq, roomID: roomID}, nil
}

func (b *Badger) Close() error {
	b.seq.Release()
	return b.db.Close()
}

func eventKey(roomID string, seq uint64) []byte {
	key := make([]byte, 0, len("events/")+len(roomID)+1+8)
	key = append(key, "events/"...)
	key = append(key, roomID...)
	key = append(key, '/')
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	return append(key, seqBytes[:]...)
}

func (b *Badger) AppendEvent(ctx context.Context, rec Record) error {
	n, err := b.seq.Next()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(rec.RoomID, n), payload)
	})
}

func deviceKey(deviceID string) []byte { return append([]byte("device/"), deviceID...) }

func (b *Badger) LoadDevices() (map[string]registry.StoredDevice, error) {
	out := make(map[string]registry.StoredDevice)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("device/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(opts.Prefix); it.Next() {
			var sd registry.StoredDevice
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sd)
			})
			if err != nil {
				return err
			}
			out[sd.DeviceID] = sd
		}
		return nil
	})
	return out, err
}

// SaveDevice is an administrative write path. It is not part of the
// Store interface and nothing in this repository calls it; the
// registry only reads at startup.
func (b *Badger) SaveDevice(sd registry.StoredDevice) error {
	payload, err := json.Marshal(sd)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(deviceKey(sd.DeviceID), payload)
	})
}

func graphKey(roomID string, version int64) []byte {
	return []byte(fmt.Sprintf("graph/%s/%020d", roomID, version))
}

func graphActiveKey(roomID string) []byte { return []byte("graph_active/" + roomID) }

func (b *Badger) LoadGraph() (*graph.Document, error) {
	var activeVersion int64
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(graphActiveKey(b.roomID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var active GraphActive
			if err := json.Unmarshal(val, &active); err != nil {
				return err
			}
			activeVersion = active.ActiveVersion
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("eventstore: load active graph pointer: %w", err)
	}

	var doc graph.Document
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(graphKey(b.roomID, activeVersion))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("eventstore: load graph version %d: %w", activeVersion, err)
	}
	return &doc, nil
}

func (b *Badger) SaveGraph(ctx context.Context, g GraphRecord) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(graphKey(g.RoomID, g.Version), g.GraphJSON)
	})
}

func (b *Badger) SetGraphActive(ctx context.Context, active GraphActive) error {
	payload, err := json.Marshal(active)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(graphActiveKey(active.RoomID), payload)
	})
}
