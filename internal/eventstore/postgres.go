package eventstore

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/roomctl/roomcore/internal/graph"
	"github.com/roomctl/roomcore/internal/registry"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Postgres is the multi-instance-safe Store backed by a Postgres
// database, reached through a pgxpool.Pool but scanned with sqlx so
// row-to-struct mapping doesn't need hand-written Scan calls per
// query.
type Postgres struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
}

// OpenPostgres connects to dsn and applies pending migrations before
// returning, so a fresh database is usable immediately.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("eventstore: connect: %w", err)
	}

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("eventstore: sqlx connect: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("eventstore: goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("eventstore: migrate: %w", err)
	}

	return &Postgres{pool: pool, db: db}, nil
}

func (p *Postgres) Close() error {
	p.db.Close()
	p.pool.Close()
	return nil
}

func (p *Postgres) AppendEvent(ctx context.Context, rec Record) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO events (room_id, device_id, topic, kind, observed_at, payload) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.RoomID, rec.DeviceID, rec.Topic, rec.Kind, rec.ObservedAt, rec.PayloadJSON)
	return err
}

// LoadDevices satisfies registry.Store.
func (p *Postgres) LoadDevices() (map[string]registry.StoredDevice, error) {
	ctx := context.Background()
	rows, err := p.db.QueryxContext(ctx, `SELECT device_id, safety_class, enabled, hmac_key_hex, display_name, tags FROM devices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]registry.StoredDevice)
	for rows.Next() {
		var row struct {
			DeviceID    string         `db:"device_id"`
			SafetyClass string         `db:"safety_class"`
			Enabled     bool           `db:"enabled"`
			HMACKeyHex  string         `db:"hmac_key_hex"`
			DisplayName string         `db:"display_name"`
			Tags        pgTextArray    `db:"tags"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		out[row.DeviceID] = registry.StoredDevice{
			DeviceID:    row.DeviceID,
			SafetyClass: registry.SafetyClass(row.SafetyClass),
			Enabled:     row.Enabled,
			HMACKeyHex:  row.HMACKeyHex,
			DisplayName: row.DisplayName,
			Tags:        row.Tags,
		}
	}
	return out, rows.Err()
}

// LoadGraph satisfies graph.Store: it returns the graph version
// marked active in graph_active.
func (p *Postgres) LoadGraph() (*graph.Document, error) {
	ctx := context.Background()
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT g.graph_json FROM graphs g
		 JOIN graph_active a ON a.room_id = g.room_id AND a.active_version = g.version`).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("eventstore: load active graph: %w", err)
	}
	var doc graph.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("eventstore: decode graph: %w", err)
	}
	return &doc, nil
}

func (p *Postgres) SaveGraph(ctx context.Context, g GraphRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO graphs (room_id, version, graph_json) VALUES ($1, $2, $3)
		 ON CONFLICT (room_id, version) DO UPDATE SET graph_json = EXCLUDED.graph_json`,
		g.RoomID, g.Version, g.GraphJSON)
	return err
}

func (p *Postgres) SetGraphActive(ctx context.Context, active GraphActive) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO graph_active (room_id, active_version, activated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (room_id) DO UPDATE SET active_version = EXCLUDED.active_version, activated_at = EXCLUDED.activated_at`,
		active.RoomID, active.ActiveVersion, active.ActivatedAt)
	return err
}

// pgTextArray adapts a Postgres text[] column to []string via
// database/sql.Scanner without pulling in a full array-type library
// for one column.
type pgTextArray []string

func (a *pgTextArray) Scan(src any) error {
	if src == nil {
		*a = nil
		return nil
	}
	switch v := src.(type) {
	case []string:
		*a = v
		return nil
	case string:
		return json.Unmarshal([]byte(v), a)
	case []byte:
		return json.Unmarshal(v, a)
	default:
		return fmt.Errorf("eventstore: unsupported tags column type %T", src)
	}
}
