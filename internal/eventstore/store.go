package eventstore

import (
	"context"

	"github.com/roomctl/roomcore/internal/graph"
	"github.com/roomctl/roomcore/internal/registry"
)

// Store is the durable backend the coordinator reads its device
// registry and graph documents from, and appends its event log to.
// Both the Postgres and Badger implementations satisfy this, along
// with registry.Store and graph.Store so either can be handed directly
// to those packages without an adapter.
type Store interface {
	registry.Store
	graph.Store

	AppendEvent(ctx context.Context, rec Record) error
	SaveGraph(ctx context.Context, g GraphRecord) error
	SetGraphActive(ctx context.Context, active GraphActive) error
	Close() error
}
