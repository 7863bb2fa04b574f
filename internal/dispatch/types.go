package dispatch

import (
	"encoding/json"
	"time"

	"github.com/roomctl/roomcore/internal/envelope"
)

// Request is an ad-hoc, graph-originated, or control-plane-originated
// dispatch request. CorrelationID is optional; a fresh one is minted
// when absent. The timeout/retry overrides default to the
// coordinator's configured values when nil.
type Request struct {
	Schema string
	RoomID string

	DeviceID              string
	Action                envelope.Action
	Parameters            json.RawMessage
	RequestedSafetyClass  envelope.SafetyClass
	CorrelationID         string

	RetriesOverride          *int
	AckTimeoutOverride       *time.Duration
	CompleteTimeoutOverride  *time.Duration
}

// Pending is an in-flight command attempt, keyed by command id.
type Pending struct {
	Envelope *envelope.Envelope

	FirstPublishedAt time.Time
	LastUpdatedAt    time.Time
	PublishedAt      time.Time

	RetriesLeft     int
	AckTimeout      time.Duration
	CompleteTimeout time.Duration

	Accepted   bool
	AcceptedAt time.Time
	Completed  bool
	Rejected   bool
	RejectReason string

	CorrelationID string
}

// Outcome reports what admission/send decided for a Request, letting
// callers (notably the Graph Runner) distinguish "published, now
// waiting" from "rejected at admission".
type Outcome struct {
	CommandID string
	Admitted  bool
}
