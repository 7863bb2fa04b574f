package safety

import (
	"sync"
	"time"

	"github.com/roomctl/roomcore/internal/fault"
)

// PauseReason is the coordinator's single derived reason dispatch is
// currently refused, or "none". Never set directly — always recomputed
// from broker, latch, and manual-pause state.
type PauseReason string

const (
	PauseNone          PauseReason = "none"
	PauseBrokerDown    PauseReason = "BROKER_DOWN"
	PauseSafetyLatched PauseReason = "SAFETY_LATCHED"
	PauseManual        PauseReason = "MANUAL_PAUSE"
)

// RoomSafety returns the worst device kind among devices by severity
// order. If latched is true, the result is forced latched and any
// non-E_STOP kind is promoted to FAULT (E_STOP is already the worst
// kind and stays E_STOP).
func RoomSafety(devices []Kind, latched bool) State {
	worst := KindSafe
	for _, d := range devices {
		if worse(d, worst) {
			worst = d
		}
	}
	if latched {
		if worst != KindEStop {
			worst = KindFault
		}
		return State{Kind: worst, Latched: true}
	}
	return State{Kind: worst, Latched: false}
}

// Supervisor owns the room's latch and derived pause reason. All
// mutation happens from the single coordinator goroutine; the mutex
// exists only to let the façade's read-only status cache take a
// consistent snapshot concurrently.
type Supervisor struct {
	mu sync.RWMutex

	roomID string
	sink   fault.Sink

	latched      bool
	latchedSince time.Time

	brokerDown      bool
	brokerDownSince time.Time

	manualPause bool
}

// NewSupervisor creates a Supervisor that raises faults through sink.
func NewSupervisor(roomID string, sink fault.Sink) *Supervisor {
	return &Supervisor{roomID: roomID, sink: sink}
}

// MaybeLatch transitions the room into the latched state if it is not
// already latched and the report warrants it: reported.Latched is true,
// or reported.Kind is FAULT or E_STOP. No-op if already latched.
// Returns true if this call caused the transition.
func (s *Supervisor) MaybeLatch(deviceID string, reported State, observedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latched {
		return false
	}
	if !reported.Latched && reported.Kind != KindFault && reported.Kind != KindEStop {
		return false
	}

	s.latched = true
	s.latchedSince = observedAt

	if s.sink != nil {
		s.sink.Raise(fault.Fault{
			Kind:       fault.KindSafetyLatched,
			Severity:   fault.SeverityCritical,
			RoomID:     s.roomID,
			DeviceID:   deviceID,
			Message:    "room safety latched: " + string(reported.Kind),
			ObservedAt: observedAt,
		})
	}
	return true
}

// IsLatched reports the current latch state.
func (s *Supervisor) IsLatched() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latched
}

// LatchedSince returns the instant the latch engaged, or the zero
// time if not latched.
func (s *Supervisor) LatchedSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latchedSince
}

// ClearLatch clears the latch unconditionally. The caller (Control
// Plane) is responsible for verifying every device is online, SAFE,
// and not latched before calling this — Supervisor does not re-check.
func (s *Supervisor) ClearLatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latched = false
	s.latchedSince = time.Time{}
}

// SetBrokerDown records a broker outage edge. Passing the same value
// twice is a no-op with respect to brokerDownSince.
func (s *Supervisor) SetBrokerDown(down bool, observedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if down == s.brokerDown {
		return
	}
	s.brokerDown = down
	if down {
		s.brokerDownSince = observedAt
	} else {
		s.brokerDownSince = time.Time{}
	}
}

// SetManualPause sets or clears the operator-driven pause flag.
func (s *Supervisor) SetManualPause(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualPause = paused
}

// PauseReason recomputes the single active pause reason from current
// inputs. Priority: BROKER_DOWN > SAFETY_LATCHED > MANUAL_PAUSE > none.
func (s *Supervisor) PauseReason() PauseReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.brokerDown:
		return PauseBrokerDown
	case s.latched:
		return PauseSafetyLatched
	case s.manualPause:
		return PauseManual
	default:
		return PauseNone
	}
}

// BrokerDownSince returns the instant the broker outage began, or the
// zero time if the broker is currently up.
func (s *Supervisor) BrokerDownSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.brokerDownSince
}
