// Package safety tracks per-room safety rollup, the fail-closed latch,
// and the derived dispatch pause reason. Nothing outside this package
// sets the pause reason directly; it is always recomputed from its
// inputs (broker state, latch state, manual pause).
package safety

// Kind is a reported or rolled-up safety state. Severity, least to
// most: SAFE, MAINTENANCE, BLOCKED, FAULT, E_STOP (see severity).
type Kind string

const (
	KindSafe        Kind = "SAFE"
	KindBlocked     Kind = "BLOCKED"
	KindFault       Kind = "FAULT"
	KindEStop       Kind = "E_STOP"
	KindMaintenance Kind = "MAINTENANCE"
)

// severity ranks Kind for rollup and latch comparisons. Higher wins.
var severity = map[Kind]int{
	KindSafe:        0,
	KindMaintenance: 1,
	KindBlocked:     2,
	KindFault:       3,
	KindEStop:       4,
}

// worse reports whether a is strictly more severe than b.
func worse(a, b Kind) bool {
	return severity[a] > severity[b]
}

// State is a single reported or rolled-up safety condition.
type State struct {
	Kind    Kind
	Reason  string
	Latched bool
}
