// Package dhtdb implements spec.md §3 "Integration status" and §4.6: the
// validation-limbo and integration database every incoming or produced op
// passes through before it is considered part of the DHT.
package dhtdb

// Status is the limbo/integration state machine of spec.md §3.
type Status uint8

const (
	StatusPending Status = iota
	StatusAwaitingSysDeps
	StatusSysValidated
	StatusAwaitingAppDeps
	StatusIntegrationLimbo
	StatusIntegratedValid
	StatusIntegratedRejected
)

func (s Status) String() string {
	names := [...]string{
		"Pending", "AwaitingSysDeps", "SysValidated", "AwaitingAppDeps",
		"IntegrationLimbo", "Integrated(Valid)", "Integrated(Rejected)",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// Terminal reports whether s is one of the two Integrated end states: once
// reached, an op never re-enters limbo (spec.md §4.6 idempotence).
func (s Status) Terminal() bool {
	return s == StatusIntegratedValid || s == StatusIntegratedRejected
}

// validTransitions encodes the DAG of spec.md §3: a status may only move
// forward, with AwaitingSysDeps/AwaitingAppDeps as the sole re-entrant
// states (an op may return to them repeatedly while a dependency is still
// missing).
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusAwaitingSysDeps:    true,
		StatusSysValidated:       true,
		StatusIntegratedRejected: true, // deterministic sys-validation failure
	},
	StatusAwaitingSysDeps: {
		StatusAwaitingSysDeps:    true, // re-queued, still missing
		StatusSysValidated:       true,
		StatusIntegratedRejected: true, // deterministic sys-validation failure
	},
	StatusSysValidated: {
		StatusAwaitingAppDeps:    true,
		StatusIntegrationLimbo:   true,
		StatusIntegratedRejected: true, // deterministic app-validation failure
	},
	StatusAwaitingAppDeps: {
		StatusAwaitingAppDeps:    true, // re-queued, still missing
		StatusIntegrationLimbo:   true,
		StatusIntegratedRejected: true, // deterministic app-validation failure
	},
	StatusIntegrationLimbo: {
		StatusIntegratedValid:    true,
		StatusIntegratedRejected: true,
	},
}

// CanAdvance reports whether from -> to is a legal transition.
func CanAdvance(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	return validTransitions[from][to]
}
