// Package countersign documents the extension point for multi-author
// sessions (spec.md §9 Open Question #3): several agents committing the
// same action content in a coordinated session so each one's chain links
// to a shared, agreed preflight.
//
// Nothing in this module wires a session through yet. The shape it would
// take is already present in action.MultiAuthorRef — a SessionID shared by
// every co-author plus the set of agents who signed the preflight — so an
// embedding application can attach it to an action payload once it defines
// its own preflight negotiation and deadlock-recovery policy. Building that
// negotiation is out of scope here: spec.md leaves the exact mechanism an
// open question, and a guessed-at wire protocol for it would be fiction.
package countersign

import "github.com/dhtmesh/cellcore/action"

// Ref re-exports action.MultiAuthorRef under this package's name so a
// future countersigning session type has somewhere to live without
// reaching into the action package directly.
type Ref = action.MultiAuthorRef
