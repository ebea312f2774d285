// Package cellerr implements the error taxonomy of the core's propagation
// policy: each failure is tagged with a Kind that tells a caller whether it
// recovers locally (MissingDep, TransientNetwork), is surfaced to a zome
// caller (Capacity), or should bubble up to shut the Cell down (Fatal).
package cellerr

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure per spec §7.
type Kind int

const (
	// Integrity: signature invalid, hash mismatch, structural violation.
	// The op is rejected locally and never retried.
	Integrity Kind = iota
	// MissingDep: an awaited hash is not yet present. Retried on arrival,
	// never surfaced to a caller.
	MissingDep
	// TransientNetwork: timeout or unreachable peer. Logged, the round is
	// aborted, and the next round uses a fresh remote.
	TransientNetwork
	// ProtocolMismatch: topology, time-skew, or arc-power skew mismatch.
	// The round aborts without state change on either side.
	ProtocolMismatch
	// Capacity: init timeout, transaction conflict, queue full. Surfaced to
	// the caller of the initiating operation.
	Capacity
	// Fatal: store corruption or an unforgeable invariant violation. Bubbles
	// up to shut the Cell down.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Integrity:
		return "integrity"
	case MissingDep:
		return "missing-dep"
	case TransientNetwork:
		return "transient-network"
	case ProtocolMismatch:
		return "protocol-mismatch"
	case Capacity:
		return "capacity"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and a stack trace (via
// github.com/pkg/errors) so a post-mortem log line can show where a Fatal
// or Integrity failure actually originated, several workflow layers down.
type Error struct {
	kind  Kind
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf returns the classification of err, or Fatal with ok=false if err was
// not produced by this package.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.kind, true
	}
	return Fatal, false
}

// New builds a classified error with a captured stack trace.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, cause: errors.New(msg)}
}

// Wrap classifies cause under kind, annotating it with msg and a stack
// trace captured at this call (pkg/errors.Wrap).
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, cause: errors.Wrap(cause, msg)}
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Sentinels for conditions named explicitly in spec.md.
var (
	ErrAlreadyInitialized = stderrors.New("source chain already initialized")
	ErrHeadMoved          = stderrors.New("chain head moved since builder was prepared")
	ErrEmptyChain         = stderrors.New("chain has no committed actions")
	ErrInitTimeout        = stderrors.New("cell init timed out")
	ErrCellWithoutGenesis = stderrors.New("cell has no genesis actions")
	ErrAlreadyInProgress  = stderrors.New("gossip round already in progress with this cert")
	ErrNoAgents           = stderrors.New("responder holds no local agents")
	ErrTopologyMismatch   = stderrors.New("gossip topology mismatch")
	ErrArqPowerDiffTooLarge = stderrors.New("arc power difference too large")
	ErrTimeSkew           = stderrors.New("initiator/responder time skew too large")
)

// Outcome is the application-visible result of a zome call per spec §7. It
// is a sum type, not an error: callers switch on it explicitly.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeUnauthorized
	OutcomeInvalid
	OutcomeUnresolved
	OutcomeInternalError
)
