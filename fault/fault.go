// Package fault classifies the failures of the bring-up pipeline.
//
// Every fallible step returns an error that carries one Kind. The
// orchestrator is the only consumer and reacts to every kind the same way:
// it stops the pipeline and parks.
package fault

import "errors"

// Kind is a stable error class. It is comparable and implements error, so
// errors.Is(err, fault.Init) works on any wrapped *E.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// Configuration is an impossible clock, pin or bus parameter combination.
	Configuration Kind = "configuration"
	// PeripheralUnavailable means the one-time hardware handle acquisition failed.
	PeripheralUnavailable Kind = "peripheral_unavailable"
	// Init means the controller handshake or orientation command was rejected.
	Init Kind = "init"
	// Draw means a bus write to a running panel was rejected, while
	// rendering or turning it off.
	Draw Kind = "draw"

	Unknown Kind = "error" // fallback
)

// E wraps a cause with its Kind and the operation that failed.
type E struct {
	K   Kind
	Op  string
	Err error
}

func (e *E) Error() string {
	s := string(e.K)
	if e.Op != "" {
		s += ": " + e.Op
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Kind() Kind    { return e.K }

// Is reports whether target is the Kind of e.
func (e *E) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.K
}

// New returns err classified as k. A nil err yields nil. An err that already
// carries a Kind is returned unchanged so the innermost classification wins.
func New(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *E
	if errors.As(err, &e) {
		return err
	}
	return &E{K: k, Op: op, Err: err}
}

// Of extracts the Kind from err. nil has no kind and returns "".
func Of(err error) Kind {
	if err == nil {
		return ""
	}
	if k, ok := err.(Kind); ok {
		return k
	}
	var e *E
	if errors.As(err, &e) {
		return e.K
	}
	return Unknown
}
