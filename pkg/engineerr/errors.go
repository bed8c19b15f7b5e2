// Package engineerr defines the error taxonomy the execution engine raises.
//
// Every engine-originated failure is a *Error carrying a Kind discriminator,
// following the same sentinel-plus-wrapped-struct idiom the rest of this
// codebase uses for domain errors, generalized to one struct instead of one
// type per kind since the kinds differ only by tag and retry/propagation
// policy, not by shape.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the error taxonomy.
type Kind string

const (
	// KindCycle is raised while building the DAG when a cycle prevents
	// full topological layering.
	KindCycle Kind = "cycle"
	// KindAlreadyRunning is raised synchronously from Engine.Execute when
	// the workflow is already Running.
	KindAlreadyRunning Kind = "already_running"
	// KindConfiguration is raised by Node.Setup when the supplied config
	// fails JSON Schema validation. Not retried.
	KindConfiguration Kind = "configuration"
	// KindIllegalState is raised when a node or workflow state transition
	// is attempted outside the legal transition table. Indicates an
	// engine bug; never retried.
	KindIllegalState Kind = "illegal_state"
	// KindSecretResolution is raised when the secret resolver cannot
	// answer a {{secrets.name.field}} reference in a node's config.
	KindSecretResolution Kind = "secret_resolution"
	// KindProcess wraps an error returned by a node's Process method.
	KindProcess Kind = "process"
	// KindSourceFailed is raised during input collection when an
	// upstream source node ended in Failed.
	KindSourceFailed Kind = "source_failed"
	// KindCancelled is raised when the execution context is cancelled.
	KindCancelled Kind = "cancelled"
	// KindPersistence wraps a persistence hook failure. Logged, never
	// fatal to the execution.
	KindPersistence Kind = "persistence"
)

// Error is the engine's single tagged error type.
type Error struct {
	Kind    Kind
	Node    string // node name, when the error is node-scoped; empty otherwise
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Node != "" {
		msg += " (node " + e.Node + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target shares this error's Kind, so callers can use
// errors.Is(err, &Error{Kind: KindCycle}) without matching Node/Message/Err.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// New builds a Kind-tagged error with a formatted message.
func New(kind Kind, node, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Node: node, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a Kind-tagged error around an existing cause.
func Wrap(kind Kind, node string, err error) *Error {
	return &Error{Kind: kind, Node: node, Err: err}
}

// IsKind reports whether err (or any error it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}

// Sentinel convenience constructors, one per Kind.
func CycleError(nodes ...string) *Error {
	return New(KindCycle, "", "cycle detected, unreachable nodes: %v", nodes)
}

func AlreadyRunningError(workflowID string) *Error {
	return New(KindAlreadyRunning, "", "workflow %s is already running", workflowID)
}

func ConfigurationError(node, path, message string) *Error {
	return New(KindConfiguration, node, "config path %s: %s", path, message)
}

func IllegalStateError(node, from, to string) *Error {
	return New(KindIllegalState, node, "illegal transition %s -> %s", from, to)
}

func SecretResolutionError(node, reference string, cause error) *Error {
	e := Wrap(KindSecretResolution, node, cause)
	e.Message = "unresolved secret reference " + reference
	return e
}

func ProcessError(node string, cause error) *Error {
	return Wrap(KindProcess, node, cause)
}

func SourceFailedError(node, source string) *Error {
	return New(KindSourceFailed, node, "upstream source %q failed", source)
}

func CancelledError(node string) *Error {
	return New(KindCancelled, node, "execution cancelled")
}

func PersistenceError(op string, cause error) *Error {
	e := Wrap(KindPersistence, "", cause)
	e.Message = "persistence hook " + op + " failed"
	return e
}
