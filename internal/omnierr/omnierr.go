// Package omnierr gives every typed error surfaced by this module a
// stable, public discriminant: a caller can match on `Kind()` without
// caring about wire-level message text, which changes as long as the
// discriminant doesn't. Grounded on this module's own pre-existing typed
// error structs (graph.CyclicDependency, taskgraph.TaskNotFound, and the
// rest), generalized into one closed enum plus a small wrapper type
// rather than a parallel, redundant error hierarchy — turborepo itself
// has no error-kind convention of its own (every fallible call in
// internal/core just returns a bare `fmt.Errorf`).
package omnierr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error discriminants this module uses.
type Kind int

const (
	ConfigParse Kind = iota
	DuplicateProjectName
	CyclicDependency
	NodeNotFound
	IoError
	HasherError
	CacheStoreError
	ChildSpawnError
	CommandNonZero
	RemoteCacheUnavailable
	CancelRequested
)

func (k Kind) String() string {
	switch k {
	case ConfigParse:
		return "config_parse"
	case DuplicateProjectName:
		return "duplicate_project_name"
	case CyclicDependency:
		return "cyclic_dependency"
	case NodeNotFound:
		return "node_not_found"
	case IoError:
		return "io_error"
	case HasherError:
		return "hasher_error"
	case CacheStoreError:
		return "cache_store_error"
	case ChildSpawnError:
		return "child_spawn_error"
	case CommandNonZero:
		return "command_non_zero"
	case RemoteCacheUnavailable:
		return "remote_cache_unavailable"
	case CancelRequested:
		return "cancel_requested"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Classified is implemented by any error that exposes a stable Kind.
type Classified interface {
	error
	Kind() Kind
}

// Err is the generic wrapper used by call sites that don't already have
// their own typed error struct.
type Err struct {
	kind  Kind
	msg   string
	cause error
}

// New builds an Err carrying kind and a message, with no wrapped cause.
func New(kind Kind, msg string) *Err {
	return &Err{kind: kind, msg: msg}
}

// Wrap builds an Err carrying kind, wrapping cause. Error() includes
// cause's message; Unwrap returns cause so errors.Is/As still work.
func Wrap(kind Kind, cause error) *Err {
	return &Err{kind: kind, cause: cause}
}

// Wrapf is Wrap with a formatted prefix message.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Err {
	return &Err{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Err) Error() string {
	switch {
	case e.msg != "" && e.cause != nil:
		return fmt.Sprintf("%s: %s", e.msg, e.cause)
	case e.cause != nil:
		return e.cause.Error()
	default:
		return e.msg
	}
}

// Kind returns the stable discriminant
func (e *Err) Kind() Kind { return e.kind }

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Err) Unwrap() error { return e.cause }

// KindOf walks err's chain for the first Classified error and returns
// its Kind. ok is false if no error in the chain exposes one.
func KindOf(err error) (kind Kind, ok bool) {
	var c Classified
	if errors.As(err, &c) {
		return c.Kind(), true
	}
	return 0, false
}

// IsRecoverable reports whether kind is something the pipeline should
// keep running past (rather than abort
// the whole run). ConfigParse, DuplicateProjectName, and CyclicDependency
// are cross-cutting and always abort; everything else is scoped to a
// single task or request.
func (k Kind) IsRecoverable() bool {
	switch k {
	case ConfigParse, DuplicateProjectName, CyclicDependency:
		return false
	default:
		return true
	}
}
