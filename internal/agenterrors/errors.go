// Package agenterrors defines the typed error kinds shared across the
// agent's components.
//
// Each kind wraps an underlying cause and carries a Kind value so callers
// can branch with errors.As without string matching, and so the logging
// layer can attach a structured "kind" field to every failure record.
package agenterrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the seven error categories a component can raise.
type Kind string

const (
	// KindConfig marks invalid configuration: bad region, out-of-bound
	// radio parameters. Fatal at construction.
	KindConfig Kind = "config"
	// KindNetwork marks a failed call to an external collaborator
	// (aggregator, LLM oracle). Non-fatal; callers fall back.
	KindNetwork Kind = "network"
	// KindIntegrity marks a checksum mismatch or invalid model magic.
	KindIntegrity Kind = "integrity"
	// KindPatch marks a failed binary-diff application.
	KindPatch Kind = "patch"
	// KindResource marks insufficient disk or memory for an update.
	KindResource Kind = "resource"
	// KindRadio marks a failed radio adapter command.
	KindRadio Kind = "radio"
	// KindState marks a lock-order violation or broken invariant. Fatal.
	KindState Kind = "state"
)

// Error is the concrete type returned for all seven kinds.
type Error struct {
	Cause error
	Kind  Kind
	Msg   string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func new(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Config wraps msg/cause as a ConfigError.
func Config(msg string, cause error) *Error { return new(KindConfig, msg, cause) }

// Network wraps msg/cause as a NetworkError.
func Network(msg string, cause error) *Error { return new(KindNetwork, msg, cause) }

// Integrity wraps msg/cause as an IntegrityError.
func Integrity(msg string, cause error) *Error { return new(KindIntegrity, msg, cause) }

// Patch wraps msg/cause as a PatchError.
func Patch(msg string, cause error) *Error { return new(KindPatch, msg, cause) }

// Resource wraps msg/cause as a ResourceError.
func Resource(msg string, cause error) *Error { return new(KindResource, msg, cause) }

// Radio wraps msg/cause as a RadioError.
func Radio(msg string, cause error) *Error { return new(KindRadio, msg, cause) }

// State wraps msg/cause as a StateError.
func State(msg string, cause error) *Error { return new(KindState, msg, cause) }

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *Error. The zero Kind is returned otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's kind matches k, unwrapping as needed.
func Is(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}
