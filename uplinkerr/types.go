// Package uplinkerr is the closed error taxonomy the worker boundary
// translates every action failure into. It mirrors the three catch clauses
// of the original implementation's UploaderThread::run loop
// (NotInitialisedError, runtime_error, invalid_argument) and further
// classifies the runtime_error family into the specific failure that
// occurred, so the Callback Sink receives both the coarse kind the original
// exception hierarchy exposed and the precise reason.
package uplinkerr

import (
	"fmt"

	"github.com/joomcode/errorx"
)

var (
	namespace = errorx.NewNamespace("uplink")

	notInitialisedType  = namespace.NewType("not_initialised")
	invalidArgumentType = namespace.NewType("invalid_argument")
	runtimeType         = namespace.NewType("runtime")
	unexpectedType      = namespace.NewType("unexpected")

	// CollisionType: merge-upload exhausted max_merge_attempts.
	CollisionType = runtimeType.NewSubtype("collision_error")
	// UnmergedDocumentType: the remote receiver entry for our own callsign
	// and time_created differs in metadata. The default policy overwrites
	// it rather than raising this, but the type exists so an implementer
	// choosing the stricter policy has somewhere to report the conflict.
	UnmergedDocumentType = runtimeType.NewSubtype("unmerged_document")
	// TransportType: HTTP I/O, timeout, or TLS failure.
	TransportType = runtimeType.NewSubtype("transport_error")
	// HTTPType: a non-conflict, non-2xx HTTP response.
	HTTPType = runtimeType.NewSubtype("http_error")

	reasonProperty = errorx.RegisterProperty("reason")
)

// NotInitialised reports an action arriving while the worker has no
// Uploader instance (before Settings, or after Reset/Shutdown).
func NotInitialised() error {
	return notInitialisedType.New("habitat uploader is not initialised")
}

// InvalidArgument reports a caller input that violates a Document Builder
// constraint (empty payload bytes, non-object metadata, non-object listener
// data).
func InvalidArgument(format string, args ...interface{}) error {
	reason := fmt.Sprintf(format, args...)
	return invalidArgumentType.New(reason).WithProperty(reasonProperty, reason)
}

// Collision reports merge-upload exhaustion.
func Collision(attempts int) error {
	return CollisionType.New("exceeded %d merge attempts", attempts)
}

// UnmergedDocument reports a refused overwrite under a stricter merge policy
// than the default.
func UnmergedDocument(id string) error {
	return UnmergedDocumentType.New("receiver entry for document %s could not be merged", id)
}

// Transport reports a transport-level HTTP failure (I/O, timeout, TLS).
func Transport(cause error) error {
	return TransportType.Wrap(cause, "transport error")
}

// HTTPOther reports a non-conflict, non-2xx HTTP status.
func HTTPOther(status int) error {
	return HTTPType.New("unexpected HTTP status %d", status)
}

// Unexpected wraps any failure that does not fit the taxonomy above.
func Unexpected(cause error) error {
	return unexpectedType.Wrap(cause, "unexpected error")
}

// CallbackKind maps err to the coarse kind string the Callback Sink's
// CaughtException receives — one of "NotInitialisedError", "invalid_argument",
// "runtime_error", or "unexpected_error" — mirroring the three catch clauses
// of the original worker loop plus a catch-all.
func CallbackKind(err error) string {
	switch {
	case errorx.IsOfType(err, notInitialisedType):
		return "NotInitialisedError"
	case errorx.IsOfType(err, invalidArgumentType):
		return "invalid_argument"
	case errorx.IsOfType(err, runtimeType):
		return "runtime_error"
	default:
		return "unexpected_error"
	}
}

// Reason returns the specific message carried by err: the runtime subtype
// name ("collision_error", "transport_error", ...) for the runtime family,
// the invalid-argument detail, or err's own message otherwise.
func Reason(err error) string {
	switch {
	case errorx.IsOfType(err, CollisionType):
		return "collision_error"
	case errorx.IsOfType(err, UnmergedDocumentType):
		return "unmerged_document"
	case errorx.IsOfType(err, TransportType):
		return "transport_error"
	case errorx.IsOfType(err, HTTPType):
		return "http_error"
	case errorx.IsOfType(err, invalidArgumentType):
		if v, ok := errorx.Cast(err).Property(reasonProperty); ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return err.Error()
	default:
		return err.Error()
	}
}
