// Package callback defines the polymorphic listener the worker reports
// every action's outcome to — the Go analogue of the original
// implementation's overridable UploaderThread methods.
package callback

// Sink receives lifecycle notifications from the worker. Every action
// processed by the worker produces exactly one success notification
// (SavedID, Initialised, ResetDone, GotFlights, or GotPayloads) or exactly
// one CaughtException call — never both, never neither.
type Sink interface {
	// Log reports an informational trace line for an action.
	Log(message string)
	// Warning reports a recoverable anomaly that did not fail the action.
	Warning(message string)
	// SavedID reports a successful write. docType is one of
	// "payload_telemetry", "listener_telemetry", "listener_information".
	SavedID(docType, id string)
	// Initialised reports a successful Settings action.
	Initialised()
	// ResetDone reports a completed Reset action.
	ResetDone()
	// CaughtException reports a failed action. kind is one of
	// "NotInitialisedError", "invalid_argument", "runtime_error", or
	// "unexpected_error"; message carries the specific reason, e.g.
	// "collision_error" for a runtime_error kind.
	CaughtException(kind, message string)
	// GotFlights reports the result of a Flights action, sorted by
	// ascending end_time.
	GotFlights(flights []map[string]interface{})
	// GotPayloads reports the result of a Payloads action, in view order.
	GotPayloads(payloads []map[string]interface{})
}

// NopSink implements Sink with every method a no-op. Embed it to supply
// defaults and override only the notifications you care about — the
// idiomatic Go analogue of the original's virtual methods with
// log-and-discard default bodies.
type NopSink struct{}

func (NopSink) Log(message string)     {}
func (NopSink) Warning(message string) {}

func (NopSink) SavedID(docType, id string) {}
func (NopSink) Initialised()               {}
func (NopSink) ResetDone()                 {}

func (NopSink) CaughtException(kind, message string)          {}
func (NopSink) GotFlights(flights []map[string]interface{})   {}
func (NopSink) GotPayloads(payloads []map[string]interface{}) {}

var _ Sink = NopSink{}
