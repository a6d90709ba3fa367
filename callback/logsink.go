package callback

import "github.com/skywave-uplink/habuplink/logging"

// LogSink implements Sink by writing every notification through package
// logging. Used by cmd/uplink as the default sink when no richer consumer
// (a stdio test harness, a UI) is attached.
type LogSink struct{}

func (LogSink) Log(message string) { logging.Info(message) }

func (LogSink) Warning(message string) { logging.Warn(message) }

func (LogSink) SavedID(docType, id string) { logging.Infof("saved %s %s", docType, id) }

func (LogSink) Initialised() { logging.Info("uploader initialised") }

func (LogSink) ResetDone() { logging.Info("uploader reset") }

func (LogSink) CaughtException(kind, message string) { logging.Errorf("%s: %s", kind, message) }

func (LogSink) GotFlights(flights []map[string]interface{}) {
	logging.Infof("got %d flights", len(flights))
}

func (LogSink) GotPayloads(payloads []map[string]interface{}) {
	logging.Infof("got %d payloads", len(payloads))
}

var _ Sink = LogSink{}
