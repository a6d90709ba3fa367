// Package worker is the single background execution context: it dequeues
// actions pushed by callers, drives the Synchronous Uploader, and reports
// every outcome through the Callback Sink. Grounded on the teacher's
// single-consumer stream-processing loop pattern (safego.RunWithRestart
// guarding a dequeue-and-dispatch loop against programming defects), but
// the state machine and action taxonomy are this domain's own.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/skywave-uplink/habuplink/callback"
	"github.com/skywave-uplink/habuplink/logging"
	"github.com/skywave-uplink/habuplink/queue"
	"github.com/skywave-uplink/habuplink/safego"
	"github.com/skywave-uplink/habuplink/uploader"
	"github.com/skywave-uplink/habuplink/uplinkerr"
)

// state is the worker's lifecycle state machine (spec.md §4.4). It is only
// ever read or written from the run loop goroutine, so it needs no lock of
// its own.
type state int

const (
	uninitialised state = iota
	ready
	terminated
)

// ErrDetached is returned by Join once the worker has been detached.
var ErrDetached = uplinkerr.InvalidArgument("worker has been detached, it cannot be joined")

// Worker is the single background execution context described by
// spec.md §4.4. One Worker owns exactly one Action Queue and exactly one
// Callback Sink for its lifetime.
type Worker struct {
	queue queue.Queue
	sink  callback.Sink

	state state
	up    *uploader.Uploader

	queuedShutdown atomic.Bool
	detached       atomic.Bool
	done           chan struct{}
	terminateErr   error
}

// New returns a Worker in state Uninitialised. Call Start to launch its
// background execution context.
func New(q queue.Queue, sink callback.Sink) *Worker {
	return &Worker{
		queue: q,
		sink:  sink,
		state: uninitialised,
		done:  make(chan struct{}),
	}
}

// Start launches the dequeue loop in a background goroutine, guarded by
// safego.RunWithRestart so a panic while processing one action is reported
// and the loop relaunched rather than silently killing the worker.
func (w *Worker) Start() {
	safego.GlobalRecoverHandler = func(v interface{}) {
		logging.SystemErrorf("worker recovered from panic: %v", v)
	}
	safego.RunWithRestart(w.run)
}

func (w *Worker) run() {
	for {
		item, err := w.queue.Pop()
		if err != nil {
			// The queue was closed out from under the worker rather than
			// through a Shutdown action reaching the front of the FIFO.
			// Treat it the same as an observed Shutdown: stop cleanly.
			w.terminate()
			return
		}

		act := item.(action)
		w.sink.Log("Running " + describe(act))

		if _, isShutdown := act.(shutdown); isShutdown {
			w.terminate()
			return
		}

		w.dispatch(act)
	}
}

// enqueue reports the queuing of act before pushing it, mirroring the
// original's queue_action logging each action as it is handed to the
// background thread.
func (w *Worker) enqueue(act action) error {
	w.sink.Log("Queuing " + describe(act))
	return w.queue.Push(act)
}

// describe renders a short human-readable label for act, the Go analogue
// of the original's per-action describe() methods.
func describe(act action) string {
	switch a := act.(type) {
	case Settings:
		return fmt.Sprintf("Settings(%s, %s, %s, %d)", a.Config.Callsign, a.Config.DatabaseURL, a.Config.DatabaseName, a.Config.MaxMergeAttempts)
	case Reset:
		return "Reset()"
	case PayloadTelemetry:
		return fmt.Sprintf("PayloadTelemetry(%d bytes, time_created=%d)", len(a.Data), a.TimeCreated)
	case ListenerTelemetry:
		return fmt.Sprintf("ListenerTelemetry(time_created=%d)", a.TimeCreated)
	case ListenerInformation:
		return fmt.Sprintf("ListenerInformation(time_created=%d)", a.TimeCreated)
	case Flights:
		return "Flights()"
	case Payloads:
		return "Payloads()"
	case shutdown:
		return "Shutdown()"
	default:
		return fmt.Sprintf("%T", act)
	}
}

func (w *Worker) terminate() {
	if w.up != nil {
		if err := w.up.Close(); err != nil {
			logging.SystemErrorf("closing uploader on shutdown: %v", err)
			w.terminateErr = err
		}
		w.up = nil
	}
	w.state = terminated
	close(w.done)
}

// dispatch matches act against the closed action taxonomy and invokes the
// corresponding Synchronous Uploader operation, or the state transition,
// reporting exactly one success or one caught_exception notification.
func (w *Worker) dispatch(act action) {
	ctx := context.Background()

	switch a := act.(type) {
	case Settings:
		w.handleSettings(a)
	case Reset:
		w.handleReset()
	case PayloadTelemetry:
		w.handleUpload(func() (string, string, error) {
			id, err := w.up.PayloadTelemetry(ctx, a.Data, a.Metadata, a.TimeCreated)
			return "payload_telemetry", id, err
		})
	case ListenerTelemetry:
		w.handleUpload(func() (string, string, error) {
			id, err := w.up.ListenerTelemetry(ctx, a.Data, a.TimeCreated)
			return "listener_telemetry", id, err
		})
	case ListenerInformation:
		w.handleUpload(func() (string, string, error) {
			id, err := w.up.ListenerInformation(ctx, a.Data, a.TimeCreated)
			return "listener_information", id, err
		})
	case Flights:
		w.handleFlights(ctx)
	case Payloads:
		w.handlePayloads(ctx)
	default:
		w.fail(uplinkerr.Unexpected(uplinkerr.InvalidArgument("unrecognised action %T", act)))
	}
}

func (w *Worker) handleSettings(a Settings) {
	if w.up != nil {
		_ = w.up.Close()
	}

	up, err := uploader.New(a.Config)
	if err != nil {
		w.fail(err)
		return
	}

	w.up = up
	w.state = ready
	w.sink.Initialised()
}

func (w *Worker) handleReset() {
	if w.up != nil {
		if err := w.up.Close(); err != nil {
			logging.SystemErrorf("closing uploader on reset: %v", err)
		}
		w.up = nil
	}
	w.state = uninitialised
	w.sink.ResetDone()
}

// handleUpload gates on the Ready state, invokes op, and reports the
// outcome — used by all three write actions (spec.md §4.4's "on any other
// action while Uninitialised: NotInitialisedError").
func (w *Worker) handleUpload(op func() (docType, id string, err error)) {
	if w.state != ready {
		w.fail(uplinkerr.NotInitialised())
		return
	}

	docType, id, err := op()
	if err != nil {
		w.fail(err)
		return
	}
	w.sink.SavedID(docType, id)
}

func (w *Worker) handleFlights(ctx context.Context) {
	if w.state != ready {
		w.fail(uplinkerr.NotInitialised())
		return
	}

	flights, err := w.up.Flights(ctx)
	if err != nil {
		w.fail(err)
		return
	}
	w.sink.GotFlights(flights)
}

func (w *Worker) handlePayloads(ctx context.Context) {
	if w.state != ready {
		w.fail(uplinkerr.NotInitialised())
		return
	}

	payloads, err := w.up.Payloads(ctx)
	if err != nil {
		w.fail(err)
		return
	}
	w.sink.GotPayloads(payloads)
}

func (w *Worker) fail(err error) {
	w.sink.CaughtException(uplinkerr.CallbackKind(err), uplinkerr.Reason(err))
}

// Settings enqueues a Settings action.
func (w *Worker) Settings(cfg uploader.Config) error {
	return w.enqueue(Settings{Config: cfg})
}

// Reset enqueues a Reset action.
func (w *Worker) Reset() error {
	return w.enqueue(Reset{})
}

// PayloadTelemetry enqueues a PayloadTelemetry action. timeCreated < 0 means
// omitted.
func (w *Worker) PayloadTelemetry(data []byte, metadata interface{}, timeCreated int64) error {
	return w.enqueue(PayloadTelemetry{Data: data, Metadata: metadata, TimeCreated: timeCreated})
}

// ListenerTelemetry enqueues a ListenerTelemetry action.
func (w *Worker) ListenerTelemetry(data interface{}, timeCreated int64) error {
	return w.enqueue(ListenerTelemetry{Data: data, TimeCreated: timeCreated})
}

// ListenerInformation enqueues a ListenerInformation action.
func (w *Worker) ListenerInformation(data interface{}, timeCreated int64) error {
	return w.enqueue(ListenerInformation{Data: data, TimeCreated: timeCreated})
}

// Flights enqueues a Flights action.
func (w *Worker) Flights() error {
	return w.enqueue(Flights{})
}

// Payloads enqueues a Payloads action.
func (w *Worker) Payloads() error {
	return w.enqueue(Payloads{})
}

// Shutdown enqueues the sentinel that ends the run loop. A second and later
// call is a harmless no-op: the queued_shutdown flag (spec.md §4.4) ensures
// only the first caller's Shutdown ever reaches the queue. A redundant call
// is a recoverable anomaly, not a failure, so it is reported through
// Warning rather than CaughtException.
func (w *Worker) Shutdown() error {
	if w.queuedShutdown.Swap(true) {
		w.sink.Warning("shutdown already queued, ignoring")
		return nil
	}
	return w.enqueue(shutdown{})
}

// Detach relinquishes the right to Join the worker; the worker still runs
// to completion in the background.
func (w *Worker) Detach() {
	w.detached.Store(true)
}

// Join blocks until the worker has processed a Shutdown action and
// terminated. It returns ErrDetached immediately if Detach was called.
func (w *Worker) Join() error {
	if w.detached.Load() {
		return ErrDetached
	}
	<-w.done
	return nil
}

// Close shuts the worker down, waits for it to terminate, and releases the
// Action Queue, aggregating any failures from both into a single error.
// Unlike Join, it ignores Detach — reclaiming resources is independent of
// the caller's right to wait on worker completion.
func (w *Worker) Close() error {
	if err := w.Shutdown(); err != nil {
		return err
	}
	<-w.done

	var result *multierror.Error
	if w.terminateErr != nil {
		result = multierror.Append(result, w.terminateErr)
	}
	if err := w.queue.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
