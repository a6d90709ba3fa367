package worker

import "github.com/skywave-uplink/habuplink/uploader"

// action is the closed action taxonomy spec.md's worker dispatches on: one
// struct per action kind, matched with a type switch in run() rather than a
// virtual-dispatch hierarchy. Every action carries its constructor arguments
// verbatim.
type action interface {
	actionKind() string
}

// Settings carries the configuration for a fresh Uploader instance.
type Settings struct {
	Config uploader.Config
}

func (Settings) actionKind() string { return "settings" }

// Reset tears down the current Uploader instance, if any.
type Reset struct{}

func (Reset) actionKind() string { return "reset" }

// PayloadTelemetry carries the arguments of an Uploader.PayloadTelemetry call.
type PayloadTelemetry struct {
	Data        []byte
	Metadata    interface{}
	TimeCreated int64
}

func (PayloadTelemetry) actionKind() string { return "payload_telemetry" }

// ListenerTelemetry carries the arguments of an Uploader.ListenerTelemetry call.
type ListenerTelemetry struct {
	Data        interface{}
	TimeCreated int64
}

func (ListenerTelemetry) actionKind() string { return "listener_telemetry" }

// ListenerInformation carries the arguments of an Uploader.ListenerInformation call.
type ListenerInformation struct {
	Data        interface{}
	TimeCreated int64
}

func (ListenerInformation) actionKind() string { return "listener_information" }

// Flights requests the current flights() view.
type Flights struct{}

func (Flights) actionKind() string { return "flights" }

// Payloads requests the current payloads() view.
type Payloads struct{}

func (Payloads) actionKind() string { return "payloads" }

// shutdown is the internal sentinel action that ends the worker's run loop.
// It is unexported: callers go through Worker.Shutdown, which enforces the
// queued_shutdown idempotence guarantee before ever pushing one onto the
// queue.
type shutdown struct{}

func (shutdown) actionKind() string { return "shutdown" }
