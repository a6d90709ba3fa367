// Package documents builds the three document shapes the uploader writes
// to the store, and computes payload telemetry's content-addressed id.
// Every function here is pure: no I/O, no clock access beyond the
// timestamps the caller passes in, no mutation of caller-owned data.
package documents

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/skywave-uplink/habuplink/ids"
	"github.com/skywave-uplink/habuplink/uplinkerr"
)

// Type identifies the three document shapes this package builds. The string
// value is also the document's "type" field and the kind reported through
// Callback Sink's SavedID notification.
type Type string

const (
	PayloadTelemetry    Type = "payload_telemetry"
	ListenerTelemetry   Type = "listener_telemetry"
	ListenerInformation Type = "listener_information"
)

// Body is a document as it will be marshalled to JSON and PUT to the store.
type Body map[string]interface{}

// BuildPayloadTelemetry constructs a payload telemetry document. Its id is
// the hex SHA-256 digest of the base64 encoding of dataBytes, byte for
// byte — no normalisation — so every listener that hears the same packet
// computes the same id and the documents can be merged by the upload
// protocol rather than duplicated.
//
// metadata, when non-nil, must be a JSON object (map[string]interface{});
// its fields are merged into our receiver entry alongside time_created and
// time_uploaded. A scalar or array metadata value is an invalid_argument.
func BuildPayloadTelemetry(dataBytes []byte, metadata interface{}, timeCreated, timeUploaded time.Time, callsign string) (string, Body, error) {
	if len(dataBytes) == 0 {
		return "", nil, uplinkerr.InvalidArgument("payload telemetry data must not be empty")
	}

	metaFields, err := asOptionalObject(metadata, "metadata")
	if err != nil {
		return "", nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(dataBytes)
	id := contentAddress(encoded)

	receiver := map[string]interface{}{
		"time_created":  timeCreated.Unix(),
		"time_uploaded": timeUploaded.Unix(),
	}
	for k, v := range metaFields {
		receiver[k] = v
	}

	body := Body{
		"data": encoded,
		"receivers": map[string]interface{}{
			callsign: receiver,
		},
		"type": string(PayloadTelemetry),
	}

	return id, body, nil
}

// ContentAddress returns the id BuildPayloadTelemetry would compute for
// dataBytes, without building the document.
func ContentAddress(dataBytes []byte) string {
	return contentAddress(base64.StdEncoding.EncodeToString(dataBytes))
}

func contentAddress(base64Data string) string {
	sum := sha256.Sum256([]byte(base64Data))
	return hex.EncodeToString(sum[:])
}

// BuildListenerDoc constructs a listener telemetry or listener information
// document. Its id is a freshly generated 128-bit random identifier (see
// package ids), not content-addressed — two listener documents with
// identical data must still be distinct documents, which is why the caller
// also embeds a monotonic sequence number under "seq".
func BuildListenerDoc(kind Type, data interface{}, timeCreated, timeUploaded time.Time, callsign string, seq int) (string, Body, error) {
	fields, err := asRequiredObject(data, "data")
	if err != nil {
		return "", nil, err
	}

	body := Body{
		"data":              fields,
		"receiver_callsign": callsign,
		"time_created":      timeCreated.Unix(),
		"time_uploaded":     timeUploaded.Unix(),
		"type":              string(kind),
		"seq":               seq,
	}

	return ids.New(), body, nil
}

// asOptionalObject validates that v is absent (nil) or a JSON object,
// returning an empty map when v is nil.
func asOptionalObject(v interface{}, argName string) (map[string]interface{}, error) {
	if v == nil {
		return map[string]interface{}{}, nil
	}
	return asRequiredObject(v, argName)
}

// asRequiredObject validates that v is a non-nil JSON object.
func asRequiredObject(v interface{}, argName string) (map[string]interface{}, error) {
	if v == nil {
		return nil, uplinkerr.InvalidArgument("%s is required and must be a JSON object", argName)
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, uplinkerr.InvalidArgument("%s must be a JSON object, got %T", argName, v)
	}
	return obj, nil
}
