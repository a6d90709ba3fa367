package uploader

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/skywave-uplink/habuplink/store"
	"github.com/skywave-uplink/habuplink/uplinkerr"
)

const baseURL = "http://habitat.habhub.org"
const database = "habitat"

// newTestUploader builds an Uploader whose store.Client talks to an
// httpmock-controlled transport, with a fixed clock. Config defaults are
// applied as New applies them, but New's validation is bypassed.
func newTestUploader(t *testing.T, cfg Config, clock time.Time) (*Uploader, func()) {
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)

	cfg = cfg.withDefaults()
	u := &Uploader{
		cfg:    cfg,
		client: store.NewWithHTTPClient(baseURL, database, httpClient),
		now:    func() time.Time { return clock },
	}

	return u, httpmock.DeactivateAndReset
}

func docURL(id string) string {
	return baseURL + "/" + database + "/" + id
}

func viewURL(designDoc, viewName string) string {
	return baseURL + "/" + database + "/_design/" + designDoc + "/_view/" + viewName
}

// S1: a single payload telemetry upload succeeds with exactly one write.
func TestPayloadTelemetrySingleUploadSucceeds(t *testing.T) {
	clock := time.Unix(1700000000, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST"}, clock)
	defer done()

	writes := 0
	httpmock.RegisterResponder("PUT", `=~^`+docURL("")+`.*`, func(req *http.Request) (*http.Response, error) {
		writes++
		return httpmock.NewStringResponse(201, `{"ok":true}`), nil
	})

	id, err := u.PayloadTelemetry(context.Background(), []byte("$$PAYLOAD,1,2,3"), nil, -1)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, 1, writes)
}

// S2: three conflicts followed by a success costs exactly one put_new plus
// three get+put_update cycles — four total write attempts.
func TestPayloadTelemetryMergesThroughThreeConflicts(t *testing.T) {
	clock := time.Unix(1700000000, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST", MaxMergeAttempts: 10}, clock)
	defer done()

	var putAttempts int
	var id string

	httpmock.RegisterResponder("PUT", `=~^`+baseURL+"/"+database+`/.*`, func(req *http.Request) (*http.Response, error) {
		putAttempts++
		id = lastPathSegment(req.URL.Path)
		if putAttempts <= 3 {
			return httpmock.NewStringResponse(409, `{"error":"conflict"}`), nil
		}
		return httpmock.NewStringResponse(201, `{"ok":true}`), nil
	})

	httpmock.RegisterResponder("GET", `=~^`+baseURL+"/"+database+`/.*`, func(req *http.Request) (*http.Response, error) {
		body := map[string]interface{}{
			"_rev":      "2-abc",
			"type":      "payload_telemetry",
			"data":      "xyz",
			"receivers": map[string]interface{}{"OTHER": map[string]interface{}{"time_created": 1699999999}},
		}
		return httpmock.NewJsonResponse(200, body)
	})

	gotID, err := u.PayloadTelemetry(context.Background(), []byte("$$PAYLOAD,1,2,3"), nil, -1)
	require.NoError(t, err)
	require.Equal(t, id, gotID)
	require.Equal(t, 4, putAttempts, "1 put_new + 3 get/put_update cycles")
}

// S3: conflicts that never resolve exhaust max_merge_attempts and surface
// uplinkerr.Collision after exactly max_merge_attempts write attempts.
func TestPayloadTelemetryExhaustsMergeAttempts(t *testing.T) {
	clock := time.Unix(1700000000, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST", MaxMergeAttempts: 5}, clock)
	defer done()

	var putAttempts int
	httpmock.RegisterResponder("PUT", `=~^`+baseURL+"/"+database+`/.*`, func(req *http.Request) (*http.Response, error) {
		putAttempts++
		return httpmock.NewStringResponse(409, `{"error":"conflict"}`), nil
	})
	httpmock.RegisterResponder("GET", `=~^`+baseURL+"/"+database+`/.*`, func(req *http.Request) (*http.Response, error) {
		body := map[string]interface{}{"_rev": "2-abc", "receivers": map[string]interface{}{}}
		return httpmock.NewJsonResponse(200, body)
	})

	_, err := u.PayloadTelemetry(context.Background(), []byte("$$PAYLOAD,1,2,3"), nil, -1)
	require.Error(t, err)
	require.Equal(t, "collision_error", uplinkerr.Reason(err))
	require.Equal(t, 5, putAttempts)
}

// A non-conflict error from the store aborts the merge loop immediately
// rather than retrying.
func TestPayloadTelemetryNonConflictErrorAbortsImmediately(t *testing.T) {
	clock := time.Unix(1700000000, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST", MaxMergeAttempts: 10}, clock)
	defer done()

	var putAttempts int
	httpmock.RegisterResponder("PUT", `=~^`+baseURL+"/"+database+`/.*`, func(req *http.Request) (*http.Response, error) {
		putAttempts++
		return httpmock.NewStringResponse(500, `{"error":"boom"}`), nil
	})

	_, err := u.PayloadTelemetry(context.Background(), []byte("$$PAYLOAD,1,2,3"), nil, -1)
	require.Error(t, err)
	require.Equal(t, 1, putAttempts)
}

func TestPayloadTelemetryRejectsEmptyData(t *testing.T) {
	clock := time.Unix(1700000000, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST"}, clock)
	defer done()

	_, err := u.PayloadTelemetry(context.Background(), nil, nil, -1)
	require.Error(t, err)
}

// Uploading the same payload bytes twice yields the same id both times,
// because payload telemetry ids are content-addressed.
func TestPayloadTelemetryIdenticalPayloadsShareOneID(t *testing.T) {
	clock := time.Unix(1700000000, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST"}, clock)
	defer done()

	httpmock.RegisterResponder("PUT", `=~^`+baseURL+"/"+database+`/.*`,
		httpmock.NewStringResponder(201, `{"ok":true}`))

	id1, err := u.PayloadTelemetry(context.Background(), []byte("$$SAME,PACKET"), nil, -1)
	require.NoError(t, err)
	id2, err := u.PayloadTelemetry(context.Background(), []byte("$$SAME,PACKET"), nil, -1)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

// S4: two listener telemetry uploads from the same process with identical
// data get distinct (random) ids and sequence numbers 1 then 2.
func TestListenerTelemetrySequenceNumbersIncrement(t *testing.T) {
	clock := time.Unix(1700000000, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST"}, clock)
	defer done()

	var bodies []map[string]interface{}
	httpmock.RegisterResponder("PUT", `=~^`+baseURL+"/"+database+`/.*`, func(req *http.Request) (*http.Response, error) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		bodies = append(bodies, body)
		return httpmock.NewStringResponse(201, `{"ok":true}`), nil
	})

	data := map[string]interface{}{"temperature": 21.5}
	id1, err := u.ListenerTelemetry(context.Background(), data, -1)
	require.NoError(t, err)
	id2, err := u.ListenerTelemetry(context.Background(), data, -1)
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
	require.Len(t, bodies, 2)
	require.EqualValues(t, 1, bodies[0]["seq"])
	require.EqualValues(t, 2, bodies[1]["seq"])
}

func TestListenerInformationHasOwnSequenceCounter(t *testing.T) {
	clock := time.Unix(1700000000, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST"}, clock)
	defer done()

	httpmock.RegisterResponder("PUT", `=~^`+baseURL+"/"+database+`/.*`,
		httpmock.NewStringResponder(201, `{"ok":true}`))

	_, err := u.ListenerTelemetry(context.Background(), map[string]interface{}{"a": 1}, -1)
	require.NoError(t, err)
	_, err = u.ListenerInformation(context.Background(), map[string]interface{}{"radio": "RTLSDR"}, -1)
	require.NoError(t, err)

	require.Equal(t, 1, u.listenerTelemetrySeq)
	require.Equal(t, 1, u.listenerInformationSeq)
}

func TestListenerTelemetryRejectsNonObjectData(t *testing.T) {
	clock := time.Unix(1700000000, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST"}, clock)
	defer done()

	_, err := u.ListenerTelemetry(context.Background(), "not an object", -1)
	require.Error(t, err)
}

// An explicit time_created is honoured rather than overwritten by now().
func TestPayloadTelemetryHonoursExplicitTimeCreated(t *testing.T) {
	clock := time.Unix(1700000100, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST"}, clock)
	defer done()

	var body map[string]interface{}
	httpmock.RegisterResponder("PUT", `=~^`+baseURL+"/"+database+`/.*`, func(req *http.Request) (*http.Response, error) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		return httpmock.NewStringResponse(201, `{"ok":true}`), nil
	})

	_, err := u.PayloadTelemetry(context.Background(), []byte("$$X"), nil, 1600000000)
	require.NoError(t, err)

	receivers := body["receivers"].(map[string]interface{})
	receiver := receivers["TEST"].(map[string]interface{})
	require.EqualValues(t, 1600000000, receiver["time_created"])
}

func TestFlightsGroupsPayloadConfigurationsUnderOwningFlight(t *testing.T) {
	clock := time.Unix(1700000000, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST"}, clock)
	defer done()

	httpmock.RegisterResponder("GET", `=~^`+viewURL("flight", "end_start_including_payloads")+`.*`,
		httpmock.NewStringResponder(200, `{"rows":[
			{"id":"flight-2","key":2,"doc":{"_id":"flight-2","type":"flight","end_time":200,"start_time":50,"approved":true}},
			{"id":"flight-1","key":1,"doc":{"_id":"flight-1","type":"flight","end_time":100,"start_time":10,"approved":true}},
			{"id":"payload-1","key":1,"doc":{"_id":"payload-1","type":"payload_configuration","flight":"flight-1"}}
		]}`))

	flights, err := u.Flights(context.Background())
	require.NoError(t, err)
	require.Len(t, flights, 2)

	require.Equal(t, "flight-1", flights[0]["_id"])
	require.Equal(t, "flight-2", flights[1]["_id"])

	payloadDocs := flights[0]["_payload_docs"].([]map[string]interface{})
	require.Len(t, payloadDocs, 1)
	require.Equal(t, "payload-1", payloadDocs[0]["_id"])
}

func TestFlightsExcludesUnapprovedAndNotYetStartedFlights(t *testing.T) {
	clock := time.Unix(1700000000, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST"}, clock)
	defer done()

	httpmock.RegisterResponder("GET", `=~^`+viewURL("flight", "end_start_including_payloads")+`.*`,
		httpmock.NewStringResponder(200, `{"rows":[
			{"id":"flight-unapproved","key":1,"doc":{"_id":"flight-unapproved","type":"flight","end_time":200,"start_time":10,"approved":false}},
			{"id":"flight-future","key":2,"doc":{"_id":"flight-future","type":"flight","end_time":300,"start_time":1700000500,"approved":true}},
			{"id":"flight-active","key":3,"doc":{"_id":"flight-active","type":"flight","end_time":400,"start_time":10,"approved":true}}
		]}`))

	flights, err := u.Flights(context.Background())
	require.NoError(t, err)
	require.Len(t, flights, 1)
	require.Equal(t, "flight-active", flights[0]["_id"])
}

func TestPayloadsReturnsRowsInViewOrder(t *testing.T) {
	clock := time.Unix(1700000000, 0).UTC()
	u, done := newTestUploader(t, Config{Callsign: "TEST"}, clock)
	defer done()

	httpmock.RegisterResponder("GET", `=~^`+viewURL("payload_config", "all")+`.*`,
		httpmock.NewStringResponder(200, `{"rows":[
			{"id":"p1","value":{"_id":"p1","name":"Habduino"}},
			{"id":"p2","value":{"_id":"p2","name":"SSDV"}}
		]}`))

	payloads, err := u.Payloads(context.Background())
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	require.Equal(t, "p1", payloads[0]["_id"])
	require.Equal(t, "p2", payloads[1]["_id"])
}

func TestNewRejectsEmptyCallsign(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func lastPathSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
