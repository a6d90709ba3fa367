// Package uploader implements the Synchronous Uploader: a stateful object
// holding configuration and per-listener sequence counters, composing the
// Timestamper, Document Builder, and HTTP/Store Client to perform the six
// upload operations with merge-retry. It is deliberately single-threaded —
// package worker is the only caller, and it never touches an Uploader
// concurrently with itself (spec.md §5).
package uploader

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"time"

	"github.com/skywave-uplink/habuplink/documents"
	"github.com/skywave-uplink/habuplink/logging"
	"github.com/skywave-uplink/habuplink/maputils"
	"github.com/skywave-uplink/habuplink/store"
	"github.com/skywave-uplink/habuplink/timestamp"
	"github.com/skywave-uplink/habuplink/uplinkerr"
)

// Uploader is the Synchronous Uploader. A single instance is owned by one
// worker goroutine at a time; it is never shared across goroutines.
type Uploader struct {
	cfg    Config
	client *store.Client
	now    func() time.Time

	listenerTelemetrySeq   int
	listenerInformationSeq int
}

// New validates cfg, applies its defaults, and returns a ready Uploader
// with a fresh store.Client and zeroed sequence counters — exactly the
// state a fresh Settings action should produce (spec.md §3 Lifecycle).
func New(cfg Config) (*Uploader, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Uploader{
		cfg:    cfg,
		client: store.New(cfg.DatabaseURL, cfg.DatabaseName, store.DefaultConfig()),
		now:    timestamp.Now,
	}, nil
}

// Close releases the Uploader's HTTP client resources. Called by the
// worker on Reset and Shutdown, never mid-action.
func (u *Uploader) Close() error {
	return u.client.Close()
}

// PayloadTelemetry implements spec.md §4.3.1: resolve timestamps, build the
// document, and drive the merge-upload loop.
func (u *Uploader) PayloadTelemetry(ctx context.Context, data []byte, metadata interface{}, timeCreated int64) (string, error) {
	timeUploaded := u.now()
	created := resolveTimeCreated(timeCreated, timeUploaded)

	id, body, err := documents.BuildPayloadTelemetry(data, metadata, created, timeUploaded, u.cfg.Callsign)
	if err != nil {
		return "", err
	}

	if err := u.mergeUpload(ctx, id, body); err != nil {
		return "", err
	}
	return id, nil
}

// mergeUpload drives spec.md §4.3.1 step 3: put_new, and on conflict
// get→merge→put_update, up to cfg.MaxMergeAttempts total write attempts.
func (u *Uploader) mergeUpload(ctx context.Context, id string, body documents.Body) error {
	for attempt := 1; attempt <= u.cfg.MaxMergeAttempts; attempt++ {
		var err error
		if attempt == 1 {
			err = u.client.PutNew(ctx, id, body)
		} else {
			err = u.mergeAndPutUpdate(ctx, id, body)
		}

		if err == nil {
			return nil
		}
		if err != store.ErrConflict {
			return err
		}
		logging.Debugf("merge conflict on %s, attempt %d/%d", id, attempt, u.cfg.MaxMergeAttempts)
	}

	return uplinkerr.Collision(u.cfg.MaxMergeAttempts)
}

// mergeAndPutUpdate fetches the current remote body, merges our receiver
// entry into its receivers map (overwriting our own entry if already
// present — the resolved Open Question from spec.md §9), and writes the
// result back at the fetched revision.
func (u *Uploader) mergeAndPutUpdate(ctx context.Context, id string, ourBody documents.Body) error {
	existing, rev, err := u.client.Get(ctx, id)
	if err != nil {
		return err
	}

	merged := maputils.CopyMap(existing)

	existingReceivers, _ := existing["receivers"].(map[string]interface{})
	mergedReceivers := maputils.CopyMap(existingReceivers)

	ourReceivers, _ := ourBody["receivers"].(map[string]interface{})
	for callsign, entry := range ourReceivers {
		mergedReceivers[callsign] = entry
	}
	merged["receivers"] = mergedReceivers

	return u.client.PutUpdate(ctx, id, rev, merged)
}

// ListenerTelemetry implements spec.md §4.3.2 for listener telemetry
// documents.
func (u *Uploader) ListenerTelemetry(ctx context.Context, data interface{}, timeCreated int64) (string, error) {
	u.listenerTelemetrySeq++
	return u.listenerDoc(ctx, documents.ListenerTelemetry, data, timeCreated, u.listenerTelemetrySeq)
}

// ListenerInformation implements spec.md §4.3.2 for listener information
// documents.
func (u *Uploader) ListenerInformation(ctx context.Context, data interface{}, timeCreated int64) (string, error) {
	u.listenerInformationSeq++
	return u.listenerDoc(ctx, documents.ListenerInformation, data, timeCreated, u.listenerInformationSeq)
}

// listenerDoc builds and writes a listener telemetry/information document.
// Its id is random, so put_new is expected to succeed first try; on the
// astronomically unlikely conflict, a fresh id is regenerated and retried,
// bounded by max_merge_attempts, exactly as spec.md §4.3.2 describes.
func (u *Uploader) listenerDoc(ctx context.Context, kind documents.Type, data interface{}, timeCreated int64, seq int) (string, error) {
	timeUploaded := u.now()
	created := resolveTimeCreated(timeCreated, timeUploaded)

	for attempt := 1; attempt <= u.cfg.MaxMergeAttempts; attempt++ {
		id, body, err := documents.BuildListenerDoc(kind, data, created, timeUploaded, u.cfg.Callsign, seq)
		if err != nil {
			return "", err
		}

		err = u.client.PutNew(ctx, id, body)
		if err == nil {
			return id, nil
		}
		if err != store.ErrConflict {
			return "", err
		}

		logging.Warnf("listener document id collision, regenerating (attempt %d/%d)", attempt, u.cfg.MaxMergeAttempts)
	}

	return "", uplinkerr.Collision(u.cfg.MaxMergeAttempts)
}

// resolveTimeCreated implements spec.md §3/§4.3.5: a negative or omitted
// time_created defaults to now(); anything else is used as-is even if it
// deviates from now() by more than the fixed 300-second skew tolerance —
// clock discipline is the caller's responsibility. A warning is logged only
// when time_created is more than 300 seconds ahead of now().
func resolveTimeCreated(timeCreated int64, now time.Time) time.Time {
	if timeCreated < 0 {
		return now
	}

	created := time.Unix(timeCreated, 0).UTC()
	if timeCreated > now.Unix()+skewTolerance {
		logging.Warnf("time_created %d is more than %d seconds ahead of time_uploaded %d", timeCreated, skewTolerance, now.Unix())
	}
	return created
}

// Flights implements spec.md §4.3.3: selects flights whose window covers
// now() and whose approved flag is true. The view's key is [end_time,
// start_time], so startkey=[now] narrows the query to flights that have
// not yet ended; the other half of "window covers now" (start_time <=
// now) and the approved check can't be expressed in that key range, so
// isActiveApprovedFlight filters the included docs after the fact.
func (u *Uploader) Flights(ctx context.Context) ([]map[string]interface{}, error) {
	now := u.now()

	startkey, err := json.Marshal([]interface{}{now.Unix()})
	if err != nil {
		return nil, uplinkerr.Unexpected(err)
	}

	params := url.Values{}
	params.Set("include_docs", "true")
	params.Set("descending", "false")
	params.Set("startkey", string(startkey))

	rows, err := u.client.View(ctx, "flight", "end_start_including_payloads", params)
	if err != nil {
		return nil, err
	}

	flightsByID := map[string]map[string]interface{}{}
	var order []string

	for _, row := range rows {
		doc := rowDoc(row)
		if doc == nil {
			continue
		}

		docType, _ := doc["type"].(string)
		switch docType {
		case "payload_configuration":
			flightID, _ := doc["flight"].(string)
			flight := flightsByID[flightID]
			if flight == nil {
				continue
			}
			payloadDocs, _ := flight["_payload_docs"].([]map[string]interface{})
			flight["_payload_docs"] = append(payloadDocs, doc)
			continue
		case "flight":
			if !isActiveApprovedFlight(doc, now) {
				continue
			}
		default:
			continue
		}

		id, _ := doc["_id"].(string)
		if id == "" {
			id = row.ID
		}
		if _, exists := flightsByID[id]; !exists {
			doc["_payload_docs"] = []map[string]interface{}{}
			flightsByID[id] = doc
			order = append(order, id)
		}
	}

	flights := make([]map[string]interface{}, 0, len(order))
	for _, id := range order {
		flights = append(flights, flightsByID[id])
	}

	sort.SliceStable(flights, func(i, j int) bool {
		return numericField(flights[i], "end_time") < numericField(flights[j], "end_time")
	})

	return flights, nil
}

// Payloads implements spec.md §4.3.4.
func (u *Uploader) Payloads(ctx context.Context) ([]map[string]interface{}, error) {
	rows, err := u.client.View(ctx, "payload_config", "all", url.Values{})
	if err != nil {
		return nil, err
	}

	payloads := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		if doc := rowDoc(row); doc != nil {
			payloads = append(payloads, doc)
		}
	}
	return payloads, nil
}

func rowDoc(row store.Row) map[string]interface{} {
	if row.Doc != nil {
		return row.Doc
	}
	if v, ok := row.Value.(map[string]interface{}); ok {
		return v
	}
	return nil
}

// isActiveApprovedFlight reports whether doc's window covers now and its
// approved flag is set.
func isActiveApprovedFlight(doc map[string]interface{}, now time.Time) bool {
	approved, _ := doc["approved"].(bool)
	if !approved {
		return false
	}
	return numericField(doc, "start_time") <= float64(now.Unix())
}

func numericField(doc map[string]interface{}, field string) float64 {
	switch v := doc[field].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
