// Package store is the thin façade over the CouchDB-compatible HTTP
// document store: PUT a new document, GET a document and its revision
// token, PUT an update against a revision, and query a server-side view.
// It is stateless between calls and never retries on its own — the merge
// loop in package uploader owns all retry policy.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skywave-uplink/habuplink/uplinkerr"
)

// ErrConflict is returned by PutNew/PutUpdate when the store rejects the
// write because the target document already exists at a different
// revision. It is the merge loop's trigger to fetch, merge, and retry —
// it is never itself surfaced to the Callback Sink.
var ErrConflict = errConflict{}

type errConflict struct{}

func (errConflict) Error() string { return "document conflict" }

// Config configures the underlying *http.Client. Grounded on the teacher's
// adapters.HTTPConfiguration, trimmed to what a single synchronous request
// at a time needs — no retry count or delay here, since the merge loop
// (not the client) owns retries.
type Config struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
}

// DefaultConfig mirrors sensible net/http defaults for a low-traffic client
// issuing one request at a time.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
	}
}

// Client is the HTTP façade over one CouchDB-compatible database.
type Client struct {
	httpClient *http.Client
	baseURL    string
	database   string
}

// New returns a Client targeting {baseURL}/{database}.
func New(baseURL, database string, cfg Config) *Client {
	return NewWithHTTPClient(baseURL, database, &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		},
	})
}

// NewWithHTTPClient returns a Client that issues requests through httpClient
// directly, bypassing Config entirely. Callers outside this package use it
// to point a Client at a transport they already control — in practice, an
// httpmock-wrapped client in tests.
func NewWithHTTPClient(baseURL, database string, httpClient *http.Client) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		database:   database,
	}
}

// Close releases the client's idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) docURL(docID string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.database, docID)
}

// PutNew creates doc at docID. Returns ErrConflict if a document already
// exists at that id, uplinkerr.Transport on I/O/TLS/timeout failure, or
// uplinkerr.HTTPOther for any other non-success status.
func (c *Client) PutNew(ctx context.Context, docID string, body map[string]interface{}) error {
	return c.put(ctx, c.docURL(docID), body)
}

// PutUpdate updates doc at docID, asserting revision rev. Same error
// taxonomy as PutNew.
func (c *Client) PutUpdate(ctx context.Context, docID, rev string, body map[string]interface{}) error {
	u := c.docURL(docID) + "?rev=" + url.QueryEscape(rev)
	return c.put(ctx, u, body)
}

func (c *Client) put(ctx context.Context, target string, body map[string]interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return uplinkerr.Unexpected(fmt.Errorf("encoding document body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(payload))
	if err != nil {
		return uplinkerr.Unexpected(fmt.Errorf("building PUT request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return uplinkerr.Transport(err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return ErrConflict
	default:
		return uplinkerr.HTTPOther(resp.StatusCode)
	}
}

// Get fetches a document's current body and revision token.
func (c *Client) Get(ctx context.Context, docID string) (map[string]interface{}, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.docURL(docID), nil)
	if err != nil {
		return nil, "", uplinkerr.Unexpected(fmt.Errorf("building GET request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", uplinkerr.Transport(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", uplinkerr.HTTPOther(resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", uplinkerr.Unexpected(fmt.Errorf("decoding document body: %w", err))
	}

	rev, _ := body["_rev"].(string)
	return body, rev, nil
}

// Row is one result row of a server-side view query.
type Row struct {
	ID    string                 `json:"id"`
	Key   interface{}            `json:"key"`
	Value interface{}            `json:"value"`
	Doc   map[string]interface{} `json:"doc,omitempty"`
}

type viewResult struct {
	Rows []Row `json:"rows"`
}

// View queries {database_url}/{database_name}/_design/{designDoc}/_view/{viewName}
// with the given query parameters and returns its result rows in server order.
func (c *Client) View(ctx context.Context, designDoc, viewName string, params url.Values) ([]Row, error) {
	target := fmt.Sprintf("%s/%s/_design/%s/_view/%s", c.baseURL, c.database, designDoc, viewName)
	if encoded := params.Encode(); encoded != "" {
		target += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, uplinkerr.Unexpected(fmt.Errorf("building view request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, uplinkerr.Transport(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, uplinkerr.HTTPOther(resp.StatusCode)
	}

	var result viewResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, uplinkerr.Unexpected(fmt.Errorf("decoding view result: %w", err))
	}

	return result.Rows, nil
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}
