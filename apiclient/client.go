// Package apiclient implements the C6 API-client contract (section 6.2):
// JSON over HTTP with cookie-session auth against the record/study/series/
// patient API the core treats as an external collaborator. Grounded on the
// teacher's own hand-rolled net/http client (bounded retry on the
// transport, explicit method dispatch) rather than a third-party REST
// client — no pack repo imports one directly, and the teacher already
// solves this with plain net/http.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/radionest/clarinet/common"
	"github.com/radionest/clarinet/engine"
	"github.com/radionest/clarinet/record"
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	Username     string
	Password     string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

// Client implements the record API-client contract the engine depends on:
// get_record, find_records, create_record, update_record_status,
// update_record_data, append_context_info.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logrus.Entry
}

// New builds a Client with its own cookie jar, so a session established by
// Login is carried on every subsequent request.
func New(cfg Config, log *logrus.Entry) *Client {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout, Jar: jar},
		log:  log,
	}
}

// AuthError marks a 401 response.
type AuthError struct{ Status int }

func (e *AuthError) Error() string { return fmt.Sprintf("apiclient: not authenticated (status %d)", e.Status) }

// NotFoundError marks a 404 response.
type NotFoundError struct{ Path string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("apiclient: not found: %s", e.Path) }

// ValidationError marks a 4xx response other than 401/404/409.
type ValidationError struct {
	Status int
	Body   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("apiclient: validation error (status %d): %s", e.Status, e.Body)
}

// Login establishes a cookie session. Subsequent requests reuse it via the
// client's cookie jar.
func (c *Client) Login(ctx context.Context) error {
	body := map[string]string{"username": c.cfg.Username, "password": c.cfg.Password}
	_, err := c.doJSON(ctx, http.MethodPost, "/auth/login", body, true)
	return err
}

// GetRecord fetches a single record snapshot by id.
func (c *Client) GetRecord(ctx context.Context, id int64) (record.Snapshot, error) {
	var snap record.Snapshot
	path := fmt.Sprintf("/records/%d", id)
	_, err := c.doJSONInto(ctx, http.MethodGet, path, nil, false, &snap)
	return snap, err
}

// FindRecords looks up every record of recordTypeName within a study.
func (c *Client) FindRecords(ctx context.Context, studyUID, recordTypeName string) ([]record.Snapshot, error) {
	var snaps []record.Snapshot
	path := fmt.Sprintf("/records?study_uid=%s&record_type_name=%s", studyUID, recordTypeName)
	_, err := c.doJSONInto(ctx, http.MethodGet, path, nil, false, &snaps)
	return snaps, err
}

// CreateRecord creates a record. A 409 response is treated as success (the
// record already exists) per section 7's recovery policy: the response
// body is still decoded as the existing record's snapshot so the caller
// can proceed as if creation had just happened.
func (c *Client) CreateRecord(ctx context.Context, req engine.CreateRecordRequest) (record.Snapshot, error) {
	var snap record.Snapshot
	status, err := c.doJSONInto(ctx, http.MethodPost, "/records", req, false, &snap)
	if err != nil && status != http.StatusConflict {
		return record.Snapshot{}, err
	}
	return snap, nil
}

// UpdateRecordStatus transitions a record to status.
func (c *Client) UpdateRecordStatus(ctx context.Context, id int64, status string) (record.Snapshot, error) {
	var snap record.Snapshot
	path := fmt.Sprintf("/records/%d/status", id)
	_, err := c.doJSONInto(ctx, http.MethodPatch, path, map[string]string{"status": status}, false, &snap)
	return snap, err
}

// UpdateRecordData writes a record's data blob.
func (c *Client) UpdateRecordData(ctx context.Context, id int64, data map[string]interface{}) (record.Snapshot, error) {
	var snap record.Snapshot
	path := fmt.Sprintf("/records/%d/data", id)
	_, err := c.doJSONInto(ctx, http.MethodPatch, path, map[string]interface{}{"data": data}, false, &snap)
	return snap, err
}

// AppendContextInfo appends a free-text note to a record's context-info.
func (c *Client) AppendContextInfo(ctx context.Context, id int64, text string) error {
	path := fmt.Sprintf("/records/%d/context_info", id)
	_, err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"text": text}, false)
	return err
}

// doJSON issues a request with a JSON body (if non-nil) and discards the
// response body after classifying the status code.
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, skipRetryClassify bool) (int, error) {
	return c.doJSONInto(ctx, method, path, body, skipRetryClassify, nil)
}

// doJSONInto issues a request, retrying 5xx responses with backoff, and
// decodes a 2xx (or 409, for CreateRecord's idempotence carve-out) body
// into out if out is non-nil.
func (c *Client) doJSONInto(ctx context.Context, method, path string, body interface{}, _ bool, out interface{}) (int, error) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("apiclient: encode request body: %w", err)
		}
	}

	attempts := c.cfg.MaxRetries + 1
	backoff := c.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		var payload io.Reader
		if data != nil {
			payload = bytes.NewReader(data)
		}
		status, respBody, err := c.executeOnce(ctx, method, path, payload)
		if err == nil {
			if status >= 200 && status < 300 || status == http.StatusConflict {
				if out != nil && len(respBody) > 0 {
					if jsonErr := json.Unmarshal(respBody, out); jsonErr != nil {
						return status, fmt.Errorf("apiclient: decode response: %w", jsonErr)
					}
				}
				if status == http.StatusConflict {
					return status, fmt.Errorf("apiclient: conflict on %s", path)
				}
				return status, nil
			}
			lastErr = classifyStatus(status, path, respBody)
			if status < 500 {
				return status, lastErr
			}
		} else {
			lastErr = err
		}

		if attempt < attempts-1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			backoff *= 2
		}
	}
	return 0, lastErr
}

func (c *Client) executeOnce(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &common.ApiTransientError{Err: fmt.Errorf("apiclient: request to %s: %w", path, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("apiclient: read response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

func classifyStatus(status int, path string, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return &AuthError{Status: status}
	case http.StatusNotFound:
		return &NotFoundError{Path: path}
	default:
		if status >= 500 {
			return &common.ApiTransientError{StatusCode: status, Err: fmt.Errorf("apiclient: server error on %s", path)}
		}
		return &ValidationError{Status: status, Body: string(body)}
	}
}
