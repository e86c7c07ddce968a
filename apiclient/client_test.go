package apiclient

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radionest/clarinet/engine"
	"github.com/radionest/clarinet/record"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, nil)
	return c, srv
}

func TestGetRecordDecodesSnapshot(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/records/42", r.URL.Path)
		json.NewEncoder(w).Encode(record.Snapshot{ID: 42, Status: "pending"})
	})
	snap, err := c.GetRecord(t.Context(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), snap.ID)
}

func TestGetRecordNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.GetRecord(t.Context(), 1)
	require.Error(t, err)
	var nfErr *NotFoundError
	assert.ErrorAs(t, err, &nfErr)
}

func TestCreateRecordConflictTreatedAsSuccess(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(record.Snapshot{ID: 7, Status: "exists"})
	})
	snap, err := c.CreateRecord(t.Context(), engine.CreateRecordRequest{RecordTypeName: "ai_analysis"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.ID)
}

func TestCreateRecordValidationErrorPropagates(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"missing field"}`))
	})
	_, err := c.CreateRecord(t.Context(), engine.CreateRecordRequest{})
	require.Error(t, err)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestUpdateRecordStatusRetriesOn500ThenSucceeds(t *testing.T) {
	calls := 0
	var bodies []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(record.Snapshot{ID: 1, Status: "closed"})
	})
	c.cfg.MaxRetries = 2
	c.cfg.RetryBackoff = time.Millisecond

	snap, err := c.UpdateRecordStatus(t.Context(), 1, "closed")
	require.NoError(t, err)
	assert.Equal(t, "closed", snap.Status)
	assert.Equal(t, 2, calls)

	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1], "retried request must resend the same body, not an empty one")
	assert.JSONEq(t, `{"status":"closed"}`, bodies[1])
}

func TestAppendContextInfoUnauthorized(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	err := c.AppendContextInfo(t.Context(), 1, "note")
	require.Error(t, err)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}
