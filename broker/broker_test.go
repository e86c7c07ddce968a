package broker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingKeyIsQueueSuffix(t *testing.T) {
	assert.Equal(t, "gpu", RoutingKey(GPUQueue))
	assert.Equal(t, "dicom", RoutingKey(DICOMQueue))
	assert.Equal(t, "default", RoutingKey(DefaultQueue))
	assert.Equal(t, "solo", RoutingKey("solo"))
}

func TestWorkerQueuesAlwaysIncludesDefault(t *testing.T) {
	assert.Equal(t, []string{DefaultQueue}, WorkerQueues(false, false))
	assert.Equal(t, []string{DefaultQueue, GPUQueue}, WorkerQueues(true, false))
	assert.Equal(t, []string{DefaultQueue, DICOMQueue}, WorkerQueues(false, true))
	assert.Equal(t, []string{DefaultQueue, GPUQueue, DICOMQueue}, WorkerQueues(true, true))
}

func newTestAdapter(t *testing.T) (*Adapter, *MockChannelT) {
	t.Helper()
	mockCh := &MockChannelT{}
	mockConn := &MockConnection{MockChannel: mockCh}
	dialer := &MockDialer{MockConn: mockConn}
	a := NewAdapter(Config{URL: "amqp://test", Exchange: "clarinet"}, dialer, nil)
	require.NoError(t, a.Connect())
	return a, mockCh
}

func TestDeclareBindsWithSuffixRoutingKey(t *testing.T) {
	a, ch := newTestAdapter(t)
	require.NoError(t, a.Declare(GPUQueue))
	assert.Contains(t, ch.DeclaredQueues, GPUQueue)
	assert.Contains(t, ch.DeclaredBinds, GPUQueue+"<-gpu")
}

func TestPublishWrapsEnvelope(t *testing.T) {
	a, ch := newTestAdapter(t)
	labels := map[string]string{"pipeline_id": "p1", "step_index": "0"}
	err := a.Publish(context.Background(), DefaultQueue, "task-1", "step1", []byte(`{"patient_id":"P1"}`), labels)
	require.NoError(t, err)
	require.Len(t, ch.PublishedMsgs, 1)
	assert.Equal(t, "default", ch.PublishedKeys[0])

	var env Envelope
	require.NoError(t, json.Unmarshal(ch.PublishedMsgs[0].Body, &env))
	assert.Equal(t, "step1", env.TaskName)
	assert.Equal(t, "task-1", env.TaskID)
	assert.Equal(t, "p1", env.Labels["pipeline_id"])
}

func TestPublishDLQNeverReturnsError(t *testing.T) {
	a, ch := newTestAdapter(t)
	ch.PublishErr = assert.AnError
	// PublishDLQ has no return value; it must not panic even when the
	// underlying publish fails.
	a.PublishDLQ(context.Background(), DLQEnvelope{TaskName: "step2", TaskID: "t2", Error: "boom", ErrorType: "StepError"})
}
