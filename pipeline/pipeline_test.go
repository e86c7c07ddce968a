package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/radionest/clarinet/broker"
	"github.com/radionest/clarinet/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	calls []struct {
		Queue, TaskID, TaskName string
		Body                    []byte
		Labels                  map[string]string
	}
}

func (r *recordingPublisher) Publish(ctx context.Context, queue, taskID, taskName string, body []byte, labels map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, struct {
		Queue, TaskID, TaskName string
		Body                    []byte
		Labels                  map[string]string
	}{queue, taskID, taskName, body, labels})
	return nil
}

func noopHandler(ctx context.Context, d broker.Delivery) ([]byte, error) { return nil, nil }

func TestPipelineStepRegistersTask(t *testing.T) {
	pub := &recordingPublisher{}
	p := New(t.Name()+"-p1", pub)
	p.Step("task-a", "clarinet.default", noopHandler)

	h, ok := GetTask("task-a")
	assert.True(t, ok)
	assert.NotNil(t, h)
}

func TestPipelineRunPublishesFirstStepWithChainLabel(t *testing.T) {
	pub := &recordingPublisher{}
	p := New(t.Name()+"-p2", pub)
	p.Step("step1", "clarinet.default", noopHandler).Step("step2", "clarinet.default", noopHandler)

	err := p.Run(context.Background(), message.PipelineMessage{PatientID: "P1", StudyUID: "U1"}, nil)
	require.NoError(t, err)

	require.Len(t, pub.calls, 1)
	call := pub.calls[0]
	assert.Equal(t, "clarinet.default", call.Queue)
	assert.Equal(t, "step1", call.TaskName)
	assert.Equal(t, "0", call.Labels["step_index"])
	assert.NotEmpty(t, call.Labels["chain"])

	decoded, err := message.DecodeMessage(call.Body)
	require.NoError(t, err)
	require.NotNil(t, decoded.PipelineID)
	assert.Equal(t, p.Name(), *decoded.PipelineID)
}

func TestPipelineRunFailsOnEmptyPipeline(t *testing.T) {
	pub := &recordingPublisher{}
	p := New(t.Name()+"-empty", pub)
	err := p.Run(context.Background(), message.PipelineMessage{}, nil)
	require.Error(t, err)
	assert.Empty(t, pub.calls)
}

func TestGetAndGetAll(t *testing.T) {
	pub := &recordingPublisher{}
	name := t.Name() + "-lookup"
	New(name, pub).Step("x", "clarinet.default", noopHandler)

	p, ok := Get(name)
	require.True(t, ok)
	assert.Equal(t, name, p.Name())

	all := GetAll()
	assert.Contains(t, all, name)
}

type fakeStorage struct {
	mu   sync.Mutex
	rows map[string][]Step
}

func (f *fakeStorage) Upsert(name string, steps []Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = map[string][]Step{}
	}
	f.rows[name] = steps
	return nil
}

func TestSyncUpsertsAllRegisteredPipelines(t *testing.T) {
	pub := &recordingPublisher{}
	name := t.Name() + "-sync"
	New(name, pub).Step("sync-task", "clarinet.default", noopHandler)

	store := &fakeStorage{}
	require.NoError(t, Sync(store))
	assert.Contains(t, store.rows, name)
	assert.Len(t, store.rows[name], 1)
}
