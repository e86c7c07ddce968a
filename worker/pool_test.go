package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radionest/clarinet/broker"
	"github.com/radionest/clarinet/middleware"
	"github.com/radionest/clarinet/pipeline"
	"github.com/radionest/clarinet/storage"
)

func newTestIdempotenceCache(t *testing.T) *storage.IdempotenceCache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache, err := storage.NewIdempotenceCache("redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

type recordingMiddleware struct {
	mu      sync.Mutex
	results []*middleware.Result
	lastCtx *middleware.Context
}

func (r *recordingMiddleware) lastContext() *middleware.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCtx
}

func (r *recordingMiddleware) PreSend(ctx context.Context, mc *middleware.Context) error { return nil }

func (r *recordingMiddleware) PostExecute(ctx context.Context, mc *middleware.Context, result *middleware.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.lastCtx = mc
}

func (r *recordingMiddleware) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func TestConfigConcurrencyFallsBackToDefault(t *testing.T) {
	cfg := Config{DefaultConcurrency: 4}
	assert.Equal(t, 4, cfg.concurrencyFor(broker.DefaultQueue))
	assert.Equal(t, 4, cfg.concurrencyFor(broker.GPUQueue))
}

func TestConfigConcurrencyPerQueueOverride(t *testing.T) {
	cfg := Config{DefaultConcurrency: 4, GPUConcurrency: 1}
	assert.Equal(t, 1, cfg.concurrencyFor(broker.GPUQueue))
	assert.Equal(t, 4, cfg.concurrencyFor(broker.DICOMQueue))
}

func TestConfigConcurrencyDefaultsToOne(t *testing.T) {
	var cfg Config
	assert.Equal(t, 1, cfg.concurrencyFor(broker.DefaultQueue))
}

func TestDispatchRunsRegisteredTaskAndPostExecute(t *testing.T) {
	taskName := t.Name() + "-task"
	pipeline.RegisterTask(taskName, func(ctx context.Context, d broker.Delivery) ([]byte, error) {
		return []byte(`{"patient_id":"P1"}`), nil
	})

	rec := &recordingMiddleware{}
	chain := middleware.NewChain(rec)
	p := NewPool(nil, chain, Config{}, logrus.NewEntry(logrus.New()), nil)

	value, err := p.dispatch(context.Background(), broker.DefaultQueue, broker.Delivery{TaskName: taskName, TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, `{"patient_id":"P1"}`, string(value))

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
	require.NotNil(t, rec.lastContext())
	assert.Equal(t, broker.DefaultQueue, rec.lastContext().Queue)
}

func TestDispatchRecordsMetricsWhenConfigured(t *testing.T) {
	taskName := t.Name() + "-task"
	pipeline.RegisterTask(taskName, func(ctx context.Context, d broker.Delivery) ([]byte, error) {
		return nil, nil
	})

	chain := middleware.NewChain()
	metrics := NewMetrics(t.Name())
	p := NewPool(nil, chain, Config{}, logrus.NewEntry(logrus.New()), metrics)

	_, err := p.dispatch(context.Background(), broker.GPUQueue, broker.Delivery{TaskName: taskName, TaskID: "t3"})
	require.NoError(t, err)

	count := testutil.ToFloat64(metrics.TaskTotal.WithLabelValues(taskName, broker.GPUQueue, "ok"))
	assert.Equal(t, float64(1), count)
}

func TestDispatchUnregisteredTaskStillRunsPostExecute(t *testing.T) {
	rec := &recordingMiddleware{}
	chain := middleware.NewChain(rec)
	p := NewPool(nil, chain, Config{}, logrus.NewEntry(logrus.New()), nil)

	_, err := p.dispatch(context.Background(), broker.DefaultQueue, broker.Delivery{TaskName: t.Name() + "-missing", TaskID: "t2"})
	require.Error(t, err)
	assert.Equal(t, 1, rec.count())
}

func TestDispatchWithIdempotenceSuppressesDuplicateDelivery(t *testing.T) {
	taskName := t.Name() + "-task"
	var calls int32
	pipeline.RegisterTask(taskName, func(ctx context.Context, d broker.Delivery) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})

	chain := middleware.NewChain()
	p := NewPool(nil, chain, Config{}, logrus.NewEntry(logrus.New()), nil).WithIdempotence(newTestIdempotenceCache(t))

	d := broker.Delivery{TaskName: taskName, TaskID: "dup-task", Labels: map[string]string{"step_index": "0"}}
	_, err := p.dispatch(context.Background(), broker.DefaultQueue, d)
	require.NoError(t, err)

	value, err := p.dispatch(context.Background(), broker.DefaultQueue, d)
	require.NoError(t, err)
	assert.Nil(t, value)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatchWithIdempotenceRunsRetryOfFailedAttempt(t *testing.T) {
	taskName := t.Name() + "-task"
	var calls int32
	pipeline.RegisterTask(taskName, func(ctx context.Context, d broker.Delivery) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})

	chain := middleware.NewChain()
	p := NewPool(nil, chain, Config{}, logrus.NewEntry(logrus.New()), nil).WithIdempotence(newTestIdempotenceCache(t))

	first := broker.Delivery{TaskName: taskName, TaskID: "retry-task", Labels: map[string]string{"step_index": "0"}}
	_, err := p.dispatch(context.Background(), broker.DefaultQueue, first)
	require.NoError(t, err)

	retry := broker.Delivery{TaskName: taskName, TaskID: "retry-task", Labels: map[string]string{"step_index": "0", middleware.RetryLabel: "1"}}
	_, err = p.dispatch(context.Background(), broker.DefaultQueue, retry)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
