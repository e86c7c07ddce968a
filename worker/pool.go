// Package worker wires the broker adapter, the task registry, and the
// middleware chain into the per-queue consumer processes a worker runs:
// one goroutine per bound queue, each dispatching deliveries to the task
// registered under their name and running the post-execute chain on the
// result.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/radionest/clarinet/broker"
	"github.com/radionest/clarinet/common"
	"github.com/radionest/clarinet/middleware"
	"github.com/radionest/clarinet/pipeline"
	"github.com/radionest/clarinet/statemanager"
	"github.com/radionest/clarinet/storage"
)

// Recorder tracks task dispatches for operator diagnostics (section 6.4).
// *statemanager.Manager implements it; a Pool with a nil Recorder simply
// skips tracking.
type Recorder interface {
	StartOperation(id, taskName, queue string, labels map[string]interface{}) *statemanager.TaskExecution
	CompleteOperation(id string, err error)
}

// Config selects which queues this worker process binds (via capability
// flags, per spec section 6.4) and how many deliveries each queue handles
// concurrently.
type Config struct {
	HaveGPU   bool
	HaveDICOM bool

	DefaultConcurrency int
	GPUConcurrency     int
	DICOMConcurrency   int

	AckPolicy broker.AckPolicy
}

func (c Config) concurrencyFor(queue string) int {
	switch queue {
	case broker.GPUQueue:
		if c.GPUConcurrency > 0 {
			return c.GPUConcurrency
		}
	case broker.DICOMQueue:
		if c.DICOMConcurrency > 0 {
			return c.DICOMConcurrency
		}
	}
	if c.DefaultConcurrency > 0 {
		return c.DefaultConcurrency
	}
	return 1
}

// Pool runs one bounded-concurrency consumer per queue this process binds.
type Pool struct {
	adapter  *broker.Adapter
	chain    *middleware.Chain
	cfg      Config
	log      *logrus.Entry
	metrics  *Metrics
	recorder Recorder
	idem     *storage.IdempotenceCache
}

// NewPool builds a Pool. chain is the post-execute middleware chain (retry,
// logging, DLQ, chain-advancement, in that fixed order) run after every
// task handler returns. metrics and recorder may both be nil to disable
// instrumentation and diagnostics tracking respectively.
func NewPool(adapter *broker.Adapter, chain *middleware.Chain, cfg Config, log *logrus.Entry, metrics *Metrics) *Pool {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{adapter: adapter, chain: chain, cfg: cfg, log: log, metrics: metrics}
}

// WithRecorder attaches a diagnostics recorder and returns the Pool for
// chaining.
func (p *Pool) WithRecorder(r Recorder) *Pool {
	p.recorder = r
	return p
}

// WithIdempotence attaches a redelivery dedup cache and returns the Pool
// for chaining. With one attached, dispatch marks the delivered attempt
// as seen before invoking the handler and suppresses a second invocation
// of the same attempt, per section 9's "idempotence over exactly-once"
// design.
func (p *Pool) WithIdempotence(c *storage.IdempotenceCache) *Pool {
	p.idem = c
	return p
}

// Start declares every queue this process serves and launches one consumer
// goroutine per queue. It returns once the queues are declared, without
// waiting for the consumers to register; a consumer that fails to start is
// logged, not returned. Each consumer runs until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	queues := broker.WorkerQueues(p.cfg.HaveGPU, p.cfg.HaveDICOM)
	for _, q := range queues {
		if err := p.adapter.Declare(q); err != nil {
			return fmt.Errorf("worker: declare %s: %w", q, err)
		}
	}
	for _, q := range queues {
		queue := q
		concurrency := p.cfg.concurrencyFor(queue)
		go func() {
			handler := func(ctx context.Context, d broker.Delivery) ([]byte, error) {
				return p.dispatch(ctx, queue, d)
			}
			err := p.adapter.Consume(ctx, queue, concurrency, p.cfg.AckPolicy, handler)
			if err != nil && ctx.Err() == nil {
				p.log.WithError(err).WithField("queue", queue).Error("worker: consumer stopped")
			}
		}()
	}
	return nil
}

// dispatch looks up the task registered under the delivery's task name,
// runs it, times it, and feeds the outcome through the post-execute
// middleware chain before returning. A missing registration is itself a
// StepError so it still flows through retry/DLQ rather than being silently
// dropped.
//
// With an idempotence cache attached, dispatch first marks the delivered
// attempt (see idempotenceKey) as seen; a broker redelivering the same
// attempt is suppressed rather than re-running the handler and
// re-advancing the chain a second time.
func (p *Pool) dispatch(ctx context.Context, queue string, d broker.Delivery) ([]byte, error) {
	if p.idem != nil {
		key := idempotenceKey(d)
		first, err := p.idem.MarkIfAbsent(ctx, key)
		if err != nil {
			p.log.WithError(err).WithField("task_id", d.TaskID).Warn("worker: idempotence check failed, dispatching anyway")
		} else if !first {
			p.log.WithField("task_id", d.TaskID).WithField("task_name", d.TaskName).
				Debug("worker: duplicate delivery suppressed")
			return nil, nil
		}
	}

	if p.recorder != nil {
		p.recorder.StartOperation(d.TaskID, d.TaskName, queue, labelsToAny(d.Labels))
	}

	handler, ok := pipeline.GetTask(d.TaskName)
	if !ok {
		err := &common.StepError{TaskName: d.TaskName, Err: fmt.Errorf("no task registered under this name")}
		p.runPostExecute(ctx, queue, d, nil, err, 0)
		return nil, err
	}

	start := time.Now()
	value, err := handler(ctx, d)
	duration := time.Since(start)

	p.runPostExecute(ctx, queue, d, value, err, duration)
	return value, err
}

// idempotenceKey identifies one delivered attempt at one step: task_id
// alone is not enough because a chained task keeps the same task_id across
// every step (see middleware/chain.go), and step_index alone is not enough
// because the retry middleware deliberately republishes the same
// (task_id, step_index) under a bumped retry_attempt label. Including
// retry_attempt means an intentional retry still runs, while a broker
// redelivering the exact same message (identical labels throughout) is
// recognized as a duplicate and suppressed.
func idempotenceKey(d broker.Delivery) string {
	return d.TaskID + ":" + d.Labels["step_index"] + ":" + d.Labels[middleware.RetryLabel]
}

func labelsToAny(labels map[string]string) map[string]interface{} {
	if labels == nil {
		return nil
	}
	out := make(map[string]interface{}, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func (p *Pool) runPostExecute(ctx context.Context, queue string, d broker.Delivery, value []byte, err error, duration time.Duration) {
	p.metrics.observe(d.TaskName, queue, err, duration)
	if p.recorder != nil {
		p.recorder.CompleteOperation(d.TaskID, err)
	}
	mc := &middleware.Context{
		Queue:    queue,
		TaskName: d.TaskName,
		TaskID:   d.TaskID,
		Body:     d.Body,
		Labels:   d.Labels,
	}
	p.chain.PostExecute(ctx, mc, &middleware.Result{Value: value, Error: err, Duration: duration})
}
