package middleware

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrRetryScheduled is the sentinel the retry middleware substitutes for a
// task's real error once it has scheduled a republish. The DLQ middleware
// checks for it with errors.Is to distinguish "will retry" from "terminally
// failed"; the chain middleware treats it like any other error and does not
// advance.
var ErrRetryScheduled = errors.New("clarinet: retry scheduled")

// Publisher is the subset of the broker adapter the retry and chain
// middlewares need: the ability to republish a task.
type Publisher interface {
	Publish(ctx context.Context, queue, taskID, taskName string, body []byte, labels map[string]string) error
}

// RetryConfig parameterizes the retry middleware.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	Exponent    float64
}

// DefaultRetryConfig mirrors the broker's documented defaults: a handful
// of attempts with exponential, jittered backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		Jitter:      true,
		Exponent:    2.0,
	}
}

// RetryLabel is the label key holding the attempt counter.
const RetryLabel = "retry_attempt"

// RetryMiddleware republishes a failed task after a backoff delay, up to
// MaxAttempts, replacing the result's error with ErrRetryScheduled so the
// DLQ middleware knows not to route it.
type RetryMiddleware struct {
	cfg       RetryConfig
	publisher Publisher
	log       *logrus.Entry
	sleep     func(time.Duration) // overridable for tests
}

// NewRetryMiddleware constructs a RetryMiddleware.
func NewRetryMiddleware(cfg RetryConfig, publisher Publisher, log *logrus.Entry) *RetryMiddleware {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RetryMiddleware{cfg: cfg, publisher: publisher, log: log, sleep: time.Sleep}
}

func (m *RetryMiddleware) PreSend(ctx context.Context, mc *Context) error {
	return nil
}

func (m *RetryMiddleware) PostExecute(ctx context.Context, mc *Context, result *Result) {
	if result.Error == nil {
		return
	}

	attempt := attemptFromLabels(mc.Labels)
	if attempt >= m.cfg.MaxAttempts {
		return
	}

	delay := computeDelay(m.cfg, attempt)
	nextLabels := cloneLabels(mc.Labels)
	nextLabels[RetryLabel] = strconv.Itoa(attempt + 1)

	originalErr := result.Error
	result.Error = ErrRetryScheduled

	go func() {
		m.sleep(delay)
		if err := m.publisher.Publish(ctx, mc.Queue, mc.TaskID, mc.TaskName, mc.Body, nextLabels); err != nil {
			m.log.WithError(err).WithField("task_name", mc.TaskName).Error("middleware: failed to republish for retry")
		}
	}()

	m.log.WithError(originalErr).WithFields(logrus.Fields{
		"task_name": mc.TaskName,
		"attempt":   attempt + 1,
		"delay":     delay.String(),
	}).Warn("middleware: scheduling retry")
}

func computeDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Exponent, float64(attempt))
	if cfg.Jitter {
		delay = delay * (0.5 + rand.Float64())
	}
	if max := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay)
}

func attemptFromLabels(labels map[string]string) int {
	raw, ok := labels[RetryLabel]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func cloneLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
