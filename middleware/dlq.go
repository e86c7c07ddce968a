package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/radionest/clarinet/broker"
	"github.com/sirupsen/logrus"
)

// DLQPublisher is the subset of the broker adapter needed to route a
// terminally failed task to the dead-letter queue.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, env broker.DLQEnvelope)
}

// DLQMiddleware routes terminally failed tasks to the dead-letter queue. It
// is a no-op for successes and for tasks the retry middleware has already
// rescheduled.
type DLQMiddleware struct {
	publisher DLQPublisher
	log       *logrus.Entry
}

// NewDLQMiddleware constructs a DLQMiddleware.
func NewDLQMiddleware(publisher DLQPublisher, log *logrus.Entry) *DLQMiddleware {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &DLQMiddleware{publisher: publisher, log: log}
}

func (m *DLQMiddleware) PreSend(ctx context.Context, mc *Context) error {
	return nil
}

func (m *DLQMiddleware) PostExecute(ctx context.Context, mc *Context, result *Result) {
	if result.Error == nil {
		return
	}
	if errors.Is(result.Error, ErrRetryScheduled) {
		return
	}

	var args []json.RawMessage
	if mc.Body != nil {
		args = []json.RawMessage{mc.Body}
	}

	env := broker.DLQEnvelope{
		TaskName:  mc.TaskName,
		TaskID:    mc.TaskID,
		Args:      args,
		Kwargs:    map[string]interface{}{},
		Labels:    mc.Labels,
		Error:     result.Error.Error(),
		ErrorType: fmt.Sprintf("%T", result.Error),
	}
	m.publisher.PublishDLQ(ctx, env)
	m.log.WithError(result.Error).WithField("task_name", mc.TaskName).Warn("middleware: task routed to dead-letter queue")
}
