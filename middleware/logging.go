package middleware

import (
	"context"
	"strconv"

	"github.com/radionest/clarinet/common"
	"github.com/sirupsen/logrus"
)

// LoggingMiddleware emits structured records at send and post-execute time.
type LoggingMiddleware struct {
	log *logrus.Entry
}

// NewLoggingMiddleware constructs a LoggingMiddleware.
func NewLoggingMiddleware(log *logrus.Entry) *LoggingMiddleware {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LoggingMiddleware{log: log}
}

func (m *LoggingMiddleware) fields(mc *Context) logrus.Fields {
	pipelineID := mc.Labels["pipeline_id"]
	stepIndex := 0
	if raw, ok := mc.Labels["step_index"]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			stepIndex = n
		}
	}
	f := logrus.Fields{}
	for k, v := range common.PipelineFields(pipelineID, stepIndex, mc.TaskName, mc.TaskID) {
		f[k] = v
	}
	return f
}

func (m *LoggingMiddleware) PreSend(ctx context.Context, mc *Context) error {
	m.log.WithFields(m.fields(mc)).Info("sending task")
	return nil
}

func (m *LoggingMiddleware) PostExecute(ctx context.Context, mc *Context, result *Result) {
	entry := m.log.WithFields(m.fields(mc)).WithField("duration_ms", result.Duration.Milliseconds())
	if result.Error != nil {
		entry.WithError(result.Error).Error("task execution failed")
		return
	}
	entry.Info("task execution succeeded")
}
