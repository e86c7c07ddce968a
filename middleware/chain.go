package middleware

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/radionest/clarinet/broker"
	"github.com/radionest/clarinet/common"
	"github.com/radionest/clarinet/message"
	"github.com/sirupsen/logrus"
)

// ChainMiddleware advances a multi-step pipeline: on a successful
// execution it decodes the chain label, determines the next step, and
// republishes the returned message to that step's queue. At most one
// advancement happens per successful execution.
type ChainMiddleware struct {
	publisher Publisher
	log       *logrus.Entry
}

// NewChainMiddleware constructs a ChainMiddleware.
func NewChainMiddleware(publisher Publisher, log *logrus.Entry) *ChainMiddleware {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ChainMiddleware{publisher: publisher, log: log}
}

func (m *ChainMiddleware) PreSend(ctx context.Context, mc *Context) error {
	return nil
}

func (m *ChainMiddleware) PostExecute(ctx context.Context, mc *Context, result *Result) {
	chainLabel, ok := mc.Labels["chain"]
	if !ok {
		return
	}

	if result.Error != nil {
		m.log.WithError(result.Error).WithField("task_name", mc.TaskName).
			Warn("middleware: chain halted, step failed")
		return
	}

	chainDef, err := message.DecodeChain([]byte(chainLabel))
	if err != nil {
		m.log.WithError(err).Error("middleware: malformed chain label")
		return
	}

	stepIndex, err := strconv.Atoi(mc.Labels["step_index"])
	if err != nil {
		m.log.WithError(err).Error("middleware: malformed step_index label")
		return
	}

	nextIndex := stepIndex + 1
	if nextIndex >= len(chainDef.Steps) {
		m.log.WithField("pipeline_id", chainDef.PipelineID).
			WithField("steps", len(chainDef.Steps)).
			Info("middleware: chain completed all steps")
		return
	}

	nextMsg, protoErr := decodeNextMessage(result.Value)
	if protoErr != nil {
		m.log.WithError(protoErr).WithField("task_name", mc.TaskName).
			Error("middleware: chain protocol violation, dropping advancement")
		return
	}

	next := chainDef.Steps[nextIndex]
	advanced := nextMsg.WithPipelineStep(chainDef.PipelineID, nextIndex)

	body, err := message.EncodeMessage(advanced)
	if err != nil {
		m.log.WithError(err).Error("middleware: failed to encode next message")
		return
	}

	nextLabels := cloneLabels(mc.Labels)
	nextLabels["step_index"] = strconv.Itoa(nextIndex)
	nextLabels["routing_key"] = broker.RoutingKey(next.Queue)

	if err := m.publisher.Publish(ctx, next.Queue, mc.TaskID, next.TaskName, body, nextLabels); err != nil {
		m.log.WithError(err).WithField("next_task", next.TaskName).Error("middleware: failed to dispatch next chain step")
	}
}

// decodeNextMessage accepts a step's return value either as an already
// encoded PipelineMessage or as an arbitrary JSON object literal with the
// same shape; anything that does not decode as an object is a chain
// protocol violation.
func decodeNextMessage(value []byte) (message.PipelineMessage, error) {
	if len(value) == 0 {
		return message.PipelineMessage{}, &common.ChainProtocolError{Reason: "empty step result"}
	}
	var probe json.RawMessage
	if err := json.Unmarshal(value, &probe); err != nil {
		return message.PipelineMessage{}, &common.ChainProtocolError{Reason: "step result is not valid JSON"}
	}
	if firstNonSpace(value) != '{' {
		return message.PipelineMessage{}, &common.ChainProtocolError{Reason: "step result is not an object"}
	}
	msg, err := message.DecodeMessage(value)
	if err != nil {
		return message.PipelineMessage{}, &common.ChainProtocolError{Reason: "step result does not match PipelineMessage"}
	}
	return msg, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}
