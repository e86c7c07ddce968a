// Package message implements the wire codec for pipeline messages and chain
// definitions: the envelope carried between pipeline steps and the ordered
// step list serialized into a task's labels.
package message

import (
	"encoding/json"
	"fmt"
)

// PipelineMessage is the envelope carried between chain steps. It is copied
// (never mutated in place) when a chain hands off to the next step.
type PipelineMessage struct {
	PatientID       string                 `json:"patient_id"`
	StudyUID        string                 `json:"study_uid"`
	SeriesUID       *string                `json:"series_uid,omitempty"`
	RecordID        *int64                 `json:"record_id,omitempty"`
	RecordTypeName  *string                `json:"record_type_name,omitempty"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
	PipelineID      *string                `json:"pipeline_id,omitempty"`
	StepIndex       int                    `json:"step_index"`
}

// Clone returns a deep-enough copy of the message for safe mutation by the
// caller (used when advancing a chain to the next step). The payload map is
// copied one level deep.
func (m PipelineMessage) Clone() PipelineMessage {
	out := m
	if m.Payload != nil {
		out.Payload = make(map[string]interface{}, len(m.Payload))
		for k, v := range m.Payload {
			out.Payload[k] = v
		}
	}
	return out
}

// WithPipelineStep returns a copy of the message with pipeline_id and
// step_index set, as required whenever a message is dispatched into a chain.
func (m PipelineMessage) WithPipelineStep(pipelineID string, stepIndex int) PipelineMessage {
	out := m.Clone()
	out.PipelineID = &pipelineID
	out.StepIndex = stepIndex
	return out
}

// EncodeMessage serializes a PipelineMessage into its transport-neutral
// textual form.
func EncodeMessage(m PipelineMessage) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("message: encode: %w", err)
	}
	return b, nil
}

// DecodeMessage parses a PipelineMessage from its wire form. Unknown fields
// are ignored; absent optional fields decode to their zero values.
func DecodeMessage(body []byte) (PipelineMessage, error) {
	var m PipelineMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return PipelineMessage{}, fmt.Errorf("message: decode: %w", err)
	}
	return m, nil
}

// Step is one element of a pipeline: a task bound to a queue.
type Step struct {
	TaskName string `json:"task_name"`
	Queue    string `json:"queue"`
}

// ChainDefinition is the ordered step list serialized into a task's labels
// so any worker can determine the next hop without a central coordinator.
type ChainDefinition struct {
	PipelineID string `json:"pipeline_id"`
	Steps      []Step `json:"steps"`
}

// EncodeChain serializes a ChainDefinition into its label form.
func EncodeChain(c ChainDefinition) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("message: encode chain: %w", err)
	}
	return b, nil
}

// DecodeChain parses a ChainDefinition from its label form.
func DecodeChain(body []byte) (ChainDefinition, error) {
	var c ChainDefinition
	if err := json.Unmarshal(body, &c); err != nil {
		return ChainDefinition{}, fmt.Errorf("message: decode chain: %w", err)
	}
	return c, nil
}
