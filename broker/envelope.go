package broker

import "encoding/json"

// Envelope is the wire body of a published task: the message object wrapped
// with its labels and task identity, matching the worker-side task-queue
// convention the pipeline is built on.
type Envelope struct {
	Args     []json.RawMessage `json:"args"`
	Kwargs   map[string]interface{} `json:"kwargs"`
	Labels   map[string]string `json:"labels"`
	TaskID   string            `json:"task_id"`
	TaskName string            `json:"task_name"`
}

// DLQEnvelope is the body published to the dead-letter queue for a
// terminally failed task.
type DLQEnvelope struct {
	TaskName  string            `json:"task_name"`
	TaskID    string            `json:"task_id"`
	Args      []json.RawMessage `json:"args"`
	Kwargs    map[string]interface{} `json:"kwargs"`
	Labels    map[string]string `json:"labels"`
	Error     string            `json:"error"`
	ErrorType string            `json:"error_type"`
}

// AckPolicy controls when a delivery is acknowledged relative to handler
// execution.
type AckPolicy int

const (
	// AckWhenReceived acks as soon as the delivery is handed to the
	// handler, before it runs.
	AckWhenReceived AckPolicy = iota
	// AckWhenExecuted acks only after the handler returns, so a crash
	// mid-step causes redelivery. This is the default.
	AckWhenExecuted
	// AckWhenSaved acks after the handler's result has been durably
	// recorded by the caller; the adapter treats it the same as
	// AckWhenExecuted since persistence of the result is a step concern,
	// not a broker concern.
	AckWhenSaved
)
