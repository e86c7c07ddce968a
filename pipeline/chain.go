package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/radionest/clarinet/broker"
	"github.com/radionest/clarinet/common"
	"github.com/radionest/clarinet/message"
	"github.com/radionest/clarinet/middleware"
)

// Step is one element of a pipeline as built in memory: a task name and the
// queue it is dispatched to. The handler is kept in the task registry under
// TaskName, not in the Step.
type Step struct {
	TaskName string
	Queue    string
}

// Pipeline is an ordered, named sequence of steps. Names are unique per
// process; constructing a Pipeline with an existing name replaces the
// previous registration, matching the source's "last definition wins"
// import-time behavior.
type Pipeline struct {
	name      string
	steps     []Step
	publisher middleware.Publisher
}

// New creates and registers a pipeline. publisher is the broker adapter (or
// a test double) used by Run to dispatch the first step.
func New(name string, publisher middleware.Publisher) *Pipeline {
	p := &Pipeline{name: name, publisher: publisher}
	pipelineRegistry.mu.Lock()
	pipelineRegistry.pipelines[name] = p
	pipelineRegistry.mu.Unlock()
	return p
}

// Name returns the pipeline's registered name.
func (p *Pipeline) Name() string { return p.name }

// Steps returns a copy of the pipeline's step list.
func (p *Pipeline) Steps() []Step {
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Step appends a step bound to queue and registers handler in the
// process-wide task registry under taskName.
func (p *Pipeline) Step(taskName, queue string, handler TaskHandler) *Pipeline {
	p.steps = append(p.steps, Step{TaskName: taskName, Queue: queue})
	RegisterTask(taskName, handler)
	return p
}

// Run validates the pipeline is non-empty, builds the chain label, copies
// msg with pipeline_id and step_index=0, and publishes it to the first
// step's queue. extraLabels are merged into the dispatch labels.
func (p *Pipeline) Run(ctx context.Context, msg message.PipelineMessage, extraLabels map[string]string) error {
	if len(p.steps) == 0 {
		return &common.ConfigError{Reason: "pipeline " + p.name + " has no steps"}
	}

	chainSteps := make([]message.Step, len(p.steps))
	for i, s := range p.steps {
		chainSteps[i] = message.Step{TaskName: s.TaskName, Queue: s.Queue}
	}
	chainBytes, err := message.EncodeChain(message.ChainDefinition{PipelineID: p.name, Steps: chainSteps})
	if err != nil {
		return err
	}

	first := p.steps[0]
	labels := map[string]string{
		"pipeline_id": p.name,
		"step_index":  "0",
		"chain":       string(chainBytes),
		"routing_key": broker.RoutingKey(first.Queue),
	}
	for k, v := range extraLabels {
		labels[k] = v
	}

	advanced := msg.WithPipelineStep(p.name, 0)
	body, err := message.EncodeMessage(advanced)
	if err != nil {
		return err
	}

	taskID := uuid.NewString()
	return p.publisher.Publish(ctx, first.Queue, taskID, first.TaskName, body, labels)
}
