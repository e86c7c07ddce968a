// Package pipeline implements the chain builder and the process-wide task
// and pipeline registries: in-memory pipeline definitions are built once at
// startup and read many times thereafter by workers and the chain
// middleware.
package pipeline

import (
	"context"
	"sync"

	"github.com/radionest/clarinet/broker"
)

// TaskHandler is a single pipeline step's business logic. It receives the
// decoded delivery and returns the result body the chain middleware will
// interpret as the next step's message.
type TaskHandler func(ctx context.Context, d broker.Delivery) ([]byte, error)

// taskRegistry is the process-wide task_name -> handler map. It is
// write-once (populated during startup registration) and read-many
// thereafter; concurrent reads are safe via the RWMutex even though writes
// are not expected once workers start consuming.
var taskRegistry = struct {
	mu    sync.RWMutex
	tasks map[string]TaskHandler
}{tasks: make(map[string]TaskHandler)}

// RegisterTask adds a handler to the process-wide task registry. It is
// normally called indirectly through Pipeline.Step, but may also be called
// directly for tasks that are consumed without being a step of any
// pipeline.
func RegisterTask(name string, handler TaskHandler) {
	taskRegistry.mu.Lock()
	defer taskRegistry.mu.Unlock()
	taskRegistry.tasks[name] = handler
}

// GetTask looks up a task handler by name.
func GetTask(name string) (TaskHandler, bool) {
	taskRegistry.mu.RLock()
	defer taskRegistry.mu.RUnlock()
	h, ok := taskRegistry.tasks[name]
	return h, ok
}

// pipelineRegistry is the process-wide pipeline name -> Pipeline map.
var pipelineRegistry = struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}{pipelines: make(map[string]*Pipeline)}

// Get looks up a registered pipeline by name.
func Get(name string) (*Pipeline, bool) {
	pipelineRegistry.mu.RLock()
	defer pipelineRegistry.mu.RUnlock()
	p, ok := pipelineRegistry.pipelines[name]
	return p, ok
}

// GetAll returns every registered pipeline, keyed by name.
func GetAll() map[string]*Pipeline {
	pipelineRegistry.mu.RLock()
	defer pipelineRegistry.mu.RUnlock()
	out := make(map[string]*Pipeline, len(pipelineRegistry.pipelines))
	for k, v := range pipelineRegistry.pipelines {
		out[k] = v
	}
	return out
}
