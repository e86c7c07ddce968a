// Package statemanager tracks recent worker task executions in memory and
// exposes them over HTTP for operator diagnostics: what a worker process is
// doing right now, and how its last N dispatches went. It is not part of
// the dispatch path itself — the worker pool calls it as an optional
// recorder (section 6.4's operational surface), so a process that never
// wires a Manager pays nothing for it.
package statemanager

import (
	"sync"
	"time"
)

// Manager holds the last N task executions for one worker process.
type Manager struct {
	mu         sync.RWMutex
	executions map[string]*TaskExecution
	order      []string
	maxKept    int
	workerName string
}

// Config configures a Manager.
type Config struct {
	WorkerName string
	MaxKept    int // retain the last N executions; default 1000
}

// New creates a Manager.
func New(cfg Config) *Manager {
	if cfg.MaxKept == 0 {
		cfg.MaxKept = 1000
	}
	return &Manager{
		executions: make(map[string]*TaskExecution),
		maxKept:    cfg.MaxKept,
		workerName: cfg.WorkerName,
	}
}

// StartOperation records a task dispatch beginning. id should be the
// delivery's task id, so CompleteOperation can find it again.
func (m *Manager) StartOperation(id, taskName, queue string, labels map[string]interface{}) *TaskExecution {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.executions) >= m.maxKept {
		m.evictOldest()
	}

	exec := &TaskExecution{
		ID:         id,
		WorkerName: m.workerName,
		TaskName:   taskName,
		Queue:      queue,
		Status:     StatusRunning,
		StartedAt:  time.Now(),
		Labels:     labels,
	}
	m.executions[id] = exec
	m.order = append(m.order, id)
	return exec
}

// CompleteOperation marks a previously started execution as completed or
// failed. A nil err means success. Unknown ids are silently ignored — a
// worker restart between start and complete is not an error condition here.
func (m *Manager) CompleteOperation(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[id]
	if !ok {
		return
	}
	now := time.Now()
	exec.EndedAt = &now
	exec.Duration = now.Sub(exec.StartedAt).String()
	if err != nil {
		exec.Status = StatusFailed
		exec.Error = err.Error()
	} else {
		exec.Status = StatusCompleted
	}
}

// GetOperation returns a copy of the execution recorded under id, or nil.
func (m *Manager) GetOperation(id string) *TaskExecution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.executions[id]
	if !ok {
		return nil
	}
	cp := *exec
	return &cp
}

// ListOperations returns a copy of every tracked execution, oldest first.
func (m *Manager) ListOperations() []*TaskExecution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TaskExecution, 0, len(m.order))
	for _, id := range m.order {
		exec, ok := m.executions[id]
		if !ok {
			continue
		}
		cp := *exec
		out = append(out, &cp)
	}
	return out
}

// GetStats aggregates the currently retained executions.
func (m *Manager) GetStats() *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		TotalExecutions: len(m.executions),
		ByStatus:        make(map[Status]int),
		ByTaskName:      make(map[string]int),
	}

	var totalDuration time.Duration
	var completed int
	for _, exec := range m.executions {
		stats.ByStatus[exec.Status]++
		stats.ByTaskName[exec.TaskName]++
		if exec.EndedAt != nil {
			totalDuration += exec.EndedAt.Sub(exec.StartedAt)
			completed++
		}
	}
	if completed > 0 {
		stats.AverageDuration = (totalDuration / time.Duration(completed)).String()
	}
	return stats
}

// evictOldest drops the longest-retained execution. Caller must hold mu.
func (m *Manager) evictOldest() {
	if len(m.order) == 0 {
		return
	}
	oldest := m.order[0]
	m.order = m.order[1:]
	delete(m.executions, oldest)
}
