// Package middleware implements the pre-send and post-execute hooks around
// every task: retry bookkeeping, structured logging, dead-letter routing,
// and chain advancement. worker.Pool runs the post-execute hooks after every
// handler returns, in the order the Chain was built with. No publish path
// in this module (broker.Adapter.Publish, pipeline.Pipeline.Run, the retry
// and chain middlewares' republish) calls Chain.PreSend.
package middleware

import (
	"context"
	"time"
)

// Result is what a task handler produced.
type Result struct {
	Value    []byte
	Error    error
	Duration time.Duration
}

// Context carries everything a middleware needs about the task currently
// being sent or executed. Labels is mutated in place by earlier middlewares
// (e.g. retry bumping an attempt counter) before later ones observe it.
type Context struct {
	Queue    string
	TaskName string
	TaskID   string
	Body     []byte
	Labels   map[string]string
}

// Middleware exposes pre-send and post-execute hooks. PostExecute never
// returns an error: by the time it runs, the task has already completed
// (successfully or not) and a middleware failing to process the result
// must not crash the consumer.
type Middleware interface {
	PreSend(ctx context.Context, mc *Context) error
	PostExecute(ctx context.Context, mc *Context, result *Result)
}

// Chain runs an ordered list of middlewares, the same order for pre-send
// and post-execute.
type Chain struct {
	middlewares []Middleware
}

// NewChain builds a Chain that runs mw in the order given. A worker passes
// them as retry, logging, DLQ, chain advancement, so the DLQ middleware sees
// the retry middleware's ErrRetryScheduled and chain advancement runs last.
func NewChain(mw ...Middleware) *Chain {
	return &Chain{middlewares: mw}
}

// PreSend runs every middleware's PreSend hook in order, stopping at the
// first error.
func (c *Chain) PreSend(ctx context.Context, mc *Context) error {
	for _, m := range c.middlewares {
		if err := m.PreSend(ctx, mc); err != nil {
			return err
		}
	}
	return nil
}

// PostExecute runs every middleware's PostExecute hook in order. A
// middleware may mutate result.Error (the retry middleware replaces it
// with ErrRetryScheduled) so later middlewares see the updated state.
func (c *Chain) PostExecute(ctx context.Context, mc *Context, result *Result) {
	for _, m := range c.middlewares {
		m.PostExecute(ctx, mc, result)
	}
}
