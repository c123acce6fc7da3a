// Package pipeline assembles the ordered chain of connection-processing
// stages run once per established connection. A pipeline is built once per
// logical endpoint and shared, read-only, by every connection the endpoint
// accepts.
package pipeline

import (
	"context"

	"github.com/hubwire/hubwire/internal/transport"
)

// Handler processes one established connection. It blocks until the
// connection's processing terminates; returning ends the connection.
type Handler func(ctx context.Context, conn transport.Conn) error

// Stage wraps a Handler with additional behavior. Stages compose in append
// order: the first stage appended is the outermost wrapper.
type Stage func(next Handler) Handler

// Builder collects stages and a terminal handler into one callable pipeline.
type Builder struct {
	stages   []Stage
	terminal Handler
}

// NewBuilder returns an empty pipeline builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Use appends a stage to the pipeline.
func (b *Builder) Use(s Stage) *Builder {
	b.stages = append(b.stages, s)
	return b
}

// Run sets the terminal handler executed after all stages.
func (b *Builder) Run(h Handler) *Builder {
	b.terminal = h
	return b
}

// Build folds the appended stages around the terminal handler. Without a
// terminal the pipeline ends in a no-op, so a stage-only pipeline is valid.
func (b *Builder) Build() Handler {
	h := b.terminal
	if h == nil {
		h = func(ctx context.Context, conn transport.Conn) error { return nil }
	}
	for i := len(b.stages) - 1; i >= 0; i-- {
		h = b.stages[i](h)
	}
	return h
}
