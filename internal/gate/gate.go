// Package gate bounds concurrent transcription passes against a shared
// engine instance, so that many cooperatively-scheduled session goroutines
// don't all call into a single GPU/CPU-bound whisper.cpp context at once.
// Built on golang.org/x/sync/semaphore.
package gate

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/t184256/transcriber-go/internal/engine"
)

// Gate bounds how many RunFullPass calls across all wrapped contexts may be
// in flight at once.
type Gate struct {
	sem *semaphore.Weighted
}

// New creates a Gate admitting at most n concurrent passes. n must be >= 1.
func New(n int64) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{sem: semaphore.NewWeighted(n)}
}

// Wrap returns an engine.Context that serialises RunFullPass calls through
// the gate while delegating everything else to ctx unchanged.
func (g *Gate) Wrap(ctx engine.Context) engine.Context {
	return &gatedContext{gate: g, inner: ctx}
}

type gatedContext struct {
	gate  *Gate
	inner engine.Context
}

func (g *gatedContext) RunFullPass(params engine.Params, pcm []float32) ([]engine.Segment, error) {
	if err := g.gate.sem.Acquire(context.Background(), 1); err != nil {
		return nil, err
	}
	defer g.gate.sem.Release(1)
	return g.inner.RunFullPass(params, pcm)
}

func (g *gatedContext) Reset() error { return g.inner.Reset() }

var _ engine.Context = (*gatedContext)(nil)

// Starved reports whether every slot is currently held, i.e. a new
// transcription pass submitted right now would have to wait for one to
// free up.
func (g *Gate) Starved() bool {
	if g.sem.TryAcquire(1) {
		g.sem.Release(1)
		return false
	}
	return true
}
