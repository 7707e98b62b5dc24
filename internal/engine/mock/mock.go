// Package mock provides an in-memory mock of [engine.Model]/[engine.Context]
// for use in unit tests: calls are recorded and results are configured by
// the test ahead of time.
package mock

import (
	"sync"

	"github.com/t184256/transcriber-go/internal/engine"
)

var (
	_ engine.Model   = (*Model)(nil)
	_ engine.Context = (*Context)(nil)
)

// Model is a mock [engine.Model]. NewContext always succeeds and records
// each derived *Context in Contexts; NewRunFullPass, if set, builds each
// derived Context's RunFullPassFunc.
type Model struct {
	TokenEOTValue int32

	// NewRunFullPass, if set, is used to build each derived Context's
	// RunFullPassFunc. If nil, derived contexts return no segments.
	NewRunFullPass func() func(engine.Params, []float32) ([]engine.Segment, error)

	mu       sync.Mutex
	Contexts []*Context
}

// NewContext implements engine.Model.
func (m *Model) NewContext() (engine.Context, error) {
	c := &Context{}
	if m.NewRunFullPass != nil {
		c.RunFullPassFunc = m.NewRunFullPass()
	}
	m.mu.Lock()
	m.Contexts = append(m.Contexts, c)
	m.mu.Unlock()
	return c, nil
}

// TokenEOT implements engine.Model.
func (m *Model) TokenEOT() int32 { return m.TokenEOTValue }

// RunFullPassCall records the arguments of a single RunFullPass invocation.
type RunFullPassCall struct {
	Params engine.Params
	PCM    []float32
}

// Context is a mock engine.Context.
type Context struct {
	mu sync.Mutex

	// RunFullPassFunc, if set, computes RunFullPass's return value.
	RunFullPassFunc func(engine.Params, []float32) ([]engine.Segment, error)

	Calls       []RunFullPassCall
	ResetCalls  int
	ResetError  error
}

// RunFullPass implements engine.Context.
func (c *Context) RunFullPass(params engine.Params, pcm []float32) ([]engine.Segment, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, RunFullPassCall{Params: params, PCM: pcm})
	fn := c.RunFullPassFunc
	c.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(params, pcm)
}

// Reset implements engine.Context.
func (c *Context) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetCalls++
	return c.ResetError
}
