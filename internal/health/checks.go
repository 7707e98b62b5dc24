package health

import (
	"context"
	"errors"

	"github.com/t184256/transcriber-go/internal/engine/whispercpp"
	"github.com/t184256/transcriber-go/internal/gate"
)

// EngineChecker reports healthy once model is non-nil. A failed model load
// keeps the process from ever reaching the point where this checker is
// registered, so in practice this only ever reports healthy — it exists as
// the explicit contract a future lazy-reload path would need to honour.
func EngineChecker(model *whispercpp.Model) Checker {
	return Checker{
		Name: "engine",
		Check: func(context.Context) error {
			if model == nil {
				return errors.New("model not loaded")
			}
			return nil
		},
	}
}

// GateChecker reports unhealthy when g's one shared engine slot (or all of
// them, if sized above one) is held, i.e. every session's transcription
// passes are currently blocked waiting on the engine.
func GateChecker(g *gate.Gate) Checker {
	return Checker{
		Name: "worker_gate",
		Check: func(context.Context) error {
			if g.Starved() {
				return errors.New("worker gate saturated")
			}
			return nil
		},
	}
}
