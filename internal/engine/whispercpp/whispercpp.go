// Package whispercpp adapts github.com/ggerganov/whisper.cpp/bindings/go to
// the engine.Model/engine.Context contract: New/NewContext/SetLanguage/
// Process/NextSegment drive a decode pass, with token-level timestamp/id/
// probability access, prompt-token injection, and audio_ctx control layered
// on top (see DESIGN.md for the full mapping).
package whispercpp

import (
	"errors"
	"fmt"
	"io"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/t184256/transcriber-go/internal/engine"
)

// Model wraps a loaded whisper.cpp model, shared read-only across sessions.
type Model struct {
	model whisperlib.Model
}

// Load loads a whisper.cpp model from modelPath.
func Load(modelPath string) (*Model, error) {
	m, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", modelPath, err)
	}
	return &Model{model: m}, nil
}

// NewContext implements engine.Model.
func (m *Model) NewContext() (engine.Context, error) {
	ctx, err := m.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whispercpp: new context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

// TokenEOT implements engine.Model.
func (m *Model) TokenEOT() int32 {
	return int32(m.model.TokenEOT())
}

// Close releases the underlying model.
func (m *Model) Close() error {
	return m.model.Close()
}

// Context wraps one session's whisper.cpp inference context.
type Context struct {
	ctx whisperlib.Context
}

// RunFullPass implements engine.Context.
func (c *Context) RunFullPass(params engine.Params, pcm []float32) ([]engine.Segment, error) {
	if params.ReinitState {
		if err := c.Reset(); err != nil {
			return nil, err
		}
	}

	if params.Language != "" {
		if err := c.ctx.SetLanguage(params.Language); err != nil {
			return nil, fmt.Errorf("whispercpp: set language %q: %w", params.Language, err)
		}
	}
	c.ctx.SetTokenTimestamps(params.TokenTimestamps)
	c.ctx.SetNoContext(params.NoContext)
	if params.SingleSegment {
		c.ctx.SetSingleSegment(true)
	}
	if params.MaxLen > 0 {
		c.ctx.SetMaxSegmentLength(params.MaxLen)
	}
	if params.MaxTokens > 0 {
		c.ctx.SetMaxTokensPerSegment(params.MaxTokens)
	}
	switch {
	case params.NoInitialTSCeiling:
		// Explicitly clear the ceiling rather than leaving it unset: an
		// unset call falls back to whisper.cpp's own default ceiling,
		// which is not what a no-ceiling pass needs.
		c.ctx.SetMaxInitialTS(0)
	case params.MaxInitialTS > 0:
		c.ctx.SetMaxInitialTS(float32(params.MaxInitialTS))
	}
	if params.InitialPrompt != "" {
		c.ctx.SetInitialPrompt(params.InitialPrompt)
	}
	if len(params.PromptTokens) > 0 {
		c.ctx.SetPromptTokens(params.PromptTokens)
	}
	if params.DynamicAudioCtx {
		c.ctx.SetAudioCtx(params.AudioCtx)
	}
	if params.TemperatureInc != 0 {
		c.ctx.SetTemperatureInc(params.TemperatureInc)
	}
	if params.EntropyThold != 0 {
		c.ctx.SetEntropyThold(params.EntropyThold)
	}
	if params.SamplingBeamSize > 0 {
		c.ctx.SetBeamSize(params.SamplingBeamSize)
	} else if params.SamplingBestOf > 0 {
		c.ctx.SetBestOf(params.SamplingBestOf)
	}

	if err := c.ctx.Process(pcm, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whispercpp: process: %w", err)
	}

	var segments []engine.Segment
	for {
		seg, err := c.ctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whispercpp: next segment: %w", err)
		}

		tokens := make([]engine.Token, 0, seg.NumTokens())
		for i := 0; i < seg.NumTokens(); i++ {
			tok := seg.Token(i)
			tokens = append(tokens, engine.Token{
				Text:        tok.Text(),
				ID:          int32(tok.ID()),
				StartCS:     int64(tok.StartTimestamp()),
				EndCS:       int64(tok.EndTimestamp()),
				Probability: tok.Probability(),
			})
		}

		segments = append(segments, engine.Segment{
			StartTimestampCS:    int64(seg.StartTimestamp()),
			EndTimestampCS:      int64(seg.EndTimestamp()),
			NoSpeechProbability: seg.NoSpeechProbability(),
			Tokens:              tokens,
		})
	}
	return segments, nil
}

// Reset implements engine.Context.
func (c *Context) Reset() error {
	return c.ctx.ResetState()
}
