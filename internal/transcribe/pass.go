// Package transcribe runs one transcription pass against a PCM buffer and
// turns the engine's raw segments into protocol segments rebased onto the
// session's absolute cs timeline.
package transcribe

import (
	"strings"

	"github.com/t184256/transcriber-go/internal/engine"
	"github.com/t184256/transcriber-go/internal/protocol"
)

// minFrames is the minimum buffered audio (3 frames, 180 ms) required
// before a pass is attempted.
const minFrames = 3

// FrameSizeSamples mirrors audio.FrameSizeSamples without importing the
// audio package, to avoid a dependency cycle (audio does not need to know
// about transcription passes).
const FrameSizeSamples = 960

const minSamples = minFrames * FrameSizeSamples

// samplesPerCS is the sample count covered by one centisecond at 16 kHz.
const samplesPerCS = 160

// Options carries the per-session tuning knobs and fixed sampling strategy
// that accompany every pass.
type Options struct {
	Language           string
	MaxLen             int
	MaxTokens          int
	SingleSegment      bool
	MaxInitialTS       int
	NoInitialTSCeiling bool

	SamplingBestOf   int
	SamplingBeamSize int

	DynamicAudioCtx bool
	TemperatureInc  float32
	EntropyThold    float32
	ReinitState     bool
}

// VADProber answers VAD probability queries addressed by an absolute cs
// position, satisfied by *audio.Timeline.
type VADProber interface {
	VADProbabilityAtCS(absoluteCS int64) float32
}

// Request bundles everything one pass needs beyond the fixed Options.
type Request struct {
	// PCM is the i16 buffer slice to transcribe (already the
	// advance-relative window the caller chose).
	PCM []int16
	// AdvanceCS is the absolute cs position PCM[0] corresponds to; every
	// engine timestamp is rebased by adding this.
	AdvanceCS int64
	// CurrentEndCS is the absolute cs position of the end of the session's
	// buffer (used to drop tokens starting at or past the buffer end and to
	// clamp segment end times).
	CurrentEndCS int64
	// IsFinal marks the last pass of a session; the last kept segment is
	// then reported complete instead of incomplete.
	IsFinal bool
	// PromptTokens seeds the pass's prompt (capped at 224 by the session).
	PromptTokens []int32
	// InitialPrompt is the client's free-text context, if any.
	InitialPrompt string
	// NoContext disables the engine's own continuation logic. The main
	// pass always sets this true; the two-stroke pass also sets it true
	// and additionally omits PromptTokens/InitialPrompt.
	NoContext bool
}

// Result is the outcome of one pass: zero or more complete segments and, if
// the pass was not final, at most one trailing incomplete segment.
type Result struct {
	Complete   []protocol.Segment
	Incomplete *protocol.Segment
}

// Run executes one pass against ctx using the audio in req, guarded by a
// minimum-buffer check. It returns a nil Result (no error) when that guard
// suppresses the pass; the nothing-new check is the caller's job.
func Run(ctx engine.Context, tokenEOT int32, vadProber VADProber, opts Options, req Request) (*Result, error) {
	if len(req.PCM) < minSamples {
		return nil, nil
	}

	pcmF32 := make([]float32, len(req.PCM))
	for i, s := range req.PCM {
		pcmF32[i] = float32(s) / 32768.0
	}

	params := engine.Params{
		Language:           opts.Language,
		InitialPrompt:      req.InitialPrompt,
		PromptTokens:       req.PromptTokens,
		MaxLen:             opts.MaxLen,
		MaxTokens:          opts.MaxTokens,
		SingleSegment:      opts.SingleSegment,
		MaxInitialTS:       opts.MaxInitialTS,
		NoInitialTSCeiling: opts.NoInitialTSCeiling,
		NoContext:          req.NoContext,
		TokenTimestamps:    true,
		SamplingBestOf:     opts.SamplingBestOf,
		SamplingBeamSize:   opts.SamplingBeamSize,
		DynamicAudioCtx:    opts.DynamicAudioCtx,
		TemperatureInc:     opts.TemperatureInc,
		EntropyThold:       opts.EntropyThold,
		ReinitState:        opts.ReinitState,
	}
	if opts.DynamicAudioCtx {
		params.AudioCtx = dynamicAudioCtx(len(req.PCM))
	}

	rawSegments, err := ctx.RunFullPass(params, pcmF32)
	if err != nil {
		return nil, err
	}

	kept := extractSegments(rawSegments, tokenEOT, req.AdvanceCS, req.CurrentEndCS, vadProber)
	if len(kept) == 0 {
		return &Result{}, nil
	}

	res := &Result{}
	last := len(kept) - 1
	res.Complete = kept[:last]
	if req.IsFinal {
		res.Complete = kept
	} else {
		inc := kept[last]
		res.Incomplete = &inc
	}
	return res, nil
}

// dynamicAudioCtx computes max(384, round_up_to_64(len*1500/(16000*30))).
func dynamicAudioCtx(sampleCount int) int {
	const (
		numerator   = 1500
		denominator = 16000 * 30
	)
	raw := sampleCount * numerator / denominator
	rounded := ((raw + 63) / 64) * 64
	if rounded < 384 {
		return 384
	}
	return rounded
}

// extractSegments converts raw engine segments into rebased protocol
// segments, dropping special tokens from rendered text and discarding any
// segment left with no kept tokens.
func extractSegments(raw []engine.Segment, tokenEOT int32, advanceCS, currentEndCS int64, vadProber VADProber) []protocol.Segment {
	out := make([]protocol.Segment, 0, len(raw))
	for _, seg := range raw {
		var tokens []protocol.Token
		for _, tok := range seg.Tokens {
			if tok.StartCS >= currentEndCS-advanceCS {
				continue
			}
			special := tok.ID >= tokenEOT
			absStart := tok.StartCS + advanceCS
			absEnd := tok.EndCS + advanceCS
			if absEnd <= advanceCS {
				continue
			}
			if absStart < advanceCS {
				absStart = advanceCS
			}
			tokens = append(tokens, protocol.Token{
				Text:        tok.Text,
				ID:          tok.ID,
				StartCS:     absStart,
				EndCS:       absEnd,
				Special:     special,
				Probability: tok.Probability,
			})
		}
		if len(tokens) == 0 {
			continue
		}

		endCS := seg.EndTimestampCS + advanceCS
		if endCS > currentEndCS {
			endCS = currentEndCS
		}
		startCS := tokens[0].StartCS

		var text strings.Builder
		for _, t := range tokens {
			if !t.Special {
				text.WriteString(t.Text)
			}
		}

		out = append(out, protocol.Segment{
			Text:                 strings.TrimSpace(text.String()),
			StartCS:              startCS,
			EndCS:                endCS,
			Tokens:               tokens,
			FallbackSegmentation: (endCS-startCS)%100 == 0,
			EndVADProbability:    vadProber.VADProbabilityAtCS(endCS),
			NoSpeechProbability:  seg.NoSpeechProbability,
		})
	}
	return out
}
