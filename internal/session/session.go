// Package session implements the per-connection state machine: it owns an
// audio timeline, a VAD ring, prompt-token context, and an engine context,
// sequencing Configure -> drain/transcribe loop -> end-of-stream, and
// exposes the two-stroke reconciler (reconciler.go).
package session

import (
	"errors"
	"fmt"

	"github.com/t184256/transcriber-go/internal/audio"
	"github.com/t184256/transcriber-go/internal/engine"
	"github.com/t184256/transcriber-go/internal/protocol"
	"github.com/t184256/transcriber-go/internal/transcribe"
)

// State is one of the four states in the session lifecycle.
type State int

const (
	StateAwaitConfigure State = iota
	StateRunning
	StateFinalising
	StateClosed
)

// maxPromptTokens is the cap on how many trailing prompt token ids survive
// an advance.
const maxPromptTokens = 224

// Kind classifies an error raised while handling a session, so the dispatch
// loop can decide fatality.
type Kind int

const (
	KindProtocolViolation Kind = iota
	KindAuthFailure
	KindAudioFormatError
	KindAdvanceOutOfRange
	KindEngineFailure
)

// String returns the metric/log-friendly name for k.
func (k Kind) String() string {
	switch k {
	case KindProtocolViolation:
		return "protocol_violation"
	case KindAuthFailure:
		return "auth_failure"
	case KindAudioFormatError:
		return "audio_format_error"
	case KindAdvanceOutOfRange:
		return "advance_out_of_range"
	case KindEngineFailure:
		return "engine_failure"
	default:
		return "unknown"
	}
}

// Error wraps an underlying failure with its Kind. Every Kind except
// EngineFailure-during-two-stroke is fatal; the dispatch loop decides
// fatality from the calling context alone (main pass vs. reconciler), and
// cmd/transcriber recovers the Kind via errors.As for metrics.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Defaults supplies fallback values for Configure fields a client omits,
// sourced from an optional deployment-level defaults file (SPEC_FULL §6.1).
type Defaults struct {
	Language      string
	MaxLen        int
	MaxTokens     int
	SingleSegment bool
	MaxInitialTS  int
	NoPreview     bool
	TwoStroke     bool
}

// FixedStrategy is the engine sampling strategy resolved once at process
// startup from the CLI surface (best-of vs. beam-size), shared by every
// session.
type FixedStrategy struct {
	SamplingBestOf   int
	SamplingBeamSize int
	DynamicAudioCtx  bool
	TemperatureInc   float32
	EntropyThold     float32
	ReinitState      bool
}

// AuthToken is the expected Configure.Token value, trimmed; empty means no
// auth is configured.
type AuthToken string

// Session is the per-connection state machine.
type Session struct {
	engineCtx engine.Context
	tokenEOT  int32
	timeline  *audio.Timeline

	strategy FixedStrategy
	defaults Defaults
	authTok  AuthToken

	state State

	language      string
	initialPrompt string
	maxLen        int
	maxTokens     int
	singleSegment bool
	maxInitialTS  int
	noPreview     bool
	twoStroke     bool

	promptTokens      []int32
	transcribedUpToCS int64
	advancedSince     bool
	lastAdvanceLagCS  int64
}

// New creates a Session in StateAwaitConfigure. The timeline and engine
// context are fully constructed (decoder ready, VAD ring ready) but no
// audio has been accepted yet.
func New(engineCtx engine.Context, tokenEOT int32, timeline *audio.Timeline, strategy FixedStrategy, defaults Defaults, authTok AuthToken) *Session {
	return &Session{
		engineCtx: engineCtx,
		tokenEOT:  tokenEOT,
		timeline:  timeline,
		strategy:  strategy,
		defaults:  defaults,
		authTok:   authTok,
		state:     StateAwaitConfigure,
	}
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// LastAdvanceLagCS returns how far behind the buffer end the most recently
// handled Advance's timestamp landed, in centiseconds.
func (s *Session) LastAdvanceLagCS() int64 { return s.lastAdvanceLagCS }

// HandleInbound applies one decoded inbound message to the state machine.
// It returns a *Error (KindProtocolViolation, KindAuthFailure, or
// KindAdvanceOutOfRange) on any illegal transition or bad input; the caller
// is expected to emit that error and close the connection.
func (s *Session) HandleInbound(msg protocol.InboundMessage) error {
	switch msg.Type {
	case protocol.TypeConfigure:
		return s.handleConfigure(msg.Configure)
	case protocol.TypeAdvance:
		return s.handleAdvance(msg.Advance)
	case protocol.TypeEndOfStream:
		return s.handleEndOfStream()
	default:
		return newError(KindProtocolViolation, "unknown message type %q", msg.Type)
	}
}

func (s *Session) handleConfigure(cfg *protocol.Configure) error {
	if s.state != StateAwaitConfigure {
		return newError(KindProtocolViolation, "configure received after session start")
	}
	if s.authTok != "" && AuthToken(cfg.Token) != s.authTok {
		return newError(KindAuthFailure, "missing or mismatched auth token")
	}

	s.language = cfg.Language
	if s.language == "auto" {
		s.language = ""
	}
	if s.language == "" {
		s.language = s.defaults.Language
	}
	s.initialPrompt = cfg.Context
	s.maxLen = firstNonZero(cfg.MaxLen, s.defaults.MaxLen)
	s.maxTokens = firstNonZero(cfg.MaxTokens, s.defaults.MaxTokens)
	s.singleSegment = cfg.SingleSegment || s.defaults.SingleSegment
	s.maxInitialTS = firstNonZero(cfg.MaxInitialTS, s.defaults.MaxInitialTS)
	s.noPreview = cfg.NoPreview || s.defaults.NoPreview
	s.twoStroke = cfg.TwoStroke || s.defaults.TwoStroke

	s.state = StateRunning
	return nil
}

func (s *Session) handleAdvance(adv *protocol.Advance) error {
	if s.state != StateRunning {
		return newError(KindProtocolViolation, "advance received outside Running state")
	}
	s.lastAdvanceLagCS = s.timeline.CurrentEndCS() - adv.TimestampCS
	if err := s.timeline.Advance(adv.TimestampCS); err != nil {
		if errors.Is(err, audio.ErrAdvanceOutOfRange) {
			return newError(KindAdvanceOutOfRange, "advance beyond accumulated buffer")
		}
		return newError(KindEngineFailure, "advance: %w", err)
	}

	if adv.Context != nil {
		s.promptTokens = trailingTokenIDs(adv.Context.Tokens, maxPromptTokens)
	} else {
		s.promptTokens = nil
	}
	s.advancedSince = true
	return nil
}

func (s *Session) handleEndOfStream() error {
	if s.state != StateRunning {
		return newError(KindProtocolViolation, "end_of_stream received outside Running state")
	}
	s.state = StateFinalising
	return nil
}

// HandleBinary decodes one compressed audio packet and appends it to the
// timeline. A decode failure is KindAudioFormatError.
func (s *Session) HandleBinary(packet []byte) error {
	if s.state != StateRunning && s.state != StateFinalising {
		return newError(KindProtocolViolation, "audio frame received outside Running/Finalising state")
	}
	if err := s.timeline.DecodeAndAppend(packet); err != nil {
		if errors.Is(err, audio.ErrWrongFrameSize) {
			return newError(KindAudioFormatError, "%w", err)
		}
		return newError(KindEngineFailure, "decode: %w", err)
	}
	return nil
}

// ShouldAttemptPass reports whether the dispatch loop should invoke
// Transcribe this iteration: a client that set no_preview only gets passes
// once finalising, otherwise every iteration attempts one.
func (s *Session) ShouldAttemptPass() bool {
	if s.state == StateFinalising {
		return true
	}
	return !s.noPreview
}

// TwoStrokeEnabled reports whether the client requested the two-stroke
// reconciler.
func (s *Session) TwoStrokeEnabled() bool { return s.twoStroke }

// Transcribe runs one pass. isFinal should be true iff the session is in
// StateFinalising. It returns (nil, nil) when a guard suppresses the pass
// (buffer below minimum, or nothing new since the last pass).
func (s *Session) Transcribe(isFinal bool) (*protocol.Transcription, error) {
	currentEndCS := s.timeline.CurrentEndCS()
	if !isFinal && !s.advancedSince && currentEndCS == s.transcribedUpToCS {
		return nil, nil
	}

	req := transcribe.Request{
		PCM:           s.timeline.Buffer(),
		AdvanceCS:     s.timeline.AdvanceCS(),
		CurrentEndCS:  currentEndCS,
		IsFinal:       isFinal,
		PromptTokens:  s.promptTokens,
		InitialPrompt: s.initialPrompt,
		NoContext:     true,
	}
	opts := s.options()

	res, err := transcribe.Run(s.engineCtx, s.tokenEOT, s.timeline, opts, req)
	if err != nil {
		return nil, newError(KindEngineFailure, "transcribe: %w", err)
	}
	if res == nil {
		return nil, nil
	}

	s.transcribedUpToCS = currentEndCS
	s.advancedSince = false

	return &protocol.Transcription{
		Complete:   res.Complete,
		Incomplete: res.Incomplete,
		AdvanceCS:  s.timeline.AdvanceCS(),
	}, nil
}

func (s *Session) options() transcribe.Options {
	return transcribe.Options{
		Language:         s.language,
		MaxLen:           s.maxLen,
		MaxTokens:        s.maxTokens,
		SingleSegment:    s.singleSegment,
		MaxInitialTS:     s.maxInitialTS,
		SamplingBestOf:   s.strategy.SamplingBestOf,
		SamplingBeamSize: s.strategy.SamplingBeamSize,
		DynamicAudioCtx:  s.strategy.DynamicAudioCtx,
		TemperatureInc:   s.strategy.TemperatureInc,
		EntropyThold:     s.strategy.EntropyThold,
		ReinitState:      s.strategy.ReinitState,
	}
}

// Close transitions the session to StateClosed. Idempotent.
func (s *Session) Close() { s.state = StateClosed }

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func trailingTokenIDs(tokens []protocol.Token, max int) []int32 {
	if len(tokens) > max {
		tokens = tokens[len(tokens)-max:]
	}
	ids := make([]int32, len(tokens))
	for i, t := range tokens {
		ids[i] = t.ID
	}
	return ids
}
