// Package engine defines the abstract contract the core consumes from a
// speech-recognition engine, keeping internal/transcribe independent of any
// concrete binding (whisper.cpp or otherwise).
package engine

// Model is a loaded, immutable recognition model shared read-only across
// sessions.
type Model interface {
	// NewContext derives a fresh mutable inference context from the model.
	NewContext() (Context, error)
	// TokenEOT returns the end-of-text marker id; any token id at or above
	// it is special.
	TokenEOT() int32
}

// Context is one session's mutable inference state.
type Context interface {
	// RunFullPass runs one synchronous inference pass over pcm (already
	// converted to f32 in [-1,1]) with the given parameters, returning the
	// segments the engine produced, in order.
	RunFullPass(params Params, pcm []float32) ([]Segment, error)
	// Reset replaces the context's internal inference state, used when
	// Params.ReinitState is set on a pass.
	Reset() error
}

// Params configures one inference pass. Fields mirror the opaque tuning
// knobs named in the protocol's Configure message plus the pass-level
// controls the session derives from its own state.
type Params struct {
	Language      string
	InitialPrompt string
	PromptTokens  []int32

	MaxLen        int
	MaxTokens     int
	SingleSegment bool
	MaxInitialTS  int
	// NoInitialTSCeiling forces the initial-timestamp ceiling off entirely
	// (distinct from MaxInitialTS==0, which leaves the engine's own
	// default ceiling in place). Used by the two-stroke reconciliation
	// pass, which must not be constrained by where the main pass thought
	// speech started.
	NoInitialTSCeiling bool

	NoContext       bool
	TokenTimestamps bool

	SamplingBestOf   int
	SamplingBeamSize int

	DynamicAudioCtx bool
	AudioCtx        int
	TemperatureInc  float32
	EntropyThold    float32
	ReinitState     bool
}

// Segment is one engine-emitted span, with timestamps relative to the PCM
// slice RunFullPass was given (not yet rebased onto the session's absolute
// timeline).
type Segment struct {
	StartTimestampCS    int64
	EndTimestampCS      int64
	NoSpeechProbability float32
	Tokens              []Token
}

// Token is one engine-emitted token, with timestamps relative to the PCM
// slice RunFullPass was given.
type Token struct {
	Text        string
	ID          int32
	StartCS     int64
	EndCS       int64
	Probability float32
}
