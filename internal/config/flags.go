// Package config provides the process-level CLI surface and the optional
// per-deployment defaults file for the streaming transcription server's
// tuning surface. Loading and validation use stdlib flag for the CLI and
// gopkg.in/yaml.v3 with KnownFields for the defaults file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/t184256/transcriber-go/internal/session"
)

// Flags is the parsed CLI surface: everything an operator can set when
// starting the server.
type Flags struct {
	Address string
	Port    int
	Model   string

	// TokenFile, if set, holds the expected Configure.Token value, trimmed
	// of surrounding whitespace. Empty means no auth is enforced.
	TokenFile string

	// BestOf and BeamSize are mutually exclusive; BestOf defaults to 1
	// (greedy) when neither flag is set.
	BestOf  int
	BeamSize int

	DynamicAudioCtx bool
	TemperatureInc  float32
	EntropyThold    float32
	ReinitState     bool

	// DefaultsFile, if set, is loaded with LoadDefaults into a session.Defaults.
	DefaultsFile string

	// VADModel, if set, is a path to an ONNX Silero VAD model, selecting
	// the onnxdetector.Detector backend over the default energy detector.
	// Only honoured when the binary was built with -tags onnxvad.
	VADModel string

	// WorkerGate bounds concurrent transcription passes across all
	// sessions sharing the loaded engine.
	WorkerGate int64
}

// Parse builds a FlagSet over args (pass os.Args[1:] in production; a
// literal slice in tests) and returns the parsed Flags.
func Parse(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("transcriber", flag.ContinueOnError)

	f := &Flags{}
	fs.StringVar(&f.Address, "address", "0.0.0.0", "address to listen on")
	fs.IntVar(&f.Port, "port", 9090, "port to listen on")
	fs.StringVar(&f.Model, "model", "", "path to the whisper.cpp GGML model file")
	fs.StringVar(&f.TokenFile, "token-file", "", "path to a file holding the required auth token")
	fs.IntVar(&f.BestOf, "best-of", 0, "sampling best-of candidates (mutually exclusive with -beam-size; default greedy, best-of=1)")
	fs.IntVar(&f.BeamSize, "beam-size", 0, "beam search width (mutually exclusive with -best-of)")
	fs.BoolVar(&f.DynamicAudioCtx, "dynamic-audio-ctx", false, "size the encoder context to the buffered audio instead of the model default")
	var temperatureInc, entropyThold float64
	fs.Float64Var(&temperatureInc, "temperature-inc", 0, "temperature increment applied on a failed decode")
	fs.Float64Var(&entropyThold, "entropy-thold", 0, "entropy threshold below which a decode is considered a failure")
	fs.BoolVar(&f.ReinitState, "reinit-state", false, "reset encoder/decoder state before every pass instead of reusing it")
	fs.StringVar(&f.DefaultsFile, "defaults", "", "path to an optional YAML file of per-deployment Configure defaults")
	fs.StringVar(&f.VADModel, "vad-model", "", "path to an ONNX Silero VAD model (requires a build with -tags onnxvad); defaults to the built-in energy detector")
	var workerGate int64
	fs.Int64Var(&workerGate, "worker-gate", 1, "maximum number of transcription passes allowed to run concurrently against the loaded engine")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.TemperatureInc = float32(temperatureInc)
	f.EntropyThold = float32(entropyThold)
	f.WorkerGate = workerGate

	if f.BestOf != 0 && f.BeamSize != 0 {
		return nil, errors.New("config: -best-of and -beam-size are mutually exclusive")
	}
	if f.BestOf == 0 && f.BeamSize == 0 {
		f.BestOf = 1
	}
	if f.Model == "" {
		return nil, errors.New("config: -model is required")
	}
	return f, nil
}

// Strategy converts the sampling-related flags into a session.FixedStrategy,
// resolved once at process startup and shared by every connection.
func (f *Flags) Strategy() session.FixedStrategy {
	return session.FixedStrategy{
		SamplingBestOf:   f.BestOf,
		SamplingBeamSize: f.BeamSize,
		DynamicAudioCtx:  f.DynamicAudioCtx,
		TemperatureInc:   f.TemperatureInc,
		EntropyThold:     f.EntropyThold,
		ReinitState:      f.ReinitState,
	}
}

// LoadToken reads and trims the token file, if any. An unset TokenFile means
// no auth is enforced.
func (f *Flags) LoadToken() (session.AuthToken, error) {
	if f.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(f.TokenFile)
	if err != nil {
		return "", fmt.Errorf("config: read token file %q: %w", f.TokenFile, err)
	}
	return session.AuthToken(strings.TrimSpace(string(data))), nil
}
