// Command transcriber is the main entry point for the streaming speech-to-
// text server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"

	"github.com/t184256/transcriber-go/internal/audio"
	"github.com/t184256/transcriber-go/internal/config"
	"github.com/t184256/transcriber-go/internal/dispatch"
	"github.com/t184256/transcriber-go/internal/engine/whispercpp"
	"github.com/t184256/transcriber-go/internal/gate"
	"github.com/t184256/transcriber-go/internal/health"
	"github.com/t184256/transcriber-go/internal/observe"
	"github.com/t184256/transcriber-go/internal/session"
	"github.com/t184256/transcriber-go/internal/transport"
	"github.com/t184256/transcriber-go/internal/vad"
	"github.com/t184256/transcriber-go/internal/vad/onnxdetector"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	flags, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "transcriber: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	slog.Info("transcriber starting",
		"address", flags.Address,
		"port", flags.Port,
		"model", flags.Model,
	)

	// ── Engine ────────────────────────────────────────────────────────────────
	model, err := whispercpp.Load(flags.Model)
	if err != nil {
		slog.Error("failed to load model", "err", err)
		return 1
	}
	defer model.Close()

	authToken, err := flags.LoadToken()
	if err != nil {
		slog.Error("failed to load token file", "err", err)
		return 1
	}

	defaults := session.Defaults{}
	if flags.DefaultsFile != "" {
		defaults, err = config.LoadDefaults(flags.DefaultsFile)
		if err != nil {
			slog.Error("failed to load defaults file", "err", err)
			return 1
		}
	}

	newDetector, err := vadDetectorFactory(flags.VADModel)
	if err != nil {
		slog.Error("failed to prepare VAD detector", "err", err)
		return 1
	}

	// ── Observability ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "transcriber"})
	if err != nil {
		slog.Error("failed to init observability provider", "err", err)
		return 1
	}
	defer shutdownObserve(context.Background())
	metrics := observe.DefaultMetrics()

	// ── Worker gate ───────────────────────────────────────────────────────────
	wgate := gate.New(flags.WorkerGate)

	srv := &server{
		model:       model,
		strategy:    flags.Strategy(),
		defaults:    defaults,
		authToken:   authToken,
		newDetector: newDetector,
		gate:        wgate,
		metrics:     metrics,
	}

	// ── HTTP wiring ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", srv.handleWS)
	health.New(
		health.EngineChecker(model),
		health.GateChecker(wgate),
	).Register(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", flags.Address, flags.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-errCh:
		if err != nil {
			slog.Error("listen error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// server holds everything a /ws handler needs to build one session.
type server struct {
	model       *whispercpp.Model
	strategy    session.FixedStrategy
	defaults    session.Defaults
	authToken   session.AuthToken
	newDetector func() (vad.Detector, error)
	gate        *gate.Gate
	metrics     *observe.Metrics
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		slog.Warn("accept failed", "err", err)
		return
	}

	sess, cleanup, err := s.newSession()
	if err != nil {
		slog.Warn("failed to build session", "err", err)
		_ = conn.Close(r.Context(), "internal error")
		return
	}
	defer cleanup()

	log := slog.With("remote", r.RemoteAddr)
	s.metrics.ActiveSessions.Add(r.Context(), 1)
	defer s.metrics.ActiveSessions.Add(context.Background(), -1)

	if err := dispatch.Run(r.Context(), conn, sess, log, s.metrics); err != nil {
		log.Warn("session ended with error", "err", err)
		kind := "terminated"
		var sessErr *session.Error
		if errors.As(err, &sessErr) {
			kind = sessErr.Kind.String()
		}
		s.metrics.RecordSessionError(context.Background(), kind)
	}
}

// newSession builds one connection's Session, wiring a fresh engine context,
// VAD detector, decoder, and timeline.
func (s *server) newSession() (*session.Session, func(), error) {
	engineCtx, err := s.model.NewContext()
	if err != nil {
		return nil, nil, fmt.Errorf("new engine context: %w", err)
	}

	detector, err := s.newDetector()
	if err != nil {
		return nil, nil, fmt.Errorf("new vad detector: %w", err)
	}
	ring := vad.NewRing(detector)

	decoder, err := audio.NewDecoder()
	if err != nil {
		return nil, nil, fmt.Errorf("new audio decoder: %w", err)
	}
	timeline := audio.NewTimeline(decoder, ring)

	gated := s.gate.Wrap(engineCtx)
	sess := session.New(gated, s.model.TokenEOT(), timeline, s.strategy, s.defaults, s.authToken)

	cleanup := func() {
		if closer, ok := detector.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
	return sess, cleanup, nil
}

// vadDetectorFactory returns a constructor for a fresh, per-connection VAD
// detector. An empty vadModel path selects the default energy detector;
// otherwise the ONNX Silero model is loaded once and a fresh inference
// session is built per connection (hidden RNN state is per-connection).
func vadDetectorFactory(vadModel string) (func() (vad.Detector, error), error) {
	if vadModel == "" {
		return func() (vad.Detector, error) {
			return vad.NewEnergyDetector(), nil
		}, nil
	}

	modelBytes, err := os.ReadFile(vadModel)
	if err != nil {
		return nil, fmt.Errorf("read vad model %q: %w", vadModel, err)
	}
	return func() (vad.Detector, error) {
		return onnxdetector.New(modelBytes, audio.SampleRateHz)
	}, nil
}
