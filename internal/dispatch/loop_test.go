package dispatch_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/t184256/transcriber-go/internal/audio"
	"github.com/t184256/transcriber-go/internal/dispatch"
	"github.com/t184256/transcriber-go/internal/engine"
	"github.com/t184256/transcriber-go/internal/engine/mock"
	"github.com/t184256/transcriber-go/internal/observe"
	"github.com/t184256/transcriber-go/internal/session"
	"github.com/t184256/transcriber-go/internal/vad"
)

// testMetrics builds a Metrics instance backed by an in-memory reader so
// tests can exercise dispatch.Run's metrics-recording paths without a
// collector.
func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// fakeTransport feeds a fixed, pre-queued script of messages and records
// every outbound send, satisfying dispatch.Transport without any network.
type fakeTransport struct {
	mu    sync.Mutex
	queue []dispatch.Message

	sentText [][]byte
	pongs    int
	closed   bool
	closeMsg string
}

func (f *fakeTransport) DrainNonBlocking() ([]dispatch.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.queue
	f.queue = nil
	return msgs, nil
}

func (f *fakeTransport) PeekAwait(ctx context.Context) error {
	f.mu.Lock()
	empty := len(f.queue) == 0
	f.mu.Unlock()
	if empty {
		// No more scripted input and nothing else will ever arrive in
		// this test: block until the context is cancelled, same as a
		// real idle connection would.
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeTransport) SendText(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentText = append(f.sentText, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) SendPong(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pongs++
	return nil
}

func (f *fakeTransport) Close(ctx context.Context, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeMsg = reason
	return nil
}

func (f *fakeTransport) push(msgs ...dispatch.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, msgs...)
}

func newMinimalSession() *session.Session {
	ring := vad.NewRing(vad.NewEnergyDetector())
	tl := audio.NewTimeline(nil, ring)
	mctx := &mock.Context{RunFullPassFunc: func(p engine.Params, pcm []float32) ([]engine.Segment, error) {
		return nil, nil
	}}
	return session.New(mctx, 50000, tl, session.FixedStrategy{}, session.Defaults{}, "")
}

func TestRunProtocolViolationSendsErrorAndCloses(t *testing.T) {
	ft := &fakeTransport{}
	ft.push(dispatch.Message{Kind: dispatch.KindText, Data: []byte(`{"type":"advance","timestamp_cs":0}`)})
	sess := newMinimalSession()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := dispatch.Run(context.Background(), ft, sess, log, testMetrics(t))
	if err == nil {
		t.Fatal("expected an error for a protocol violation")
	}
	if len(ft.sentText) != 1 {
		t.Fatalf("sent %d text messages, want exactly 1 Error", len(ft.sentText))
	}
	if !ft.closed {
		t.Fatal("transport was not closed after the violation")
	}
}

func TestRunEndOfStreamWithNoAudioClosesCleanly(t *testing.T) {
	ft := &fakeTransport{}
	ft.push(
		dispatch.Message{Kind: dispatch.KindText, Data: []byte(`{"type":"configure"}`)},
		dispatch.Message{Kind: dispatch.KindText, Data: []byte(`{"type":"end_of_stream"}`)},
	)
	sess := newMinimalSession()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := dispatch.Run(context.Background(), ft, sess, log, testMetrics(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ft.closed {
		t.Fatal("transport should be closed after end-of-stream")
	}
	if sess.State() != session.StateClosed {
		t.Fatalf("session state = %v, want StateClosed", sess.State())
	}
}

func TestRunPingAnsweredDuringDrain(t *testing.T) {
	ft := &fakeTransport{}
	ft.push(
		dispatch.Message{Kind: dispatch.KindText, Data: []byte(`{"type":"configure","no_preview":true}`)},
		dispatch.Message{Kind: dispatch.KindPing},
		dispatch.Message{Kind: dispatch.KindText, Data: []byte(`{"type":"end_of_stream"}`)},
	)
	sess := newMinimalSession()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := dispatch.Run(context.Background(), ft, sess, log, testMetrics(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ft.pongs != 1 {
		t.Fatalf("sent %d pongs, want 1", ft.pongs)
	}
	if sess.State() != session.StateClosed {
		t.Fatalf("session state = %v, want StateClosed", sess.State())
	}
}
