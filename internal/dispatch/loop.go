// Package dispatch implements the per-connection cooperative loop: drain
// every currently buffered message, run at most one transcription pass, and
// peek-wait for more input. Each connection gets its own goroutine, so no
// worker-pool offload is required for correctness — the transcription pass
// simply blocks this connection's own goroutine.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/t184256/transcriber-go/internal/observe"
	"github.com/t184256/transcriber-go/internal/protocol"
	"github.com/t184256/transcriber-go/internal/session"
)

// MessageKind classifies one inbound frame.
type MessageKind int

const (
	KindText MessageKind = iota
	KindBinary
	KindPing
	KindClose
)

// Message is one inbound frame as delivered by a Transport.
type Message struct {
	Kind MessageKind
	Data []byte
}

// Transport is the abstract collaborator the loop drives. Besides sending
// and closing, it provides the loop's two input primitives:
// DrainNonBlocking and PeekAwait.
type Transport interface {
	// DrainNonBlocking returns every message already buffered, without
	// waiting for more. An empty, nil-error result means nothing was
	// available.
	DrainNonBlocking() ([]Message, error)
	// PeekAwait blocks until at least one message is buffered, without
	// consuming it. It returns when ctx is cancelled.
	PeekAwait(ctx context.Context) error
	// SendText sends one JSON text frame.
	SendText(ctx context.Context, data []byte) error
	// SendPong answers a Ping.
	SendPong(ctx context.Context) error
	// Close closes the connection with reason, sent as the Close frame's
	// status text if the transport supports one.
	Close(ctx context.Context, reason string) error
}

// Run drives sess to completion over t, recording pass latency, two-stroke
// outcomes, and advance lag to metrics. It returns nil on an orderly
// EndOfStream-then-Close shutdown, or the error that caused an early
// termination (already reported to the client and/or logged as
// appropriate).
func Run(ctx context.Context, t Transport, sess *session.Session, log *slog.Logger, metrics *observe.Metrics) error {
	for {
		if err := drainAndProcess(ctx, t, sess, log, metrics); err != nil {
			return err
		}
		if sess.State() == session.StateClosed {
			return nil
		}

		if sess.ShouldAttemptPass() {
			if done, err := runPass(ctx, t, sess, log, metrics); err != nil {
				return err
			} else if done {
				return nil
			}
			if sess.State() == session.StateClosed {
				return nil
			}
		}

		if err := t.PeekAwait(ctx); err != nil {
			return err
		}
	}
}

// drainAndProcess consumes every currently buffered message and applies it
// to sess, answering Pings inline and terminating on Close or a fatal
// session error.
func drainAndProcess(ctx context.Context, t Transport, sess *session.Session, log *slog.Logger, metrics *observe.Metrics) error {
	for {
		msgs, err := t.DrainNonBlocking()
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		for _, m := range msgs {
			switch m.Kind {
			case KindPing:
				if err := t.SendPong(ctx); err != nil {
					return err
				}
			case KindClose:
				sess.Close()
				return nil
			case KindText:
				inbound, decodeErr := protocol.DecodeInbound(m.Data)
				if decodeErr != nil {
					return failSession(ctx, t, sess, log, decodeErr)
				}
				if err := sess.HandleInbound(inbound); err != nil {
					return failSession(ctx, t, sess, log, err)
				}
				if inbound.Type == protocol.TypeAdvance {
					metrics.RecordAdvanceLag(ctx, sess.LastAdvanceLagCS())
				}
			case KindBinary:
				if err := sess.HandleBinary(m.Data); err != nil {
					return failSession(ctx, t, sess, log, err)
				}
			}
		}
	}
}

// runPass runs one transcription pass, sends the resulting Transcription
// (if any), and invokes the two-stroke reconciler when applicable. It
// returns done=true when the session has just finalised.
func runPass(ctx context.Context, t Transport, sess *session.Session, log *slog.Logger, metrics *observe.Metrics) (done bool, err error) {
	isFinal := sess.State() == session.StateFinalising

	passStart := time.Now()
	tr, trErr := sess.Transcribe(isFinal)
	metrics.RecordPass(ctx, "main", time.Since(passStart).Seconds())
	if trErr != nil {
		return false, failSession(ctx, t, sess, log, trErr)
	}
	if tr == nil {
		if isFinal {
			return true, finishSession(ctx, t, sess)
		}
		return false, nil
	}

	data, encErr := protocol.EncodeTranscription(*tr)
	if encErr != nil {
		return false, failSession(ctx, t, sess, log, encErr)
	}
	if err := t.SendText(ctx, data); err != nil {
		return false, err
	}

	if sess.TwoStrokeEnabled() && !isFinal && len(tr.Complete) >= 2 {
		// Absorb anything that arrived during the main pass before
		// spending more time on the trailing-window re-pass.
		if err := drainAndProcess(ctx, t, sess, log, metrics); err != nil {
			return false, err
		}
		if sess.State() == session.StateClosed {
			return true, nil
		}
		reconcileStart := time.Now()
		suggestion, recErr := sess.Reconcile(tr.Complete)
		metrics.RecordPass(ctx, "two_stroke", time.Since(reconcileStart).Seconds())
		if recErr != nil {
			// EngineFailure on the two-stroke path is logged, never fatal.
			log.Warn("two-stroke reconciliation failed", "error", recErr)
		} else if suggestion != nil {
			metrics.RecordTwoStrokeOutcome(ctx, suggestion.ExactMatch)
			sugData, encErr := protocol.EncodeAdvanceSuggestion(*suggestion)
			if encErr != nil {
				log.Warn("failed to encode advance suggestion", "error", encErr)
			} else if err := t.SendText(ctx, sugData); err != nil {
				return false, err
			}
		}
	}

	if isFinal {
		return true, finishSession(ctx, t, sess)
	}
	return false, nil
}

func finishSession(ctx context.Context, t Transport, sess *session.Session) error {
	sess.Close()
	return t.Close(ctx, "end of stream")
}

// failSession sends a single Error message and closes the connection: every
// fatal error is surfaced as one Error message immediately before Close. It
// returns cause unchanged (wrapped errors.As-able to *session.Error where
// the failure originated in the session), so the caller can still recover
// the original error kind for reporting.
func failSession(ctx context.Context, t Transport, sess *session.Session, log *slog.Logger, cause error) error {
	message := cause.Error()
	data, err := protocol.EncodeError(protocol.Error{Message: message})
	if err == nil {
		if sendErr := t.SendText(ctx, data); sendErr != nil {
			log.Warn("failed to send error message before close", "error", sendErr)
		}
	}
	sess.Close()
	closeErr := t.Close(ctx, message)
	if closeErr != nil && !errors.Is(closeErr, context.Canceled) {
		log.Warn("failed to close transport cleanly", "error", closeErr)
	}
	return cause
}
