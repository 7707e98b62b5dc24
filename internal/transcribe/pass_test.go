package transcribe_test

import (
	"testing"

	"github.com/t184256/transcriber-go/internal/engine"
	"github.com/t184256/transcriber-go/internal/engine/mock"
	"github.com/t184256/transcriber-go/internal/transcribe"
)

type fixedVAD struct{ prob float32 }

func (f fixedVAD) VADProbabilityAtCS(cs int64) float32 { return f.prob }

func samplesOfLen(n int) []int16 {
	return make([]int16, n)
}

func TestRunBelowMinFramesReturnsNil(t *testing.T) {
	ctx := &mock.Context{}
	res, err := transcribe.Run(ctx, 50000, fixedVAD{}, transcribe.Options{}, transcribe.Request{
		PCM:          samplesOfLen(transcribe.FrameSizeSamples * 2),
		CurrentEndCS: 12,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res != nil {
		t.Fatalf("Result = %+v, want nil (below minimum buffer)", res)
	}
	if len(ctx.Calls) != 0 {
		t.Fatalf("engine was invoked despite the buffer guard")
	}
}

func TestRunDropsEmptySegmentsAndSpecialTokens(t *testing.T) {
	const tokenEOT = 100
	ctx := &mock.Context{
		RunFullPassFunc: func(p engine.Params, pcm []float32) ([]engine.Segment, error) {
			return []engine.Segment{
				{
					EndTimestampCS: 50,
					Tokens: []engine.Token{
						{Text: "hello ", ID: 1, StartCS: 0, EndCS: 20, Probability: 0.9},
						{Text: "world", ID: 2, StartCS: 20, EndCS: 50, Probability: 0.8},
						{Text: "<eot>", ID: tokenEOT, StartCS: 50, EndCS: 51, Probability: 0.99},
					},
				},
				{
					// Every token starts at or past the buffer end -> no kept
					// tokens -> discarded entirely.
					EndTimestampCS: 190,
					Tokens: []engine.Token{
						{Text: "<eot>", ID: tokenEOT, StartCS: 185, EndCS: 186},
					},
				},
			}, nil
		},
	}

	res, err := transcribe.Run(ctx, tokenEOT, fixedVAD{prob: 0.42}, transcribe.Options{}, transcribe.Request{
		PCM:          samplesOfLen(transcribe.FrameSizeSamples * 3),
		AdvanceCS:    0,
		CurrentEndCS: 180,
		IsFinal:      true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res == nil {
		t.Fatal("Result is nil")
	}
	if len(res.Complete) != 1 {
		t.Fatalf("Complete = %+v, want exactly 1 segment (the second should be discarded)", res.Complete)
	}
	seg := res.Complete[0]
	if seg.Text != "hello world" {
		t.Fatalf("Text = %q, want %q", seg.Text, "hello world")
	}
	if len(seg.Tokens) != 3 {
		t.Fatalf("Tokens = %d, want 3 (including the special token)", len(seg.Tokens))
	}
	if !seg.Tokens[2].Special {
		t.Fatal("eot token should be marked Special")
	}
	if seg.EndVADProbability != 0.42 {
		t.Fatalf("EndVADProbability = %v, want 0.42", seg.EndVADProbability)
	}
}

func TestRunIncompleteWhenNotFinal(t *testing.T) {
	ctx := &mock.Context{
		RunFullPassFunc: func(p engine.Params, pcm []float32) ([]engine.Segment, error) {
			return []engine.Segment{
				{EndTimestampCS: 30, Tokens: []engine.Token{{Text: "a", StartCS: 0, EndCS: 30}}},
				{EndTimestampCS: 60, Tokens: []engine.Token{{Text: "b", StartCS: 30, EndCS: 60}}},
			}, nil
		},
	}
	res, err := transcribe.Run(ctx, 1000, fixedVAD{}, transcribe.Options{}, transcribe.Request{
		PCM:          samplesOfLen(transcribe.FrameSizeSamples * 3),
		CurrentEndCS: 180,
		IsFinal:      false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Complete) != 1 {
		t.Fatalf("Complete = %d segments, want 1", len(res.Complete))
	}
	if res.Incomplete == nil {
		t.Fatal("Incomplete is nil, want the trailing segment")
	}
}

func TestFallbackSegmentationFlag(t *testing.T) {
	ctx := &mock.Context{
		RunFullPassFunc: func(p engine.Params, pcm []float32) ([]engine.Segment, error) {
			return []engine.Segment{
				{EndTimestampCS: 100, Tokens: []engine.Token{{Text: "x", StartCS: 0, EndCS: 100}}},
			}, nil
		},
	}
	res, err := transcribe.Run(ctx, 1000, fixedVAD{}, transcribe.Options{}, transcribe.Request{
		PCM:          samplesOfLen(transcribe.FrameSizeSamples * 3),
		CurrentEndCS: 100,
		IsFinal:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Complete) != 1 || !res.Complete[0].FallbackSegmentation {
		t.Fatalf("expected FallbackSegmentation=true for a 100cs-exact segment, got %+v", res.Complete)
	}
}
