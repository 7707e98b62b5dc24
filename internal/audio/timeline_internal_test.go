package audio

import (
	"testing"

	"github.com/t184256/transcriber-go/internal/vad"
)

type fakeDecoder struct {
	next []int16
	err  error
}

func (f *fakeDecoder) Decode(packet []byte) ([]int16, error) {
	return f.next, f.err
}

func zeroFrame() []int16 { return make([]int16, FrameSizeSamples) }

func newTestTimeline() (*Timeline, *fakeDecoder) {
	d := &fakeDecoder{next: zeroFrame()}
	r := vad.NewRing(vad.NewEnergyDetector())
	return newTimelineWithDecoder(d, r), d
}

func TestTimelineAppendGrowsBufferAndEndCS(t *testing.T) {
	tl, _ := newTestTimeline()
	if err := tl.DecodeAndAppend([]byte("packet")); err != nil {
		t.Fatalf("DecodeAndAppend: %v", err)
	}
	if tl.Len() != FrameSizeSamples {
		t.Fatalf("Len = %d, want %d", tl.Len(), FrameSizeSamples)
	}
	// 960 samples / 160 samples-per-cs = 6 cs.
	if got, want := tl.CurrentEndCS(), int64(6); got != want {
		t.Fatalf("CurrentEndCS = %d, want %d", got, want)
	}
}

func TestTimelineAdvanceIsNoOpWhenNotPast(t *testing.T) {
	tl, _ := newTestTimeline()
	if err := tl.DecodeAndAppend([]byte("p")); err != nil {
		t.Fatal(err)
	}
	if err := tl.Advance(0); err != nil {
		t.Fatalf("Advance(0): %v", err)
	}
	if tl.Len() != FrameSizeSamples {
		t.Fatalf("Len changed after no-op advance: %d", tl.Len())
	}
}

func TestTimelineAdvanceDropsPrefix(t *testing.T) {
	tl, _ := newTestTimeline()
	for i := 0; i < 3; i++ {
		if err := tl.DecodeAndAppend([]byte("p")); err != nil {
			t.Fatal(err)
		}
	}
	// 3 frames = 18 cs total.
	if err := tl.Advance(6); err != nil {
		t.Fatalf("Advance(6): %v", err)
	}
	if tl.AdvanceCS() != 6 {
		t.Fatalf("AdvanceCS = %d, want 6", tl.AdvanceCS())
	}
	if tl.Len() != FrameSizeSamples*2 {
		t.Fatalf("Len = %d, want %d", tl.Len(), FrameSizeSamples*2)
	}
}

func TestTimelineAdvanceBeyondBufferErrors(t *testing.T) {
	tl, _ := newTestTimeline()
	if err := tl.DecodeAndAppend([]byte("p")); err != nil {
		t.Fatal(err)
	}
	if err := tl.Advance(1000); err != ErrAdvanceOutOfRange {
		t.Fatalf("Advance far beyond buffer: err = %v, want ErrAdvanceOutOfRange", err)
	}
}

func TestTimelineAdvanceTwiceEqualsAdvanceOnce(t *testing.T) {
	tl1, _ := newTestTimeline()
	tl2, _ := newTestTimeline()
	for _, tl := range []*Timeline{tl1, tl2} {
		for i := 0; i < 3; i++ {
			if err := tl.DecodeAndAppend([]byte("p")); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tl1.Advance(6); err != nil {
		t.Fatal(err)
	}

	if err := tl2.Advance(6); err != nil {
		t.Fatal(err)
	}
	if err := tl2.Advance(6); err != nil {
		t.Fatal(err)
	}

	if tl1.AdvanceCS() != tl2.AdvanceCS() || tl1.Len() != tl2.Len() {
		t.Fatalf("advancing twice diverged from advancing once: %d/%d vs %d/%d",
			tl1.AdvanceCS(), tl1.Len(), tl2.AdvanceCS(), tl2.Len())
	}
}
