package audio

import "github.com/t184256/transcriber-go/internal/vad"

// samplesPerCS is the sample count covered by one centisecond at 16 kHz.
const samplesPerCS = SampleRateHz / 100

// frameDecoder decodes one compressed packet into PCM. *Decoder satisfies
// it; tests substitute a fake to avoid depending on the CGO Opus codec.
type frameDecoder interface {
	Decode(packet []byte) ([]int16, error)
}

// Timeline holds accumulated 16 kHz mono PCM, the absolute connection-time
// offset of its first sample (AdvanceCS), and a VAD ring fed from the same
// PCM. It never shrinks except from the front, via Advance.
type Timeline struct {
	decoder frameDecoder
	ring    *vad.Ring

	buffer    []int16
	advanceCS int64
}

// NewTimeline creates an empty Timeline using decoder to turn compressed
// frames into PCM and ring to track voice activity over that PCM.
func NewTimeline(decoder *Decoder, ring *vad.Ring) *Timeline {
	return &Timeline{decoder: decoder, ring: ring}
}

// newTimelineWithDecoder is the test seam allowing a fake frameDecoder.
func newTimelineWithDecoder(decoder frameDecoder, ring *vad.Ring) *Timeline {
	return &Timeline{decoder: decoder, ring: ring}
}

// AdvanceCS returns the absolute connection time before which audio has
// been discarded.
func (t *Timeline) AdvanceCS() int64 { return t.advanceCS }

// CurrentEndCS returns the absolute cs position of the end of the buffer.
func (t *Timeline) CurrentEndCS() int64 {
	return t.advanceCS + int64(len(t.buffer))/samplesPerCS
}

// Len returns the number of PCM samples currently buffered.
func (t *Timeline) Len() int { return len(t.buffer) }

// Buffer returns the currently accumulated PCM. The returned slice must not
// be retained past the next mutating call.
func (t *Timeline) Buffer() []int16 { return t.buffer }

// DecodeAndAppend decodes one compressed packet, appends the resulting PCM
// to the buffer, and feeds it to the VAD ring.
func (t *Timeline) DecodeAndAppend(packet []byte) error {
	pcm, err := t.decoder.Decode(packet)
	if err != nil {
		return err
	}
	t.buffer = append(t.buffer, pcm...)
	return t.ring.Consume(pcm)
}

// Advance discards PCM before timestampCS. A timestampCS at or before the
// current AdvanceCS is a no-op. Advancing past the end of the buffer is
// ErrAdvanceOutOfRange. On success, the VAD ring is reset and re-fed from
// the remaining buffer (since the ring's own timeline is relative to
// whatever PCM it has consumed, and that origin just changed).
func (t *Timeline) Advance(timestampCS int64) error {
	if timestampCS <= t.advanceCS {
		return nil
	}
	dropSamples := (timestampCS - t.advanceCS) * samplesPerCS
	if dropSamples > int64(len(t.buffer)) {
		return ErrAdvanceOutOfRange
	}
	t.buffer = append([]int16(nil), t.buffer[dropSamples:]...)
	t.advanceCS = timestampCS

	t.ring.Reset()
	if err := t.ring.Consume(t.buffer); err != nil {
		return err
	}
	return nil
}

// VADProbabilityAtCS returns the ring's probability at an absolute cs
// position, converting it to the ring's buffer-relative coordinate first.
func (t *Timeline) VADProbabilityAtCS(absoluteCS int64) float32 {
	return t.ring.ProbabilityAtCS(absoluteCS - t.advanceCS)
}
