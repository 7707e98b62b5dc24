// Package vad implements the voice-activity-detection ring buffer: a
// running, interpolatable speech-probability curve aligned to the session's
// PCM timeline.
package vad

// ChunkSamples is the fixed detector granularity: 256 samples (16 ms at
// 16 kHz), matching the original earshot-based detector this ring is
// modeled on.
const ChunkSamples = 256

// Detector turns one fixed-size PCM chunk into a speech probability. A
// single Detector instance is reused across chunks and may hold internal
// state (e.g. recurrent hidden state); Reset clears it.
type Detector interface {
	// Detect returns the speech probability in [0,1] for exactly
	// ChunkSamples int16 samples.
	Detect(chunk []int16) (float32, error)
	// Reset clears any internal state carried between chunks.
	Reset()
}

// Ring accumulates PCM samples, produces one probability per ChunkSamples
// consumed, and answers interpolated probability queries addressed by
// centisecond position relative to the ring's own consumption history.
type Ring struct {
	detector      Detector
	probabilities []float32
	leftovers     []int16
}

// NewRing creates a Ring backed by the given Detector.
func NewRing(d Detector) *Ring {
	return &Ring{detector: d}
}

// Consume packs leftovers++samples into ChunkSamples-sized chunks, runs the
// detector over each full chunk, and stores any incomplete tail as the new
// leftovers. Consuming [A, B] in two calls yields identical probabilities
// and leftovers to consuming the concatenation in one call.
func (r *Ring) Consume(samples []int16) error {
	buf := append(r.leftovers, samples...)
	i := 0
	for ; i+ChunkSamples <= len(buf); i += ChunkSamples {
		p, err := r.detector.Detect(buf[i : i+ChunkSamples])
		if err != nil {
			return err
		}
		r.probabilities = append(r.probabilities, p)
	}
	r.leftovers = append([]int16(nil), buf[i:]...)
	return nil
}

// ProbabilityAtCS converts cs to a fractional index (cs*10/16, since each
// sample covers 16 ms) into the probability curve and linearly interpolates
// between the two bracketing samples. An empty ring, or a query at or
// before index 0, returns the first available sample (0 if none exist); a
// query at or past the last index returns the last sample.
func (r *Ring) ProbabilityAtCS(cs int64) float32 {
	n := len(r.probabilities)
	if n == 0 {
		return 0
	}
	idx := float64(cs) * 10.0 / 16.0
	if idx <= 0 {
		return r.probabilities[0]
	}
	last := float64(n - 1)
	if idx >= last {
		return r.probabilities[n-1]
	}
	lo := int(idx)
	frac := idx - float64(lo)
	return r.probabilities[lo] + float32(frac)*(r.probabilities[lo+1]-r.probabilities[lo])
}

// Reset clears the probability curve, leftovers, and the detector's
// internal state.
func (r *Ring) Reset() {
	r.probabilities = nil
	r.leftovers = nil
	r.detector.Reset()
}
