package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Audio is fixed at 16 kHz mono; a frame is exactly 960 samples (60 ms),
// matching the wire's audio frame contract.
const (
	SampleRateHz     = 16000
	channels         = 1
	FrameSizeSamples = 960
)

// Decoder decodes one compressed Opus packet per call into exactly
// FrameSizeSamples int16 PCM samples, at this server's 16 kHz/mono/60 ms
// contract.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a Decoder configured for 16 kHz mono Opus.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRateHz, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes one Opus packet. It returns ErrWrongFrameSize if the
// packet does not decode to exactly FrameSizeSamples samples, per the audio
// frame contract.
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(packet, FrameSizeSamples, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	if len(pcm) != FrameSizeSamples {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrWrongFrameSize, len(pcm), FrameSizeSamples)
	}
	return pcm, nil
}
