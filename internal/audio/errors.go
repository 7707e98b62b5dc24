package audio

import "errors"

// ErrWrongFrameSize indicates a decoded packet did not yield exactly
// FrameSizeSamples, per the wire's audio frame contract.
var ErrWrongFrameSize = errors.New("audio: decoded frame size is not 960 samples")

// ErrAdvanceOutOfRange indicates an advance timestamp implies dropping more
// samples than the timeline currently holds.
var ErrAdvanceOutOfRange = errors.New("audio: advance beyond accumulated buffer")
