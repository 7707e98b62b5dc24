//go:build !onnxvad

package onnxdetector

import "fmt"

// Detector is a stand-in used when the onnxvad build tag is not set. New
// always fails, directing operators to rebuild with -tags onnxvad if they
// want the Silero backend.
type Detector struct{}

// New always returns an error in builds without the onnxvad tag.
func New(modelBytes []byte, sampleRate int64) (*Detector, error) {
	return nil, fmt.Errorf("onnxdetector: built without the onnxvad tag; rebuild with -tags onnxvad")
}

// Detect never runs; Detector satisfies vad.Detector only to keep callers
// compiling against a stable type.
func (d *Detector) Detect(chunk []int16) (float32, error) {
	return 0, fmt.Errorf("onnxdetector: unavailable in this build")
}

// Reset is a no-op in stub builds.
func (d *Detector) Reset() {}

// Close is a no-op in stub builds.
func (d *Detector) Close() error { return nil }
