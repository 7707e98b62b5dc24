//go:build onnxvad

// Package onnxdetector provides an optional vad.Detector backed by a Silero
// VAD v5 ONNX model, run via ONNX Runtime. It is built only when the
// onnxvad tag is set; without it, see stub.go.
package onnxdetector

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/t184256/transcriber-go/internal/vad"
)

const (
	// windowSize is Silero VAD v5's required input width at 16 kHz: 32 ms.
	windowSize = 512
	// stateSize is the hidden-state dimension per layer.
	stateSize = 128
)

var (
	initOnce sync.Once
	initErr  error
)

// Detector runs Silero VAD v5 inference via ONNX Runtime. It buffers
// vad.ChunkSamples (256-sample, 16 ms) inputs two at a time to assemble one
// 512-sample Silero window, trading a one-chunk latency for the ring's
// fixed 16 ms granularity.
type Detector struct {
	mu sync.Mutex

	session *ort.AdvancedSession

	inputTensor *ort.Tensor[float32]
	stateTensor *ort.Tensor[float32]
	srTensor    *ort.Tensor[int64]

	outputTensor *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]

	pending    []int16
	cachedProb float32
}

// New loads modelBytes (an ONNX Silero VAD v5 export) and allocates the
// tensors used across Detect calls.
func New(modelBytes []byte, sampleRate int64) (*Detector, error) {
	if len(modelBytes) == 0 {
		return nil, fmt.Errorf("onnxdetector: model data is empty")
	}

	initOnce.Do(func() {
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("onnxdetector: initialize runtime: %w", initErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, windowSize))
	if err != nil {
		return nil, fmt.Errorf("onnxdetector: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("onnxdetector: create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sampleRate})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("onnxdetector: create sr tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("onnxdetector: create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("onnxdetector: create stateN tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		modelBytes,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("onnxdetector: create session: %w", err)
	}

	return &Detector{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
		pending:      make([]int16, 0, windowSize),
	}, nil
}

// Detect satisfies vad.Detector. It accumulates chunks until a full Silero
// window is available, then runs one inference and returns its probability
// for the chunk that completed the window; a chunk that does not complete a
// window gets the most recent inference result.
func (d *Detector) Detect(chunk []int16) (float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, chunk...)
	if len(d.pending) < windowSize {
		return d.lastProb(), nil
	}

	window := d.pending[:windowSize]
	prob, err := d.infer(window)
	if err != nil {
		return 0, err
	}
	d.pending = append([]int16(nil), d.pending[windowSize:]...)
	d.cachedProb = prob
	return prob, nil
}

// lastProb returns the most recent inference result, carried forward for
// chunks that don't yet complete a new Silero window.
func (d *Detector) lastProb() float32 { return d.cachedProb }

func (d *Detector) infer(window []int16) (float32, error) {
	in := d.inputTensor.GetData()
	for i, s := range window {
		in[i] = float32(s) / 32768.0
	}
	if err := d.session.Run(); err != nil {
		return 0, fmt.Errorf("onnxdetector: inference: %w", err)
	}
	prob := d.outputTensor.GetData()[0]
	copy(d.stateTensor.GetData(), d.stateNTensor.GetData())
	return prob, nil
}

// Reset clears hidden state and any buffered samples.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clearFloat32(d.stateTensor.GetData())
	d.pending = d.pending[:0]
	d.cachedProb = 0
}

// Close releases the ONNX Runtime session and tensors. Safe to call once.
func (d *Detector) Close() error {
	d.session.Destroy()
	d.inputTensor.Destroy()
	d.stateTensor.Destroy()
	d.srTensor.Destroy()
	d.outputTensor.Destroy()
	d.stateNTensor.Destroy()
	return nil
}

func clearFloat32(s []float32) {
	for i := range s {
		s[i] = 0
	}
}

var _ vad.Detector = (*Detector)(nil)
