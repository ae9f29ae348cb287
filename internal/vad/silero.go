//go:build silero

package vad

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// sileroStateSize is the hidden state dimension per layer; Silero VAD
	// v5 uses a combined state tensor of shape [2, 1, 128].
	sileroStateSize = 128
	sileroSampleRate = 16000
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// SileroEngine runs Silero VAD v5 inference via ONNX Runtime. It accepts
// frames already converted to float32 by the frame assembler, so unlike
// a microphone-facing VAD it carries no PCM-decoding step of its own.
type SileroEngine struct {
	session *ort.AdvancedSession

	inputTensor *ort.Tensor[float32] // [1, 512]
	stateTensor *ort.Tensor[float32] // [2, 1, 128]
	srTensor    *ort.Tensor[int64]   // [1]

	outputTensor *ort.Tensor[float32] // [1, 1]
	stateNTensor *ort.Tensor[float32] // [2, 1, 128]
}

// NewNativeEngine initializes ONNX Runtime and loads the embedded Silero
// model. threshold is accepted for interface symmetry with the gate's
// own hysteresis but is otherwise unused — Engine.Process always returns
// the raw probability and leaves thresholding to Gate.
func NewNativeEngine(threshold float64) (Engine, error) {
	if len(sileroModelData) == 0 {
		return nil, fmt.Errorf("vad: model data is empty (embedded silero_vad.onnx has no content)")
	}

	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath()
		if err != nil {
			ortInitErr = fmt.Errorf("resolve ORT lib: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("vad: %w", ortInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, FrameSize))
	if err != nil {
		return nil, fmt.Errorf("vad: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("vad: create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sileroSampleRate})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("vad: create sr tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("vad: create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("vad: create stateN tensor: %w", err)
	}

	clearFloat32Slice(stateTensor.GetData())
	clearFloat32Slice(stateNTensor.GetData())

	session, err := ort.NewAdvancedSessionWithONNXData(
		sileroModelData,
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
		return nil, fmt.Errorf("vad: create session: %w", err)
	}

	return &SileroEngine{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
	}, nil
}

// NativeAvailable reports that the silero engine is compiled in.
func NativeAvailable() bool { return true }

// Process runs a single Silero VAD inference on exactly FrameSize samples.
func (e *SileroEngine) Process(frame []float32) (float32, error) {
	if len(frame) != FrameSize {
		return 0, ErrWrongFrameSize
	}
	copy(e.inputTensor.GetData(), frame)

	if err := e.session.Run(); err != nil {
		return 0, fmt.Errorf("vad: inference: %w", err)
	}

	prob := e.outputTensor.GetData()[0]
	copy(e.stateTensor.GetData(), e.stateNTensor.GetData())

	return prob, nil
}

// Reset clears the recurrent hidden state between sessions.
func (e *SileroEngine) Reset() error {
	clearFloat32Slice(e.stateTensor.GetData())
	return nil
}

// Close releases ONNX Runtime resources. Safe to call multiple times.
func (e *SileroEngine) Close() error {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.stateTensor != nil {
		e.stateTensor.Destroy()
		e.stateTensor = nil
	}
	if e.srTensor != nil {
		e.srTensor.Destroy()
		e.srTensor = nil
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	if e.stateNTensor != nil {
		e.stateNTensor.Destroy()
		e.stateNTensor = nil
	}
	return nil
}

func clearFloat32Slice(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
