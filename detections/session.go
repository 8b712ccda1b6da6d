package detections

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

type sessionRunner interface {
	Run() error
	Destroy() error
}

// ModelSession is one runtime session with its bound input and output
// buffers. A session serves one request at a time.
type ModelSession struct {
	Session sessionRunner
	Input   []float32
	Output  []float32
	tensors []ort.ArbitraryTensor
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		_ = m.Session.Destroy()
	}
	for _, t := range m.tensors {
		_ = t.Destroy()
	}
	m.tensors = nil
}

// sessionParams describes the tensors a session is built around.
type sessionParams struct {
	modelPath      string
	inputName      string
	outputName     string
	inputShape     ort.Shape
	outputShape    ort.Shape
	intraOpThreads int
}

func newSession(params sessionParams) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if params.intraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(params.intraOpThreads); err != nil {
			return nil, fmt.Errorf("error setting intra-op threads: %w", err)
		}
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("error setting inter-op threads: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](params.inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](params.outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		params.modelPath,
		[]string{params.inputName},
		[]string{params.outputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor.GetData(),
		Output:  outputTensor.GetData(),
		tensors: []ort.ArbitraryTensor{inputTensor, outputTensor},
	}, nil
}
