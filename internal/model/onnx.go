package model

import (
	"context"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/cattlecare-api/internal/imaging"
)

// ONNXRuntime opens .onnx models with onnxruntime. One runtime owns the
// process-wide ONNX environment.
type ONNXRuntime struct{}

// NewONNXRuntime initialises the ONNX environment. libraryPath points at the
// onnxruntime shared library; empty uses the binding's default lookup.
func NewONNXRuntime(libraryPath string) (*ONNXRuntime, error) {
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return &ONNXRuntime{}, nil
}

// Close tears down the ONNX environment. Call it after closing every
// classifier opened by this runtime.
func (rt *ONNXRuntime) Close() error {
	return ort.DestroyEnvironment()
}

// Open checks the model's declared inputs and outputs against spec and
// labels, then creates a session with pre-bound tensors.
func (rt *ONNXRuntime) Open(_ context.Context, spec Spec, labels []string) (Classifier, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(spec.Path)
	if err != nil {
		return nil, &LoadError{Key: spec.Key, Path: spec.Path, Err: fmt.Errorf("failed to read model schema: %w", err)}
	}

	in, err := pickInfo(inputs, spec.InputName)
	if err != nil {
		return nil, &IncompatibleError{Key: spec.Key, Reason: "input: " + err.Error()}
	}
	out, err := pickInfo(outputs, spec.OutputName)
	if err != nil {
		return nil, &IncompatibleError{Key: spec.Key, Reason: "output: " + err.Error()}
	}

	if in.DataType != ort.TensorElementDataTypeFloat {
		return nil, &IncompatibleError{Key: spec.Key, Reason: fmt.Sprintf("input %q is %v, want float32", in.Name, in.DataType)}
	}
	inputShape := spec.InputShape()
	if err := matchShape(in.Dimensions, inputShape); err != nil {
		return nil, &IncompatibleError{Key: spec.Key, Reason: fmt.Sprintf("input %q: %v", in.Name, err)}
	}
	outputShape := []int64{1, int64(len(labels))}
	if err := matchShape(out.Dimensions, outputShape); err != nil {
		return nil, &IncompatibleError{Key: spec.Key, Reason: fmt.Sprintf("output %q for %d labels: %v", out.Name, len(labels), err)}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(inputShape...))
	if err != nil {
		return nil, &LoadError{Key: spec.Key, Path: spec.Path, Err: fmt.Errorf("failed to create input tensor: %w", err)}
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, &LoadError{Key: spec.Key, Path: spec.Path, Err: fmt.Errorf("failed to create output tensor: %w", err)}
	}

	session, err := ort.NewAdvancedSession(spec.Path,
		[]string{in.Name}, []string{out.Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, &LoadError{Key: spec.Key, Path: spec.Path, Err: fmt.Errorf("failed to create ONNX session: %w", err)}
	}

	return &onnxClassifier{
		key:          spec.Key,
		runs:         newExclusive(),
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func pickInfo(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, error) {
	if name == "" {
		if len(infos) != 1 {
			return ort.InputOutputInfo{}, fmt.Errorf("model declares %d tensors, configure one by name", len(infos))
		}
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("no tensor named %q", name)
}

// matchShape accepts dynamic (non-positive) dimensions in the declared shape.
func matchShape(declared ort.Shape, want []int64) error {
	if len(declared) != len(want) {
		return fmt.Errorf("rank %d, want %d (%v)", len(declared), len(want), want)
	}
	for i, d := range declared {
		if d > 0 && d != want[i] {
			return fmt.Errorf("shape %v, want %v", []int64(declared), want)
		}
	}
	return nil
}

// onnxClassifier serialises runs: the session writes into tensors bound at
// creation time, so two concurrent runs would overwrite each other.
type onnxClassifier struct {
	key          string
	runs         exclusive
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func (c *onnxClassifier) Classify(ctx context.Context, input *imaging.Tensor) ([]float32, error) {
	if want := len(c.inputTensor.GetData()); len(input.Data) != want {
		return nil, fmt.Errorf("input has %d values, model %s expects %d", len(input.Data), c.key, want)
	}

	return c.runs.do(ctx, func() ([]float32, error) {
		copy(c.inputTensor.GetData(), input.Data)
		if err := c.session.Run(); err != nil {
			return nil, fmt.Errorf("inference failed: %w", err)
		}
		outputData := c.outputTensor.GetData()
		scores := make([]float32, len(outputData))
		copy(scores, outputData)
		return scores, nil
	})
}

func (c *onnxClassifier) Close() error {
	c.runs.wait()

	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
	if c.session != nil {
		return c.session.Destroy()
	}
	return nil
}
