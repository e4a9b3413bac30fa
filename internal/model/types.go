package model

import (
	"context"

	"github.com/Brownie44l1/cattlecare-api/internal/imaging"
)

// NonCattle is the master label that rejects an image outright.
const NonCattle = "non_cattle"

// DefaultMasterLabels is the master label order used when no index file is
// shipped next to the master model.
var DefaultMasterLabels = []string{"foot", "general_body", NonCattle, "tongue", "udder"}

// Classifier runs one model on a prepared input tensor and returns one score
// per output class.
type Classifier interface {
	Classify(ctx context.Context, input *imaging.Tensor) ([]float32, error)
	Close() error
}

// Opener creates a Classifier for a model artifact. labels is the resolved
// label order, so the opener can check it against the model's output shape.
type Opener interface {
	Open(ctx context.Context, spec Spec, labels []string) (Classifier, error)
}

// Spec describes one model artifact and how to feed it.
type Spec struct {
	Key         string
	Name        string
	Path        string
	Labels      LabelSource
	InputWidth  int
	InputHeight int
	Layout      imaging.Layout
	Softmax     bool
	InputName   string
	OutputName  string
}

// InputShape is the [1,...] tensor shape this model consumes.
func (s Spec) InputShape() []int64 {
	if s.Layout == imaging.LayoutNCHW {
		return []int64{1, 3, int64(s.InputHeight), int64(s.InputWidth)}
	}
	return []int64{1, int64(s.InputHeight), int64(s.InputWidth), 3}
}

// RegistryConfig lists the master model and every specialist.
type RegistryConfig struct {
	Master      Spec
	Specialists []Spec
}

// Output is the decoded result of one classifier run.
type Output struct {
	Index         int
	Label         string
	Confidence    float64
	Probabilities map[string]float64
}
