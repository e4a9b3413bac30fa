package model

import (
	"context"
	"fmt"
	"math"

	"github.com/Brownie44l1/cattlecare-api/internal/imaging"
)

// Handle is a loaded classifier together with its label order and input
// geometry. Handles are built once by the registry and never modified.
type Handle struct {
	Key         string
	Name        string
	Labels      []string
	InputWidth  int
	InputHeight int
	Layout      imaging.Layout
	Softmax     bool
	Classifier  Classifier
}

// Predict runs the classifier and decodes its argmax. Ties go to the lowest
// index.
func (h *Handle) Predict(ctx context.Context, input *imaging.Tensor) (*Output, error) {
	scores, err := h.Classifier.Classify(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%s inference failed: %w", h.Key, err)
	}
	if len(scores) == 0 || len(scores) != len(h.Labels) {
		return nil, fmt.Errorf("%s returned %d scores for %d labels", h.Key, len(scores), len(h.Labels))
	}
	if h.Softmax {
		scores = softmax(scores)
	}

	maxIdx := 0
	maxVal := scores[0]
	predictions := make(map[string]float64, len(scores))

	for i, val := range scores {
		predictions[h.Labels[i]] = float64(val)
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}

	if len(predictions) != len(h.Labels) {
		return nil, fmt.Errorf("%s has repeated labels", h.Key)
	}

	return &Output{
		Index:         maxIdx,
		Label:         h.Labels[maxIdx],
		Confidence:    float64(maxVal),
		Probabilities: predictions,
	}, nil
}

// Accepts reports whether a tensor in the given geometry can be fed to h
// without normalising the image again.
func (h *Handle) Accepts(width, height int, layout imaging.Layout) bool {
	return h.InputWidth == width && h.InputHeight == height && h.layout() == layout
}

func (h *Handle) layout() imaging.Layout {
	if h.Layout == "" {
		return imaging.LayoutNHWC
	}
	return h.Layout
}

func softmax(logits []float32) []float32 {
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}
