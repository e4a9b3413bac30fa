package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LabelSource is where a model's class labels come from. A ClassesFile that
// exists wins over the inline Classes list.
type LabelSource struct {
	ClassesFile string
	Classes     []string
}

// Resolve returns the labels in output index order.
func (s LabelSource) Resolve() ([]string, error) {
	if s.ClassesFile != "" {
		raw, err := os.ReadFile(s.ClassesFile)
		switch {
		case err == nil:
			labels, err := ParseLabels(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s.ClassesFile, err)
			}
			return labels, nil
		case errors.Is(err, os.ErrNotExist):
			// fall through to the inline list
		default:
			return nil, fmt.Errorf("read %s: %w", s.ClassesFile, err)
		}
	}

	if len(s.Classes) == 0 {
		return nil, errors.New("no class labels configured")
	}
	if err := checkLabels(s.Classes); err != nil {
		return nil, fmt.Errorf("classes: %w", err)
	}
	out := make([]string, len(s.Classes))
	copy(out, s.Classes)
	return out, nil
}

// ParseLabels accepts {"class_names": [...]}, {"class_indices": {label: idx}}
// or a bare {label: idx} object.
func ParseLabels(raw []byte) ([]string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse label file: %w", err)
	}

	if names, ok := doc["class_names"]; ok {
		var labels []string
		if err := json.Unmarshal(names, &labels); err != nil {
			return nil, fmt.Errorf("parse class_names: %w", err)
		}
		if len(labels) == 0 {
			return nil, errors.New("class_names is empty")
		}
		if err := checkLabels(labels); err != nil {
			return nil, fmt.Errorf("class_names: %w", err)
		}
		return labels, nil
	}

	indices := make(map[string]int)
	if nested, ok := doc["class_indices"]; ok {
		if err := json.Unmarshal(nested, &indices); err != nil {
			return nil, fmt.Errorf("parse class_indices: %w", err)
		}
	} else if err := json.Unmarshal(raw, &indices); err != nil {
		return nil, fmt.Errorf("parse label index map: %w", err)
	}

	return invertIndices(indices)
}

// invertIndices turns label->index into index-ordered labels. Indices must
// cover 0..n-1 exactly once.
func invertIndices(indices map[string]int) ([]string, error) {
	if len(indices) == 0 {
		return nil, errors.New("label index map is empty")
	}

	labels := make([]string, len(indices))
	filled := make([]bool, len(indices))
	for label, idx := range indices {
		if idx < 0 || idx >= len(labels) {
			return nil, fmt.Errorf("label %q has index %d outside 0..%d", label, idx, len(labels)-1)
		}
		if filled[idx] {
			return nil, fmt.Errorf("index %d is assigned to both %q and %q", idx, labels[idx], label)
		}
		labels[idx] = label
		filled[idx] = true
	}
	if err := checkLabels(labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// checkLabels rejects empty and repeated labels; each label keys exactly one
// probability map entry.
func checkLabels(labels []string) error {
	seen := make(map[string]int, len(labels))
	for i, label := range labels {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("label at index %d is empty", i)
		}
		if first, ok := seen[label]; ok {
			return fmt.Errorf("label %q appears at index %d and %d", label, first, i)
		}
		seen[label] = i
	}
	return nil
}
