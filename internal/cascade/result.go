package cascade

import (
	"strings"

	"github.com/Brownie44l1/cattlecare-api/internal/diagnosis"
)

// Stage records how far the cascade went for a request.
type Stage string

const (
	StageMasterOnly Stage = "master_only"
	StageTwoStage   Stage = "two_stage"
)

// Status is the coarse health verdict of a prediction.
type Status string

const (
	StatusWarning Status = "WARNING"
	StatusHealthy Status = "HEALTHY"
	StatusDisease Status = "DISEASE"
)

// NotCattleClass is the predicted class reported when the master rejects
// the image.
const NotCattleClass = "Not Cattle"

// Result is the outcome of one classification. It is never modified after
// Classify returns and may be shared between callers through the cache.
type Result struct {
	Stage                   Stage              `json:"stage"`
	BodyPart                string             `json:"body_part"`
	BodyPartConfidence      float64            `json:"body_part_confidence"`
	MasterProbabilities     map[string]float64 `json:"master_probabilities"`
	PredictedClass          string             `json:"predicted_class"`
	Confidence              float64            `json:"confidence"`
	DiseaseConfidence       float64            `json:"disease_confidence,omitempty"`
	SpecialistProbabilities map[string]float64 `json:"specialist_probabilities,omitempty"`
	SpecialistUsed          string             `json:"specialist_used,omitempty"`
	Status                  Status             `json:"status"`
	MedicalInfo             *diagnosis.Record  `json:"medical_info,omitempty"`
}

type statusRule struct {
	substrings []string
	status     Status
}

// statusRules is evaluated in order against the lower-cased class label.
// "non" comes first so "NON CATTLE IMAGES" is a warning even though
// later rules could also match.
var statusRules = []statusRule{
	{substrings: []string{"non"}, status: StatusWarning},
	{substrings: []string{"healthy", "normal"}, status: StatusHealthy},
}

// StatusFor classifies a specialist label. Anything no rule matches is a
// disease.
func StatusFor(label string) Status {
	lower := strings.ToLower(label)
	for _, rule := range statusRules {
		for _, s := range rule.substrings {
			if strings.Contains(lower, s) {
				return rule.status
			}
		}
	}
	return StatusDisease
}
