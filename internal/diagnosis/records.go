package diagnosis

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed records.yaml
var defaultRecords []byte

// Medicine is one recommended drug in a disease record.
type Medicine struct {
	Name  string `yaml:"name" json:"name"`
	Type  string `yaml:"type" json:"type"`
	Brand string `yaml:"brand" json:"brand"`
}

// Record is the static guidance shown for a diagnosed disease.
type Record struct {
	Key              string     `yaml:"-" json:"key"`
	Name             string     `yaml:"name" json:"name"`
	Severity         string     `yaml:"severity" json:"severity"`
	Description      string     `yaml:"description" json:"description"`
	ImmediateActions []string   `yaml:"immediate_actions" json:"immediate_actions"`
	FirstAid         []string   `yaml:"first_aid" json:"first_aid"`
	EmergencySigns   []string   `yaml:"emergency_signs" json:"emergency_signs"`
	Medicines        []Medicine `yaml:"medicines" json:"medicines"`
	HomeRemedies     []string   `yaml:"home_remedies" json:"home_remedies"`
	Timeline         string     `yaml:"timeline" json:"timeline"`
	Prognosis        string     `yaml:"prognosis" json:"prognosis"`
}

// LoadRecords reads disease records from a YAML file keyed by disease key.
// An empty path returns the built-in records.
func LoadRecords(path string) (map[string]*Record, error) {
	raw := defaultRecords
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read disease records: %w", err)
		}
		raw = data
	}
	return parseRecords(raw)
}

func parseRecords(raw []byte) (map[string]*Record, error) {
	var records map[string]*Record
	if err := yaml.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to parse disease records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no disease records defined")
	}
	for key, rec := range records {
		if rec == nil || rec.Name == "" {
			return nil, fmt.Errorf("disease record %q has no name", key)
		}
		rec.Key = key
	}
	return records, nil
}
