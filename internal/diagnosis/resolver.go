package diagnosis

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Disease keys of the built-in records.
const (
	KeyLumpy         = "lumpy"
	KeyMastitis      = "mastitis"
	KeyFMD           = "fmd"
	KeyTongueDisease = "tongue_disease"
)

type keyRule struct {
	substrings []string
	key        string
}

// keyRules is evaluated in order; the first rule with a matching substring
// wins. "Footrot disease of tongue" therefore maps to fmd.
var keyRules = []keyRule{
	{substrings: []string{"lumpy"}, key: KeyLumpy},
	{substrings: []string{"mastitis"}, key: KeyMastitis},
	{substrings: []string{"fmd", "foot"}, key: KeyFMD},
	{substrings: []string{"tongue", "disease"}, key: KeyTongueDisease},
}

// Resolver maps specialist class labels onto disease records. It is
// immutable and safe for concurrent use.
type Resolver struct {
	records map[string]*Record
	logger  *logrus.Logger
}

// NewResolver wraps records loaded with LoadRecords.
func NewResolver(records map[string]*Record, logger *logrus.Logger) *Resolver {
	return &Resolver{records: records, logger: logger}
}

// Key returns the disease key for a class label.
func (r *Resolver) Key(label string) (string, bool) {
	lower := strings.ToLower(label)
	for _, rule := range keyRules {
		for _, s := range rule.substrings {
			if strings.Contains(lower, s) {
				return rule.key, true
			}
		}
	}
	return "", false
}

// Record returns the record stored under key.
func (r *Resolver) Record(key string) (*Record, bool) {
	rec, ok := r.records[key]
	return rec, ok
}

// Resolve returns the guidance for a class label. Labels outside the known
// vocabulary, or keys without a record, resolve to nothing.
func (r *Resolver) Resolve(label string) (*Record, bool) {
	key, ok := r.Key(label)
	if !ok {
		r.logger.WithField("label", label).Debug("No disease record matches label")
		return nil, false
	}
	rec, ok := r.records[key]
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"label": label,
			"key":   key,
		}).Debug("Disease key has no record")
	}
	return rec, ok
}
