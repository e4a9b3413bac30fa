package diagnosis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/cattlecare-api/internal/logging"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	records, err := LoadRecords("")
	require.NoError(t, err)
	return NewResolver(records, logging.Discard())
}

func TestLoadRecords_Defaults(t *testing.T) {
	records, err := LoadRecords("")
	require.NoError(t, err)
	require.Len(t, records, 4)

	lumpy := records[KeyLumpy]
	require.NotNil(t, lumpy)
	assert.Equal(t, KeyLumpy, lumpy.Key)
	assert.Equal(t, "Lumpy Skin Disease (LSD)", lumpy.Name)
	assert.Equal(t, "HIGH", lumpy.Severity)
	assert.Len(t, lumpy.ImmediateActions, 5)
	require.Len(t, lumpy.Medicines, 3)
	assert.Equal(t, Medicine{Name: "Streptopenicillin", Type: "Antibiotic", Brand: "Terramycin/Penstrep"}, lumpy.Medicines[0])

	assert.Equal(t, "VERY HIGH", records[KeyFMD].Severity)
	assert.Equal(t, "Good if treated early | Chronic cases may require culling quarter", records[KeyMastitis].Prognosis)
	assert.Len(t, records[KeyTongueDisease].EmergencySigns, 7)
}

func TestLoadRecords_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
blackleg:
  name: Blackleg
  severity: HIGH
  medicines:
    - {name: Penicillin, type: Antibiotic, brand: Various}
`), 0o644))

	records, err := LoadRecords(path)
	require.NoError(t, err)
	require.Contains(t, records, "blackleg")
	assert.Equal(t, "blackleg", records["blackleg"].Key)
}

func TestLoadRecords_Invalid(t *testing.T) {
	_, err := LoadRecords(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = parseRecords([]byte(`{}`))
	assert.Error(t, err)

	_, err = parseRecords([]byte("lumpy:\n  severity: HIGH\n"))
	assert.Error(t, err)
}

func TestResolver_Key(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		label string
		want  string
		ok    bool
	}{
		{"Lumpy Skin Disease", KeyLumpy, true},
		{"mastitis teats", KeyMastitis, true},
		{"FMD", KeyFMD, true},
		{"Footrot", KeyFMD, true},
		{"Footrot disease of tongue", KeyFMD, true},
		{"tongue ulcer", KeyTongueDisease, true},
		{"Some Disease", KeyTongueDisease, true},
		{"Blackleg", "", false},
		{"Healthy Cow", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			key, ok := r.Key(tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	r := newTestResolver(t)

	rec, ok := r.Resolve("Lumpy Skin Disease")
	require.True(t, ok)
	assert.Equal(t, "Lumpy Skin Disease (LSD)", rec.Name)

	rec, ok = r.Resolve("Blackleg")
	assert.False(t, ok)
	assert.Nil(t, rec)
}

func TestResolver_KeyWithoutRecord(t *testing.T) {
	r := NewResolver(map[string]*Record{KeyLumpy: {Key: KeyLumpy, Name: "Lumpy"}}, logging.Discard())

	_, ok := r.Resolve("mastitis teats")
	assert.False(t, ok)

	rec, ok := r.Record(KeyLumpy)
	require.True(t, ok)
	assert.Equal(t, "Lumpy", rec.Name)
}
