package cascade

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/cattlecare-api/internal/diagnosis"
	"github.com/Brownie44l1/cattlecare-api/internal/imaging"
	"github.com/Brownie44l1/cattlecare-api/internal/logging"
	"github.com/Brownie44l1/cattlecare-api/internal/model"
)

type gauge struct {
	inflight atomic.Int32
	peak     atomic.Int32
}

func (g *gauge) enter() {
	n := g.inflight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) leave() { g.inflight.Add(-1) }

type fakeClassifier struct {
	scores   []float32
	delay    time.Duration
	gauge    *gauge
	calls    atomic.Int32
	inputLen atomic.Int64
}

func (f *fakeClassifier) Classify(ctx context.Context, input *imaging.Tensor) ([]float32, error) {
	f.calls.Add(1)
	f.inputLen.Store(int64(len(input.Data)))
	if f.gauge != nil {
		f.gauge.enter()
		defer f.gauge.leave()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.scores, nil
}

func (f *fakeClassifier) Close() error { return nil }

const size = 8

func handle(key, name string, labels []string, c model.Classifier) *model.Handle {
	return &model.Handle{
		Key:         key,
		Name:        name,
		Labels:      labels,
		InputWidth:  size,
		InputHeight: size,
		Layout:      imaging.LayoutNHWC,
		Classifier:  c,
	}
}

// masterScores puts p on label and spreads the rest evenly.
func masterScores(label string, p float32) []float32 {
	scores := make([]float32, len(model.DefaultMasterLabels))
	rest := (1 - p) / float32(len(scores)-1)
	for i, l := range model.DefaultMasterLabels {
		if l == label {
			scores[i] = p
		} else {
			scores[i] = rest
		}
	}
	return scores
}

func pngImage(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newPredictor(t *testing.T, master *model.Handle, specialists map[string]*model.Handle, opts ...Option) *Predictor {
	t.Helper()
	records, err := diagnosis.LoadRecords("")
	require.NoError(t, err)
	logger := logging.Discard()
	return NewPredictor(
		model.NewRegistry(master, specialists),
		diagnosis.NewResolver(records, logger),
		imaging.NewNormalizer(imaging.Limits{MaxBytes: 1 << 20, MaxPixels: 1 << 20}, imaging.LayoutNHWC),
		logger,
		opts...,
	)
}

var (
	generalLabels = []string{"Lumpy Skin Disease", "Not Cattle", "Healthy Cow"}
	udderLabels   = []string{"NON CATTLE IMAGES", "mastitis teats", "normal teats"}
)

func TestClassify_TwoStageDisease(t *testing.T) {
	p := newPredictor(t,
		handle("master", "master", model.DefaultMasterLabels, &fakeClassifier{scores: masterScores("general_body", 0.9)}),
		map[string]*model.Handle{
			"general_body": handle("general_body", "Cattle Disease Classifier", generalLabels,
				&fakeClassifier{scores: []float32{0.8, 0.1, 0.1}}),
		})

	res, err := p.Classify(context.Background(), pngImage(t, 32, 32, color.White))
	require.NoError(t, err)

	assert.Equal(t, StageTwoStage, res.Stage)
	assert.Equal(t, "general_body", res.BodyPart)
	assert.InDelta(t, 0.9, res.BodyPartConfidence, 1e-6)
	assert.Equal(t, "Lumpy Skin Disease", res.PredictedClass)
	assert.InDelta(t, 0.8, res.DiseaseConfidence, 1e-6)
	assert.InDelta(t, 0.83, res.Confidence, 1e-6)
	assert.Equal(t, StatusDisease, res.Status)
	assert.Equal(t, "Cattle Disease Classifier", res.SpecialistUsed)
	require.NotNil(t, res.MedicalInfo)
	assert.Equal(t, diagnosis.KeyLumpy, res.MedicalInfo.Key)

	assertSumsToOne(t, res.MasterProbabilities)
	assertSumsToOne(t, res.SpecialistProbabilities)
}

func TestClassify_UdderMastitis(t *testing.T) {
	p := newPredictor(t,
		handle("master", "master", model.DefaultMasterLabels, &fakeClassifier{scores: masterScores("udder", 0.9)}),
		map[string]*model.Handle{
			"udder": handle("udder", "Udder Health Classifier", udderLabels,
				&fakeClassifier{scores: []float32{0.05, 0.8, 0.15}}),
		})

	res, err := p.Classify(context.Background(), pngImage(t, 64, 48, color.Gray{Y: 128}))
	require.NoError(t, err)

	assert.Equal(t, "udder", res.BodyPart)
	assert.Equal(t, "mastitis teats", res.PredictedClass)
	assert.InDelta(t, 0.83, res.Confidence, 1e-6)
	assert.Equal(t, StatusDisease, res.Status)
	require.NotNil(t, res.MedicalInfo)
	assert.Equal(t, diagnosis.KeyMastitis, res.MedicalInfo.Key)
	assert.Equal(t, "Mastitis (Udder Infection)", res.MedicalInfo.Name)
}

func TestClassify_NonCattleShortCircuits(t *testing.T) {
	specialist := &fakeClassifier{scores: []float32{0.8, 0.1, 0.1}}
	p := newPredictor(t,
		handle("master", "master", model.DefaultMasterLabels, &fakeClassifier{scores: masterScores(model.NonCattle, 0.7)}),
		map[string]*model.Handle{
			"general_body": handle("general_body", "Cattle Disease Classifier", generalLabels, specialist),
		})

	res, err := p.Classify(context.Background(), pngImage(t, 16, 16, color.Black))
	require.NoError(t, err)

	assert.Equal(t, StageMasterOnly, res.Stage)
	assert.Equal(t, model.NonCattle, res.BodyPart)
	assert.Equal(t, NotCattleClass, res.PredictedClass)
	assert.Equal(t, StatusWarning, res.Status)
	assert.Equal(t, res.BodyPartConfidence, res.Confidence)
	assert.InDelta(t, 0.7, res.Confidence, 1e-6)
	assert.Nil(t, res.MedicalInfo)
	assert.Nil(t, res.SpecialistProbabilities)
	assert.Zero(t, specialist.calls.Load())
}

func TestClassify_StatusRules(t *testing.T) {
	tests := []struct {
		name    string
		scores  []float32
		class   string
		status  Status
		medical bool
	}{
		{"non wins over other rules", []float32{0.6, 0.2, 0.2}, "NON CATTLE IMAGES", StatusWarning, false},
		{"mastitis is a disease", []float32{0.1, 0.7, 0.2}, "mastitis teats", StatusDisease, true},
		{"normal is healthy", []float32{0.1, 0.2, 0.7}, "normal teats", StatusHealthy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPredictor(t,
				handle("master", "master", model.DefaultMasterLabels, &fakeClassifier{scores: masterScores("udder", 0.95)}),
				map[string]*model.Handle{
					"udder": handle("udder", "Udder Health Classifier", udderLabels, &fakeClassifier{scores: tt.scores}),
				})

			res, err := p.Classify(context.Background(), pngImage(t, 8, 8, color.White))
			require.NoError(t, err)
			assert.Equal(t, tt.class, res.PredictedClass)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.medical, res.MedicalInfo != nil)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusWarning, StatusFor("non-healthy tissue"))
	assert.Equal(t, StatusHealthy, StatusFor("Healthy Cow"))
	assert.Equal(t, StatusDisease, StatusFor("Blackleg"))
}

func TestClassify_UnmatchedDiseaseHasNoMedicalInfo(t *testing.T) {
	p := newPredictor(t,
		handle("master", "master", model.DefaultMasterLabels, &fakeClassifier{scores: masterScores("general_body", 0.9)}),
		map[string]*model.Handle{
			"general_body": handle("general_body", "Cattle Disease Classifier", []string{"Blackleg", "Healthy Cow"},
				&fakeClassifier{scores: []float32{0.9, 0.1}}),
		})

	res, err := p.Classify(context.Background(), pngImage(t, 8, 8, color.White))
	require.NoError(t, err)
	assert.Equal(t, StatusDisease, res.Status)
	assert.Nil(t, res.MedicalInfo)
}

func TestClassify_SpecialistUnavailable(t *testing.T) {
	p := newPredictor(t,
		handle("master", "master", model.DefaultMasterLabels, &fakeClassifier{scores: masterScores("tongue", 0.9)}),
		nil)

	res, err := p.Classify(context.Background(), pngImage(t, 8, 8, color.White))
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrSpecialistUnavailable))

	var unavailable *SpecialistUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "tongue", unavailable.BodyPart)
}

func TestClassify_ModelsNotReady(t *testing.T) {
	p := newPredictor(t, nil, nil)
	_, err := p.Classify(context.Background(), pngImage(t, 8, 8, color.White))
	assert.True(t, errors.Is(err, ErrModelsNotReady))
}

func TestClassify_InvalidImage(t *testing.T) {
	master := &fakeClassifier{scores: masterScores("udder", 0.9)}
	p := newPredictor(t, handle("master", "master", model.DefaultMasterLabels, master), nil)

	_, err := p.Classify(context.Background(), []byte("definitely not an image"))
	assert.True(t, errors.Is(err, imaging.ErrInvalidImage))
	assert.Zero(t, master.calls.Load())
}

func TestClassify_SpecialistWithDifferentInputSize(t *testing.T) {
	specialist := &fakeClassifier{scores: []float32{0.1, 0.1, 0.8}}
	udder := handle("udder", "Udder Health Classifier", udderLabels, specialist)
	udder.InputWidth, udder.InputHeight = 4, 4

	master := &fakeClassifier{scores: masterScores("udder", 0.9)}
	p := newPredictor(t, handle("master", "master", model.DefaultMasterLabels, master),
		map[string]*model.Handle{"udder": udder})

	_, err := p.Classify(context.Background(), pngImage(t, 8, 8, color.White))
	require.NoError(t, err)
	assert.Equal(t, int64(size*size*3), master.inputLen.Load())
	assert.Equal(t, int64(4*4*3), specialist.inputLen.Load())
}

func TestClassify_Timeout(t *testing.T) {
	p := newPredictor(t,
		handle("master", "master", model.DefaultMasterLabels, &fakeClassifier{scores: masterScores("udder", 0.9), delay: time.Second}),
		nil, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := p.Classify(context.Background(), pngImage(t, 8, 8, color.White))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestClassify_Cache(t *testing.T) {
	master := &fakeClassifier{scores: masterScores("udder", 0.9)}
	specialist := &fakeClassifier{scores: []float32{0.1, 0.7, 0.2}}
	p := newPredictor(t,
		handle("master", "master", model.DefaultMasterLabels, master),
		map[string]*model.Handle{"udder": handle("udder", "Udder Health Classifier", udderLabels, specialist)},
		WithCache(8, time.Minute))

	raw := pngImage(t, 8, 8, color.White)
	first, err := p.Classify(context.Background(), raw)
	require.NoError(t, err)
	second, err := p.Classify(context.Background(), raw)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), master.calls.Load())
	assert.Equal(t, int32(1), specialist.calls.Load())

	_, err = p.Classify(context.Background(), pngImage(t, 8, 8, color.Black))
	require.NoError(t, err)
	assert.Equal(t, int32(2), master.calls.Load())
}

func TestClassify_ConcurrencyBound(t *testing.T) {
	g := &gauge{}
	p := newPredictor(t,
		handle("master", "master", model.DefaultMasterLabels,
			&fakeClassifier{scores: masterScores("udder", 0.9), delay: 5 * time.Millisecond, gauge: g}),
		map[string]*model.Handle{
			"udder": handle("udder", "Udder Health Classifier", udderLabels,
				&fakeClassifier{scores: []float32{0.1, 0.2, 0.7}, delay: 5 * time.Millisecond, gauge: g}),
		},
		WithMaxConcurrent(2))

	raw := pngImage(t, 8, 8, color.White)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Classify(context.Background(), raw)
			if assert.NoError(t, err) {
				assert.Equal(t, StatusHealthy, res.Status)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, g.peak.Load(), int32(2))
}

func TestClassify_Deterministic(t *testing.T) {
	p := newPredictor(t,
		handle("master", "master", model.DefaultMasterLabels, &fakeClassifier{scores: masterScores("general_body", 0.9)}),
		map[string]*model.Handle{
			"general_body": handle("general_body", "Cattle Disease Classifier", generalLabels,
				&fakeClassifier{scores: []float32{0.1, 0.1, 0.8}}),
		})

	raw := pngImage(t, 8, 8, color.White)
	first, err := p.Classify(context.Background(), raw)
	require.NoError(t, err)
	second, err := p.Classify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, StatusHealthy, first.Status)
}

func assertSumsToOne(t *testing.T, probs map[string]float64) {
	t.Helper()
	var sum float64
	for _, v := range probs {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}
