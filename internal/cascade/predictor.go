package cascade

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Brownie44l1/cattlecare-api/internal/diagnosis"
	"github.com/Brownie44l1/cattlecare-api/internal/imaging"
	"github.com/Brownie44l1/cattlecare-api/internal/model"
)

// Weights of the combined confidence.
const (
	masterWeight     = 0.3
	specialistWeight = 0.7
)

// Predictor runs the two-stage cascade: the master picks a body part, the
// body part's specialist picks a condition. It is safe for concurrent use.
type Predictor struct {
	registry   *model.Registry
	resolver   *diagnosis.Resolver
	normalizer *imaging.Normalizer
	logger     *logrus.Logger

	sem     *semaphore.Weighted
	timeout time.Duration
	cache   *expirable.LRU[string, *Result]
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithMaxConcurrent bounds how many classifications run at once.
func WithMaxConcurrent(n int) Option {
	return func(p *Predictor) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithTimeout bounds each classification, including the wait for a slot.
func WithTimeout(d time.Duration) Option {
	return func(p *Predictor) {
		p.timeout = d
	}
}

// WithCache keeps up to size results keyed by image digest for ttl.
func WithCache(size int, ttl time.Duration) Option {
	return func(p *Predictor) {
		if size > 0 {
			p.cache = expirable.NewLRU[string, *Result](size, nil, ttl)
		}
	}
}

// NewPredictor wires a predictor over an already loaded registry.
func NewPredictor(registry *model.Registry, resolver *diagnosis.Resolver, normalizer *imaging.Normalizer, logger *logrus.Logger, opts ...Option) *Predictor {
	p := &Predictor{
		registry:   registry,
		resolver:   resolver,
		normalizer: normalizer,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry exposes the models the predictor runs.
func (p *Predictor) Registry() *model.Registry {
	return p.registry
}

// Classify runs the cascade on an encoded image.
func (p *Predictor) Classify(ctx context.Context, raw []byte) (*Result, error) {
	master, ok := p.registry.Master()
	if !ok {
		return nil, ErrModelsNotReady
	}

	var digest string
	if p.cache != nil {
		sum := sha256.Sum256(raw)
		digest = hex.EncodeToString(sum[:])
		if res, ok := p.cache.Get(digest); ok {
			p.logger.WithField("digest", digest[:12]).Debug("Classification served from cache")
			return res, nil
		}
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("waiting for inference slot: %w", err)
		}
		defer p.sem.Release(1)
	}

	img, _, err := p.normalizer.Decode(raw)
	if err != nil {
		return nil, err
	}

	res, err := p.run(ctx, master, img)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		p.cache.Add(digest, res)
	}
	return res, nil
}

func (p *Predictor) run(ctx context.Context, master *model.Handle, img image.Image) (*Result, error) {
	input, err := p.prepare(master, img)
	if err != nil {
		return nil, err
	}

	routed, err := master.Predict(ctx, input)
	if err != nil {
		return nil, err
	}
	bodyPart := routed.Label
	bodyPartConfidence := routed.Confidence

	if bodyPart == model.NonCattle {
		p.logger.WithField("confidence", bodyPartConfidence).Info("Image rejected as non-cattle")
		return &Result{
			Stage:               StageMasterOnly,
			BodyPart:            bodyPart,
			BodyPartConfidence:  bodyPartConfidence,
			MasterProbabilities: routed.Probabilities,
			PredictedClass:      NotCattleClass,
			Confidence:          bodyPartConfidence,
			Status:              StatusWarning,
		}, nil
	}

	specialist, ok := p.registry.Lookup(bodyPart)
	if !ok {
		return nil, &SpecialistUnavailableError{BodyPart: bodyPart}
	}

	if !specialist.Accepts(master.InputWidth, master.InputHeight, p.layoutOf(master)) {
		input, err = p.prepare(specialist, img)
		if err != nil {
			return nil, err
		}
	}

	diagnosed, err := specialist.Predict(ctx, input)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Stage:                   StageTwoStage,
		BodyPart:                bodyPart,
		BodyPartConfidence:      bodyPartConfidence,
		MasterProbabilities:     routed.Probabilities,
		PredictedClass:          diagnosed.Label,
		Confidence:              masterWeight*bodyPartConfidence + specialistWeight*diagnosed.Confidence,
		DiseaseConfidence:       diagnosed.Confidence,
		SpecialistProbabilities: diagnosed.Probabilities,
		SpecialistUsed:          specialist.Name,
		Status:                  StatusFor(diagnosed.Label),
	}
	if res.Status == StatusDisease && p.resolver != nil {
		if rec, ok := p.resolver.Resolve(diagnosed.Label); ok {
			res.MedicalInfo = rec
		}
	}

	p.logger.WithFields(logrus.Fields{
		"body_part":  res.BodyPart,
		"class":      res.PredictedClass,
		"confidence": res.Confidence,
		"status":     res.Status,
	}).Info("Classification complete")

	return res, nil
}

func (p *Predictor) prepare(h *model.Handle, img image.Image) (*imaging.Tensor, error) {
	return p.normalizer.WithLayout(p.layoutOf(h)).FromImage(img, h.InputWidth, h.InputHeight)
}

func (p *Predictor) layoutOf(h *model.Handle) imaging.Layout {
	if h.Layout == "" {
		return imaging.LayoutNHWC
	}
	return h.Layout
}
