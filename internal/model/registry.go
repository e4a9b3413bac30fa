package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/cattlecare-api/internal/imaging"
)

// maxParallelLoads caps how many specialists open at once.
const maxParallelLoads = 4

// Registry holds the master classifier and the specialists keyed by body
// part. It is read-only once LoadRegistry or NewRegistry returns.
type Registry struct {
	master      *Handle
	specialists map[string]*Handle
	failures    map[string]error
}

// Status summarises what loaded and what did not.
type Status struct {
	MasterLoaded bool              `json:"master_loaded"`
	Loaded       []string          `json:"loaded"`
	Failed       map[string]string `json:"failed,omitempty"`
}

// NewRegistry builds a registry from already opened handles.
func NewRegistry(master *Handle, specialists map[string]*Handle) *Registry {
	r := &Registry{
		master:      master,
		specialists: make(map[string]*Handle, len(specialists)),
		failures:    make(map[string]error),
	}
	for key, h := range specialists {
		r.specialists[key] = h
	}
	return r
}

// LoadRegistry opens every configured model. A model that fails to load is
// logged and recorded; the rest of the registry stays usable.
func LoadRegistry(ctx context.Context, cfg RegistryConfig, opener Opener, logger *logrus.Logger) *Registry {
	r := NewRegistry(nil, nil)

	master, err := loadHandle(ctx, cfg.Master, opener)
	if err != nil {
		r.failures[cfg.Master.Key] = err
		logger.WithError(err).WithField("model", cfg.Master.Key).Error("Master model not loaded")
	} else {
		r.master = master
		logger.WithFields(logrus.Fields{
			"model":   master.Key,
			"classes": master.Labels,
		}).Info("Master model loaded")
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLoads)

	for _, spec := range cfg.Specialists {
		g.Go(func() error {
			h, err := loadHandle(gctx, spec, opener)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.failures[spec.Key] = err
				logger.WithError(err).WithField("model", spec.Key).Warn("Specialist model not loaded")
				return nil
			}
			r.specialists[spec.Key] = h
			logger.WithFields(logrus.Fields{
				"model":   spec.Key,
				"name":    spec.Name,
				"classes": h.Labels,
			}).Info("Specialist model loaded")
			return nil
		})
	}
	_ = g.Wait()

	logger.WithFields(logrus.Fields{
		"loaded": len(r.specialists),
		"total":  len(cfg.Specialists),
	}).Info("Specialist loading finished")

	return r
}

func loadHandle(ctx context.Context, spec Spec, opener Opener) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LoadError{Key: spec.Key, Path: spec.Path, Err: err}
	}
	if _, err := os.Stat(spec.Path); err != nil {
		return nil, &LoadError{Key: spec.Key, Path: spec.Path, Err: err}
	}

	labels, err := spec.Labels.Resolve()
	if err != nil {
		return nil, &LoadError{Key: spec.Key, Path: spec.Path, Err: err}
	}

	if spec.InputWidth <= 0 || spec.InputHeight <= 0 {
		return nil, &IncompatibleError{Key: spec.Key, Reason: fmt.Sprintf("invalid input size %dx%d", spec.InputWidth, spec.InputHeight)}
	}
	if spec.Layout == "" {
		spec.Layout = imaging.LayoutNHWC
	}

	classifier, err := opener.Open(ctx, spec, labels)
	if err != nil {
		if errors.Is(err, ErrModelLoad) || errors.Is(err, ErrModelIncompatible) {
			return nil, err
		}
		return nil, &LoadError{Key: spec.Key, Path: spec.Path, Err: err}
	}

	name := spec.Name
	if name == "" {
		name = spec.Key
	}

	return &Handle{
		Key:         spec.Key,
		Name:        name,
		Labels:      labels,
		InputWidth:  spec.InputWidth,
		InputHeight: spec.InputHeight,
		Layout:      spec.Layout,
		Softmax:     spec.Softmax,
		Classifier:  classifier,
	}, nil
}

// Master returns the routing classifier, if it loaded.
func (r *Registry) Master() (*Handle, bool) {
	return r.master, r.master != nil
}

// Lookup returns the specialist for a body part.
func (r *Registry) Lookup(key string) (*Handle, bool) {
	h, ok := r.specialists[key]
	return h, ok
}

// Failure returns the recorded load error for key, if any.
func (r *Registry) Failure(key string) error {
	return r.failures[key]
}

// Status reports loaded and failed models.
func (r *Registry) Status() Status {
	s := Status{
		MasterLoaded: r.master != nil,
		Loaded:       make([]string, 0, len(r.specialists)),
	}
	for key := range r.specialists {
		s.Loaded = append(s.Loaded, key)
	}
	sort.Strings(s.Loaded)

	if len(r.failures) > 0 {
		s.Failed = make(map[string]string, len(r.failures))
		for key, err := range r.failures {
			s.Failed[key] = err.Error()
		}
	}
	return s
}

// Close releases every classifier.
func (r *Registry) Close() error {
	var errs []error
	if r.master != nil {
		errs = append(errs, r.master.Classifier.Close())
	}
	for _, h := range r.specialists {
		errs = append(errs, h.Classifier.Close())
	}
	return errors.Join(errs...)
}
