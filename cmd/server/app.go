package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/cattlecare-api/internal/cascade"
	"github.com/Brownie44l1/cattlecare-api/internal/config"
	"github.com/Brownie44l1/cattlecare-api/internal/diagnosis"
	"github.com/Brownie44l1/cattlecare-api/internal/imaging"
	"github.com/Brownie44l1/cattlecare-api/internal/logging"
	"github.com/Brownie44l1/cattlecare-api/internal/model"
)

// app holds everything the commands share: configuration, logger and the
// loaded models.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	runtime   *model.ONNXRuntime
	registry  *model.Registry
	predictor *cascade.Predictor
}

func setup(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, err
	}

	records, err := diagnosis.LoadRecords(cfg.Diagnosis.RecordsFile)
	if err != nil {
		return nil, err
	}

	runtime, err := model.NewONNXRuntime(cfg.Models.ONNXLibraryPath)
	if err != nil {
		return nil, err
	}

	logger.WithField("master", cfg.Models.Master.Path).Info("Loading models")
	registry := model.LoadRegistry(ctx, cfg.RegistryConfig(), runtime, logger)

	normalizer := imaging.NewNormalizer(cfg.ImageLimits(), imaging.Layout(cfg.Models.Layout))
	predictor := cascade.NewPredictor(registry, diagnosis.NewResolver(records, logger), normalizer, logger,
		cascade.WithMaxConcurrent(cfg.Inference.MaxConcurrent),
		cascade.WithTimeout(cfg.Inference.Timeout),
		cascade.WithCache(cfg.Inference.CacheSize, cfg.Inference.CacheTTL),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		runtime:   runtime,
		registry:  registry,
		predictor: predictor,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.registry.Close(), a.runtime.Close())
}
