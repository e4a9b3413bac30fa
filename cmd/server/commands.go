package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/cattlecare-api/internal/auth"
	"github.com/Brownie44l1/cattlecare-api/internal/cascade"
	"github.com/Brownie44l1/cattlecare-api/internal/handlers"
	"github.com/Brownie44l1/cattlecare-api/internal/history"
	"github.com/Brownie44l1/cattlecare-api/internal/report"
)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "cattlecare",
		Short:         "Two-stage cattle disease classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./config.yaml, ./config/config.yaml, /etc/cattlecare/config.yaml)")

	root.AddCommand(
		newServeCommand(&configPath),
		newClassifyCommand(&configPath),
		newModelsCommand(&configPath),
	)
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg

	store, err := history.New(cfg.HistoryStoreConfig())
	if err != nil {
		return fmt.Errorf("failed to open prediction log: %w", err)
	}
	defer store.Close()

	users, err := auth.NewUserStore(auth.Admin{
		Email:    cfg.Auth.AdminEmail,
		Password: cfg.Auth.AdminPassword,
		Name:     cfg.Auth.AdminName,
	}, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	engine, err := handlers.Build(handlers.Options{
		Predictor:      a.predictor,
		Models:         a.registry,
		Users:          users,
		Tokens:         tokens,
		History:        store,
		Reports:        report.NewGenerator(),
		Logger:         a.logger,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		StaticDir:      cfg.Server.StaticDir,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
		Debug:          cfg.Logging.Level == "debug",
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithFields(logrus.Fields{
			"addr":    srv.Addr,
			"history": cfg.History.Driver,
			"models":  a.registry.Status().Loaded,
		}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutdown signal received, gracefully shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.logger.Info("Server stopped")
	return nil
}

func newClassifyCommand(configPath *string) *cobra.Command {
	var reportPath string
	cmd := &cobra.Command{
		Use:   "classify <image>",
		Short: "Classify one image and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			a, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.predictor.Classify(cmd.Context(), raw)
			if err != nil {
				return err
			}

			if reportPath != "" {
				if err := writeReport(reportPath, res, time.Now()); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&reportPath, "report", "", "Also write a PDF report to this path")
	return cmd
}

// writeReport renders res as a PDF at path, including the error from closing
// the file.
func writeReport(path string, res *cascade.Result, now time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.NewGenerator().Render(f, res, report.UserInfo{Name: "CLI"}, now); err != nil {
		_ = f.Close()
		return fmt.Errorf("render report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

func newModelsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Load the configured models and print their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.registry.Status())
		},
	}
}
