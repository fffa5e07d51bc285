package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stoik/email-risk/internal/adapters/httpapi"
	"github.com/stoik/email-risk/internal/application"
	"github.com/stoik/email-risk/internal/config"
	"github.com/stoik/email-risk/internal/logging"
	"github.com/stoik/email-risk/internal/metrics"
)

const version = "0.1.0"

var envKeyReplacer = strings.NewReplacer("-", "_")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "email-risk",
		Short:   "Email address fraud-risk scoring engine",
		Version: version,
		Long: `email-risk assigns an allow, warn or block decision to email addresses by
combining n-gram sequence models, a decision tree or random forest, logistic
calibration and rule heuristics into one explainable score.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "Log format (text, json)")

	// Flags fall back to EMAIL_RISK_CONFIG, EMAIL_RISK_LOG_LEVEL, ...
	viper.SetEnvPrefix("EMAIL_RISK")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()
	_ = viper.BindPFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(), newScoreCmd(), newModelsCmd())
	return root
}

// loadConfig resolves configuration and the logger from flags, env and file
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if format := viper.GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP scoring API",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides config)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr := viper.GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.postgres != nil {
		go metrics.StartDBStatsCollector(ctx, a.postgres.DB(), 15*time.Second)
	}

	// Warm every cache so the first request does not pay for the fetch
	for _, st := range a.registry.ReloadAll(ctx) {
		logger.Info("model cache warmed", "kind", st.Kind, "version", st.Version, "state", st.State)
	}

	gin.SetMode(gin.ReleaseMode)
	api := httpapi.NewServer(a.service, a.registry, httpapi.Options{
		AdminToken:   cfg.Server.AdminToken,
		MaxBatchSize: cfg.Server.MaxBatchSize,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("email-risk listening", "addr", cfg.Server.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func newScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score EMAIL [EMAIL...]",
		Short: "Score addresses and print the assessments as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := wire(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			reqs := make([]application.ScoreRequest, len(args))
			for i, email := range args {
				reqs[i] = application.ScoreRequest{Email: email}
			}
			results := a.service.ScoreBatch(cmd.Context(), reqs)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Load every model artifact and print its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := wire(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			for _, st := range a.registry.ReloadAll(cmd.Context()) {
				fmt.Fprintf(w, "%-16s %-12s %-24s %s\n", st.Kind, st.State, st.Version, st.Key)
			}
			return nil
		},
	}
}
