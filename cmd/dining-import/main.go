package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"dining-service/internal/clients"
	"dining-service/internal/config"
	"dining-service/internal/importer"
	"dining-service/internal/models"
	"dining-service/internal/repository"
	"dining-service/internal/services"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "dining-import",
		Short:        "Import campus dining menus from XLSX or CSV workbooks",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	newLogger := func() *logrus.Logger {
		logger := logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stderr)
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		}
		return logger
	}

	root.AddCommand(newRunCmd(newLogger), newValidateCmd(newLogger), newBackfillCmd(newLogger))
	return root
}

func newRunCmd(newLogger func() *logrus.Logger) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the import pipeline against a workbook and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := newImportService(cmd.Context(), newLogger())
			if err != nil {
				return err
			}
			defer closeFn()

			run, result, err := svc.RunFromPath(cmd.Context(), models.SystemIdentity("cli"), models.ImportTriggerManual, file)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"runId":  run.ID,
				"result": result,
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Workbook path (default: IMPORT_SOURCE_PATH)")
	return cmd
}

func newValidateCmd(newLogger func() *logrus.Logger) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse a workbook and report what an import would write, without a database",
		RunE: func(cmd *cobra.Command, args []string) error {
			sheets, err := importer.NewFileSource().Open(cmd.Context(), file)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), importer.Validate(sheets, newLogger()))
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Workbook path (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newBackfillCmd(newLogger func() *logrus.Logger) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate embeddings for items that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := newImportService(cmd.Context(), newLogger())
			if err != nil {
				return err
			}
			defer closeFn()

			embedded, err := svc.Backfill(cmd.Context(), limit)
			if errors.Is(err, services.ErrBackfillUnavailable) {
				return errors.New("EMBEDDING_SERVICE_URL is required for backfill")
			}
			if werr := writeJSON(cmd.OutOrStdout(), map[string]int{"embedded": embedded}); werr != nil {
				return werr
			}
			return err
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 500, "Maximum number of items to embed")
	return cmd
}

// newImportService wires the service the same way the server does, sharing
// its Redis run lock so CLI runs never overlap scheduled or admin runs.
// Without Redis the lock only covers this process.
func newImportService(ctx context.Context, logger *logrus.Logger) (*services.ImportService, func(), error) {
	cfg := config.Load()

	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, nil, err
	}

	redisClient, err := config.ConnectRedis(ctx, cfg)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, import lock will not exclude other processes")
		redisClient = nil
	}
	closeFn := func() {
		if redisClient != nil {
			redisClient.Close()
		}
	}

	menuRepo := repository.NewMenuRepository(db, redisClient)

	var embedder importer.EmbeddingService
	var backfiller services.Backfiller
	if cfg.EmbeddingServiceURL != "" {
		client := clients.NewEmbeddingClient(clients.EmbeddingConfig{
			BaseURL:     cfg.EmbeddingServiceURL,
			APIKey:      cfg.EmbeddingAPIKey,
			Model:       cfg.EmbeddingModel,
			BatchSize:   cfg.EmbeddingBatchSize,
			Concurrency: cfg.EmbeddingConcurrency,
			RatePerSec:  cfg.EmbeddingRatePerSec,
		}, menuRepo, logger)
		embedder = client
		backfiller = client
	}

	svc := services.NewImportService(services.ImportDeps{
		Pipeline:    importer.NewPipeline(importer.NewFileSource(), menuRepo, embedder, logger),
		Runs:        repository.NewImportRunRepository(db),
		Lock:        repository.NewRunLock(redisClient, config.ImportLockKey, cfg.ImportLockTTL, logger),
		Catalog:     menuRepo,
		Backfiller:  backfiller,
		DefaultPath: cfg.ImportSourcePath,
	}, logger)
	return svc, closeFn, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

