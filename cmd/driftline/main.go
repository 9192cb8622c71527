// Package main is the driftline CLI: it wires configuration, the
// metadata store, the placement engine, both backend adapters, and the
// upstream stream consumer together, then runs ingestion.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driftline/internal/adapter/docstore"
	"driftline/internal/adapter/sqlstore"
	"driftline/internal/config"
	"driftline/internal/metadata"
	"driftline/internal/pipeline"
	"driftline/internal/placement"
	"driftline/internal/stream"
	"driftline/internal/telemetry"
)

type ingestFlags struct {
	configFile string
	batchSize  int
	batches    int
	delay      float64
	logFile    string
	debug      bool
}

type statsFlags struct {
	configFile string
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "driftline",
		Short: "Autonomous schema-on-read ingestion pipeline",
	}

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func ingestCmd() *cobra.Command {
	flags := &ingestFlags{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Consume records from the upstream stream and ingest them",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runIngest(flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configFile, "config", "c", "driftline.toml", "Path to TOML configuration file")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "Records per batch (0 uses config default)")
	cmd.Flags().IntVar(&flags.batches, "batches", 0, "Total batches to consume (0 uses config default)")
	cmd.Flags().Float64Var(&flags.delay, "delay", 0, "Seconds between batches (0 uses config default)")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "Optional path for rotating JSON log output")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug-level logging")

	return cmd
}

func statsCmd() *cobra.Command {
	flags := &statsFlags{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print a snapshot of persisted metadata statistics",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runStats(flags)
		},
	}
	cmd.Flags().StringVarP(&flags.configFile, "config", "c", "driftline.toml", "Path to TOML configuration file")
	return cmd
}

func runIngest(flags *ingestFlags) error {
	cfg, err := loadConfig(flags.configFile)
	if err != nil {
		return err
	}

	log := telemetry.New(telemetry.Options{LogFile: flags.logFile, Debug: flags.debug})
	defer log.Sync()

	store := metadata.New(cfg.MetadataFile, cfg.CheckpointEvery, log)

	engine := placement.NewEngine(store, cfg.ToThresholds())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sqlAdapter pipeline.BackendAdapter
	var docAdapter pipeline.BackendAdapter

	sqlA, sqlErr := sqlstore.Open(ctx, cfg.SQLDB)
	if sqlErr != nil {
		log.Warn("driftline: sql backend unavailable, continuing without it", zap.Error(sqlErr))
	} else {
		sqlAdapter = sqlA
	}

	docA, docErr := docstore.Open(ctx, cfg.DocURI, cfg.DocDB)
	if docErr != nil {
		log.Warn("driftline: doc backend unavailable, continuing without it", zap.Error(docErr))
	} else {
		docAdapter = docA
	}

	if sqlAdapter == nil && docAdapter == nil {
		return fmt.Errorf("driftline: no backend adapter available, cannot start")
	}

	pipe, err := pipeline.New(store, engine, sqlAdapter, docAdapter, hostSuffix(), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := pipe.Close(); err != nil {
			log.Error("driftline: shutdown error", zap.Error(err))
		}
	}()

	consumer := stream.New(cfg.APIURL, pipe, log)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	batchSize := orDefault(flags.batchSize, cfg.BatchSize)
	batches := orDefault(flags.batches, cfg.TotalBatches)
	delay := cfg.DelaySeconds
	if flags.delay > 0 {
		delay = flags.delay
	}

	log.Info("driftline: starting ingestion",
		zap.Int("batch_size", batchSize),
		zap.Int("batches", batches),
		zap.Float64("delay_seconds", delay),
	)

	if err := consumer.ConsumeContinuous(sigCtx, batchSize, batches, time.Duration(delay*float64(time.Second))); err != nil {
		return fmt.Errorf("driftline: consumption stopped: %w", err)
	}

	stats := pipe.Stats()
	log.Info("driftline: ingestion complete",
		zap.Int64("processed", stats.Processed),
		zap.Int64("sql_inserted", stats.SQLInserted),
		zap.Int64("doc_inserted", stats.DocInserted),
		zap.Int64("errors", stats.Errors),
	)
	return nil
}

func runStats(flags *statsFlags) error {
	cfg, err := loadConfig(flags.configFile)
	if err != nil {
		return err
	}

	store := metadata.New(cfg.MetadataFile, cfg.CheckpointEvery, nil)
	defer store.Close()

	s := store.Stats()
	fmt.Printf("Total records:          %d\n", s.TotalRecords)
	fmt.Printf("Unique fields:          %d\n", s.UniqueFields)
	fmt.Printf("Normalization rules:    %d\n", s.NormalizationRules)
	fmt.Printf("Placement decisions:    %d\n", s.PlacementDecisions)
	return nil
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("driftline: load config: %w", err)
	}
	return cfg.ApplyEnvOverrides(), nil
}

func hostSuffix() string {
	host, err := os.Hostname()
	if err != nil || len(host) < 4 {
		return "host"
	}
	return host[len(host)-4:]
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
