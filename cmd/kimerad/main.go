// Kimerad is the semantic contradiction memory daemon.
//
// It ingests geoids, evaluates tension between them, resolves contradictions
// into vaulted SCARs, and runs the background decay, fusion, crystallization,
// and insight lifecycle jobs.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	kimerad
//
//	# Start with a config file
//	kimerad --config /etc/kimerad/config.yaml
//
//	# Override via environment
//	SERVER_HTTP_PORT=9280 kimerad
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kimerad/internal/config"
	"github.com/fyrsmithlabs/kimerad/internal/contradiction"
	"github.com/fyrsmithlabs/kimerad/internal/embeddings"
	"github.com/fyrsmithlabs/kimerad/internal/engine"
	httpapi "github.com/fyrsmithlabs/kimerad/internal/http"
	"github.com/fyrsmithlabs/kimerad/internal/insight"
	"github.com/fyrsmithlabs/kimerad/internal/logging"
	"github.com/fyrsmithlabs/kimerad/internal/mirror"
	"github.com/fyrsmithlabs/kimerad/internal/scar"
	"github.com/fyrsmithlabs/kimerad/internal/scheduler"
	"github.com/fyrsmithlabs/kimerad/internal/store"
	"github.com/fyrsmithlabs/kimerad/internal/thermo"
	"github.com/fyrsmithlabs/kimerad/internal/vault"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kimerad",
	Short: "Semantic contradiction memory daemon",
	Long: `kimerad ingests semantic entities (geoids), detects contradictions
between them, and resolves each one into a permanent SCAR record spread
across two balanced vaults. Background jobs decay, fuse, and crystallize
SCARs, and advance the insight lifecycle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kimerad by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runDaemon starts the daemon and blocks until SIGINT/SIGTERM.
func runDaemon() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return run(ctx)
}

// run initializes all dependencies and blocks until the context is
// cancelled:
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Opens the persistent store and the embedding provider
//  4. Wires the engine (tension, SCARs, vaults, insights, mirror)
//  5. Starts the maintenance scheduler and the HTTP server
//  6. Performs graceful shutdown on context cancellation
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting kimerad",
		zap.String("version", version),
		zap.String("commit", gitCommit),
	)

	st, err := store.NewChromemStore(store.ChromemConfig{
		Path:       cfg.Store.Path,
		Compress:   cfg.Store.Compress,
		VectorSize: cfg.Store.VectorSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	embedder, err := embeddings.NewService(embeddings.ServiceConfig{
		URL:       cfg.Embedding.BaseURL,
		Dimension: cfg.Store.VectorSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	// The store and the provider must agree on dimension before any geoid
	// is written.
	if embedder.Dimension() != cfg.Store.VectorSize {
		return fmt.Errorf("embedding dimension %d does not match store vector size %d",
			embedder.Dimension(), cfg.Store.VectorSize)
	}

	tension := contradiction.NewEngine(contradiction.Config{
		ThresholdHigh:   cfg.Contradiction.ThresholdHigh,
		ThresholdLow:    cfg.Contradiction.ThresholdLow,
		WeightEmbedding: cfg.Contradiction.WeightEmbedding,
		WeightSymbolic:  cfg.Contradiction.WeightSymbolic,
		WeightLayer:     cfg.Contradiction.WeightLayer,
	})
	factory := scar.NewFactory(thermo.NewValidator(cfg.Thermo.Epsilon))

	vaults, err := vault.NewManager(vault.Config{
		ImbalanceThreshold: cfg.Vault.ImbalanceThreshold,
		CriticalRatio:      cfg.Vault.CriticalRatio,
	}, st, logger)
	if err != nil {
		return fmt.Errorf("creating vault manager: %w", err)
	}
	if err := vaults.Load(ctx); err != nil {
		return fmt.Errorf("loading vault counters: %w", err)
	}

	insights, err := insight.NewManager(insight.Config{
		Alpha:                cfg.Insight.Alpha,
		PromotionThreshold:   cfg.Insight.PromotionThreshold,
		DeprecationThreshold: cfg.Insight.DeprecationThreshold,
		ActivationCycles:     cfg.Insight.ActivationCycles,
		SustainCycles:        cfg.Insight.SustainCycles,
	}, st, logger)
	if err != nil {
		return fmt.Errorf("creating insight manager: %w", err)
	}

	// Optional graph mirror via NATS.
	var (
		outbox    *mirror.Outbox
		publisher *mirror.Publisher
		natsConn  *nats.Conn
	)
	if cfg.Mirror.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.Mirror.NATSURL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("connecting to mirror broker: %w", err)
		}
		defer natsConn.Close()

		outbox = mirror.NewOutbox()
		publisher, err = mirror.NewPublisher(mirror.Config{
			SubjectPrefix: cfg.Mirror.SubjectPrefix,
			MaxAttempts:   cfg.Mirror.MaxAttempts,
		}, natsConn, outbox, logger)
		if err != nil {
			return fmt.Errorf("creating mirror publisher: %w", err)
		}
		if err := publisher.Start(); err != nil {
			return fmt.Errorf("starting mirror publisher: %w", err)
		}
		defer publisher.Stop()
	}

	eng, err := engine.New(engine.Config{
		Cooldown:         cfg.Contradiction.Cooldown.Duration(),
		DecayLambda:      cfg.Maintenance.DecayLambda,
		WeightFloor:      cfg.Maintenance.WeightFloor,
		RetentionWindow:  cfg.Maintenance.RetentionWindow.Duration(),
		FusionThreshold:  cfg.Maintenance.FusionThreshold,
		CrystalThreshold: cfg.Maintenance.CrystalThreshold,
	}, st, embedder, tension, factory, vaults, insights, outbox, logger)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	sched, err := scheduler.New([]scheduler.Task{
		{Name: "decay", Interval: cfg.Maintenance.DecayInterval.Duration(), Run: eng.RunDecay},
		{Name: "fusion", Interval: cfg.Maintenance.FusionInterval.Duration(), Run: eng.RunFusion},
		{Name: "crystallization", Interval: cfg.Maintenance.CrystalInterval.Duration(), Run: eng.RunCrystallization},
		{Name: "insight-tick", Interval: cfg.Maintenance.InsightInterval.Duration(), Run: eng.RunInsightTick},
	}, logger)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	server, err := httpapi.NewServer(eng, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
