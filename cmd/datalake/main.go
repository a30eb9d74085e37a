package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/google/uuid"
	"github.com/straye-as/sports-datalake/internal/config"
	"github.com/straye-as/sports-datalake/internal/ingest"
	"github.com/straye-as/sports-datalake/internal/jobs"
	"github.com/straye-as/sports-datalake/internal/logger"
	"github.com/straye-as/sports-datalake/internal/outputs"
	"github.com/straye-as/sports-datalake/internal/provision"
	"github.com/straye-as/sports-datalake/internal/secrets"
	"github.com/straye-as/sports-datalake/internal/sportsdata"
	"github.com/straye-as/sports-datalake/internal/storage"
	"github.com/straye-as/sports-datalake/internal/warehouse"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load basic configuration first (for logging setup)
	basicCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	baseLog, err := logger.NewLogger(&basicCfg.Logging, &basicCfg.App)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = baseLog.Sync() }()

	log := logger.WithRun(baseLog, uuid.NewString())

	// Full configuration with secrets, validated
	cfg, err := config.LoadWithSecrets(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to load config with secrets: %w", err)
	}

	if cfg.Schedule.Cron != "" {
		if err := jobs.ValidateCron(cfg.Schedule.Cron); err != nil {
			return err
		}
	}

	log.Info("Starting data lake setup",
		zap.String("subscription_id", cfg.Azure.SubscriptionID),
		zap.String("resource_group", cfg.Azure.ResourceGroup),
		zap.String("location", cfg.Azure.Location),
	)

	cred, err := provision.NewCredential()
	if err != nil {
		return err
	}

	clients, err := provision.NewARMClients(cfg.Azure.SubscriptionID, cred, nil)
	if err != nil {
		return err
	}

	provisioner := provision.NewProvisioner(clients, cfg.Storage.EndpointSuffix, log)
	storageSpec, workspaceSpec := provision.SpecsFromConfig(cfg)

	out, err := provisioner.Provision(ctx, storageSpec, workspaceSpec)
	if err != nil {
		return fmt.Errorf("provisioning failed: %w", err)
	}

	sink, err := newOutputsSink(cfg, cred, log)
	if err != nil {
		return err
	}
	if err := sink.Save(ctx, out); err != nil {
		return fmt.Errorf("failed to save provisioning outputs: %w", err)
	}

	verifyWarehouse(ctx, cfg, out.SQLEndpoint, log)

	store, err := storage.NewStorage(&cfg.Storage, out.ConnectionString, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	pipeline := ingest.NewPipeline(
		sportsdata.NewClient(&cfg.SportsData, log),
		ingest.NewUploader(store, cfg.Storage.BlobName, cfg.Storage.ContentType, log),
		log,
	)

	if _, err := pipeline.Run(ctx); err != nil {
		return err
	}

	log.Info("Data lake setup complete")

	if cfg.Schedule.Cron == "" {
		return nil
	}
	return runSchedule(cfg, pipeline, baseLog)
}

// newOutputsSink returns the sink selected by outputs.mode
func newOutputsSink(cfg *config.Config, cred azcore.TokenCredential, log *zap.Logger) (outputs.Sink, error) {
	switch cfg.Outputs.Mode {
	case "vault":
		vault, err := secrets.NewVaultClient(&secrets.VaultConfig{
			VaultName:    cfg.Secrets.KeyVaultName,
			CacheEnabled: cfg.Secrets.CacheEnabled,
			CacheTTL:     time.Duration(cfg.Secrets.CacheTTL) * time.Second,
			Credential:   cred,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Key Vault for outputs: %w", err)
		}
		return outputs.NewVaultSink(vault, log), nil
	default:
		return outputs.NewEnvFileSink(cfg.Outputs.EnvFile, log), nil
	}
}

// verifyWarehouse checks the SQL endpoint when enabled. Failures are reported but do not stop the run.
func verifyWarehouse(ctx context.Context, cfg *config.Config, endpoint string, log *zap.Logger) {
	client, err := warehouse.NewClient(endpoint, cfg.Workspace.SQLAdminLogin, cfg.Workspace.SQLAdminPassword, &cfg.Warehouse, log)
	if err != nil {
		log.Warn("SQL endpoint verification failed", zap.Error(err))
		return
	}
	if !client.IsEnabled() {
		return
	}
	defer func() { _ = client.Close() }()

	version, err := client.ServerVersion(ctx)
	if err != nil {
		log.Warn("Failed to read SQL endpoint version", zap.Error(err))
		return
	}
	log.Info("SQL endpoint verified", zap.String("version", version))
}

// runSchedule refreshes the dataset on cfg.Schedule.Cron until SIGINT or SIGTERM
func runSchedule(cfg *config.Config, pipeline *ingest.Pipeline, log *zap.Logger) error {
	scheduler := jobs.NewScheduler(log)
	if err := jobs.RegisterIngestJob(scheduler, pipeline, log, cfg.Schedule.Cron, cfg.Schedule.TimeoutDuration()); err != nil {
		return fmt.Errorf("failed to register refresh job: %w", err)
	}
	scheduler.Start()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	log.Info("Shutdown signal received", zap.String("signal", sig.String()))

	<-scheduler.Stop().Done()
	log.Info("Scheduler stopped")
	return nil
}
