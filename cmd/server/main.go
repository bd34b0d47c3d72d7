package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nelssec/assetsync/internal/api"
	"github.com/nelssec/assetsync/internal/classify"
	"github.com/nelssec/assetsync/internal/config"
	"github.com/nelssec/assetsync/internal/connectors"
	awsconn "github.com/nelssec/assetsync/internal/connectors/aws"
	"github.com/nelssec/assetsync/internal/connectors/mock"
	"github.com/nelssec/assetsync/internal/discovery"
	"github.com/nelssec/assetsync/internal/models"
	"github.com/nelssec/assetsync/internal/progress"
	"github.com/nelssec/assetsync/internal/relationships"
	"github.com/nelssec/assetsync/internal/scheduler"
	"github.com/nelssec/assetsync/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seedDefaultRules(ctx, st, logger); err != nil {
		logger.Error("seeding default rules", "error", err)
	}

	var cache *progress.Cache
	if c, err := progress.New(progress.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}); err != nil {
		logger.Warn("progress cache unavailable, polling falls back to the database", "error", err)
	} else {
		cache = c
		defer cache.Close()
	}

	var graph *relationships.Graph
	if cfg.Neo4j.Enabled {
		g, err := relationships.NewGraph(relationships.GraphConfig{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
		})
		if err != nil {
			logger.Warn("graph mirror unavailable", "error", err)
		} else {
			graph = g
			defer graph.Close(context.Background())
		}
	}

	var mirror relationships.Mirror
	if graph != nil {
		mirror = graph
	}
	builder := relationships.NewBuilder(st, mirror, logger)
	engine := classify.NewEngine(st, logger)

	listers := listerFactory(cfg)
	orchestrator := discovery.NewOrchestrator(st, listers, discovery.Options{
		Classifier:    engine,
		Relationships: builder,
		Cache:         cache,
		Logger:        logger,
		FlushEvery:    cfg.Sync.ProgressFlushItems,
		SyncTimeout:   cfg.Sync.SyncTimeout,
		DefaultRegion: cfg.Sync.DefaultRegion,
	})

	sched := scheduler.New(st, orchestrator, logger)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	server := api.NewServer(cfg, api.Deps{
		Store:     st,
		Scheduler: sched,
		Engine:    engine,
		Cache:     cache,
		Listers:   api.ListerFactory(listers),
		Logger:    logger,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting asset sync server", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// listerFactory builds provider connectors per integration. Integrations
// whose credentials_ref carries mock: true get the fixture connector, which
// keeps local development off real cloud accounts.
func listerFactory(cfg *config.Config) discovery.ListerFactory {
	return func(ctx context.Context, integration *models.Integration) (connectors.Lister, error) {
		if useMock, _ := integration.CredentialsRef["mock"].(bool); useMock {
			return mock.New(), nil
		}

		region := cfg.AWS.Region
		if len(integration.Regions) > 0 {
			region = integration.Regions[0]
		}
		roleARN, _ := integration.CredentialsRef["assume_role_arn"].(string)
		if roleARN == "" {
			roleARN = cfg.AWS.AssumeRoleARN
		}
		externalID, _ := integration.CredentialsRef["external_id"].(string)
		if externalID == "" {
			externalID = cfg.AWS.ExternalID
		}

		return awsconn.New(ctx, awsconn.Config{
			Region:        region,
			AssumeRoleARN: roleARN,
			ExternalID:    externalID,
		})
	}
}

// seedDefaultRules installs the starter rule set once, on an empty table.
func seedDefaultRules(ctx context.Context, st *store.Store, logger *slog.Logger) error {
	count, err := st.CountRules(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, rule := range classify.DefaultRules() {
		r := rule
		if err := st.CreateRule(ctx, &r); err != nil {
			return err
		}
	}
	logger.Info("seeded default classification rules", "count", len(classify.DefaultRules()))
	return nil
}
