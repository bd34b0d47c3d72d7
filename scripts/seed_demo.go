// Seeds a demo integration backed by the fixture connector and runs one sync
// against it, so a fresh database has something to look at.
//
// Usage: go run scripts/seed_demo.go
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nelssec/assetsync/internal/classify"
	"github.com/nelssec/assetsync/internal/config"
	"github.com/nelssec/assetsync/internal/connectors"
	"github.com/nelssec/assetsync/internal/connectors/mock"
	"github.com/nelssec/assetsync/internal/discovery"
	"github.com/nelssec/assetsync/internal/models"
	"github.com/nelssec/assetsync/internal/relationships"
	"github.com/nelssec/assetsync/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.New(store.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	demo := mock.New()
	integration, err := st.GetIntegrationByAccount(ctx, models.ProviderAWS, demo.AccountID())
	if err != nil {
		return err
	}
	if integration == nil {
		integration = &models.Integration{
			Provider:       models.ProviderAWS,
			AccountID:      demo.AccountID(),
			DisplayName:    "Demo Account",
			CredentialsRef: models.JSONB{"mock": true},
			Regions:        models.StringArray{"us-east-1"},
			SyncCadence:    models.CadenceManual,
		}
		if err := st.CreateIntegration(ctx, integration); err != nil {
			return err
		}
		fmt.Printf("created demo integration %s\n", integration.ID)
	}

	count, err := st.CountRules(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		for _, rule := range classify.DefaultRules() {
			r := rule
			if err := st.CreateRule(ctx, &r); err != nil {
				return err
			}
		}
	}

	job := &models.SyncJob{IntegrationID: integration.ID, Trigger: models.TriggerManual}
	created, err := st.CreateSyncJob(ctx, job)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("integration %s already has an active sync", integration.ID)
	}

	orchestrator := discovery.NewOrchestrator(st,
		func(ctx context.Context, integration *models.Integration) (connectors.Lister, error) {
			return mock.New(), nil
		},
		discovery.Options{
			Classifier:    classify.NewEngine(st, nil),
			Relationships: relationships.NewBuilder(st, nil, nil),
		})

	if err := orchestrator.Run(ctx, integration.ID, job.ID); err != nil {
		return err
	}

	synced, err := st.GetSyncJob(ctx, job.ID)
	if err != nil {
		return err
	}
	fmt.Printf("sync %s: %d assets (%d new, %d updated, %d stale)\n",
		synced.Status, synced.Results.TotalAssets, synced.Results.NewAssets,
		synced.Results.UpdatedAssets, synced.Results.StaleAssets)
	return nil
}
