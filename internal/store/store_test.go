package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nelssec/assetsync/internal/models"
)

// getTestDSN returns the test database DSN from environment
func getTestDSN() string {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=assetsync password=assetsync_password dbname=assetsync_test sslmode=disable"
	}
	return dsn
}

// skipIfNoTestDB skips the test if no test database is available
func skipIfNoTestDB(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{
		DSN:          getTestDSN(),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Skipf("Skipping test, database not available: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Skipf("Skipping test, database not reachable: %v", err)
		return nil
	}

	return store
}

func testIntegrationRow(t *testing.T, st *Store, ctx context.Context) *models.Integration {
	t.Helper()
	integration := &models.Integration{
		Provider:    models.ProviderAWS,
		AccountID:   "123456789012",
		DisplayName: "test account",
		Regions:     models.StringArray{"us-east-1"},
		SyncCadence: models.CadenceManual,
	}
	if err := st.CreateIntegration(ctx, integration); err != nil {
		t.Fatalf("creating integration: %v", err)
	}
	t.Cleanup(func() {
		_ = st.DeleteIntegration(context.Background(), integration.ID)
	})
	return integration
}

func testAsset(integration *models.Integration, resourceID string) *models.Asset {
	return &models.Asset{
		IntegrationID: integration.ID,
		Provider:      integration.Provider,
		AccountID:     integration.AccountID,
		Region:        "us-east-1",
		Service:       "EC2",
		ResourceType:  "ec2_instance",
		ResourceID:    resourceID,
		Name:          "web-1",
		State:         models.AssetActive,
		Tags:          models.JSONB{"Environment": "production"},
		Environment:   models.EnvProduction,
		Criticality:   models.CriticalityUnknown,
	}
}

func TestStore_UpsertAsset(t *testing.T) {
	st := skipIfNoTestDB(t)
	if st == nil {
		return
	}
	defer st.Close()

	ctx := context.Background()
	integration := testIntegrationRow(t, st, ctx)

	resourceID := "arn:aws:ec2:us-east-1:123456789012:instance/i-upsert-test"
	asset := testAsset(integration, resourceID)

	outcome, err := st.UpsertAsset(ctx, asset)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Errorf("first upsert outcome = %q, want created", outcome)
	}

	// Same payload again is unchanged.
	again := testAsset(integration, resourceID)
	outcome, err = st.UpsertAsset(ctx, again)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if outcome != OutcomeUnchanged {
		t.Errorf("second upsert outcome = %q, want unchanged", outcome)
	}

	// A changed name is an update with a change history entry.
	renamed := testAsset(integration, resourceID)
	renamed.Name = "web-1-renamed"
	outcome, err = st.UpsertAsset(ctx, renamed)
	if err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Errorf("third upsert outcome = %q, want updated", outcome)
	}

	stored, err := st.GetAssetByResourceID(ctx, resourceID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Name != "web-1-renamed" {
		t.Errorf("name = %q", stored.Name)
	}
	if len(stored.ChangeHistory) == 0 {
		t.Error("expected a change history entry for the rename")
	}
}

func TestStore_UpsertPreservesManualOverride(t *testing.T) {
	st := skipIfNoTestDB(t)
	if st == nil {
		return
	}
	defer st.Close()

	ctx := context.Background()
	integration := testIntegrationRow(t, st, ctx)

	resourceID := "arn:aws:ec2:us-east-1:123456789012:instance/i-override-test"
	asset := testAsset(integration, resourceID)
	if _, err := st.UpsertAsset(ctx, asset); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	stored, err := st.GetAssetByResourceID(ctx, resourceID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := st.SetManualClassification(ctx, stored.ID, "criticality", "critical"); err != nil {
		t.Fatalf("manual classification: %v", err)
	}

	// A later sync carrying a different criticality must not win.
	resynced := testAsset(integration, resourceID)
	resynced.Criticality = models.CriticalityLow
	if _, err := st.UpsertAsset(ctx, resynced); err != nil {
		t.Fatalf("resync upsert: %v", err)
	}

	stored, err = st.GetAssetByResourceID(ctx, resourceID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Criticality != models.CriticalityCritical {
		t.Errorf("criticality = %q, manual override lost", stored.Criticality)
	}
	if !stored.Overridden("criticality") {
		t.Error("override flag missing")
	}
}

func TestStore_MarkStaleAssets(t *testing.T) {
	st := skipIfNoTestDB(t)
	if st == nil {
		return
	}
	defer st.Close()

	ctx := context.Background()
	integration := testIntegrationRow(t, st, ctx)

	keep := "arn:aws:ec2:us-east-1:123456789012:instance/i-keep"
	drop := "arn:aws:ec2:us-east-1:123456789012:instance/i-drop"
	for _, id := range []string{keep, drop} {
		if _, err := st.UpsertAsset(ctx, testAsset(integration, id)); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	stale, err := st.MarkStaleAssets(ctx, integration.ID, []string{keep})
	if err != nil {
		t.Fatalf("mark stale: %v", err)
	}
	if stale != 1 {
		t.Errorf("stale count = %d, want 1", stale)
	}

	kept, _ := st.GetAssetByResourceID(ctx, keep)
	if kept.State != models.AssetActive {
		t.Errorf("kept asset state = %q", kept.State)
	}
	dropped, _ := st.GetAssetByResourceID(ctx, drop)
	if dropped.State != models.AssetStale {
		t.Errorf("dropped asset state = %q", dropped.State)
	}

	// The next sync that sees the asset again revives it.
	if _, err := st.UpsertAsset(ctx, testAsset(integration, drop)); err != nil {
		t.Fatalf("revive upsert: %v", err)
	}
	revived, _ := st.GetAssetByResourceID(ctx, drop)
	if revived.State != models.AssetActive {
		t.Errorf("revived asset state = %q", revived.State)
	}
}

func TestStore_SyncJobSingleFlight(t *testing.T) {
	st := skipIfNoTestDB(t)
	if st == nil {
		return
	}
	defer st.Close()

	ctx := context.Background()
	integration := testIntegrationRow(t, st, ctx)

	first := &models.SyncJob{
		IntegrationID: integration.ID,
		Status:        models.SyncStatusQueued,
		Trigger:       models.TriggerManual,
	}
	created, err := st.CreateSyncJob(ctx, first)
	if err != nil {
		t.Fatalf("first job: %v", err)
	}
	if !created {
		t.Fatal("first job should be created")
	}

	second := &models.SyncJob{
		IntegrationID: integration.ID,
		Status:        models.SyncStatusQueued,
		Trigger:       models.TriggerManual,
	}
	created, err = st.CreateSyncJob(ctx, second)
	if err != nil {
		t.Fatalf("second job: %v", err)
	}
	if created {
		t.Fatal("second job must lose the single-flight race")
	}

	claimed, err := st.ClaimSyncJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatal("queued job should be claimable")
	}
	if claimed, _ := st.ClaimSyncJob(ctx, first.ID); claimed {
		t.Fatal("job must not be claimable twice")
	}

	// Terminal status is set exactly once.
	done, err := st.CompleteSyncJob(ctx, first.ID, models.SyncStatusCompleted,
		models.SyncProgress{}, models.SyncResults{}, time.Second)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done {
		t.Fatal("running job should complete")
	}
	if done, _ := st.CompleteSyncJob(ctx, first.ID, models.SyncStatusFailed,
		models.SyncProgress{}, models.SyncResults{}, time.Second); done {
		t.Fatal("terminal job must not change status again")
	}

	// With the first job settled, a new one can start.
	third := &models.SyncJob{
		IntegrationID: integration.ID,
		Status:        models.SyncStatusQueued,
		Trigger:       models.TriggerManual,
	}
	created, err = st.CreateSyncJob(ctx, third)
	if err != nil {
		t.Fatalf("third job: %v", err)
	}
	if !created {
		t.Fatal("settled integration should accept a new job")
	}
	if cancelled, _ := st.CancelSyncJob(ctx, third.ID); !cancelled {
		t.Fatal("queued job should be cancellable")
	}
}
