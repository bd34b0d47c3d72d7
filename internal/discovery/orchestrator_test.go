package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/assetsync/internal/classify"
	"github.com/nelssec/assetsync/internal/connectors"
	"github.com/nelssec/assetsync/internal/connectors/mock"
	"github.com/nelssec/assetsync/internal/models"
	"github.com/nelssec/assetsync/internal/store"
)

// fakeStore is an in-memory implementation of the orchestrator's Store.
type fakeStore struct {
	mu sync.Mutex

	integration *models.Integration
	job         *models.SyncJob
	assets      map[string]*models.Asset
	rules       []models.ClassificationRule
	applied     map[uuid.UUID]int

	staleCalled    bool
	staleDiscover  []string
	lastSyncStatus string
	logLines       []string
}

func newFakeStore(integration *models.Integration) *fakeStore {
	return &fakeStore{
		integration: integration,
		job: &models.SyncJob{
			ID:            uuid.New(),
			IntegrationID: integration.ID,
			Status:        models.SyncStatusQueued,
			Trigger:       models.TriggerManual,
		},
		assets: map[string]*models.Asset{},
	}
}

func (f *fakeStore) GetIntegration(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	return f.integration, nil
}

func (f *fakeStore) UpdateIntegrationStatus(ctx context.Context, id uuid.UUID, status models.IntegrationStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.integration.Status = status
	f.integration.StatusMessage = message
	return nil
}

func (f *fakeStore) UpdateIntegrationLastSync(ctx context.Context, id uuid.UUID, status string, counts models.JSONB) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSyncStatus = status
	f.integration.LastSyncCounts = counts
	return nil
}

func (f *fakeStore) GetSyncJob(ctx context.Context, id uuid.UUID) (*models.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := *f.job
	return &job, nil
}

func (f *fakeStore) ClaimSyncJob(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job.Status != models.SyncStatusQueued {
		return false, nil
	}
	f.job.Status = models.SyncStatusRunning
	now := time.Now()
	f.job.StartedAt = &now
	return true, nil
}

func (f *fakeStore) UpdateSyncJobProgress(ctx context.Context, id uuid.UUID, progress models.SyncProgress, results models.SyncResults) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job.Status != models.SyncStatusRunning {
		return nil
	}
	f.job.Progress = progress
	f.job.Results = results
	return nil
}

func (f *fakeStore) AppendSyncJobLog(ctx context.Context, id uuid.UUID, level, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logLines = append(f.logLines, level+": "+message)
	return nil
}

func (f *fakeStore) CompleteSyncJob(ctx context.Context, id uuid.UUID, status models.SyncStatus,
	progress models.SyncProgress, results models.SyncResults, duration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job.Status.IsTerminal() {
		return false, nil
	}
	f.job.Status = status
	f.job.Progress = progress
	f.job.Results = results
	f.job.DurationMS = duration.Milliseconds()
	now := time.Now()
	f.job.CompletedAt = &now
	return true, nil
}

func (f *fakeStore) UpsertAsset(ctx context.Context, asset *models.Asset) (store.UpsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.assets[asset.ResourceID]; ok {
		if existing.Name != asset.Name {
			f.assets[asset.ResourceID] = asset
			return store.OutcomeUpdated, nil
		}
		return store.OutcomeUnchanged, nil
	}
	asset.ID = uuid.New()
	f.assets[asset.ResourceID] = asset
	return store.OutcomeCreated, nil
}

func (f *fakeStore) MarkStaleAssets(ctx context.Context, integrationID uuid.UUID, discovered []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staleCalled = true
	f.staleDiscover = discovered
	seen := make(map[string]bool, len(discovered))
	for _, id := range discovered {
		seen[id] = true
	}
	var stale int64
	for id, asset := range f.assets {
		if asset.State == models.AssetActive && !seen[id] {
			asset.State = models.AssetStale
			stale++
		}
	}
	return stale, nil
}

// The rule-engine store surface, so a real classification engine can run
// against the same fixtures.

func (f *fakeStore) ListRules(ctx context.Context, enabledOnly bool) ([]models.ClassificationRule, error) {
	return f.rules, nil
}

func (f *fakeStore) ListAssetsByIntegration(ctx context.Context, integrationID uuid.UUID) ([]models.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Asset, 0, len(f.assets))
	for _, asset := range f.assets {
		out = append(out, *asset)
	}
	return out, nil
}

func (f *fakeStore) UpdateAssetClassification(ctx context.Context, assetID uuid.UUID,
	env models.Environment, owner, department, dataClassification string, criticality models.Criticality) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, asset := range f.assets {
		if asset.ID == assetID {
			asset.Environment = env
			asset.Owner = owner
			asset.Department = department
			asset.DataClassification = dataClassification
			asset.Criticality = criticality
			return nil
		}
	}
	return nil
}

func (f *fakeStore) IncrementRulesApplied(ctx context.Context, ids []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applied == nil {
		f.applied = map[uuid.UUID]int{}
	}
	for _, id := range ids {
		f.applied[id]++
	}
	return nil
}

// failingLister fails its connection test.
type failingLister struct{}

func (failingLister) Provider() models.Provider { return models.ProviderAWS }
func (failingLister) AccountID() string         { return "" }
func (failingLister) Close() error              { return nil }
func (failingLister) TestConnection(ctx context.Context) connectors.ConnectionResult {
	return connectors.ConnectionResult{Error: "access denied"}
}
func (failingLister) List(ctx context.Context, service, query, region string) ([]connectors.RawResource, error) {
	return nil, errors.New("unreachable")
}

func mockFactory(ctx context.Context, integration *models.Integration) (connectors.Lister, error) {
	return mock.New(), nil
}

func newTestOrchestrator(st Store, factory ListerFactory) *Orchestrator {
	return NewOrchestrator(st, factory, Options{FlushEvery: 1})
}

func TestRunFullSync(t *testing.T) {
	integration := &models.Integration{
		ID:        uuid.New(),
		Provider:  models.ProviderAWS,
		AccountID: "123456789012",
		Regions:   models.StringArray{"us-east-1"},
		Status:    models.IntegrationPending,
	}
	fs := newFakeStore(integration)
	o := newTestOrchestrator(fs, mockFactory)

	if err := o.Run(context.Background(), integration.ID, fs.job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	if fs.job.Status != models.SyncStatusCompleted {
		t.Fatalf("job status = %q, want completed", fs.job.Status)
	}
	if integration.Status != models.IntegrationConnected {
		t.Errorf("integration status = %q, want connected", integration.Status)
	}
	if fs.lastSyncStatus != string(models.SyncStatusCompleted) {
		t.Errorf("last sync status = %q", fs.lastSyncStatus)
	}

	results := fs.job.Results
	if results.TotalAssets == 0 || results.TotalAssets != results.NewAssets {
		t.Errorf("first sync should create everything: total=%d new=%d", results.TotalAssets, results.NewAssets)
	}
	if results.TotalAssets != len(fs.assets) {
		t.Errorf("total %d does not match stored assets %d", results.TotalAssets, len(fs.assets))
	}
	if !fs.staleCalled {
		t.Error("stale pass did not run")
	}
	if len(fs.staleDiscover) != results.TotalAssets {
		t.Errorf("discovered set has %d ids, want %d", len(fs.staleDiscover), results.TotalAssets)
	}
	if fs.job.Progress.ServicesCompleted != fs.job.Progress.ServicesTotal {
		t.Errorf("services completed %d of %d", fs.job.Progress.ServicesCompleted, fs.job.Progress.ServicesTotal)
	}
}

// TestRunClassifiesDiscoveredAssets drives a full sync over the fixture
// account with the rule engine wired in: the production-tagged instance and
// the open security group come out classified, not just discovered.
func TestRunClassifiesDiscoveredAssets(t *testing.T) {
	integration := &models.Integration{
		ID:        uuid.New(),
		Provider:  models.ProviderAWS,
		AccountID: "123456789012",
		Regions:   models.StringArray{"us-east-1"},
		Services:  models.StringArray{"EC2"},
	}
	fs := newFakeStore(integration)
	fs.rules = []models.ClassificationRule{
		{
			ID:       uuid.New(),
			Name:     "Production by tag",
			Enabled:  true,
			Priority: 10,
			RuleType: models.RuleTagMatch,
			Condition: models.RuleCondition{
				TagKey: "Environment", TagValue: "production",
			},
			Action: models.RuleAction{Environment: models.EnvProduction},
		},
		{
			ID:       uuid.New(),
			Name:     "Internet exposed resources",
			Enabled:  true,
			Priority: 20,
			RuleType: models.RuleExposureCheck,
			Action:   models.RuleAction{Criticality: models.CriticalityHigh},
		},
	}

	o := NewOrchestrator(fs, mockFactory, Options{
		FlushEvery: 1,
		Classifier: classify.NewEngine(fs, nil),
	})
	if err := o.Run(context.Background(), integration.ID, fs.job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fs.job.Status != models.SyncStatusCompleted {
		t.Fatalf("job status = %q, want completed", fs.job.Status)
	}

	instance := assetByNativeID(t, fs, "i-0web00001")
	if instance.Environment != models.EnvProduction {
		t.Errorf("instance environment = %q, want production", instance.Environment)
	}

	group := assetByNativeID(t, fs, "sg-0web1234")
	if !group.InternetExposed {
		t.Fatal("open security group should be internet exposed")
	}
	if group.Criticality != models.CriticalityHigh {
		t.Errorf("exposed group criticality = %q, want high", group.Criticality)
	}

	for _, rule := range fs.rules {
		if fs.applied[rule.ID] == 0 {
			t.Errorf("rule %q never counted an application", rule.Name)
		}
	}
}

func assetByNativeID(t *testing.T, fs *fakeStore, nativeID string) *models.Asset {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, asset := range fs.assets {
		if strings.HasSuffix(asset.ResourceID, nativeID) {
			return asset
		}
	}
	t.Fatalf("asset %s not discovered", nativeID)
	return nil
}

func TestRunSecondSyncUnchanged(t *testing.T) {
	integration := &models.Integration{
		ID:        uuid.New(),
		Provider:  models.ProviderAWS,
		AccountID: "123456789012",
		Regions:   models.StringArray{"us-east-1"},
	}
	fs := newFakeStore(integration)
	o := newTestOrchestrator(fs, mockFactory)

	if err := o.Run(context.Background(), integration.ID, fs.job.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Reset the job and run again against the same fixtures.
	fs.job = &models.SyncJob{
		ID:            uuid.New(),
		IntegrationID: integration.ID,
		Status:        models.SyncStatusQueued,
	}
	if err := o.Run(context.Background(), integration.ID, fs.job.ID); err != nil {
		t.Fatalf("second run: %v", err)
	}

	results := fs.job.Results
	if results.NewAssets != 0 {
		t.Errorf("second sync created %d assets", results.NewAssets)
	}
	if results.UnchangedAssets != results.TotalAssets {
		t.Errorf("second sync should be all unchanged: total=%d unchanged=%d", results.TotalAssets, results.UnchangedAssets)
	}
	if results.StaleAssets != 0 {
		t.Errorf("second sync marked %d stale", results.StaleAssets)
	}
}

func TestRunConnectionFailure(t *testing.T) {
	integration := &models.Integration{
		ID:        uuid.New(),
		Provider:  models.ProviderAWS,
		AccountID: "123456789012",
	}
	fs := newFakeStore(integration)
	o := newTestOrchestrator(fs, func(ctx context.Context, integration *models.Integration) (connectors.Lister, error) {
		return failingLister{}, nil
	})

	err := o.Run(context.Background(), integration.ID, fs.job.ID)
	if err == nil {
		t.Fatal("expected error for failed connection test")
	}
	if fs.job.Status != models.SyncStatusFailed {
		t.Errorf("job status = %q, want failed", fs.job.Status)
	}
	if integration.Status != models.IntegrationFailed {
		t.Errorf("integration status = %q, want failed", integration.Status)
	}
	if fs.staleCalled {
		t.Error("stale pass must not run on connection failure")
	}
	if len(fs.job.Results.Errors) == 0 {
		t.Error("expected a recorded sync error")
	}
}

func TestRunSkipsClaimedJob(t *testing.T) {
	integration := &models.Integration{ID: uuid.New(), Provider: models.ProviderAWS}
	fs := newFakeStore(integration)
	fs.job.Status = models.SyncStatusRunning

	o := newTestOrchestrator(fs, mockFactory)
	if err := o.Run(context.Background(), integration.ID, fs.job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fs.assets) != 0 {
		t.Error("unclaimable job must not sync anything")
	}
}

func TestRunCancelledJobSkipsStalePass(t *testing.T) {
	integration := &models.Integration{
		ID:        uuid.New(),
		Provider:  models.ProviderAWS,
		AccountID: "123456789012",
		Regions:   models.StringArray{"us-east-1"},
	}
	fs := newFakeStore(integration)
	o := newTestOrchestrator(fs, func(ctx context.Context, integration *models.Integration) (connectors.Lister, error) {
		return &cancellingLister{inner: mock.New(), fs: fs}, nil
	})

	if err := o.Run(context.Background(), integration.ID, fs.job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fs.staleCalled {
		t.Error("cancelled sync must skip the stale pass")
	}
	if fs.job.Status != models.SyncStatusCancelled {
		t.Errorf("job status = %q, want cancelled", fs.job.Status)
	}
}

// cancellingLister flips the job to cancelled after the first listing, so the
// next interrupt check observes it.
type cancellingLister struct {
	inner *mock.Lister
	fs    *fakeStore
	once  sync.Once
}

func (c *cancellingLister) Provider() models.Provider { return c.inner.Provider() }
func (c *cancellingLister) AccountID() string         { return c.inner.AccountID() }
func (c *cancellingLister) Close() error              { return c.inner.Close() }
func (c *cancellingLister) TestConnection(ctx context.Context) connectors.ConnectionResult {
	return c.inner.TestConnection(ctx)
}
func (c *cancellingLister) List(ctx context.Context, service, query, region string) ([]connectors.RawResource, error) {
	c.once.Do(func() {
		c.fs.mu.Lock()
		now := time.Now()
		c.fs.job.Status = models.SyncStatusCancelled
		c.fs.job.CompletedAt = &now
		c.fs.mu.Unlock()
	})
	return c.inner.List(ctx, service, query, region)
}
