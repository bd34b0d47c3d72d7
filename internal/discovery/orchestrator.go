package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/assetsync/internal/connectors"
	"github.com/nelssec/assetsync/internal/models"
	"github.com/nelssec/assetsync/internal/store"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetIntegration(ctx context.Context, id uuid.UUID) (*models.Integration, error)
	UpdateIntegrationStatus(ctx context.Context, id uuid.UUID, status models.IntegrationStatus, message string) error
	UpdateIntegrationLastSync(ctx context.Context, id uuid.UUID, status string, counts models.JSONB) error

	GetSyncJob(ctx context.Context, id uuid.UUID) (*models.SyncJob, error)
	ClaimSyncJob(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateSyncJobProgress(ctx context.Context, id uuid.UUID, progress models.SyncProgress, results models.SyncResults) error
	AppendSyncJobLog(ctx context.Context, id uuid.UUID, level, message string) error
	CompleteSyncJob(ctx context.Context, id uuid.UUID, status models.SyncStatus,
		progress models.SyncProgress, results models.SyncResults, duration time.Duration) (bool, error)

	UpsertAsset(ctx context.Context, asset *models.Asset) (store.UpsertOutcome, error)
	MarkStaleAssets(ctx context.Context, integrationID uuid.UUID, discovered []string) (int64, error)
}

// ListerFactory builds a provider lister for an integration's credentials.
type ListerFactory func(ctx context.Context, integration *models.Integration) (connectors.Lister, error)

// Classifier runs the rule engine over an integration's assets after a sync.
type Classifier interface {
	ClassifyIntegration(ctx context.Context, integrationID uuid.UUID) (int, error)
}

// RelationshipBuilder derives and persists cross-asset edges after a sync.
type RelationshipBuilder interface {
	BuildForIntegration(ctx context.Context, integrationID uuid.UUID) error
}

// ProgressCache mirrors in-flight progress to a fast read path. Best effort;
// failures never affect the sync.
type ProgressCache interface {
	SetProgress(ctx context.Context, jobID uuid.UUID, progress models.SyncProgress) error
	ClearProgress(ctx context.Context, jobID uuid.UUID) error
}

// Orchestrator drives one sync job end to end: connection check, the
// service/region/query listing loop, normalization and upserts, the stale
// pass, then relationship building and classification.
type Orchestrator struct {
	store         Store
	listers       ListerFactory
	classifier    Classifier
	relationships RelationshipBuilder
	cache         ProgressCache
	logger        *slog.Logger

	flushEvery    int
	syncTimeout   time.Duration
	defaultRegion string
}

type Options struct {
	Classifier    Classifier
	Relationships RelationshipBuilder
	Cache         ProgressCache
	Logger        *slog.Logger
	FlushEvery    int
	SyncTimeout   time.Duration
	DefaultRegion string
}

func NewOrchestrator(st Store, listers ListerFactory, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 25
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Minute
	}
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = "us-east-1"
	}
	return &Orchestrator{
		store:         st,
		listers:       listers,
		classifier:    opts.Classifier,
		relationships: opts.Relationships,
		cache:         opts.Cache,
		logger:        opts.Logger,
		flushEvery:    opts.FlushEvery,
		syncTimeout:   opts.SyncTimeout,
		defaultRegion: opts.DefaultRegion,
	}
}

// run-local state for one sync.
type syncRun struct {
	integration *models.Integration
	jobID       uuid.UUID
	lister      connectors.Lister

	progress   models.SyncProgress
	results    models.SyncResults
	discovered []string
	sinceFlush int
}

// Run executes one sync job. The claim is the single-flight gate: if the job
// was already claimed or cancelled, Run returns without doing anything.
func (o *Orchestrator) Run(ctx context.Context, integrationID, jobID uuid.UUID) error {
	claimed, err := o.store.ClaimSyncJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("claiming sync job: %w", err)
	}
	if !claimed {
		o.logger.Info("sync job not claimable, skipping", "job_id", jobID)
		return nil
	}

	integration, err := o.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return fmt.Errorf("loading integration: %w", err)
	}
	if integration == nil {
		return fmt.Errorf("integration %s not found", integrationID)
	}

	ctx, cancel := context.WithTimeout(ctx, o.syncTimeout)
	defer cancel()

	start := time.Now()
	run := &syncRun{integration: integration, jobID: jobID}

	lister, err := o.listers(ctx, integration)
	if err != nil {
		return o.fail(ctx, run, start, fmt.Sprintf("building connector: %v", err))
	}
	defer lister.Close()
	run.lister = lister

	conn := lister.TestConnection(ctx)
	if !conn.Success {
		o.store.UpdateIntegrationStatus(ctx, integration.ID, models.IntegrationFailed, conn.Error)
		return o.fail(ctx, run, start, fmt.Sprintf("connection test failed: %s", conn.Error))
	}
	o.store.UpdateIntegrationStatus(ctx, integration.ID, models.IntegrationConnected, "")
	o.log(ctx, run, "info", fmt.Sprintf("connected to account %s", conn.AccountID))

	regions := integration.Regions
	if len(regions) == 0 {
		regions = []string{o.defaultRegion}
	}

	var services []ServiceDef
	total := 0
	for _, def := range Registry {
		if !integration.ServiceEnabled(def.Name) {
			continue
		}
		services = append(services, def)
		if def.Global {
			total++
		} else {
			total += len(regions)
		}
	}
	run.progress.ServicesTotal = total

	cancelled := false
	timedOut := false

scan:
	for _, def := range services {
		serviceRegions := regions
		if def.Global {
			// Account-scoped: list once against the first enabled region.
			serviceRegions = regions[:1]
		}
		for _, region := range serviceRegions {
			run.progress.CurrentService = def.Name
			run.progress.CurrentRegion = region
			o.flushProgress(ctx, run, true)

			for _, query := range def.Queries {
				switch o.checkInterrupt(ctx, run) {
				case interruptCancelled:
					cancelled = true
					break scan
				case interruptTimeout:
					timedOut = true
					break scan
				}
				o.scanQuery(ctx, run, def, query, region)
			}
			run.progress.ServicesCompleted++
		}
	}

	run.progress.CurrentService = ""
	run.progress.CurrentRegion = ""
	o.flushProgress(ctx, run, true)

	switch {
	case cancelled:
		// Terminal status was already set by the cancel request. Skip the
		// stale pass: a partial discovered set would mark live assets stale.
		o.log(ctx, run, "warn", "sync cancelled, skipping stale pass")
		o.finishCache(run)
		return nil

	case timedOut:
		return o.fail(context.WithoutCancel(ctx), run, start, "sync timed out")
	}

	stale, err := o.store.MarkStaleAssets(ctx, integration.ID, run.discovered)
	if err != nil {
		o.recordError(run, "stale", "", fmt.Sprintf("marking stale assets: %v", err))
	} else {
		run.results.StaleAssets = int(stale)
	}

	if o.relationships != nil {
		if err := o.relationships.BuildForIntegration(ctx, integration.ID); err != nil {
			o.recordError(run, "relationships", "", err.Error())
		}
	}
	if o.classifier != nil {
		if applied, err := o.classifier.ClassifyIntegration(ctx, integration.ID); err != nil {
			o.recordError(run, "classification", "", err.Error())
		} else if applied > 0 {
			o.log(ctx, run, "info", fmt.Sprintf("classification rules applied to %d assets", applied))
		}
	}

	duration := time.Since(start)
	if _, err := o.store.CompleteSyncJob(ctx, jobID, models.SyncStatusCompleted, run.progress, run.results, duration); err != nil {
		return fmt.Errorf("completing sync job: %w", err)
	}
	o.store.UpdateIntegrationLastSync(ctx, integration.ID, string(models.SyncStatusCompleted), models.JSONB{
		"total":     run.results.TotalAssets,
		"new":       run.results.NewAssets,
		"updated":   run.results.UpdatedAssets,
		"unchanged": run.results.UnchangedAssets,
		"stale":     run.results.StaleAssets,
		"errors":    len(run.results.Errors),
	})
	o.finishCache(run)

	o.logger.Info("sync completed",
		"integration_id", integration.ID,
		"job_id", jobID,
		"total", run.results.TotalAssets,
		"new", run.results.NewAssets,
		"updated", run.results.UpdatedAssets,
		"stale", run.results.StaleAssets,
		"errors", len(run.results.Errors),
		"duration", duration,
	)
	return nil
}

// scanQuery lists one query in one region and upserts everything it returns.
// Listing errors are recorded and the sync moves on.
func (o *Orchestrator) scanQuery(ctx context.Context, run *syncRun, def ServiceDef, query, region string) {
	items, err := run.lister.List(ctx, def.Name, query, region)
	if err != nil {
		o.recordError(run, def.Name, region, fmt.Sprintf("listing %s: %v", query, err))
		o.log(ctx, run, "error", fmt.Sprintf("%s/%s in %s: %v", def.Name, query, region, err))
		return
	}

	for _, item := range items {
		asset, err := Normalize(run.integration, item, def.Name, region)
		if err != nil {
			o.recordError(run, def.Name, region, err.Error())
			continue
		}
		outcome, err := o.store.UpsertAsset(ctx, asset)
		if err != nil {
			o.recordError(run, def.Name, region, fmt.Sprintf("upserting %s: %v", asset.ResourceID, err))
			continue
		}

		run.discovered = append(run.discovered, asset.ResourceID)
		run.results.TotalAssets++
		switch outcome {
		case store.OutcomeCreated:
			run.results.NewAssets++
		case store.OutcomeUpdated:
			run.results.UpdatedAssets++
		case store.OutcomeUnchanged:
			run.results.UnchangedAssets++
		}
		run.progress.AssetsDiscovered++
		run.sinceFlush++
		o.flushProgress(ctx, run, false)
	}
}

type interrupt int

const (
	interruptNone interrupt = iota
	interruptCancelled
	interruptTimeout
)

// checkInterrupt is the cooperative cancellation point, consulted before
// each query so a cancel request lands without waiting out a full scan.
func (o *Orchestrator) checkInterrupt(ctx context.Context, run *syncRun) interrupt {
	if ctx.Err() != nil {
		return interruptTimeout
	}
	job, err := o.store.GetSyncJob(ctx, run.jobID)
	if err != nil || job == nil {
		return interruptNone
	}
	if job.Status == models.SyncStatusCancelled {
		return interruptCancelled
	}
	return interruptNone
}

func (o *Orchestrator) flushProgress(ctx context.Context, run *syncRun, force bool) {
	if !force && run.sinceFlush < o.flushEvery {
		return
	}
	run.sinceFlush = 0
	if err := o.store.UpdateSyncJobProgress(ctx, run.jobID, run.progress, run.results); err != nil {
		o.logger.Warn("flushing sync progress", "job_id", run.jobID, "error", err)
	}
	if o.cache != nil {
		if err := o.cache.SetProgress(ctx, run.jobID, run.progress); err != nil {
			o.logger.Debug("caching sync progress", "job_id", run.jobID, "error", err)
		}
	}
}

func (o *Orchestrator) recordError(run *syncRun, service, region, message string) {
	run.results.Errors = append(run.results.Errors, models.SyncError{
		Service: service,
		Region:  region,
		Message: message,
	})
}

func (o *Orchestrator) log(ctx context.Context, run *syncRun, level, message string) {
	if err := o.store.AppendSyncJobLog(ctx, run.jobID, level, message); err != nil {
		o.logger.Warn("appending sync job log", "job_id", run.jobID, "error", err)
	}
}

// fail records a fatal sync failure: terminal status, last-sync bookkeeping,
// and the failure reason in the job log.
func (o *Orchestrator) fail(ctx context.Context, run *syncRun, start time.Time, reason string) error {
	o.log(ctx, run, "error", reason)
	o.recordError(run, "", "", reason)
	if _, err := o.store.CompleteSyncJob(ctx, run.jobID, models.SyncStatusFailed, run.progress, run.results, time.Since(start)); err != nil {
		o.logger.Error("completing failed sync job", "job_id", run.jobID, "error", err)
	}
	o.store.UpdateIntegrationLastSync(ctx, run.integration.ID, string(models.SyncStatusFailed), models.JSONB{
		"errors": len(run.results.Errors),
	})
	o.finishCache(run)
	return fmt.Errorf("sync failed: %s", reason)
}

func (o *Orchestrator) finishCache(run *syncRun) {
	if o.cache == nil {
		return
	}
	// The job is terminal; drop the fast-path progress key.
	if err := o.cache.ClearProgress(context.Background(), run.jobID); err != nil {
		o.logger.Debug("clearing progress cache", "job_id", run.jobID, "error", err)
	}
}
