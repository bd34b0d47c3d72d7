// Package scheduler runs integration syncs on their configured cadence and
// serves manual trigger and cancel requests.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nelssec/assetsync/internal/models"
)

// ErrSyncAlreadyRunning is returned when a trigger lost the single-flight
// race: the integration already has a queued or running job.
var ErrSyncAlreadyRunning = errors.New("sync already queued or running for integration")

// Store defines the persistence the scheduler needs.
type Store interface {
	GetIntegration(ctx context.Context, id uuid.UUID) (*models.Integration, error)
	ListIntegrations(ctx context.Context, status *models.IntegrationStatus) ([]models.Integration, error)
	CreateSyncJob(ctx context.Context, job *models.SyncJob) (bool, error)
	FindActiveJob(ctx context.Context, integrationID uuid.UUID) (*models.SyncJob, error)
	CancelSyncJob(ctx context.Context, id uuid.UUID) (bool, error)
}

// Runner executes one claimed sync job to completion.
type Runner interface {
	Run(ctx context.Context, integrationID, jobID uuid.UUID) error
}

// Scheduler keeps one cron entry per non-manual integration, keyed by
// integration id so cadence changes can replace the entry in place.
type Scheduler struct {
	cron    *cron.Cron
	store   Store
	runner  Runner
	logger  *slog.Logger
	entries map[uuid.UUID]cron.EntryID
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func New(store Store, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		store:   store,
		runner:  runner,
		logger:  logger,
		entries: make(map[uuid.UUID]cron.EntryID),
	}
}

// Start schedules every connected integration and kicks off an immediate
// sync for any scheduled integration that has never synced.
func (s *Scheduler) Start(ctx context.Context) error {
	connected := models.IntegrationConnected
	integrations, err := s.store.ListIntegrations(ctx, &connected)
	if err != nil {
		return fmt.Errorf("loading integrations: %w", err)
	}

	for i := range integrations {
		integration := &integrations[i]
		if err := s.schedule(integration.ID, integration.SyncCadence); err != nil {
			s.logger.Error("scheduling integration",
				"integration_id", integration.ID,
				"cadence", integration.SyncCadence,
				"error", err)
			continue
		}
		if integration.SyncCadence != models.CadenceManual && integration.LastSyncAt == nil {
			s.runScheduled(integration.ID)
		}
	}

	s.cron.Start()
	s.logger.Info("sync scheduler started", "integrations", len(s.entries))
	return nil
}

// Stop drains in-flight cron callbacks and waits for launched syncs. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("sync scheduler stopped")
}

// Trigger creates a sync job and launches it. The job row's conditional
// insert is the single-flight gate; losing it returns ErrSyncAlreadyRunning.
func (s *Scheduler) Trigger(ctx context.Context, integrationID uuid.UUID, trigger models.TriggerType) (*models.SyncJob, error) {
	integration, err := s.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, fmt.Errorf("loading integration: %w", err)
	}
	if integration == nil {
		return nil, fmt.Errorf("integration %s not found", integrationID)
	}

	// Fast path for a friendly rejection; the conditional insert below is
	// the authoritative gate.
	active, err := s.store.FindActiveJob(ctx, integrationID)
	if err != nil {
		return nil, fmt.Errorf("checking active job: %w", err)
	}
	if active != nil {
		return nil, ErrSyncAlreadyRunning
	}

	job := &models.SyncJob{
		ID:            uuid.New(),
		IntegrationID: integrationID,
		Status:        models.SyncStatusQueued,
		Trigger:       trigger,
	}
	created, err := s.store.CreateSyncJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("creating sync job: %w", err)
	}
	if !created {
		return nil, ErrSyncAlreadyRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The sync outlives the trigger request.
		if err := s.runner.Run(context.Background(), integrationID, job.ID); err != nil {
			s.logger.Error("sync run failed",
				"integration_id", integrationID,
				"job_id", job.ID,
				"error", err)
		}
	}()

	return job, nil
}

// Cancel requests cooperative cancellation of a queued or running job.
func (s *Scheduler) Cancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	return s.store.CancelSyncJob(ctx, jobID)
}

// Reschedule replaces the integration's cron entry for a new cadence.
func (s *Scheduler) Reschedule(integrationID uuid.UUID, cadence models.SyncCadence) error {
	s.remove(integrationID)
	return s.schedule(integrationID, cadence)
}

// Pause removes the integration's entry without touching its row.
func (s *Scheduler) Pause(integrationID uuid.UUID) {
	s.remove(integrationID)
}

// Resume restores the entry for the integration's stored cadence.
func (s *Scheduler) Resume(ctx context.Context, integrationID uuid.UUID) error {
	integration, err := s.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return fmt.Errorf("loading integration: %w", err)
	}
	if integration == nil {
		return fmt.Errorf("integration %s not found", integrationID)
	}
	return s.Reschedule(integrationID, integration.SyncCadence)
}

// Scheduled reports whether the integration currently has a cron entry.
func (s *Scheduler) Scheduled(integrationID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[integrationID]
	return ok
}

func (s *Scheduler) schedule(integrationID uuid.UUID, cadence models.SyncCadence) error {
	spec, ok := CronSpec(cadence)
	if !ok {
		// Manual integrations sync only on request.
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[integrationID]; ok {
		s.cron.Remove(existing)
	}
	entryID, err := s.cron.AddFunc(spec, func() {
		s.runScheduled(integrationID)
	})
	if err != nil {
		return fmt.Errorf("adding cron entry: %w", err)
	}
	s.entries[integrationID] = entryID
	return nil
}

func (s *Scheduler) remove(integrationID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[integrationID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, integrationID)
	}
}

func (s *Scheduler) runScheduled(integrationID uuid.UUID) {
	_, err := s.Trigger(context.Background(), integrationID, models.TriggerScheduled)
	switch {
	case errors.Is(err, ErrSyncAlreadyRunning):
		s.logger.Debug("scheduled sync skipped, already running", "integration_id", integrationID)
	case err != nil:
		s.logger.Error("scheduled sync trigger failed", "integration_id", integrationID, "error", err)
	}
}

// CronSpec maps a sync cadence to its cron expression. Manual cadence has no
// spec.
func CronSpec(cadence models.SyncCadence) (string, bool) {
	switch cadence {
	case models.CadenceHourly:
		return "@hourly", true
	case models.CadenceDaily:
		return "@daily", true
	case models.CadenceWeekly:
		return "@weekly", true
	default:
		return "", false
	}
}
