package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nelssec/assetsync/internal/models"
)

type schedulerStore struct {
	mu           sync.Mutex
	integrations map[uuid.UUID]*models.Integration
	active       map[uuid.UUID]*models.SyncJob
	created      int
	findCalls    int
	cancelled    []uuid.UUID
}

func newSchedulerStore(integrations ...*models.Integration) *schedulerStore {
	s := &schedulerStore{
		integrations: map[uuid.UUID]*models.Integration{},
		active:       map[uuid.UUID]*models.SyncJob{},
	}
	for _, i := range integrations {
		s.integrations[i.ID] = i
	}
	return s
}

func (s *schedulerStore) GetIntegration(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	return s.integrations[id], nil
}

func (s *schedulerStore) ListIntegrations(ctx context.Context, status *models.IntegrationStatus) ([]models.Integration, error) {
	var out []models.Integration
	for _, i := range s.integrations {
		if status != nil && i.Status != *status {
			continue
		}
		out = append(out, *i)
	}
	return out, nil
}

func (s *schedulerStore) CreateSyncJob(ctx context.Context, job *models.SyncJob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[job.IntegrationID]; exists {
		return false, nil
	}
	s.active[job.IntegrationID] = job
	s.created++
	return true, nil
}

func (s *schedulerStore) FindActiveJob(ctx context.Context, integrationID uuid.UUID) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	return s.active[integrationID], nil
}

func (s *schedulerStore) CancelSyncJob(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for integrationID, job := range s.active {
		if job.ID == id {
			delete(s.active, integrationID)
			s.cancelled = append(s.cancelled, id)
			return true, nil
		}
	}
	return false, nil
}

type recordingRunner struct {
	mu   sync.Mutex
	runs []uuid.UUID
	done chan struct{}
}

func (r *recordingRunner) Run(ctx context.Context, integrationID, jobID uuid.UUID) error {
	r.mu.Lock()
	r.runs = append(r.runs, jobID)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- struct{}{}
	}
	return nil
}

func TestTriggerSingleFlight(t *testing.T) {
	integration := &models.Integration{ID: uuid.New(), SyncCadence: models.CadenceManual}
	st := newSchedulerStore(integration)
	runner := &recordingRunner{done: make(chan struct{}, 2)}
	s := New(st, runner, nil)

	job, err := s.Trigger(context.Background(), integration.ID, models.TriggerManual)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if job.Status != models.SyncStatusQueued {
		t.Errorf("job status = %q, want queued", job.Status)
	}

	if _, err := s.Trigger(context.Background(), integration.ID, models.TriggerManual); !errors.Is(err, ErrSyncAlreadyRunning) {
		t.Fatalf("second trigger err = %v, want ErrSyncAlreadyRunning", err)
	}

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("runner was not invoked")
	}
	if st.created != 1 {
		t.Errorf("created %d jobs, want 1", st.created)
	}
	if st.findCalls < 2 {
		t.Errorf("active-job check ran %d times, want one per trigger", st.findCalls)
	}
}

func TestTriggerUnknownIntegration(t *testing.T) {
	s := New(newSchedulerStore(), &recordingRunner{}, nil)
	if _, err := s.Trigger(context.Background(), uuid.New(), models.TriggerManual); err == nil {
		t.Fatal("expected error for unknown integration")
	}
}

func TestCancelActiveJob(t *testing.T) {
	integration := &models.Integration{ID: uuid.New()}
	st := newSchedulerStore(integration)
	runner := &recordingRunner{done: make(chan struct{}, 1)}
	s := New(st, runner, nil)

	job, err := s.Trigger(context.Background(), integration.ID, models.TriggerManual)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	cancelled, err := s.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled {
		t.Error("expected cancellation to succeed")
	}

	if cancelled, _ := s.Cancel(context.Background(), job.ID); cancelled {
		t.Error("cancelling a settled job should report false")
	}
	<-runner.done
}

func TestStartSchedulesByCadence(t *testing.T) {
	lastSync := time.Now()
	daily := &models.Integration{ID: uuid.New(), Status: models.IntegrationConnected, SyncCadence: models.CadenceDaily, LastSyncAt: &lastSync}
	manual := &models.Integration{ID: uuid.New(), Status: models.IntegrationConnected, SyncCadence: models.CadenceManual, LastSyncAt: &lastSync}
	pending := &models.Integration{ID: uuid.New(), Status: models.IntegrationPending, SyncCadence: models.CadenceDaily}
	disconnected := &models.Integration{ID: uuid.New(), SyncCadence: models.CadenceDaily, Status: models.IntegrationDisconnected}

	st := newSchedulerStore(daily, manual, pending, disconnected)
	s := New(st, &recordingRunner{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if !s.Scheduled(daily.ID) {
		t.Error("daily integration should have a cron entry")
	}
	if s.Scheduled(manual.ID) {
		t.Error("manual integration must not be scheduled")
	}
	if s.Scheduled(pending.ID) {
		t.Error("only connected integrations get entries, pending must wait")
	}
	if s.Scheduled(disconnected.ID) {
		t.Error("disconnected integration must not be scheduled")
	}
}

func TestStartTriggersNeverSynced(t *testing.T) {
	integration := &models.Integration{ID: uuid.New(), Status: models.IntegrationConnected, SyncCadence: models.CadenceHourly}
	st := newSchedulerStore(integration)
	runner := &recordingRunner{done: make(chan struct{}, 1)}
	s := New(st, runner, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("never-synced integration should sync immediately")
	}
}

func TestRescheduleAndPause(t *testing.T) {
	lastSync := time.Now()
	integration := &models.Integration{ID: uuid.New(), Status: models.IntegrationConnected, SyncCadence: models.CadenceDaily, LastSyncAt: &lastSync}
	st := newSchedulerStore(integration)
	s := New(st, &recordingRunner{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if err := s.Reschedule(integration.ID, models.CadenceHourly); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !s.Scheduled(integration.ID) {
		t.Error("rescheduled integration should keep an entry")
	}

	// Switching to manual drops the entry.
	if err := s.Reschedule(integration.ID, models.CadenceManual); err != nil {
		t.Fatalf("reschedule to manual: %v", err)
	}
	if s.Scheduled(integration.ID) {
		t.Error("manual cadence must not keep an entry")
	}

	integration.SyncCadence = models.CadenceWeekly
	if err := s.Resume(context.Background(), integration.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !s.Scheduled(integration.ID) {
		t.Error("resume should restore the entry")
	}

	s.Pause(integration.ID)
	if s.Scheduled(integration.ID) {
		t.Error("pause should drop the entry")
	}
}

func TestStopIdempotent(t *testing.T) {
	s := New(newSchedulerStore(), &recordingRunner{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
	s.Stop()
}

func TestCronSpec(t *testing.T) {
	tests := []struct {
		cadence models.SyncCadence
		spec    string
		ok      bool
	}{
		{models.CadenceHourly, "@hourly", true},
		{models.CadenceDaily, "@daily", true},
		{models.CadenceWeekly, "@weekly", true},
		{models.CadenceManual, "", false},
	}
	for _, tt := range tests {
		spec, ok := CronSpec(tt.cadence)
		if spec != tt.spec || ok != tt.ok {
			t.Errorf("CronSpec(%q) = %q, %v", tt.cadence, spec, ok)
		}
	}
}
