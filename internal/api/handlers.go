package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nelssec/assetsync/internal/models"
	"github.com/nelssec/assetsync/internal/scheduler"
)

func (s *Server) listIntegrations(w http.ResponseWriter, r *http.Request) {
	var status *models.IntegrationStatus
	if q := r.URL.Query().Get("status"); q != "" {
		st := models.IntegrationStatus(q)
		status = &st
	}

	integrations, err := s.store.ListIntegrations(r.Context(), status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, integrations)
}

type createIntegrationRequest struct {
	Provider       models.Provider    `json:"provider"`
	AccountID      string             `json:"account_id"`
	DisplayName    string             `json:"display_name"`
	CredentialsRef models.JSONB       `json:"credentials_ref"`
	Regions        []string           `json:"regions"`
	Services       []string           `json:"services"`
	SyncCadence    models.SyncCadence `json:"sync_cadence"`
}

func (s *Server) createIntegration(w http.ResponseWriter, r *http.Request) {
	var req createIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.Provider == "" || req.AccountID == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "provider and account_id are required")
		return
	}

	existing, err := s.store.GetIntegrationByAccount(r.Context(), req.Provider, req.AccountID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "integration_exists", "Integration for this account already exists")
		return
	}

	integration := &models.Integration{
		Provider:       req.Provider,
		AccountID:      req.AccountID,
		DisplayName:    req.DisplayName,
		CredentialsRef: req.CredentialsRef,
		Regions:        models.StringArray(req.Regions),
		Services:       models.StringArray(req.Services),
		SyncCadence:    req.SyncCadence,
	}

	if err := s.store.CreateIntegration(r.Context(), integration); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	if err := s.scheduler.Reschedule(integration.ID, integration.SyncCadence); err != nil {
		s.logger.Error("scheduling new integration", "integration_id", integration.ID, "error", err)
	}

	respondJSON(w, http.StatusCreated, integration)
}

func (s *Server) getIntegration(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "integrationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid integration ID")
		return
	}

	integration, err := s.store.GetIntegration(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if integration == nil {
		respondError(w, http.StatusNotFound, "not_found", "Integration not found")
		return
	}

	respondJSON(w, http.StatusOK, integration)
}

type updateIntegrationRequest struct {
	SyncCadence *models.SyncCadence `json:"sync_cadence,omitempty"`
}

func (s *Server) updateIntegration(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "integrationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid integration ID")
		return
	}

	var req updateIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	integration, err := s.store.GetIntegration(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if integration == nil {
		respondError(w, http.StatusNotFound, "not_found", "Integration not found")
		return
	}

	if req.SyncCadence != nil {
		if err := s.store.UpdateIntegrationCadence(r.Context(), id, *req.SyncCadence); err != nil {
			respondError(w, http.StatusInternalServerError, "db_error", err.Error())
			return
		}
		integration.SyncCadence = *req.SyncCadence
		if err := s.scheduler.Reschedule(id, *req.SyncCadence); err != nil {
			s.logger.Error("rescheduling integration", "integration_id", id, "error", err)
		}
	}

	respondJSON(w, http.StatusOK, integration)
}

func (s *Server) deleteIntegration(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "integrationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid integration ID")
		return
	}

	s.scheduler.Pause(id)
	if err := s.store.DeleteIntegration(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) testIntegration(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "integrationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid integration ID")
		return
	}

	integration, err := s.store.GetIntegration(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if integration == nil {
		respondError(w, http.StatusNotFound, "not_found", "Integration not found")
		return
	}

	lister, err := s.listers(r.Context(), integration)
	if err != nil {
		s.store.UpdateIntegrationStatus(r.Context(), id, models.IntegrationFailed, err.Error())
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	defer lister.Close()

	result := lister.TestConnection(r.Context())
	if result.Success {
		s.store.UpdateIntegrationStatus(r.Context(), id, models.IntegrationConnected, "")
	} else {
		s.store.UpdateIntegrationStatus(r.Context(), id, models.IntegrationFailed, result.Error)
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "integrationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid integration ID")
		return
	}

	job, err := s.scheduler.Trigger(r.Context(), id, models.TriggerManual)
	if errors.Is(err, scheduler.ErrSyncAlreadyRunning) {
		respondError(w, http.StatusConflict, "sync_in_progress", "A sync is already queued or running for this integration")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "sync_error", err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "integrationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid integration ID")
		return
	}

	job, err := s.store.FindActiveJob(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if job == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"active": true,
		"job":    job,
	})
}

func (s *Server) syncHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "integrationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid integration ID")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := s.store.ListSyncJobs(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

func (s *Server) getSyncJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid job ID")
		return
	}

	job, err := s.store.GetSyncJob(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if job == nil {
		respondError(w, http.StatusNotFound, "not_found", "Sync job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// getSyncJobProgress serves the cached progress when redis has it and falls
// back to the job row.
func (s *Server) getSyncJobProgress(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid job ID")
		return
	}

	if s.cache != nil {
		cached, err := s.cache.GetProgress(r.Context(), id)
		if err != nil {
			s.logger.Debug("reading cached progress", "job_id", id, "error", err)
		} else if cached != nil {
			respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	job, err := s.store.GetSyncJob(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if job == nil {
		respondError(w, http.StatusNotFound, "not_found", "Sync job not found")
		return
	}

	respondJSON(w, http.StatusOK, job.Progress)
}

func (s *Server) cancelSyncJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid job ID")
		return
	}

	cancelled, err := s.scheduler.Cancel(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if !cancelled {
		respondError(w, http.StatusConflict, "not_cancellable", "Job is not queued or running")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
