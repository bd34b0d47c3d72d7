package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nelssec/assetsync/internal/models"
	"github.com/nelssec/assetsync/internal/store"
)

// assetFilters builds store filters from list query parameters. Absent
// parameters stay nil so the store does not filter on empty strings.
func assetFilters(q url.Values) (store.ListAssetFilters, error) {
	filters := store.ListAssetFilters{}

	if v := q.Get("service"); v != "" {
		filters.Service = &v
	}
	if v := q.Get("resource_type"); v != "" {
		filters.ResourceType = &v
	}
	if v := q.Get("integration_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filters, fmt.Errorf("parsing integration id: %w", err)
		}
		filters.IntegrationID = &id
	}
	if v := q.Get("state"); v != "" {
		state := models.AssetState(v)
		filters.State = &state
	}
	if v := q.Get("environment"); v != "" {
		env := models.Environment(v)
		filters.Environment = &env
	}
	if v := q.Get("criticality"); v != "" {
		crit := models.Criticality(v)
		filters.Criticality = &crit
	}
	if q.Get("exposed") == "true" {
		filters.ExposedOnly = true
	}

	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	filters.Offset, _ = strconv.Atoi(q.Get("offset"))
	return filters, nil
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	filters, err := assetFilters(r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid integration ID")
		return
	}

	assets, total, err := s.store.ListAssets(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSONWithMeta(w, http.StatusOK, assets, &apiMeta{
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid asset ID")
		return
	}

	asset, err := s.store.GetAsset(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if asset == nil {
		respondError(w, http.StatusNotFound, "not_found", "Asset not found")
		return
	}

	respondJSON(w, http.StatusOK, asset)
}

func (s *Server) getAssetStats(w http.ResponseWriter, r *http.Request) {
	var integrationID *uuid.UUID
	if v := r.URL.Query().Get("integration_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_id", "Invalid integration ID")
			return
		}
		integrationID = &id
	}

	counts, err := s.store.GetAssetCounts(r.Context(), integrationID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, counts)
}

type setClassificationRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// setAssetClassification records a manual classification. The override
// sticks: syncs and rules leave the field alone afterwards.
func (s *Server) setAssetClassification(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "Invalid asset ID")
		return
	}

	var req setClassificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Field == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "field is required")
		return
	}

	asset, err := s.store.GetAsset(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	if asset == nil {
		respondError(w, http.StatusNotFound, "not_found", "Asset not found")
		return
	}

	if err := s.store.SetManualClassification(r.Context(), id, req.Field, req.Value); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_field", err.Error())
		return
	}

	updated, err := s.store.GetAsset(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "db_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, updated)
}
