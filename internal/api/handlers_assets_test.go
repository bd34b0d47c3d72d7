package api

import (
	"net/url"
	"testing"

	"github.com/google/uuid"

	"github.com/nelssec/assetsync/internal/models"
)

func TestAssetFilters(t *testing.T) {
	integrationID := uuid.New()

	q := url.Values{}
	q.Set("service", "EC2")
	q.Set("resource_type", "ec2_instance")
	q.Set("integration_id", integrationID.String())
	q.Set("state", "active")
	q.Set("criticality", "high")
	q.Set("exposed", "true")
	q.Set("limit", "25")

	filters, err := assetFilters(q)
	if err != nil {
		t.Fatalf("assetFilters: %v", err)
	}
	if filters.Service == nil || *filters.Service != "EC2" {
		t.Errorf("service filter = %v", filters.Service)
	}
	if filters.ResourceType == nil || *filters.ResourceType != "ec2_instance" {
		t.Errorf("resource type filter = %v", filters.ResourceType)
	}
	if filters.IntegrationID == nil || *filters.IntegrationID != integrationID {
		t.Errorf("integration filter = %v", filters.IntegrationID)
	}
	if filters.State == nil || *filters.State != models.AssetActive {
		t.Errorf("state filter = %v", filters.State)
	}
	if filters.Criticality == nil || *filters.Criticality != models.CriticalityHigh {
		t.Errorf("criticality filter = %v", filters.Criticality)
	}
	if !filters.ExposedOnly {
		t.Error("exposed filter not set")
	}
	if filters.Limit != 25 {
		t.Errorf("limit = %d", filters.Limit)
	}
}

func TestAssetFiltersAbsentParamsStayNil(t *testing.T) {
	filters, err := assetFilters(url.Values{})
	if err != nil {
		t.Fatalf("assetFilters: %v", err)
	}
	if filters.Service != nil || filters.ResourceType != nil || filters.State != nil ||
		filters.Environment != nil || filters.Criticality != nil || filters.IntegrationID != nil {
		t.Errorf("empty query must not produce filters: %+v", filters)
	}
	if filters.ExposedOnly {
		t.Error("exposed must default to false")
	}
}

func TestAssetFiltersBadIntegrationID(t *testing.T) {
	q := url.Values{}
	q.Set("integration_id", "not-a-uuid")
	if _, err := assetFilters(q); err == nil {
		t.Fatal("expected an error for a malformed integration id")
	}
}
