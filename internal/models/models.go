package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StringArray is an alias for pq.StringArray to handle PostgreSQL arrays
type StringArray = pq.StringArray

type Provider string

const (
	ProviderAWS   Provider = "AWS"
	ProviderAzure Provider = "AZURE"
	ProviderGCP   Provider = "GCP"
)

type SyncCadence string

const (
	CadenceManual SyncCadence = "manual"
	CadenceHourly SyncCadence = "hourly"
	CadenceDaily  SyncCadence = "daily"
	CadenceWeekly SyncCadence = "weekly"
)

type IntegrationStatus string

const (
	IntegrationPending      IntegrationStatus = "pending"
	IntegrationConnected    IntegrationStatus = "connected"
	IntegrationFailed       IntegrationStatus = "failed"
	IntegrationDisconnected IntegrationStatus = "disconnected"
)

type AssetState string

const (
	AssetActive  AssetState = "active"
	AssetStale   AssetState = "stale"
	AssetDeleted AssetState = "deleted"
)

type SyncStatus string

const (
	SyncStatusQueued    SyncStatus = "queued"
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
	SyncStatusCancelled SyncStatus = "cancelled"
)

// IsTerminal reports whether a job in this status is immutable.
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed || s == SyncStatusCancelled
}

type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
	TriggerWebhook   TriggerType = "webhook"
)

type RuleType string

const (
	RuleTagMatch      RuleType = "tag_match"
	RuleServiceMatch  RuleType = "service_match"
	RuleExposureCheck RuleType = "exposure_check"
	RuleNamingPattern RuleType = "naming_pattern"
	RuleComposite     RuleType = "composite"
)

type RelationType string

const (
	RelationBelongsTo  RelationType = "belongs_to"
	RelationContains   RelationType = "contains"
	RelationAttachedTo RelationType = "attached_to"
	RelationSecuredBy  RelationType = "secured_by"
	RelationRoutesTo   RelationType = "routes_to"
	RelationBackedBy   RelationType = "backed_by"
	RelationManagedBy  RelationType = "managed_by"
)

type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
	CriticalityUnknown  Criticality = "unknown"
)

type Environment string

const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvUnknown     Environment = "unknown"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// jsonValue and jsonScan back the typed JSONB columns below.
func jsonValue(v interface{}) (driver.Value, error) {
	return json.Marshal(v)
}

func jsonScan(dst interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, dst)
}

// Integration is one managed cloud account.
type Integration struct {
	ID             uuid.UUID         `json:"id" db:"id"`
	Provider       Provider          `json:"provider" db:"provider"`
	AccountID      string            `json:"account_id" db:"account_id"`
	DisplayName    string            `json:"display_name" db:"display_name"`
	CredentialsRef JSONB             `json:"credentials_ref" db:"credentials_ref"`
	Regions        StringArray       `json:"regions" db:"regions"`
	Services       StringArray       `json:"services" db:"services"`
	SyncCadence    SyncCadence       `json:"sync_cadence" db:"sync_cadence"`
	Status         IntegrationStatus `json:"status" db:"status"`
	StatusMessage  string            `json:"status_message,omitempty" db:"status_message"`
	LastSyncAt     *time.Time        `json:"last_sync_at,omitempty" db:"last_sync_at"`
	LastSyncStatus string            `json:"last_sync_status,omitempty" db:"last_sync_status"`
	LastSyncCounts JSONB             `json:"last_sync_counts,omitempty" db:"last_sync_counts"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// ServiceEnabled reports whether a logical service is in the integration's
// enabled set. An empty set means all services.
func (i *Integration) ServiceEnabled(service string) bool {
	if len(i.Services) == 0 {
		return true
	}
	for _, s := range i.Services {
		if s == service {
			return true
		}
	}
	return false
}

// Relationship is one directed edge from the owning asset to a target.
type Relationship struct {
	Type         RelationType `json:"type"`
	TargetID     string       `json:"target_id"`
	ResourceType string       `json:"resource_type"`
}

type Relationships []Relationship

func (r Relationships) Value() (driver.Value, error) { return jsonValue(r) }
func (r *Relationships) Scan(value interface{}) error { return jsonScan(r, value) }

// ChangeEntry records one field mutation observed during a sync.
type ChangeEntry struct {
	Field     string    `json:"field"`
	Previous  string    `json:"previous,omitempty"`
	Current   string    `json:"current,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

type ChangeHistory []ChangeEntry

func (c ChangeHistory) Value() (driver.Value, error) { return jsonValue(c) }
func (c *ChangeHistory) Scan(value interface{}) error { return jsonScan(c, value) }

// Overrides maps a classification field name to true when a human set it
// explicitly. Rule actions never overwrite an overridden field.
type Overrides map[string]bool

func (o Overrides) Value() (driver.Value, error) {
	if o == nil {
		return nil, nil
	}
	return jsonValue(o)
}
func (o *Overrides) Scan(value interface{}) error { return jsonScan(o, value) }

// Asset is one normalized record of a discovered cloud resource. ResourceID
// is the ARN-equivalent and the natural key for upserts.
type Asset struct {
	ID                 uuid.UUID     `json:"id" db:"id"`
	IntegrationID      uuid.UUID     `json:"integration_id" db:"integration_id"`
	Provider           Provider      `json:"provider" db:"provider"`
	AccountID          string        `json:"account_id" db:"account_id"`
	Region             string        `json:"region" db:"region"`
	Service            string        `json:"service" db:"service"`
	ResourceType       string        `json:"resource_type" db:"resource_type"`
	ResourceID         string        `json:"resource_id" db:"resource_id"`
	Name               string        `json:"name" db:"name"`
	Tags               JSONB         `json:"tags" db:"tags"`
	RawMetadata        JSONB         `json:"raw_metadata" db:"raw_metadata"`
	Configuration      JSONB         `json:"configuration" db:"configuration"`
	InternetExposed    bool          `json:"internet_exposed" db:"internet_exposed"`
	Environment        Environment   `json:"environment" db:"environment"`
	Owner              string        `json:"owner,omitempty" db:"owner"`
	Department         string        `json:"department,omitempty" db:"department"`
	DataClassification string        `json:"data_classification,omitempty" db:"data_classification"`
	Criticality        Criticality   `json:"criticality" db:"criticality"`
	ManualOverrides    Overrides     `json:"manual_overrides,omitempty" db:"manual_overrides"`
	State              AssetState    `json:"state" db:"state"`
	Relationships      Relationships `json:"relationships,omitempty" db:"relationships"`
	ChangeHistory      ChangeHistory `json:"change_history,omitempty" db:"change_history"`
	FirstSeenAt        time.Time     `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt         time.Time     `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// Overridden reports whether a classification field carries a manual override.
func (a *Asset) Overridden(field string) bool {
	return a.ManualOverrides != nil && a.ManualOverrides[field]
}

// SyncProgress is the structured in-flight state of a sync job.
type SyncProgress struct {
	CurrentService    string `json:"current_service,omitempty"`
	CurrentRegion     string `json:"current_region,omitempty"`
	ServicesCompleted int    `json:"services_completed"`
	ServicesTotal     int    `json:"services_total"`
	AssetsDiscovered  int    `json:"assets_discovered"`
}

func (p SyncProgress) Value() (driver.Value, error) { return jsonValue(p) }
func (p *SyncProgress) Scan(value interface{}) error { return jsonScan(p, value) }

// SyncError is one non-fatal error recorded against a (service, region) unit.
type SyncError struct {
	Service string `json:"service,omitempty"`
	Region  string `json:"region,omitempty"`
	Message string `json:"message"`
}

// SyncResults is the aggregated outcome of a sync job.
type SyncResults struct {
	TotalAssets     int         `json:"total_assets"`
	NewAssets       int         `json:"new_assets"`
	UpdatedAssets   int         `json:"updated_assets"`
	UnchangedAssets int         `json:"unchanged_assets"`
	StaleAssets     int         `json:"stale_assets"`
	Errors          []SyncError `json:"errors,omitempty"`
}

func (r SyncResults) Value() (driver.Value, error) { return jsonValue(r) }
func (r *SyncResults) Scan(value interface{}) error { return jsonScan(r, value) }

// LogEntry is one append-only line on a sync job.
type LogEntry struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type LogEntries []LogEntry

func (l LogEntries) Value() (driver.Value, error) { return jsonValue(l) }
func (l *LogEntries) Scan(value interface{}) error { return jsonScan(l, value) }

// SyncJob is one discovery run and its recorded outcome.
type SyncJob struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	IntegrationID uuid.UUID    `json:"integration_id" db:"integration_id"`
	Status        SyncStatus   `json:"status" db:"status"`
	Trigger       TriggerType  `json:"trigger" db:"trigger"`
	Progress      SyncProgress `json:"progress" db:"progress"`
	Results       SyncResults  `json:"results" db:"results"`
	Log           LogEntries   `json:"log,omitempty" db:"log"`
	StartedAt     *time.Time   `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	DurationMS    int64        `json:"duration_ms" db:"duration_ms"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// RuleCondition is the type-specific condition payload of a classification
// rule. Which fields are meaningful depends on the rule type; Conditions and
// Operator drive the recursive service_match / composite forms.
type RuleCondition struct {
	TagKey       string          `json:"tag_key,omitempty"`
	TagValue     string          `json:"tag_value,omitempty"`
	TagExists    bool            `json:"tag_exists,omitempty"`
	Service      string          `json:"service,omitempty"`
	ResourceType string          `json:"resource_type,omitempty"`
	Pattern      string          `json:"pattern,omitempty"`
	Operator     string          `json:"operator,omitempty"` // AND | OR
	Conditions   []RuleCondition `json:"conditions,omitempty"`
}

func (c RuleCondition) Value() (driver.Value, error) { return jsonValue(c) }
func (c *RuleCondition) Scan(value interface{}) error { return jsonScan(c, value) }

// RuleAction lists the classification fields a matching rule sets. Empty
// fields are left untouched.
type RuleAction struct {
	Environment        Environment `json:"environment,omitempty"`
	Owner              string      `json:"owner,omitempty"`
	Department         string      `json:"department,omitempty"`
	DataClassification string      `json:"data_classification,omitempty"`
	Criticality        Criticality `json:"criticality,omitempty"`
}

func (a RuleAction) Value() (driver.Value, error) { return jsonValue(a) }
func (a *RuleAction) Scan(value interface{}) error { return jsonScan(a, value) }

// ClassificationRule is one classification directive. Lower priority values
// evaluate earlier; a later matching rule overwrites fields set before it.
type ClassificationRule struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	Name          string        `json:"name" db:"name"`
	Description   string        `json:"description,omitempty" db:"description"`
	Enabled       bool          `json:"enabled" db:"enabled"`
	Priority      int           `json:"priority" db:"priority"`
	RuleType      RuleType      `json:"rule_type" db:"rule_type"`
	Condition     RuleCondition `json:"condition" db:"condition"`
	Action        RuleAction    `json:"action" db:"action"`
	AppliedCount  int64         `json:"applied_count" db:"applied_count"`
	LastAppliedAt *time.Time    `json:"last_applied_at,omitempty" db:"last_applied_at"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}
