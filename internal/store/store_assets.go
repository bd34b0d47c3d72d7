package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nelssec/assetsync/internal/models"
)

// UpsertOutcome reports what an asset upsert did, feeding the sync job's
// new/updated/unchanged counters.
type UpsertOutcome string

const (
	OutcomeCreated   UpsertOutcome = "created"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// UpsertAsset inserts or merges an asset keyed by its resource identifier.
// On merge it detects whether persisted metadata changed, appends change
// history for mutated fields, respects manual classification overrides, and
// always refreshes last_seen. A stale asset observed again becomes active.
func (s *Store) UpsertAsset(ctx context.Context, asset *models.Asset) (UpsertOutcome, error) {
	existing, err := s.GetAssetByResourceID(ctx, asset.ResourceID)
	if err != nil {
		return "", fmt.Errorf("loading existing asset: %w", err)
	}

	now := time.Now()

	if existing == nil {
		if asset.ID == uuid.Nil {
			asset.ID = uuid.New()
		}
		asset.State = models.AssetActive
		asset.FirstSeenAt = now
		asset.LastSeenAt = now
		asset.CreatedAt = now
		asset.UpdatedAt = now

		query := `
			INSERT INTO assets (
				id, integration_id, provider, account_id, region, service, resource_type,
				resource_id, name, tags, raw_metadata, configuration, internet_exposed,
				environment, owner, department, data_classification, criticality,
				manual_overrides, state, relationships, change_history,
				first_seen_at, last_seen_at, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
				$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
			)
			ON CONFLICT (resource_id) DO NOTHING
		`
		res, err := s.db.ExecContext(ctx, query,
			asset.ID, asset.IntegrationID, asset.Provider, asset.AccountID, asset.Region,
			asset.Service, asset.ResourceType, asset.ResourceID, asset.Name,
			asset.Tags, asset.RawMetadata, asset.Configuration, asset.InternetExposed,
			asset.Environment, asset.Owner, asset.Department, asset.DataClassification, asset.Criticality,
			asset.ManualOverrides, asset.State, asset.Relationships, asset.ChangeHistory,
			asset.FirstSeenAt, asset.LastSeenAt, asset.CreatedAt, asset.UpdatedAt,
		)
		if err != nil {
			return "", err
		}
		if rows, _ := res.RowsAffected(); rows == 1 {
			return OutcomeCreated, nil
		}
		// Lost an insert race; reload and merge instead.
		existing, err = s.GetAssetByResourceID(ctx, asset.ResourceID)
		if err != nil || existing == nil {
			return "", fmt.Errorf("reloading asset after insert conflict: %w", err)
		}
	}

	changes := diffAssets(existing, asset, now)

	// Manual overrides win over normalizer-derived classification.
	env, owner, dept, dataClass, crit := asset.Environment, asset.Owner, asset.Department, asset.DataClassification, asset.Criticality
	if existing.Overridden("environment") {
		env = existing.Environment
	}
	if existing.Overridden("owner") {
		owner = existing.Owner
	}
	if existing.Overridden("department") {
		dept = existing.Department
	}
	if existing.Overridden("dataClassification") {
		dataClass = existing.DataClassification
	}
	if existing.Overridden("criticality") {
		crit = existing.Criticality
	}

	if len(changes) == 0 && existing.State == models.AssetActive {
		touch := `UPDATE assets SET last_seen_at = $1 WHERE id = $2`
		if _, err := s.db.ExecContext(ctx, touch, now, existing.ID); err != nil {
			return "", err
		}
		asset.ID = existing.ID
		return OutcomeUnchanged, nil
	}

	history := append(existing.ChangeHistory, changes...)

	query := `
		UPDATE assets SET
			region = $1, name = $2, tags = $3, raw_metadata = $4, configuration = $5,
			internet_exposed = $6, environment = $7, owner = $8, department = $9,
			data_classification = $10, criticality = $11, state = $12,
			change_history = $13, last_seen_at = $14, updated_at = $14
		WHERE id = $15
	`
	_, err = s.db.ExecContext(ctx, query,
		asset.Region, asset.Name, asset.Tags, asset.RawMetadata, asset.Configuration,
		asset.InternetExposed, env, owner, dept, dataClass, crit,
		models.AssetActive, history, now, existing.ID,
	)
	if err != nil {
		return "", err
	}
	asset.ID = existing.ID

	if len(changes) == 0 {
		// Only the lifecycle state flipped back from stale.
		return OutcomeUnchanged, nil
	}
	return OutcomeUpdated, nil
}

// diffAssets lists the persisted fields that a freshly normalized asset
// would mutate. The scalar entries carry before/after values; the JSON blobs
// just record that they drifted.
func diffAssets(existing, incoming *models.Asset, at time.Time) models.ChangeHistory {
	var changes models.ChangeHistory

	scalar := func(field, prev, cur string) {
		if prev != cur {
			changes = append(changes, models.ChangeEntry{
				Field: field, Previous: prev, Current: cur, ChangedAt: at,
			})
		}
	}

	scalar("name", existing.Name, incoming.Name)
	scalar("region", existing.Region, incoming.Region)
	scalar("internetExposed",
		fmt.Sprintf("%t", existing.InternetExposed),
		fmt.Sprintf("%t", incoming.InternetExposed))

	for _, blob := range []struct {
		field string
		prev  models.JSONB
		cur   models.JSONB
	}{
		{"tags", existing.Tags, incoming.Tags},
		{"rawMetadata", existing.RawMetadata, incoming.RawMetadata},
		{"configuration", existing.Configuration, incoming.Configuration},
	} {
		if !jsonEqual(blob.prev, blob.cur) {
			changes = append(changes, models.ChangeEntry{Field: blob.field, ChangedAt: at})
		}
	}

	return changes
}

func jsonEqual(a, b models.JSONB) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

func (s *Store) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	query := `SELECT * FROM assets WHERE id = $1`
	err := s.db.GetContext(ctx, &asset, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &asset, err
}

func (s *Store) GetAssetByResourceID(ctx context.Context, resourceID string) (*models.Asset, error) {
	var asset models.Asset
	query := `SELECT * FROM assets WHERE resource_id = $1`
	err := s.db.GetContext(ctx, &asset, query, resourceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &asset, err
}

func (s *Store) ListAssetsByIntegration(ctx context.Context, integrationID uuid.UUID) ([]models.Asset, error) {
	var assets []models.Asset
	query := `SELECT * FROM assets WHERE integration_id = $1 ORDER BY resource_id`
	err := s.db.SelectContext(ctx, &assets, query, integrationID)
	return assets, err
}

type ListAssetFilters struct {
	IntegrationID *uuid.UUID
	Service       *string
	ResourceType  *string
	State         *models.AssetState
	Environment   *models.Environment
	Criticality   *models.Criticality
	ExposedOnly   bool
	Limit         int
	Offset        int
}

func (s *Store) ListAssets(ctx context.Context, filters ListAssetFilters) ([]models.Asset, int, error) {
	baseQuery := `FROM assets WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	if filters.IntegrationID != nil {
		baseQuery += fmt.Sprintf(" AND integration_id = $%d", argIdx)
		args = append(args, *filters.IntegrationID)
		argIdx++
	}
	if filters.Service != nil {
		baseQuery += fmt.Sprintf(" AND service = $%d", argIdx)
		args = append(args, *filters.Service)
		argIdx++
	}
	if filters.ResourceType != nil {
		baseQuery += fmt.Sprintf(" AND resource_type = $%d", argIdx)
		args = append(args, *filters.ResourceType)
		argIdx++
	}
	if filters.State != nil {
		baseQuery += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, *filters.State)
		argIdx++
	}
	if filters.Environment != nil {
		baseQuery += fmt.Sprintf(" AND environment = $%d", argIdx)
		args = append(args, *filters.Environment)
		argIdx++
	}
	if filters.Criticality != nil {
		baseQuery += fmt.Sprintf(" AND criticality = $%d", argIdx)
		args = append(args, *filters.Criticality)
		argIdx++
	}
	if filters.ExposedOnly {
		baseQuery += " AND internet_exposed = true"
	}

	var total int
	countQuery := "SELECT COUNT(*) " + baseQuery
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	selectQuery := "SELECT * " + baseQuery + " ORDER BY last_seen_at DESC"
	if filters.Limit > 0 {
		selectQuery += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}
	if filters.Offset > 0 {
		selectQuery += fmt.Sprintf(" OFFSET %d", filters.Offset)
	}

	var assets []models.Asset
	if err := s.db.SelectContext(ctx, &assets, selectQuery, args...); err != nil {
		return nil, 0, err
	}

	return assets, total, nil
}

// MarkStaleAssets transitions every active asset of the integration whose
// resource identifier was not observed in the run. Returns the number of
// assets marked stale. A bulk conditional update; no per-asset work.
func (s *Store) MarkStaleAssets(ctx context.Context, integrationID uuid.UUID, discovered []string) (int64, error) {
	query := `
		UPDATE assets
		SET state = $1, updated_at = $2
		WHERE integration_id = $3 AND state = $4 AND NOT (resource_id = ANY($5))
	`
	res, err := s.db.ExecContext(ctx, query,
		models.AssetStale, time.Now(), integrationID, models.AssetActive, pq.Array(discovered))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplaceAssetRelationships overwrites the asset's relationship list. Only
// the owning asset's row is touched.
func (s *Store) ReplaceAssetRelationships(ctx context.Context, assetID uuid.UUID, relationships models.Relationships) error {
	query := `UPDATE assets SET relationships = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, relationships, time.Now(), assetID)
	return err
}

// UpdateAssetClassification persists the fields computed by the
// classification engine. The engine has already honored manual overrides.
func (s *Store) UpdateAssetClassification(ctx context.Context, assetID uuid.UUID,
	env models.Environment, owner, department, dataClassification string, criticality models.Criticality) error {
	query := `
		UPDATE assets
		SET environment = $1, owner = $2, department = $3, data_classification = $4,
			criticality = $5, updated_at = $6
		WHERE id = $7
	`
	_, err := s.db.ExecContext(ctx, query,
		env, owner, department, dataClassification, criticality, time.Now(), assetID)
	return err
}

// SetManualClassification writes one classification field by hand and
// records the override so rules leave it alone from then on.
func (s *Store) SetManualClassification(ctx context.Context, assetID uuid.UUID, field, value string) error {
	column, ok := map[string]string{
		"environment":        "environment",
		"owner":              "owner",
		"department":         "department",
		"dataClassification": "data_classification",
		"criticality":        "criticality",
	}[field]
	if !ok {
		return fmt.Errorf("unknown classification field: %s", field)
	}

	query := fmt.Sprintf(`
		UPDATE assets
		SET %s = $1,
			manual_overrides = COALESCE(manual_overrides, '{}'::jsonb) || jsonb_build_object($2::text, true),
			updated_at = $3
		WHERE id = $4
	`, column)
	_, err := s.db.ExecContext(ctx, query, value, field, time.Now(), assetID)
	return err
}

type AssetCounts struct {
	TotalAssets    int `db:"total_assets"`
	ActiveAssets   int `db:"active_assets"`
	StaleAssets    int `db:"stale_assets"`
	ExposedAssets  int `db:"exposed_assets"`
	CriticalAssets int `db:"critical_assets"`
}

// GetAssetCounts feeds the dashboard collaborators.
func (s *Store) GetAssetCounts(ctx context.Context, integrationID *uuid.UUID) (*AssetCounts, error) {
	counts := &AssetCounts{}

	where := ""
	args := make([]interface{}, 0)
	if integrationID != nil {
		where = " WHERE integration_id = $1"
		args = append(args, *integrationID)
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*) AS total_assets,
			COUNT(*) FILTER (WHERE state = 'active') AS active_assets,
			COUNT(*) FILTER (WHERE state = 'stale') AS stale_assets,
			COUNT(*) FILTER (WHERE internet_exposed) AS exposed_assets,
			COUNT(*) FILTER (WHERE criticality IN ('critical', 'high')) AS critical_assets
		FROM assets%s
	`, where)

	err := s.db.GetContext(ctx, counts, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting asset counts: %w", err)
	}

	return counts, nil
}
