// Package relationships derives cross-asset edges from discovered
// configuration and keeps them consistent after every sync.
package relationships

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nelssec/assetsync/internal/connectors"
	"github.com/nelssec/assetsync/internal/models"
)

// Store is the persistence surface the builder needs.
type Store interface {
	ListAssetsByIntegration(ctx context.Context, integrationID uuid.UUID) ([]models.Asset, error)
	ReplaceAssetRelationships(ctx context.Context, assetID uuid.UUID, relationships models.Relationships) error
}

// Mirror receives the derived topology after each rebuild. Optional.
type Mirror interface {
	SyncAssets(ctx context.Context, integrationID uuid.UUID, assets []models.Asset) error
}

type Builder struct {
	store  Store
	mirror Mirror
	logger *slog.Logger
}

func NewBuilder(st Store, mirror Mirror, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: st, mirror: mirror, logger: logger}
}

// BuildForIntegration recomputes every derived edge for one integration's
// assets and replaces each asset's relationship list. Replacement is
// idempotent: rebuilding from the same inputs yields the same lists, and
// edges whose source configuration disappeared are dropped.
func (b *Builder) BuildForIntegration(ctx context.Context, integrationID uuid.UUID) error {
	assets, err := b.store.ListAssetsByIntegration(ctx, integrationID)
	if err != nil {
		return fmt.Errorf("listing assets: %w", err)
	}

	index := buildIndex(assets)

	for i := range assets {
		asset := &assets[i]
		derived := deriveEdges(asset, index)
		if equalEdges(derived, asset.Relationships) {
			continue
		}
		if err := b.store.ReplaceAssetRelationships(ctx, asset.ID, derived); err != nil {
			return fmt.Errorf("replacing relationships for %s: %w", asset.ResourceID, err)
		}
		asset.Relationships = derived
	}

	if b.mirror != nil {
		// Graph mirroring is best effort.
		if err := b.mirror.SyncAssets(ctx, integrationID, assets); err != nil {
			b.logger.Warn("mirroring asset graph", "integration_id", integrationID, "error", err)
		}
	}
	return nil
}

// assetIndex resolves native identifiers (instance ids, vpc ids, bucket
// names, full ARNs) back to canonical assets.
type assetIndex map[string]*models.Asset

func buildIndex(assets []models.Asset) assetIndex {
	index := make(assetIndex, len(assets)*2)
	for i := range assets {
		asset := &assets[i]
		index[asset.ResourceID] = asset
		if native := nativeID(asset.ResourceID); native != "" {
			index[native] = asset
		}
	}
	return index
}

// nativeID strips the ARN prefix down to the provider-native identifier:
// the segment after the last "/", or after the last ":" when there is none.
func nativeID(resourceID string) string {
	if i := strings.LastIndex(resourceID, "/"); i >= 0 {
		return resourceID[i+1:]
	}
	if i := strings.LastIndex(resourceID, ":"); i >= 0 {
		return resourceID[i+1:]
	}
	return resourceID
}

// deriveEdges computes the outgoing edges for one asset from its normalized
// configuration. Targets that were not discovered produce no edge.
func deriveEdges(asset *models.Asset, index assetIndex) models.Relationships {
	var edges models.Relationships

	add := func(relType models.RelationType, targetKey string) {
		if targetKey == "" {
			return
		}
		target, ok := index[targetKey]
		if !ok || target == asset {
			return
		}
		edges = append(edges, models.Relationship{
			Type:         relType,
			TargetID:     target.ResourceID,
			ResourceType: target.ResourceType,
		})
	}

	cfg := asset.Configuration

	switch asset.ResourceType {
	case connectors.KindInstance:
		add(models.RelationBelongsTo, cfgString(cfg, "vpc_id"))
		add(models.RelationBelongsTo, cfgString(cfg, "subnet_id"))
		for _, sg := range cfgStrings(cfg, "security_group_ids") {
			add(models.RelationSecuredBy, sg)
		}

	case connectors.KindSecurityGroup:
		add(models.RelationBelongsTo, cfgString(cfg, "vpc_id"))

	case connectors.KindSubnet:
		add(models.RelationBelongsTo, cfgString(cfg, "vpc_id"))

	case connectors.KindVolume:
		add(models.RelationAttachedTo, cfgString(cfg, "attached_instance_id"))

	case connectors.KindDBInstance:
		for _, sg := range cfgStrings(cfg, "security_group_ids") {
			add(models.RelationSecuredBy, sg)
		}

	case connectors.KindFunction:
		add(models.RelationBelongsTo, cfgString(cfg, "vpc_id"))
		for _, sg := range cfgStrings(cfg, "security_group_ids") {
			add(models.RelationSecuredBy, sg)
		}
		add(models.RelationSecuredBy, cfgString(cfg, "kms_key_arn"))
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Type != edges[j].Type {
			return edges[i].Type < edges[j].Type
		}
		return edges[i].TargetID < edges[j].TargetID
	})
	return edges
}

func equalEdges(a, b models.Relationships) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cfgString(cfg models.JSONB, key string) string {
	if cfg == nil {
		return ""
	}
	value, _ := cfg[key].(string)
	return value
}

// cfgStrings handles both in-process []string values and the []interface{}
// shape those values take after a JSONB round trip.
func cfgStrings(cfg models.JSONB, key string) []string {
	if cfg == nil {
		return nil
	}
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []interface{}:
		values := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
		return values
	default:
		return nil
	}
}
