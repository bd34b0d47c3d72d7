package relationships

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/nelssec/assetsync/internal/models"
)

// Graph mirrors the asset topology into neo4j for path queries the
// relational store cannot answer cheaply.
type Graph struct {
	driver neo4j.DriverWithContext
}

type GraphConfig struct {
	URI      string
	Username string
	Password string
}

func NewGraph(cfg GraphConfig) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}

	g := &Graph{driver: driver}

	if err := g.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return g, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) createIndexes(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS FOR (n:Asset) ON (n.resourceId)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Asset) ON (n.integrationId)",
		"CREATE INDEX IF NOT EXISTS FOR (n:Asset) ON (n.resourceType)",
	}

	for _, idx := range indexes {
		_, err := session.Run(ctx, idx, nil)
		if err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}

	return nil
}

// SyncAssets merges the integration's assets and their derived edges into
// the graph. Edges are rebuilt wholesale so removed relationships disappear.
func (g *Graph) SyncAssets(ctx context.Context, integrationID uuid.UUID, assets []models.Asset) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for i := range assets {
		asset := &assets[i]
		query := `
			MERGE (a:Asset {resourceId: $resourceId})
			SET a.id = $id,
				a.integrationId = $integrationId,
				a.name = $name,
				a.service = $service,
				a.resourceType = $resourceType,
				a.region = $region,
				a.state = $state,
				a.environment = $environment,
				a.criticality = $criticality,
				a.internetExposed = $internetExposed
		`
		_, err := session.Run(ctx, query, map[string]interface{}{
			"resourceId":      asset.ResourceID,
			"id":              asset.ID.String(),
			"integrationId":   integrationID.String(),
			"name":            asset.Name,
			"service":         asset.Service,
			"resourceType":    asset.ResourceType,
			"region":          asset.Region,
			"state":           string(asset.State),
			"environment":     string(asset.Environment),
			"criticality":     string(asset.Criticality),
			"internetExposed": asset.InternetExposed,
		})
		if err != nil {
			return fmt.Errorf("merging asset node: %w", err)
		}
	}

	clearEdges := `
		MATCH (a:Asset {integrationId: $integrationId})-[r]->(:Asset)
		DELETE r
	`
	if _, err := session.Run(ctx, clearEdges, map[string]interface{}{
		"integrationId": integrationID.String(),
	}); err != nil {
		return fmt.Errorf("clearing asset edges: %w", err)
	}

	for i := range assets {
		asset := &assets[i]
		for _, rel := range asset.Relationships {
			query := fmt.Sprintf(`
				MATCH (a:Asset {resourceId: $source})
				MATCH (b:Asset {resourceId: $target})
				MERGE (a)-[:%s]->(b)
			`, relationLabel(rel.Type))
			_, err := session.Run(ctx, query, map[string]interface{}{
				"source": asset.ResourceID,
				"target": rel.TargetID,
			})
			if err != nil {
				return fmt.Errorf("merging %s edge: %w", rel.Type, err)
			}
		}
	}

	return nil
}

// DeleteIntegration removes the integration's subgraph.
func (g *Graph) DeleteIntegration(ctx context.Context, integrationID uuid.UUID) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MATCH (a:Asset {integrationId: $integrationId})
		DETACH DELETE a
	`, map[string]interface{}{
		"integrationId": integrationID.String(),
	})
	return err
}

// ExposurePaths returns resource ids of assets with a path to an
// internet-exposed asset, the query the mirror exists for.
func (g *Graph) ExposurePaths(ctx context.Context, integrationID uuid.UUID) ([]string, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (exposed:Asset {integrationId: $integrationId, internetExposed: true})
		MATCH (a:Asset)-[*1..3]->(exposed)
		RETURN DISTINCT a.resourceId AS resourceId
	`, map[string]interface{}{
		"integrationId": integrationID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("querying exposure paths: %w", err)
	}

	var ids []string
	for result.Next(ctx) {
		if value, ok := result.Record().Get("resourceId"); ok {
			if s, ok := value.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	return ids, result.Err()
}

// relationLabel maps an edge type to its cypher label.
func relationLabel(t models.RelationType) string {
	return strings.ToUpper(string(t))
}
