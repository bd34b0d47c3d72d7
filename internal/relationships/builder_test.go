package relationships

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/nelssec/assetsync/internal/models"
)

type builderStore struct {
	assets   []models.Asset
	replaced map[uuid.UUID]models.Relationships
}

func (s *builderStore) ListAssetsByIntegration(ctx context.Context, integrationID uuid.UUID) ([]models.Asset, error) {
	return s.assets, nil
}

func (s *builderStore) ReplaceAssetRelationships(ctx context.Context, assetID uuid.UUID, relationships models.Relationships) error {
	if s.replaced == nil {
		s.replaced = map[uuid.UUID]models.Relationships{}
	}
	s.replaced[assetID] = relationships
	return nil
}

func testTopology() []models.Asset {
	account := "123456789012"
	arn := func(suffix string) string {
		return "arn:aws:ec2:us-east-1:" + account + ":" + suffix
	}

	vpc := models.Asset{
		ID:           uuid.New(),
		ResourceID:   arn("vpc/vpc-1"),
		ResourceType: "vpc",
		Name:         "prod-vpc",
	}
	subnet := models.Asset{
		ID:            uuid.New(),
		ResourceID:    arn("subnet/subnet-1"),
		ResourceType:  "subnet",
		Configuration: models.JSONB{"vpc_id": "vpc-1"},
	}
	sg := models.Asset{
		ID:            uuid.New(),
		ResourceID:    arn("security-group/sg-1"),
		ResourceType:  "security_group",
		Configuration: models.JSONB{"vpc_id": "vpc-1"},
	}
	instance := models.Asset{
		ID:           uuid.New(),
		ResourceID:   arn("instance/i-1"),
		ResourceType: "ec2_instance",
		Configuration: models.JSONB{
			"vpc_id":             "vpc-1",
			"subnet_id":          "subnet-1",
			"security_group_ids": []interface{}{"sg-1"},
		},
	}
	volume := models.Asset{
		ID:            uuid.New(),
		ResourceID:    arn("volume/vol-1"),
		ResourceType:  "ebs_volume",
		Configuration: models.JSONB{"attached_instance_id": "i-1"},
	}
	return []models.Asset{vpc, subnet, sg, instance, volume}
}

func TestBuildForIntegration(t *testing.T) {
	assets := testTopology()
	st := &builderStore{assets: assets}
	b := NewBuilder(st, nil, nil)

	if err := b.BuildForIntegration(context.Background(), uuid.New()); err != nil {
		t.Fatalf("build: %v", err)
	}

	instance := assets[3]
	edges := st.replaced[instance.ID]
	if len(edges) != 3 {
		t.Fatalf("instance edges = %d, want 3: %+v", len(edges), edges)
	}

	byType := map[models.RelationType][]string{}
	for _, e := range edges {
		byType[e.Type] = append(byType[e.Type], e.TargetID)
	}
	if len(byType[models.RelationBelongsTo]) != 2 {
		t.Errorf("instance should belong to vpc and subnet, got %v", byType[models.RelationBelongsTo])
	}
	if len(byType[models.RelationSecuredBy]) != 1 {
		t.Errorf("instance should be secured by one group, got %v", byType[models.RelationSecuredBy])
	}

	volume := assets[4]
	volEdges := st.replaced[volume.ID]
	if len(volEdges) != 1 || volEdges[0].Type != models.RelationAttachedTo {
		t.Errorf("volume edges = %+v", volEdges)
	}
	if volEdges[0].TargetID != instance.ResourceID {
		t.Errorf("volume attached to %q, want %q", volEdges[0].TargetID, instance.ResourceID)
	}

	// The vpc derives no outgoing edges and had none, so it is untouched.
	if _, ok := st.replaced[assets[0].ID]; ok {
		t.Error("vpc with no edges should not be rewritten")
	}
}

func TestBuildSkipsMissingTargets(t *testing.T) {
	instance := models.Asset{
		ID:           uuid.New(),
		ResourceID:   "arn:aws:ec2:us-east-1:123456789012:instance/i-1",
		ResourceType: "ec2_instance",
		Configuration: models.JSONB{
			"vpc_id":             "vpc-unknown",
			"security_group_ids": []interface{}{"sg-unknown"},
		},
	}
	st := &builderStore{assets: []models.Asset{instance}}
	b := NewBuilder(st, nil, nil)

	if err := b.BuildForIntegration(context.Background(), uuid.New()); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := st.replaced[instance.ID]; ok {
		t.Error("edges to undiscovered targets must not be created")
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	assets := testTopology()
	st := &builderStore{assets: assets}
	b := NewBuilder(st, nil, nil)

	if err := b.BuildForIntegration(context.Background(), uuid.New()); err != nil {
		t.Fatalf("first build: %v", err)
	}
	firstWrites := len(st.replaced)

	// Second build over the updated state computes identical lists and
	// writes nothing.
	st.assets = make([]models.Asset, len(assets))
	copy(st.assets, assets)
	for i := range st.assets {
		if edges, ok := st.replaced[st.assets[i].ID]; ok {
			st.assets[i].Relationships = edges
		}
	}
	st.replaced = map[uuid.UUID]models.Relationships{}

	if err := b.BuildForIntegration(context.Background(), uuid.New()); err != nil {
		t.Fatalf("second build: %v", err)
	}
	if len(st.replaced) != 0 {
		t.Errorf("second build rewrote %d assets, want 0 (first wrote %d)", len(st.replaced), firstWrites)
	}
}

func TestBuildDropsRemovedEdges(t *testing.T) {
	detached := models.Asset{
		ID:           uuid.New(),
		ResourceID:   "arn:aws:ec2:us-east-1:123456789012:volume/vol-1",
		ResourceType: "ebs_volume",
		Configuration: models.JSONB{
			"attached_instance_id": "",
		},
		Relationships: models.Relationships{
			{Type: models.RelationAttachedTo, TargetID: "arn:aws:ec2:us-east-1:123456789012:instance/i-1", ResourceType: "ec2_instance"},
		},
	}
	st := &builderStore{assets: []models.Asset{detached}}
	b := NewBuilder(st, nil, nil)

	if err := b.BuildForIntegration(context.Background(), uuid.New()); err != nil {
		t.Fatalf("build: %v", err)
	}
	edges, ok := st.replaced[detached.ID]
	if !ok {
		t.Fatal("stale edge list should be replaced")
	}
	if len(edges) != 0 {
		t.Errorf("detached volume should have no edges, got %+v", edges)
	}
}
