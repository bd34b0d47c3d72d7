package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nelssec/assetsync/internal/connectors"
	"github.com/nelssec/assetsync/internal/models"
)

// Normalize converts one raw provider payload into the canonical asset shape.
// It is pure: no lookups, no persistence. Classification fields are filled
// from tag heuristics and may later be replaced by rules or manual overrides.
func Normalize(integration *models.Integration, raw connectors.RawResource, service, region string) (*models.Asset, error) {
	asset := &models.Asset{
		IntegrationID: integration.ID,
		Provider:      integration.Provider,
		AccountID:     integration.AccountID,
		Region:        region,
		Service:       service,
		ResourceType:  raw.ResourceKind(),
		State:         models.AssetActive,
		Tags:          models.JSONB{},
		Configuration: models.JSONB{},
	}

	meta, err := rawMetadata(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding raw metadata: %w", err)
	}
	asset.RawMetadata = meta

	var tags map[string]string

	switch r := raw.(type) {
	case connectors.Instance:
		asset.ResourceID = arn("ec2", region, integration.AccountID, "instance/"+r.InstanceID)
		asset.Name = nameOr(r.Tags, r.InstanceID)
		asset.InternetExposed = r.PublicIP != ""
		asset.Configuration = models.JSONB{
			"instance_type":      r.InstanceType,
			"state":              r.State,
			"vpc_id":             r.VPCID,
			"subnet_id":          r.SubnetID,
			"security_group_ids": r.SecurityGroupIDs,
			"public_ip":          r.PublicIP,
		}
		tags = r.Tags

	case connectors.SecurityGroup:
		asset.ResourceID = arn("ec2", region, integration.AccountID, "security-group/"+r.GroupID)
		asset.Name = r.GroupName
		asset.InternetExposed = hasOpenIngress(r.IngressRules)
		asset.Configuration = models.JSONB{
			"vpc_id":        r.VPCID,
			"description":   r.Description,
			"ingress_rules": r.IngressRules,
		}
		tags = r.Tags

	case connectors.Volume:
		asset.ResourceID = arn("ec2", region, integration.AccountID, "volume/"+r.VolumeID)
		asset.Name = nameOr(r.Tags, r.VolumeID)
		asset.Configuration = models.JSONB{
			"size_gb":              r.SizeGB,
			"encrypted":            r.Encrypted,
			"state":                r.State,
			"attached_instance_id": r.AttachedInstanceID,
		}
		tags = r.Tags

	case connectors.Subnet:
		asset.ResourceID = arn("ec2", region, integration.AccountID, "subnet/"+r.SubnetID)
		asset.Name = nameOr(r.Tags, r.SubnetID)
		asset.Configuration = models.JSONB{
			"vpc_id":                  r.VPCID,
			"cidr_block":              r.CIDRBlock,
			"availability_zone":       r.AvailabilityZone,
			"map_public_ip_on_launch": r.MapPublicIPOnLaunch,
		}
		tags = r.Tags

	case connectors.VPC:
		asset.ResourceID = arn("ec2", region, integration.AccountID, "vpc/"+r.VPCID)
		asset.Name = nameOr(r.Tags, r.VPCID)
		asset.Configuration = models.JSONB{
			"cidr_block": r.CIDRBlock,
			"is_default": r.IsDefault,
		}
		tags = r.Tags

	case connectors.Bucket:
		asset.ResourceID = "arn:aws:s3:::" + r.Name
		asset.Name = r.Name
		asset.Region = r.Region
		asset.InternetExposed = r.Public
		asset.Configuration = models.JSONB{
			"public":     r.Public,
			"encrypted":  r.Encrypted,
			"versioning": r.Versioning,
		}
		tags = r.Tags

	case connectors.DBInstance:
		asset.ResourceID = r.ARN
		asset.Name = r.DBInstanceID
		asset.InternetExposed = r.PubliclyAccessible
		asset.Configuration = models.JSONB{
			"engine":              r.Engine,
			"engine_version":      r.EngineVersion,
			"instance_class":      r.InstanceClass,
			"endpoint":            r.Endpoint,
			"port":                r.Port,
			"publicly_accessible": r.PubliclyAccessible,
			"storage_encrypted":   r.StorageEncrypted,
			"multi_az":            r.MultiAZ,
			"security_group_ids":  r.SecurityGroupIDs,
			"subnet_group":        r.SubnetGroup,
		}
		tags = r.Tags

	case connectors.Function:
		asset.ResourceID = r.ARN
		asset.Name = r.Name
		asset.Configuration = models.JSONB{
			"runtime":            r.Runtime,
			"role":               r.Role,
			"vpc_id":             r.VPCID,
			"security_group_ids": r.SecurityGroupIDs,
			"kms_key_arn":        r.KMSKeyARN,
		}
		tags = r.Tags

	case connectors.IAMUser:
		asset.ResourceID = r.ARN
		asset.Name = r.UserName
		asset.Region = "global"
		tags = r.Tags

	case connectors.IAMRole:
		asset.ResourceID = r.ARN
		asset.Name = r.RoleName
		asset.Region = "global"
		tags = r.Tags

	case connectors.KMSKey:
		asset.ResourceID = r.ARN
		asset.Name = r.Alias
		if asset.Name == "" {
			asset.Name = r.KeyID
		}
		asset.Configuration = models.JSONB{
			"enabled":     r.Enabled,
			"key_manager": r.KeyManager,
		}
		tags = r.Tags

	default:
		return nil, fmt.Errorf("unsupported resource kind: %s", raw.ResourceKind())
	}

	for k, v := range tags {
		asset.Tags[k] = v
	}

	asset.Environment = environmentFromTags(tags)
	asset.Owner = firstTag(tags, "Owner", "owner", "Team", "team")
	asset.Department = firstTag(tags, "Department", "department", "CostCenter", "cost-center")
	asset.DataClassification = firstTag(tags, "DataClass", "DataClassification", "data-classification", "Classification")
	asset.Criticality = criticalityFor(asset, tags)

	return asset, nil
}

func rawMetadata(raw connectors.RawResource) (models.JSONB, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var meta models.JSONB
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func arn(service, region, accountID, suffix string) string {
	return fmt.Sprintf("arn:aws:%s:%s:%s:%s", service, region, accountID, suffix)
}

func nameOr(tags map[string]string, fallback string) string {
	if name := tags["Name"]; name != "" {
		return name
	}
	return fallback
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return ""
}

func hasOpenIngress(rules []connectors.IngressRule) bool {
	for _, rule := range rules {
		for _, cidr := range rule.CIDRBlocks {
			if cidr == "0.0.0.0/0" || cidr == "::/0" {
				return true
			}
		}
	}
	return false
}

func environmentFromTags(tags map[string]string) models.Environment {
	value := strings.ToLower(firstTag(tags, "Environment", "environment", "Env", "env"))
	switch {
	case value == "":
		return models.EnvUnknown
	case strings.Contains(value, "stag"):
		return models.EnvStaging
	case strings.Contains(value, "prod"):
		return models.EnvProduction
	case strings.Contains(value, "dev"):
		return models.EnvDevelopment
	case strings.Contains(value, "test"), value == "qa":
		return models.EnvTesting
	default:
		return models.EnvUnknown
	}
}

// criticalityFor applies the default criticality ladder: an explicit tag wins,
// data stores and identity resources rank high, everything else starts unknown.
func criticalityFor(asset *models.Asset, tags map[string]string) models.Criticality {
	switch strings.ToLower(firstTag(tags, "Criticality", "criticality")) {
	case "critical":
		return models.CriticalityCritical
	case "high":
		return models.CriticalityHigh
	case "medium":
		return models.CriticalityMedium
	case "low":
		return models.CriticalityLow
	}

	switch asset.ResourceType {
	case connectors.KindDBInstance:
		if asset.Environment == models.EnvProduction {
			return models.CriticalityCritical
		}
		return models.CriticalityHigh
	case connectors.KindIAMUser, connectors.KindIAMRole, connectors.KindKMSKey:
		return models.CriticalityHigh
	case connectors.KindBucket:
		if asset.InternetExposed {
			return models.CriticalityHigh
		}
	}
	return models.CriticalityUnknown
}
