package connectors

import (
	"context"

	"github.com/nelssec/assetsync/internal/models"
)

// Lister is the cloud listing capability: enumerate the resources behind one
// (service, query, region) unit. Implementations exist once per provider;
// the discovery orchestrator drives them through this interface only, so the
// production connector and the fixture connector are interchangeable.
type Lister interface {
	// Provider returns the cloud provider type
	Provider() models.Provider

	// AccountID returns the account the credentials resolve to
	AccountID() string

	// List enumerates raw resources for one registry query in one region.
	// Global services receive the integration's reference region.
	List(ctx context.Context, service, query, region string) ([]RawResource, error)

	// TestConnection performs a one-shot connectivity and permission check.
	// Failure is reported in the result, never as an error.
	TestConnection(ctx context.Context) ConnectionResult

	// Close releases any resources held by the connector
	Close() error
}

// ConnectionResult is the outcome of a connectivity check.
type ConnectionResult struct {
	Success   bool   `json:"success"`
	AccountID string `json:"account_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RawResource is a provider item before normalization. Each supported
// (service, resource type) pair has its own variant with the fields the
// normalizer's identifier table requires, so normalization is an exhaustive
// type switch rather than field probing.
type RawResource interface {
	ResourceKind() string
}

// Resource kind identifiers shared by connectors and the normalizer.
const (
	KindInstance      = "ec2_instance"
	KindSecurityGroup = "security_group"
	KindVolume        = "ebs_volume"
	KindSubnet        = "subnet"
	KindVPC           = "vpc"
	KindBucket        = "s3_bucket"
	KindDBInstance    = "rds_instance"
	KindFunction      = "lambda_function"
	KindIAMUser       = "iam_user"
	KindIAMRole       = "iam_role"
	KindKMSKey        = "kms_key"
)

// Instance is one compute instance.
type Instance struct {
	InstanceID       string
	InstanceType     string
	State            string
	ImageID          string
	PrivateIP        string
	PublicIP         string
	VPCID            string
	SubnetID         string
	SecurityGroupIDs []string
	LaunchedAt       string
	Tags             map[string]string
}

func (Instance) ResourceKind() string { return KindInstance }

// IngressRule is one inbound permission on a security group.
type IngressRule struct {
	Protocol   string
	FromPort   int32
	ToPort     int32
	CIDRBlocks []string
}

// SecurityGroup is one network security group with its ingress rules.
type SecurityGroup struct {
	GroupID      string
	GroupName    string
	Description  string
	VPCID        string
	IngressRules []IngressRule
	Tags         map[string]string
}

func (SecurityGroup) ResourceKind() string { return KindSecurityGroup }

// Volume is one block storage volume.
type Volume struct {
	VolumeID           string
	State              string
	SizeGB             int32
	Encrypted          bool
	AvailabilityZone   string
	AttachedInstanceID string
	Tags               map[string]string
}

func (Volume) ResourceKind() string { return KindVolume }

// Subnet is one VPC subnet.
type Subnet struct {
	SubnetID            string
	VPCID               string
	CIDRBlock           string
	AvailabilityZone    string
	MapPublicIPOnLaunch bool
	Tags                map[string]string
}

func (Subnet) ResourceKind() string { return KindSubnet }

// VPC is one virtual private cloud.
type VPC struct {
	VPCID     string
	CIDRBlock string
	IsDefault bool
	Tags      map[string]string
}

func (VPC) ResourceKind() string { return KindVPC }

// Bucket is one object storage bucket.
type Bucket struct {
	Name       string
	Region     string
	CreatedAt  string
	Public     bool
	Encrypted  bool
	Versioning bool
	Tags       map[string]string
}

func (Bucket) ResourceKind() string { return KindBucket }

// DBInstance is one managed relational database instance.
type DBInstance struct {
	DBInstanceID       string
	ARN                string
	Engine             string
	EngineVersion      string
	InstanceClass      string
	Endpoint           string
	Port               int32
	PubliclyAccessible bool
	StorageEncrypted   bool
	MultiAZ            bool
	SecurityGroupIDs   []string
	SubnetGroup        string
	Tags               map[string]string
}

func (DBInstance) ResourceKind() string { return KindDBInstance }

// Function is one serverless function.
type Function struct {
	Name             string
	ARN              string
	Runtime          string
	Role             string
	VPCID            string
	SubnetIDs        []string
	SecurityGroupIDs []string
	KMSKeyARN        string
	Tags             map[string]string
}

func (Function) ResourceKind() string { return KindFunction }

// IAMUser is one identity-management user.
type IAMUser struct {
	UserName  string
	ARN       string
	CreatedAt string
	Tags      map[string]string
}

func (IAMUser) ResourceKind() string { return KindIAMUser }

// IAMRole is one identity-management role.
type IAMRole struct {
	RoleName  string
	ARN       string
	CreatedAt string
	Tags      map[string]string
}

func (IAMRole) ResourceKind() string { return KindIAMRole }

// KMSKey is one encryption key.
type KMSKey struct {
	KeyID      string
	ARN        string
	Alias      string
	Enabled    bool
	KeyManager string
	Tags       map[string]string
}

func (KMSKey) ResourceKind() string { return KindKMSKey }
