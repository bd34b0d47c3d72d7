// Package mock provides a fixture-backed lister for local development and
// demos. It returns a small, stable account topology without any cloud calls.
package mock

import (
	"context"

	"github.com/nelssec/assetsync/internal/connectors"
	"github.com/nelssec/assetsync/internal/models"
)

const accountID = "123456789012"

type Lister struct {
	fixtures map[string]map[string][]connectors.RawResource
}

func New() *Lister {
	return &Lister{fixtures: fixtures()}
}

func (l *Lister) Provider() models.Provider {
	return models.ProviderAWS
}

func (l *Lister) AccountID() string {
	return accountID
}

func (l *Lister) Close() error {
	return nil
}

func (l *Lister) TestConnection(ctx context.Context) connectors.ConnectionResult {
	return connectors.ConnectionResult{Success: true, AccountID: accountID}
}

func (l *Lister) List(ctx context.Context, service, query, region string) ([]connectors.RawResource, error) {
	byQuery, ok := l.fixtures[service]
	if !ok {
		return nil, nil
	}
	return byQuery[query], nil
}

func fixtures() map[string]map[string][]connectors.RawResource {
	return map[string]map[string][]connectors.RawResource{
		"EC2": {
			"vpcs": {
				connectors.VPC{
					VPCID:     "vpc-0a1b2c3d",
					CIDRBlock: "10.0.0.0/16",
					Tags:      map[string]string{"Name": "prod-vpc", "Environment": "production"},
				},
			},
			"subnets": {
				connectors.Subnet{
					SubnetID:         "subnet-0aaa1111",
					VPCID:            "vpc-0a1b2c3d",
					CIDRBlock:        "10.0.1.0/24",
					AvailabilityZone: "us-east-1a",
					Tags:             map[string]string{"Name": "prod-private-a"},
				},
				connectors.Subnet{
					SubnetID:            "subnet-0bbb2222",
					VPCID:               "vpc-0a1b2c3d",
					CIDRBlock:           "10.0.2.0/24",
					AvailabilityZone:    "us-east-1b",
					MapPublicIPOnLaunch: true,
					Tags:                map[string]string{"Name": "prod-public-b"},
				},
			},
			"security_groups": {
				connectors.SecurityGroup{
					GroupID:     "sg-0web1234",
					GroupName:   "web-public",
					Description: "public web ingress",
					VPCID:       "vpc-0a1b2c3d",
					IngressRules: []connectors.IngressRule{
						{Protocol: "tcp", FromPort: 443, ToPort: 443, CIDRBlocks: []string{"0.0.0.0/0"}},
					},
					Tags: map[string]string{"Environment": "production"},
				},
				connectors.SecurityGroup{
					GroupID:     "sg-0db5678",
					GroupName:   "db-internal",
					Description: "database access from app tier",
					VPCID:       "vpc-0a1b2c3d",
					IngressRules: []connectors.IngressRule{
						{Protocol: "tcp", FromPort: 5432, ToPort: 5432, CIDRBlocks: []string{"10.0.0.0/16"}},
					},
					Tags: map[string]string{"Environment": "production"},
				},
			},
			"instances": {
				connectors.Instance{
					InstanceID:       "i-0web00001",
					InstanceType:     "t3.medium",
					State:            "running",
					ImageID:          "ami-0abc1234",
					PrivateIP:        "10.0.2.10",
					PublicIP:         "54.210.1.10",
					VPCID:            "vpc-0a1b2c3d",
					SubnetID:         "subnet-0bbb2222",
					SecurityGroupIDs: []string{"sg-0web1234"},
					Tags:             map[string]string{"Name": "web-1", "Environment": "production", "Owner": "platform"},
				},
				connectors.Instance{
					InstanceID:       "i-0app00002",
					InstanceType:     "t3.large",
					State:            "running",
					ImageID:          "ami-0abc1234",
					PrivateIP:        "10.0.1.20",
					VPCID:            "vpc-0a1b2c3d",
					SubnetID:         "subnet-0aaa1111",
					SecurityGroupIDs: []string{"sg-0db5678"},
					Tags:             map[string]string{"Name": "app-1", "Environment": "staging"},
				},
			},
			"volumes": {
				connectors.Volume{
					VolumeID:           "vol-0data001",
					State:              "in-use",
					SizeGB:             100,
					Encrypted:          true,
					AvailabilityZone:   "us-east-1a",
					AttachedInstanceID: "i-0app00002",
					Tags:               map[string]string{"Name": "app-data"},
				},
			},
		},
		"S3": {
			"buckets": {
				connectors.Bucket{
					Name:      "acme-prod-invoices",
					Region:    "us-east-1",
					Encrypted: true,
					Tags:      map[string]string{"Environment": "production", "DataClass": "confidential"},
				},
				connectors.Bucket{
					Name:   "acme-public-assets",
					Region: "us-east-1",
					Public: true,
					Tags:   map[string]string{"Environment": "production"},
				},
			},
		},
		"RDS": {
			"db_instances": {
				connectors.DBInstance{
					DBInstanceID:     "prod-orders",
					ARN:              "arn:aws:rds:us-east-1:" + accountID + ":db:prod-orders",
					Engine:           "postgres",
					EngineVersion:    "15.4",
					InstanceClass:    "db.r6g.large",
					Endpoint:         "prod-orders.abc123.us-east-1.rds.amazonaws.com",
					Port:             5432,
					StorageEncrypted: true,
					MultiAZ:          true,
					SecurityGroupIDs: []string{"sg-0db5678"},
					SubnetGroup:      "prod-db-subnets",
					Tags:             map[string]string{"Environment": "production", "Owner": "orders-team"},
				},
			},
		},
		"Lambda": {
			"functions": {
				connectors.Function{
					Name:             "invoice-processor",
					ARN:              "arn:aws:lambda:us-east-1:" + accountID + ":function:invoice-processor",
					Runtime:          "go1.x",
					Role:             "arn:aws:iam::" + accountID + ":role/invoice-processor-role",
					VPCID:            "vpc-0a1b2c3d",
					SubnetIDs:        []string{"subnet-0aaa1111"},
					SecurityGroupIDs: []string{"sg-0db5678"},
					Tags:             map[string]string{"Environment": "production"},
				},
			},
		},
		"IAM": {
			"users": {
				connectors.IAMUser{
					UserName: "ci-deployer",
					ARN:      "arn:aws:iam::" + accountID + ":user/ci-deployer",
					Tags:     map[string]string{"Owner": "platform"},
				},
			},
			"roles": {
				connectors.IAMRole{
					RoleName: "invoice-processor-role",
					ARN:      "arn:aws:iam::" + accountID + ":role/invoice-processor-role",
					Tags:     map[string]string{},
				},
			},
		},
		"KMS": {
			"keys": {
				connectors.KMSKey{
					KeyID:      "1234abcd-12ab-34cd-56ef-1234567890ab",
					ARN:        "arn:aws:kms:us-east-1:" + accountID + ":key/1234abcd-12ab-34cd-56ef-1234567890ab",
					Alias:      "prod-data",
					Enabled:    true,
					KeyManager: "CUSTOMER",
					Tags:       map[string]string{"Environment": "production"},
				},
			},
		},
	}
}
