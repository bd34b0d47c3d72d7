package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/nelssec/assetsync/internal/connectors"
	"github.com/nelssec/assetsync/internal/models"
)

// listFunc enumerates one registry query in one region.
type listFunc func(ctx context.Context, region string) ([]connectors.RawResource, error)

// Lister implements the listing capability against AWS. The query dispatch
// table maps (service, query) to the SDK call that serves it.
type Lister struct {
	cfg       aws.Config
	accountID string
	region    string

	queries map[string]map[string]listFunc
}

type Config struct {
	Region        string
	AssumeRoleARN string
	ExternalID    string
}

func New(ctx context.Context, cfg Config) (*Lister, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if cfg.AssumeRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	stsClient := sts.NewFromConfig(awsCfg)
	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("getting caller identity: %w", err)
	}

	l := &Lister{
		cfg:       awsCfg,
		accountID: aws.ToString(identity.Account),
		region:    cfg.Region,
	}

	l.queries = map[string]map[string]listFunc{
		"EC2": {
			"instances":       l.listInstances,
			"security_groups": l.listSecurityGroups,
			"volumes":         l.listVolumes,
			"subnets":         l.listSubnets,
			"vpcs":            l.listVPCs,
		},
		"S3": {
			"buckets": l.listBuckets,
		},
		"RDS": {
			"db_instances": l.listDBInstances,
		},
		"Lambda": {
			"functions": l.listFunctions,
		},
		"IAM": {
			"users": l.listUsers,
			"roles": l.listRoles,
		},
		"KMS": {
			"keys": l.listKeys,
		},
	}

	return l, nil
}

func (l *Lister) Provider() models.Provider {
	return models.ProviderAWS
}

func (l *Lister) AccountID() string {
	return l.accountID
}

func (l *Lister) Close() error {
	return nil
}

func (l *Lister) List(ctx context.Context, service, query, region string) ([]connectors.RawResource, error) {
	byQuery, ok := l.queries[service]
	if !ok {
		return nil, fmt.Errorf("unknown service: %s", service)
	}
	fn, ok := byQuery[query]
	if !ok {
		return nil, fmt.Errorf("unknown query %s for service %s", query, service)
	}
	return fn(ctx, region)
}

func (l *Lister) TestConnection(ctx context.Context) connectors.ConnectionResult {
	stsClient := sts.NewFromConfig(l.cfg)
	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return connectors.ConnectionResult{Error: err.Error()}
	}
	return connectors.ConnectionResult{
		Success:   true,
		AccountID: aws.ToString(identity.Account),
	}
}

// regionConfig returns a config copy pinned to the requested region.
func (l *Lister) regionConfig(region string) aws.Config {
	if region == "" {
		region = l.region
	}
	cfg := l.cfg.Copy()
	cfg.Region = region
	return cfg
}

func (l *Lister) listInstances(ctx context.Context, region string) ([]connectors.RawResource, error) {
	client := ec2.NewFromConfig(l.regionConfig(region))

	var items []connectors.RawResource
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				groups := make([]string, 0, len(inst.SecurityGroups))
				for _, g := range inst.SecurityGroups {
					groups = append(groups, aws.ToString(g.GroupId))
				}
				launched := ""
				if inst.LaunchTime != nil {
					launched = inst.LaunchTime.String()
				}
				state := ""
				if inst.State != nil {
					state = string(inst.State.Name)
				}
				items = append(items, connectors.Instance{
					InstanceID:       aws.ToString(inst.InstanceId),
					InstanceType:     string(inst.InstanceType),
					State:            state,
					ImageID:          aws.ToString(inst.ImageId),
					PrivateIP:        aws.ToString(inst.PrivateIpAddress),
					PublicIP:         aws.ToString(inst.PublicIpAddress),
					VPCID:            aws.ToString(inst.VpcId),
					SubnetID:         aws.ToString(inst.SubnetId),
					SecurityGroupIDs: groups,
					LaunchedAt:       launched,
					Tags:             ec2Tags(inst.Tags),
				})
			}
		}
	}
	return items, nil
}

func (l *Lister) listSecurityGroups(ctx context.Context, region string) ([]connectors.RawResource, error) {
	client := ec2.NewFromConfig(l.regionConfig(region))

	var items []connectors.RawResource
	paginator := ec2.NewDescribeSecurityGroupsPaginator(client, &ec2.DescribeSecurityGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing security groups: %w", err)
		}
		for _, sg := range page.SecurityGroups {
			rules := make([]connectors.IngressRule, 0, len(sg.IpPermissions))
			for _, perm := range sg.IpPermissions {
				cidrs := make([]string, 0, len(perm.IpRanges)+len(perm.Ipv6Ranges))
				for _, r := range perm.IpRanges {
					cidrs = append(cidrs, aws.ToString(r.CidrIp))
				}
				for _, r := range perm.Ipv6Ranges {
					cidrs = append(cidrs, aws.ToString(r.CidrIpv6))
				}
				rules = append(rules, connectors.IngressRule{
					Protocol:   aws.ToString(perm.IpProtocol),
					FromPort:   aws.ToInt32(perm.FromPort),
					ToPort:     aws.ToInt32(perm.ToPort),
					CIDRBlocks: cidrs,
				})
			}
			items = append(items, connectors.SecurityGroup{
				GroupID:      aws.ToString(sg.GroupId),
				GroupName:    aws.ToString(sg.GroupName),
				Description:  aws.ToString(sg.Description),
				VPCID:        aws.ToString(sg.VpcId),
				IngressRules: rules,
				Tags:         ec2Tags(sg.Tags),
			})
		}
	}
	return items, nil
}

func (l *Lister) listVolumes(ctx context.Context, region string) ([]connectors.RawResource, error) {
	client := ec2.NewFromConfig(l.regionConfig(region))

	var items []connectors.RawResource
	paginator := ec2.NewDescribeVolumesPaginator(client, &ec2.DescribeVolumesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing volumes: %w", err)
		}
		for _, vol := range page.Volumes {
			attached := ""
			for _, att := range vol.Attachments {
				if att.InstanceId != nil {
					attached = aws.ToString(att.InstanceId)
					break
				}
			}
			items = append(items, connectors.Volume{
				VolumeID:           aws.ToString(vol.VolumeId),
				State:              string(vol.State),
				SizeGB:             aws.ToInt32(vol.Size),
				Encrypted:          aws.ToBool(vol.Encrypted),
				AvailabilityZone:   aws.ToString(vol.AvailabilityZone),
				AttachedInstanceID: attached,
				Tags:               ec2Tags(vol.Tags),
			})
		}
	}
	return items, nil
}

func (l *Lister) listSubnets(ctx context.Context, region string) ([]connectors.RawResource, error) {
	client := ec2.NewFromConfig(l.regionConfig(region))

	var items []connectors.RawResource
	paginator := ec2.NewDescribeSubnetsPaginator(client, &ec2.DescribeSubnetsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing subnets: %w", err)
		}
		for _, subnet := range page.Subnets {
			items = append(items, connectors.Subnet{
				SubnetID:            aws.ToString(subnet.SubnetId),
				VPCID:               aws.ToString(subnet.VpcId),
				CIDRBlock:           aws.ToString(subnet.CidrBlock),
				AvailabilityZone:    aws.ToString(subnet.AvailabilityZone),
				MapPublicIPOnLaunch: aws.ToBool(subnet.MapPublicIpOnLaunch),
				Tags:                ec2Tags(subnet.Tags),
			})
		}
	}
	return items, nil
}

func (l *Lister) listVPCs(ctx context.Context, region string) ([]connectors.RawResource, error) {
	client := ec2.NewFromConfig(l.regionConfig(region))

	var items []connectors.RawResource
	paginator := ec2.NewDescribeVpcsPaginator(client, &ec2.DescribeVpcsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing vpcs: %w", err)
		}
		for _, vpc := range page.Vpcs {
			items = append(items, connectors.VPC{
				VPCID:     aws.ToString(vpc.VpcId),
				CIDRBlock: aws.ToString(vpc.CidrBlock),
				IsDefault: aws.ToBool(vpc.IsDefault),
				Tags:      ec2Tags(vpc.Tags),
			})
		}
	}
	return items, nil
}

func (l *Lister) listBuckets(ctx context.Context, region string) ([]connectors.RawResource, error) {
	client := s3.NewFromConfig(l.regionConfig(region))

	output, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}

	items := make([]connectors.RawResource, 0, len(output.Buckets))
	for _, b := range output.Buckets {
		name := aws.ToString(b.Name)

		bucketRegion := "us-east-1"
		if loc, err := client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: b.Name}); err == nil && loc.LocationConstraint != "" {
			bucketRegion = string(loc.LocationConstraint)
		}

		bucket := connectors.Bucket{
			Name:   name,
			Region: bucketRegion,
			Tags:   map[string]string{},
		}
		if b.CreationDate != nil {
			bucket.CreatedAt = b.CreationDate.String()
		}

		regional := s3.NewFromConfig(l.regionConfig(bucketRegion))

		if pab, err := regional.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: b.Name}); err == nil && pab.PublicAccessBlockConfiguration != nil {
			cfg := pab.PublicAccessBlockConfiguration
			bucket.Public = !aws.ToBool(cfg.BlockPublicAcls) || !aws.ToBool(cfg.BlockPublicPolicy)
		} else {
			// No public access block configured at all.
			bucket.Public = true
		}

		if enc, err := regional.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: b.Name}); err == nil && enc.ServerSideEncryptionConfiguration != nil {
			bucket.Encrypted = len(enc.ServerSideEncryptionConfiguration.Rules) > 0
		}

		if ver, err := regional.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: b.Name}); err == nil {
			bucket.Versioning = ver.Status == "Enabled"
		}

		if tagging, err := regional.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: b.Name}); err == nil {
			for _, t := range tagging.TagSet {
				bucket.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
			}
		}

		items = append(items, bucket)
	}
	return items, nil
}

func (l *Lister) listDBInstances(ctx context.Context, region string) ([]connectors.RawResource, error) {
	client := rds.NewFromConfig(l.regionConfig(region))

	var items []connectors.RawResource
	paginator := rds.NewDescribeDBInstancesPaginator(client, &rds.DescribeDBInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing db instances: %w", err)
		}
		for _, db := range page.DBInstances {
			groups := make([]string, 0, len(db.VpcSecurityGroups))
			for _, g := range db.VpcSecurityGroups {
				groups = append(groups, aws.ToString(g.VpcSecurityGroupId))
			}
			subnetGroup := ""
			if db.DBSubnetGroup != nil {
				subnetGroup = aws.ToString(db.DBSubnetGroup.DBSubnetGroupName)
			}
			item := connectors.DBInstance{
				DBInstanceID:       aws.ToString(db.DBInstanceIdentifier),
				ARN:                aws.ToString(db.DBInstanceArn),
				Engine:             aws.ToString(db.Engine),
				EngineVersion:      aws.ToString(db.EngineVersion),
				InstanceClass:      aws.ToString(db.DBInstanceClass),
				PubliclyAccessible: aws.ToBool(db.PubliclyAccessible),
				StorageEncrypted:   aws.ToBool(db.StorageEncrypted),
				MultiAZ:            aws.ToBool(db.MultiAZ),
				SecurityGroupIDs:   groups,
				SubnetGroup:        subnetGroup,
				Tags:               map[string]string{},
			}
			if db.Endpoint != nil {
				item.Endpoint = aws.ToString(db.Endpoint.Address)
				item.Port = aws.ToInt32(db.Endpoint.Port)
			}
			for _, t := range db.TagList {
				item.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (l *Lister) listFunctions(ctx context.Context, region string) ([]connectors.RawResource, error) {
	client := lambda.NewFromConfig(l.regionConfig(region))

	var items []connectors.RawResource
	paginator := lambda.NewListFunctionsPaginator(client, &lambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing functions: %w", err)
		}
		for _, fn := range page.Functions {
			item := connectors.Function{
				Name:      aws.ToString(fn.FunctionName),
				ARN:       aws.ToString(fn.FunctionArn),
				Runtime:   string(fn.Runtime),
				Role:      aws.ToString(fn.Role),
				KMSKeyARN: aws.ToString(fn.KMSKeyArn),
				Tags:      map[string]string{},
			}
			if fn.VpcConfig != nil {
				item.VPCID = aws.ToString(fn.VpcConfig.VpcId)
				item.SubnetIDs = fn.VpcConfig.SubnetIds
				item.SecurityGroupIDs = fn.VpcConfig.SecurityGroupIds
			}
			if tags, err := client.ListTags(ctx, &lambda.ListTagsInput{Resource: fn.FunctionArn}); err == nil {
				item.Tags = tags.Tags
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (l *Lister) listUsers(ctx context.Context, region string) ([]connectors.RawResource, error) {
	client := iam.NewFromConfig(l.regionConfig(region))

	var items []connectors.RawResource
	paginator := iam.NewListUsersPaginator(client, &iam.ListUsersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}
		for _, u := range page.Users {
			item := connectors.IAMUser{
				UserName: aws.ToString(u.UserName),
				ARN:      aws.ToString(u.Arn),
				Tags:     map[string]string{},
			}
			if u.CreateDate != nil {
				item.CreatedAt = u.CreateDate.String()
			}
			for _, t := range u.Tags {
				item.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (l *Lister) listRoles(ctx context.Context, region string) ([]connectors.RawResource, error) {
	client := iam.NewFromConfig(l.regionConfig(region))

	var items []connectors.RawResource
	paginator := iam.NewListRolesPaginator(client, &iam.ListRolesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing roles: %w", err)
		}
		for _, r := range page.Roles {
			item := connectors.IAMRole{
				RoleName: aws.ToString(r.RoleName),
				ARN:      aws.ToString(r.Arn),
				Tags:     map[string]string{},
			}
			if r.CreateDate != nil {
				item.CreatedAt = r.CreateDate.String()
			}
			for _, t := range r.Tags {
				item.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (l *Lister) listKeys(ctx context.Context, region string) ([]connectors.RawResource, error) {
	client := kms.NewFromConfig(l.regionConfig(region))

	aliases := make(map[string]string)
	aliasPaginator := kms.NewListAliasesPaginator(client, &kms.ListAliasesInput{})
	for aliasPaginator.HasMorePages() {
		page, err := aliasPaginator.NextPage(ctx)
		if err != nil {
			break
		}
		for _, a := range page.Aliases {
			if a.TargetKeyId != nil {
				aliases[aws.ToString(a.TargetKeyId)] = strings.TrimPrefix(aws.ToString(a.AliasName), "alias/")
			}
		}
	}

	var items []connectors.RawResource
	paginator := kms.NewListKeysPaginator(client, &kms.ListKeysInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing keys: %w", err)
		}
		for _, k := range page.Keys {
			keyID := aws.ToString(k.KeyId)
			item := connectors.KMSKey{
				KeyID: keyID,
				ARN:   aws.ToString(k.KeyArn),
				Alias: aliases[keyID],
				Tags:  map[string]string{},
			}
			if desc, err := client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: k.KeyId}); err == nil && desc.KeyMetadata != nil {
				item.Enabled = desc.KeyMetadata.Enabled
				item.KeyManager = string(desc.KeyMetadata.KeyManager)
			}
			if tags, err := client.ListResourceTags(ctx, &kms.ListResourceTagsInput{KeyId: k.KeyId}); err == nil {
				for _, t := range tags.Tags {
					item.Tags[aws.ToString(t.TagKey)] = aws.ToString(t.TagValue)
				}
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func ec2Tags(tags []ec2types.Tag) map[string]string {
	result := make(map[string]string, len(tags))
	for _, t := range tags {
		result[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return result
}
