// internal/cloud/aws/provider.go
package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/ljubon/pullbot-infra/internal/models"
)

// DefaultRegion is used when neither the profile nor a flag names one
const DefaultRegion = "us-east-1"

// S3API is the subset of the S3 client used for the state bucket and
// deployment metadata.
type S3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketVersioning(ctx context.Context, in *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	PutPublicAccessBlock(ctx context.Context, in *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// STSAPI resolves the caller identity
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// IAMAPI looks up instance profiles
type IAMAPI interface {
	GetInstanceProfile(ctx context.Context, in *iam.GetInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.GetInstanceProfileOutput, error)
}

// Identity is the AWS principal the CLI runs as
type Identity struct {
	Account string
	Arn     string
	UserID  string
}

// Provider holds AWS-specific clients and config
type Provider struct {
	region    string
	profile   string
	AWSConfig aws.Config
	S3Client  S3API
	STSClient STSAPI
	IAMClient IAMAPI
}

// ProviderOption is a functional option for provider configuration
type ProviderOption func(*providerOptions)

type providerOptions struct {
	profile string
	region  string
}

// WithRegion specifies the AWS region
func WithRegion(region string) ProviderOption {
	return func(o *providerOptions) {
		o.region = region
	}
}

// WithProfile specifies the AWS profile to use
func WithProfile(profile string) ProviderOption {
	return func(o *providerOptions) {
		o.profile = profile
	}
}

// loadAWSConfig loads AWS configuration with optional profile
func loadAWSConfig(ctx context.Context, profile string) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{}
	if profile != "" {
		optFns = append(optFns, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return aws.Config{}, &models.ProviderError{
			Provider:  "aws",
			Operation: "load-config",
			Resource:  fmt.Sprintf("profile:%s", profile),
			Cause:     fmt.Errorf("failed to load AWS config: %w", err),
		}
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	return cfg, nil
}

// NewProvider loads the AWS config and builds the S3, STS and IAM clients
func NewProvider(ctx context.Context, options ...ProviderOption) (*Provider, error) {
	opts := &providerOptions{}
	for _, opt := range options {
		opt(opts)
	}

	cfg, err := loadAWSConfig(ctx, opts.profile)
	if err != nil {
		return nil, err
	}
	if opts.region != "" {
		cfg.Region = opts.region
	}

	return &Provider{
		region:    cfg.Region,
		profile:   opts.profile,
		AWSConfig: cfg,
		S3Client:  s3.NewFromConfig(cfg),
		STSClient: sts.NewFromConfig(cfg),
		IAMClient: iam.NewFromConfig(cfg),
	}, nil
}

// NewProviderWithClients builds a provider around existing clients
func NewProviderWithClients(region string, s3Client S3API, stsClient STSAPI, iamClient IAMAPI) *Provider {
	if region == "" {
		region = DefaultRegion
	}
	return &Provider{
		region:    region,
		AWSConfig: aws.Config{Region: region},
		S3Client:  s3Client,
		STSClient: stsClient,
		IAMClient: iamClient,
	}
}

// GetRegion returns the region the clients are bound to
func (p *Provider) GetRegion() string {
	return p.region
}

// AWSProfile returns the shared config profile, empty for the default chain
func (p *Provider) AWSProfile() string {
	return p.profile
}

// ValidateCredentials checks the credentials resolve to a principal
func (p *Provider) ValidateCredentials(ctx context.Context) (*Identity, error) {
	out, err := p.STSClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, &models.ProviderError{
			Provider:  "aws",
			Operation: "validate-credentials",
			Resource:  "sts:GetCallerIdentity",
			Cause:     err,
		}
	}
	return &Identity{
		Account: aws.ToString(out.Account),
		Arn:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}

// EnsureStateBucket makes sure the Pulumi state bucket exists, is versioned
// and is not publicly accessible. created reports whether this call made it.
func (p *Provider) EnsureStateBucket(ctx context.Context, bucket string) (bool, error) {
	_, err := p.S3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return false, nil
	}
	if !isNotFound(err) {
		return false, &models.ProviderError{
			Provider:  "aws",
			Operation: "head-bucket",
			Resource:  bucket,
			Cause:     err,
		}
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if p.region != DefaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(p.region),
		}
	}

	created := true
	if _, err := p.S3Client.CreateBucket(ctx, input); err != nil {
		var apiErr smithy.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou":
			created = false
		case errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyExists":
			return false, &models.ProviderError{
				Provider:  "aws",
				Operation: "create-bucket",
				Resource:  bucket,
				Cause:     fmt.Errorf("bucket name '%s' already taken globally, choose a more unique project name", bucket),
			}
		default:
			return false, &models.ProviderError{
				Provider:  "aws",
				Operation: "create-bucket",
				Resource:  bucket,
				Cause:     fmt.Errorf("failed to create bucket: %w", err),
			}
		}
	}

	_, err = p.S3Client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(bucket),
		VersioningConfiguration: &types.VersioningConfiguration{
			Status: types.BucketVersioningStatusEnabled,
		},
	})
	if err != nil {
		return created, &models.ProviderError{
			Provider:  "aws",
			Operation: "enable-versioning",
			Resource:  bucket,
			Cause:     err,
		}
	}

	_, err = p.S3Client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: aws.String(bucket),
		PublicAccessBlockConfiguration: &types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(true),
			BlockPublicPolicy:     aws.Bool(true),
			IgnorePublicAcls:      aws.Bool(true),
			RestrictPublicBuckets: aws.Bool(true),
		},
	})
	if err != nil {
		return created, &models.ProviderError{
			Provider:  "aws",
			Operation: "block-public-access",
			Resource:  bucket,
			Cause:     err,
		}
	}

	if created {
		fmt.Printf("✅ State bucket created: %s\n", bucket)
	}
	return created, nil
}

// CheckInstanceProfile verifies the instance profile used by the capacity
// launch template exists.
func (p *Provider) CheckInstanceProfile(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	_, err := p.IAMClient.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
		InstanceProfileName: aws.String(name),
	})
	if err == nil {
		return nil
	}

	var noSuch *iamtypes.NoSuchEntityException
	if errors.As(err, &noSuch) {
		return &models.ProviderError{
			Provider:  "aws",
			Operation: "check-instance-profile",
			Resource:  name,
			Cause:     fmt.Errorf("instance profile %q does not exist", name),
		}
	}
	return &models.ProviderError{
		Provider:  "aws",
		Operation: "check-instance-profile",
		Resource:  name,
		Cause:     err,
	}
}

// isNotFound reports whether a HeadBucket error means the bucket is absent
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
