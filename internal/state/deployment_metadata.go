// internal/state/deployment_metadata.go
// Deployment metadata storage and retrieval
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ljubon/pullbot-infra/internal/models"
)

// SaveDeploymentMetadata saves deployment metadata to S3
func (s *S3Store) SaveDeploymentMetadata(ctx context.Context, metadata *models.DeploymentMetadata) error {
	if metadata.ProjectName == "" {
		metadata.ProjectName = s.projectName
	}
	if metadata.StackName == "" {
		metadata.StackName = s.stackName
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := s.putObject(ctx, s.metadataKey(), data, "application/json"); err != nil {
		return fmt.Errorf("failed to upload metadata: %w", err)
	}
	return nil
}

// GetDeploymentMetadata retrieves deployment metadata from S3. It returns
// ErrNoMetadata when the stack has none.
func (s *S3Store) GetDeploymentMetadata(ctx context.Context) (*models.DeploymentMetadata, error) {
	data, err := s.getObject(ctx, s.metadataKey())
	if err != nil {
		if errors.Is(err, ErrNoMetadata) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to download metadata: %w", err)
	}

	var metadata models.DeploymentMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &metadata, nil
}

// UpdateDeploymentStatus updates only the deployment status
func (s *S3Store) UpdateDeploymentStatus(ctx context.Context, status string) error {
	metadata, err := s.GetDeploymentMetadata(ctx)
	switch {
	case errors.Is(err, ErrNoMetadata):
		metadata = &models.DeploymentMetadata{}
	case err != nil:
		return err
	}
	metadata.DeploymentStatus = status

	switch status {
	case models.StatusDeployed:
		metadata.DeployedAt = time.Now()
	case models.StatusDestroyed:
		metadata.DestroyedAt = time.Now()
	}

	return s.SaveDeploymentMetadata(ctx, metadata)
}

// DeleteDeploymentMetadata removes deployment metadata from S3
func (s *S3Store) DeleteDeploymentMetadata(ctx context.Context) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.metadataKey()),
	})
	return err
}

// IsDeployed checks if infrastructure is currently deployed
func (s *S3Store) IsDeployed(ctx context.Context) (bool, error) {
	metadata, err := s.GetDeploymentMetadata(ctx)
	if errors.Is(err, ErrNoMetadata) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return metadata.DeploymentStatus == models.StatusDeployed, nil
}
