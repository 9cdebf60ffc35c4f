// Package models provides shared data structures
package models

import "time"

// Deployment status values recorded in metadata
const (
	StatusDeploying = "deploying"
	StatusDeployed  = "deployed"
	StatusFailed    = "failed"
	StatusDestroyed = "destroyed"
)

// DeploymentMetadata tracks infrastructure deployment information
type DeploymentMetadata struct {
	ProjectName      string             `json:"project_name"`
	StackName        string             `json:"stack_name"`
	DeploymentStatus string             `json:"deployment_status"` // deploying, deployed, failed, destroyed
	DeployedAt       time.Time          `json:"deployed_at,omitempty"`
	DestroyedAt      time.Time          `json:"destroyed_at,omitempty"`
	Infrastructure   InfrastructureInfo `json:"infrastructure"`
	Options          DeploymentOptions  `json:"options"`
	ResourceChanges  map[string]int     `json:"resource_changes,omitempty"`
}

// InfrastructureInfo contains details about deployed resources
type InfrastructureInfo struct {
	VPCId          string `json:"vpc_id"`
	ClusterArn     string `json:"cluster_arn"`
	ClusterName    string `json:"cluster_name"`
	ServiceName    string `json:"service_name"`
	ALBDNS         string `json:"alb_dns"`
	URL            string `json:"url"`
	TargetGroupArn string `json:"target_group_arn"`
	Region         string `json:"region"`
}

// DeploymentOptions contains the options used for deployment
type DeploymentOptions struct {
	Image        string `json:"image"`
	DesiredCount int    `json:"desired_count"`
	CPU          int    `json:"cpu"`
	Memory       int    `json:"memory"`
	AMIID        string `json:"ami_id,omitempty"`
	InstanceType string `json:"instance_type,omitempty"`
}
