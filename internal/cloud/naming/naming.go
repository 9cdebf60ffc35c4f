package naming

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultPrefix is the name prefix of every declared resource
const DefaultPrefix = "pullbot"

// Resource kinds used as logical name suffixes
const (
	KindNetwork        = "vpc"
	KindSecurityPolicy = "security-group"
	KindCluster        = "cluster"
	KindLoadBalancer   = "lb"
	KindService        = "service"
	KindLogGroup       = "logs"
	KindLaunchTemplate = "launch-template"
	KindInstance       = "instance"
)

var (
	startPattern   = regexp.MustCompile(`^[a-z0-9]`)
	allowedPattern = regexp.MustCompile(`^[a-z0-9-]+$`)
	invalidChars   = regexp.MustCompile(`[^a-z0-9-]`)
)

// ResourceName builds the logical engine name for a resource kind.
// Format: {prefix}-{kind}
func ResourceName(prefix, kind string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s-%s", prefix, kind)
}

// StateBucketName returns the S3 bucket holding engine state for a project.
// Format: {project}-state-{accountID}
// The name is deterministic so every invocation resolves the same backend.
func StateBucketName(projectID, accountID string) string {
	name := NormalizeProjectID(projectID) + "-state"
	if accountID != "" {
		name += "-" + accountID
	}
	if len(name) > 63 {
		name = strings.TrimRight(name[:63], "-")
	}
	return name
}

// BackendURL returns the engine backend URL for a state bucket
func BackendURL(bucket string) string {
	return "s3://" + bucket
}

// ValidateProjectID validates a project ID according to cloud naming constraints
func ValidateProjectID(projectID string) error {
	if projectID == "" {
		return fmt.Errorf("project ID cannot be empty")
	}

	// Leave room for the bucket suffix
	if len(projectID) > 40 {
		return fmt.Errorf("project ID too long (max 40 characters)")
	}

	if !startPattern.MatchString(projectID) {
		return fmt.Errorf("project ID must start with a lowercase letter or number")
	}

	if !allowedPattern.MatchString(projectID) {
		return fmt.Errorf("project ID can only contain lowercase letters, numbers, and hyphens")
	}

	if strings.HasSuffix(projectID, "-") {
		return fmt.Errorf("project ID cannot end with a hyphen")
	}

	if strings.Contains(projectID, "--") {
		return fmt.Errorf("project ID cannot contain consecutive hyphens")
	}

	return nil
}

// NormalizeProjectID normalizes a project ID to be storage-friendly
func NormalizeProjectID(projectID string) string {
	normalized := strings.ToLower(projectID)

	// Replace invalid characters with hyphens
	normalized = invalidChars.ReplaceAllString(normalized, "-")

	for strings.Contains(normalized, "--") {
		normalized = strings.ReplaceAll(normalized, "--", "-")
	}

	return strings.Trim(normalized, "-")
}
