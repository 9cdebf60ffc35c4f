package topology

import (
	"regexp"
	"strconv"

	"github.com/ljubon/pullbot-infra/internal/cloud/naming"
	"github.com/ljubon/pullbot-infra/internal/models"
)

// Config holds every parameter of the declared deployment.
// DefaultConfig returns the fixed values the deployment has always used.
type Config struct {
	Prefix string
	Region string

	NetworkCIDR       string
	AvailabilityZones int

	EgressCIDRBlocks     []string
	EgressIPv6CIDRBlocks []string

	DesiredCount  int
	ContainerName string
	Image         string
	CPU           int
	Memory        int
	ContainerPort int
	HostPort      int
	ListenerPort  int

	// ExecutionRoleArn, when set, is the role ECS assumes to pull the
	// image and ship logs. Empty lets the service create one.
	ExecutionRoleArn string

	LogRetentionDays int

	// Capacity is optional; it is only declared when AMIID is set.
	AMIID           string
	InstanceType    string
	InstanceProfile string

	Tags map[string]string
}

// DefaultConfig returns the fixed deployment parameters
func DefaultConfig() Config {
	return Config{
		Prefix:               naming.DefaultPrefix,
		Region:               "us-east-1",
		NetworkCIDR:          "10.0.0.0/16",
		AvailabilityZones:    2,
		EgressCIDRBlocks:     []string{"0.0.0.0/0"},
		EgressIPv6CIDRBlocks: []string{"::/0"},
		DesiredCount:         5,
		ContainerName:        "pullbot",
		Image:                "ghcr.io/ljubon/pull/pull:latest",
		CPU:                  512,
		Memory:               128,
		ContainerPort:        3000,
		HostPort:             3000,
		ListenerPort:         80,
		LogRetentionDays:     7,
		InstanceType:         "t2.medium",
	}
}

// CapacityEnabled reports whether EC2 capacity should be declared
func (c Config) CapacityEnabled() bool {
	return c.AMIID != ""
}

// Validate rejects values the engine could never converge on
func (c Config) Validate() error {
	if c.Image == "" {
		return &models.ValidationError{Field: "image", Message: "container image cannot be empty"}
	}
	if c.ContainerName == "" {
		return &models.ValidationError{Field: "container-name", Message: "container name cannot be empty"}
	}
	if !containerNamePattern.MatchString(c.ContainerName) {
		return &models.ValidationError{Field: "container-name", Value: c.ContainerName, Message: "may only contain letters, digits, hyphens and underscores"}
	}
	if c.DesiredCount <= 0 {
		return &models.ValidationError{Field: "desired-count", Value: strconv.Itoa(c.DesiredCount), Message: "must be greater than zero"}
	}
	if c.CPU <= 0 {
		return &models.ValidationError{Field: "cpu", Value: strconv.Itoa(c.CPU), Message: "must be greater than zero"}
	}
	if c.Memory <= 0 {
		return &models.ValidationError{Field: "memory", Value: strconv.Itoa(c.Memory), Message: "must be greater than zero"}
	}
	if !validPort(c.ContainerPort) {
		return &models.ValidationError{Field: "container-port", Value: strconv.Itoa(c.ContainerPort), Message: "must be between 1 and 65535"}
	}
	if !validPort(c.HostPort) {
		return &models.ValidationError{Field: "host-port", Value: strconv.Itoa(c.HostPort), Message: "must be between 1 and 65535"}
	}
	if !validPort(c.ListenerPort) {
		return &models.ValidationError{Field: "listener-port", Value: strconv.Itoa(c.ListenerPort), Message: "must be between 1 and 65535"}
	}
	if c.AvailabilityZones <= 0 {
		return &models.ValidationError{Field: "availability-zones", Value: strconv.Itoa(c.AvailabilityZones), Message: "must be greater than zero"}
	}
	if c.CapacityEnabled() && c.InstanceType == "" {
		return &models.ValidationError{Field: "instance-type", Message: "required when an AMI id is set"}
	}
	return nil
}

// ECS container definition names
var containerNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func (c Config) tags() map[string]string {
	if len(c.Tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.Tags))
	for k, v := range c.Tags {
		out[k] = v
	}
	return out
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
