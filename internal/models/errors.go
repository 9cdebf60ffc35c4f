package models

import "fmt"

// ReferenceError reports a cross-reference that could not be wired while the
// declaration graph was being built. It is an authoring defect, never retried.
type ReferenceError struct {
	From  string // declaration being built, e.g. "service/pullbot-service"
	To    string // missing dependency, e.g. "load-balancer"
	Field string // field that needed the reference
	Cause error
}

func (e *ReferenceError) Error() string {
	msg := fmt.Sprintf("unresolved reference from %s to %s", e.From, e.To)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field: %s)", e.Field)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *ReferenceError) Unwrap() error {
	return e.Cause
}

// ValidationError represents a rejected configuration value
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s value '%s': %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ProviderError represents cloud provider operation errors
type ProviderError struct {
	Provider  string // "aws"
	Operation string // "load-config", "ensure-bucket", "preflight", etc.
	Resource  string // bucket name, instance profile, etc.
	Cause     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error during %s operation on resource '%s': %v",
		e.Provider, e.Operation, e.Resource, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// DeploymentError represents a failure reported by the provisioning engine
type DeploymentError struct {
	ProjectName string
	StackName   string
	Phase       string // "preview", "up", "destroy", "refresh", "outputs"
	Cause       error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deployment error for project '%s' (stack %s) during %s phase: %v",
		e.ProjectName, e.StackName, e.Phase, e.Cause)
}

func (e *DeploymentError) Unwrap() error {
	return e.Cause
}
