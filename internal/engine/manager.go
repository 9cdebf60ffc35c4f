// internal/engine/manager.go
package engine

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optrefresh"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/pulumi/pulumi/sdk/v3/go/common/tokens"
	"github.com/pulumi/pulumi/sdk/v3/go/common/workspace"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/ljubon/pullbot-infra/internal/models"
	"github.com/ljubon/pullbot-infra/internal/provision"
	"github.com/ljubon/pullbot-infra/internal/topology"
)

// Deployment phases reported in DeploymentError
const (
	PhasePreview = "preview"
	PhaseUp      = "up"
	PhaseDestroy = "destroy"
	PhaseRefresh = "refresh"
	PhaseOutputs = "outputs"
	PhaseSelect  = "select-stack"
)

// stack is the part of auto.Stack the manager drives
type stack interface {
	SetConfig(ctx context.Context, key string, val auto.ConfigValue) error
	Preview(ctx context.Context, opts ...optpreview.Option) (auto.PreviewResult, error)
	Up(ctx context.Context, opts ...optup.Option) (auto.UpResult, error)
	Destroy(ctx context.Context, opts ...optdestroy.Option) (auto.DestroyResult, error)
	Refresh(ctx context.Context, opts ...optrefresh.Option) (auto.RefreshResult, error)
	Outputs(ctx context.Context) (auto.OutputMap, error)
}

type stackFactory func(ctx context.Context, m *Manager) (stack, error)

// Manager drives the Pulumi engine for one project and stack
type Manager struct {
	ProjectName string
	StackName   string
	Region      string
	AWSProfile  string
	BackendURL  string
	Config      topology.Config

	out      io.Writer
	newStack stackFactory
}

// Option configures a Manager
type Option func(*Manager)

// WithRegion sets the AWS region passed to the engine
func WithRegion(region string) Option {
	return func(m *Manager) { m.Region = region }
}

// WithProfile sets the AWS profile passed to the engine
func WithProfile(profile string) Option {
	return func(m *Manager) { m.AWSProfile = profile }
}

// WithBackend sets the state backend URL, e.g. s3://bucket
func WithBackend(url string) Option {
	return func(m *Manager) { m.BackendURL = url }
}

// WithConfig replaces the default topology configuration
func WithConfig(cfg topology.Config) Option {
	return func(m *Manager) { m.Config = cfg }
}

// WithOutput sets where engine progress is streamed
func WithOutput(w io.Writer) Option {
	return func(m *Manager) { m.out = w }
}

func withStackFactory(f stackFactory) Option {
	return func(m *Manager) { m.newStack = f }
}

// NewManager creates a manager for projectName/stackName
func NewManager(projectName, stackName string, opts ...Option) *Manager {
	m := &Manager{
		ProjectName: projectName,
		StackName:   stackName,
		Region:      "us-east-1",
		Config:      topology.DefaultConfig(),
		out:         os.Stdout,
		newStack:    inlineStack,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.Config.Region == "" {
		m.Config.Region = m.Region
	}
	return m
}

// Program returns the inline program the manager deploys
func (m *Manager) Program() pulumi.RunFunc {
	return provision.Program(m.Config)
}

func (m *Manager) envVars() map[string]string {
	env := map[string]string{
		"AWS_REGION": m.Region,
	}
	if m.AWSProfile != "" {
		env["AWS_PROFILE"] = m.AWSProfile
	}
	return env
}

// inlineStack selects or creates the stack backed by the in-process program
func inlineStack(ctx context.Context, m *Manager) (stack, error) {
	project := workspace.Project{
		Name:    tokens.PackageName(m.ProjectName),
		Runtime: workspace.NewProjectRuntimeInfo("go", nil),
	}
	if m.BackendURL != "" {
		project.Backend = &workspace.ProjectBackend{URL: m.BackendURL}
	}

	s, err := auto.UpsertStackInlineSource(ctx, m.StackName, m.ProjectName, m.Program(),
		auto.Project(project),
		auto.EnvVars(m.envVars()),
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Manager) stack(ctx context.Context) (stack, error) {
	s, err := m.newStack(ctx, m)
	if err != nil {
		return nil, m.fail(PhaseSelect, err)
	}
	if err := s.SetConfig(ctx, "aws:region", auto.ConfigValue{Value: m.Region}); err != nil {
		return nil, m.fail(PhaseSelect, fmt.Errorf("failed to set aws:region: %w", err))
	}
	return s, nil
}

func (m *Manager) fail(phase string, err error) error {
	return &models.DeploymentError{
		ProjectName: m.ProjectName,
		StackName:   m.StackName,
		Phase:       phase,
		Cause:       err,
	}
}

// Preview computes the change set without applying it
func (m *Manager) Preview(ctx context.Context) (*ChangeSummary, error) {
	fmt.Fprintf(m.out, "📋 Previewing changes for %s/%s...\n", m.ProjectName, m.StackName)

	s, err := m.stack(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.Preview(ctx, optpreview.ProgressStreams(m.out))
	if err != nil {
		return nil, m.fail(PhasePreview, err)
	}
	return SummaryFromPreview(res.ChangeSummary), nil
}

// Deploy creates or updates the topology and returns its outputs
func (m *Manager) Deploy(ctx context.Context) (*InfrastructureOutputs, *ChangeSummary, error) {
	fmt.Fprintf(m.out, "🚀 Deploying infrastructure for %s/%s\n", m.ProjectName, m.StackName)

	s, err := m.stack(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.Up(ctx, optup.ProgressStreams(m.out))
	if err != nil {
		return nil, nil, m.fail(PhaseUp, err)
	}

	var changes *ChangeSummary
	if res.Summary.ResourceChanges != nil {
		changes = NewChangeSummary(*res.Summary.ResourceChanges)
	}

	fmt.Fprintf(m.out, "✅ Infrastructure deployed successfully for %s/%s\n", m.ProjectName, m.StackName)
	return OutputsFromMap(res.Outputs), changes, nil
}

// Destroy removes every resource in the stack
func (m *Manager) Destroy(ctx context.Context) error {
	fmt.Fprintf(m.out, "🗑️  Destroying infrastructure for %s/%s\n", m.ProjectName, m.StackName)

	s, err := m.stack(ctx)
	if err != nil {
		return err
	}
	if _, err := s.Destroy(ctx, optdestroy.ProgressStreams(m.out)); err != nil {
		return m.fail(PhaseDestroy, err)
	}

	fmt.Fprintf(m.out, "✅ Infrastructure destroyed successfully for %s/%s\n", m.ProjectName, m.StackName)
	return nil
}

// Refresh reconciles the stack state with the cloud
func (m *Manager) Refresh(ctx context.Context) error {
	fmt.Fprintf(m.out, "🔄 Refreshing state for %s/%s\n", m.ProjectName, m.StackName)

	s, err := m.stack(ctx)
	if err != nil {
		return err
	}
	if _, err := s.Refresh(ctx, optrefresh.ProgressStreams(m.out)); err != nil {
		return m.fail(PhaseRefresh, err)
	}
	return nil
}

// Outputs reads the current stack outputs
func (m *Manager) Outputs(ctx context.Context) (*InfrastructureOutputs, error) {
	s, err := m.stack(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.Outputs(ctx)
	if err != nil {
		return nil, m.fail(PhaseOutputs, err)
	}
	return OutputsFromMap(out), nil
}
