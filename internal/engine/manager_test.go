package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optrefresh"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/pulumi/pulumi/sdk/v3/go/common/apitype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljubon/pullbot-infra/internal/models"
	"github.com/ljubon/pullbot-infra/internal/provision"
)

type fakeStack struct {
	config  map[string]string
	calls   []string
	outputs auto.OutputMap
	changes map[string]int
	err     error
}

func (f *fakeStack) SetConfig(ctx context.Context, key string, val auto.ConfigValue) error {
	if f.config == nil {
		f.config = map[string]string{}
	}
	f.config[key] = val.Value
	return nil
}

func (f *fakeStack) Preview(ctx context.Context, opts ...optpreview.Option) (auto.PreviewResult, error) {
	f.calls = append(f.calls, PhasePreview)
	return auto.PreviewResult{ChangeSummary: map[apitype.OpType]int{apitype.OpCreate: 6}}, f.err
}

func (f *fakeStack) Up(ctx context.Context, opts ...optup.Option) (auto.UpResult, error) {
	f.calls = append(f.calls, PhaseUp)
	if f.err != nil {
		return auto.UpResult{}, f.err
	}
	res := auto.UpResult{Outputs: f.outputs}
	if f.changes != nil {
		res.Summary.ResourceChanges = &f.changes
	}
	return res, nil
}

func (f *fakeStack) Destroy(ctx context.Context, opts ...optdestroy.Option) (auto.DestroyResult, error) {
	f.calls = append(f.calls, PhaseDestroy)
	return auto.DestroyResult{}, f.err
}

func (f *fakeStack) Refresh(ctx context.Context, opts ...optrefresh.Option) (auto.RefreshResult, error) {
	f.calls = append(f.calls, PhaseRefresh)
	return auto.RefreshResult{}, f.err
}

func (f *fakeStack) Outputs(ctx context.Context) (auto.OutputMap, error) {
	f.calls = append(f.calls, PhaseOutputs)
	return f.outputs, f.err
}

func newTestManager(s *fakeStack, opts ...Option) (*Manager, *bytes.Buffer) {
	var buf bytes.Buffer
	opts = append(opts, WithOutput(&buf), withStackFactory(func(context.Context, *Manager) (stack, error) {
		return s, nil
	}))
	return NewManager("pullbot", "dev", opts...), &buf
}

func sampleOutputs() auto.OutputMap {
	return auto.OutputMap{
		provision.OutputVPCID:           {Value: "vpc-123"},
		provision.OutputClusterArn:      {Value: "arn:aws:ecs:us-east-1:123456789012:cluster/pullbot-cluster"},
		provision.OutputClusterName:     {Value: "pullbot-cluster"},
		provision.OutputServiceName:     {Value: "pullbot-service"},
		provision.OutputLoadBalancerDNS: {Value: "pullbot-lb-1.us-east-1.elb.amazonaws.com"},
		provision.OutputURL:             {Value: "http://pullbot-lb-1.us-east-1.elb.amazonaws.com"},
	}
}

func TestDeployReturnsOutputsAndChanges(t *testing.T) {
	fake := &fakeStack{outputs: sampleOutputs(), changes: map[string]int{"create": 6}}
	m, buf := newTestManager(fake, WithRegion("eu-west-1"))

	outputs, changes, err := m.Deploy(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", fake.config["aws:region"])
	assert.Equal(t, "pullbot-cluster", outputs.ClusterName)
	assert.Equal(t, "http://pullbot-lb-1.us-east-1.elb.amazonaws.com", outputs.URL)
	assert.Empty(t, outputs.TargetGroupArn)
	assert.Equal(t, 6, changes.Counts["create"])
	assert.True(t, changes.HasChanges())
	assert.Contains(t, buf.String(), "deployed successfully")
}

func TestEngineFailuresAreWrapped(t *testing.T) {
	boom := errors.New("engine exploded")
	m, _ := newTestManager(&fakeStack{err: boom})

	_, _, err := m.Deploy(context.Background())
	var depErr *models.DeploymentError
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, PhaseUp, depErr.Phase)
	assert.Equal(t, "dev", depErr.StackName)
	assert.ErrorIs(t, err, boom)

	for phase, run := range map[string]func() error{
		PhaseDestroy: func() error { return m.Destroy(context.Background()) },
		PhaseRefresh: func() error { return m.Refresh(context.Background()) },
		PhasePreview: func() error { _, err := m.Preview(context.Background()); return err },
		PhaseOutputs: func() error { _, err := m.Outputs(context.Background()); return err },
	} {
		err := run()
		require.True(t, errors.As(err, &depErr), phase)
		assert.Equal(t, phase, depErr.Phase)
	}
}

func TestStackSelectionFailure(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager("pullbot", "dev", WithOutput(&buf), withStackFactory(func(context.Context, *Manager) (stack, error) {
		return nil, errors.New("no backend")
	}))

	err := m.Destroy(context.Background())
	var depErr *models.DeploymentError
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, PhaseSelect, depErr.Phase)
}

func TestPreviewSummarizesChanges(t *testing.T) {
	fake := &fakeStack{}
	m, _ := newTestManager(fake)

	summary, err := m.Preview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Counts["create"])
	assert.Equal(t, []string{PhasePreview}, fake.calls)
}

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager("pullbot", "dev", WithProfile("ops"), WithBackend("s3://pullbot-state"))
	assert.Equal(t, "us-east-1", m.Region)
	assert.Equal(t, "us-east-1", m.Config.Region)
	assert.Equal(t, 5, m.Config.DesiredCount)
	assert.Equal(t, "s3://pullbot-state", m.BackendURL)

	env := m.envVars()
	assert.Equal(t, "ops", env["AWS_PROFILE"])
	assert.Equal(t, "us-east-1", env["AWS_REGION"])
}

func TestDisplayInfrastructureInfo(t *testing.T) {
	var buf bytes.Buffer
	outputs := OutputsFromMap(sampleOutputs())
	outputs.ClusterName = ""
	DisplayInfrastructureInfo(&buf, "pullbot", "dev", outputs)

	out := buf.String()
	assert.Contains(t, out, "pullbot/dev")
	assert.Contains(t, out, "ECS Cluster: pullbot-cluster")
	assert.Contains(t, out, "VPC: vpc-123")
	assert.NotContains(t, out, "Target Group")
}

func TestDisplayChangeSummary(t *testing.T) {
	var buf bytes.Buffer
	DisplayChangeSummary(&buf, NewChangeSummary(map[string]int{"same": 6}))
	assert.Contains(t, buf.String(), "up to date")

	buf.Reset()
	DisplayChangeSummary(&buf, NewChangeSummary(map[string]int{"update": 1, "create": 2}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "create")
	assert.Contains(t, lines[2], "update")

	buf.Reset()
	DisplayChangeSummary(&buf, nil)
	assert.Contains(t, buf.String(), "No resource changes")
}

func TestOutputsFromMapIgnoresNonStrings(t *testing.T) {
	out := OutputsFromMap(auto.OutputMap{
		provision.OutputURL:         {Value: 42},
		provision.OutputServiceName: {Value: "svc", Secret: true},
	})
	assert.Empty(t, out.URL)
	assert.Equal(t, "svc", out.ServiceName)

	info := out.Infrastructure("us-east-1")
	assert.Equal(t, "svc", info.ServiceName)
	assert.Equal(t, "us-east-1", info.Region)
}
