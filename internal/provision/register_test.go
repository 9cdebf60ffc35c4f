package provision

import (
	"encoding/base64"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ljubon/pullbot-infra/internal/models"
	"github.com/ljubon/pullbot-infra/internal/topology"
)

const (
	typeVpc           = "awsx:ec2:Vpc"
	typeSecurityGroup = "aws:ec2/securityGroup:SecurityGroup"
	typeCluster       = "aws:ecs/cluster:Cluster"
	typeALB           = "awsx:lb:ApplicationLoadBalancer"
	typeTargetGroup   = "aws:lb/targetGroup:TargetGroup"
	typeService       = "awsx:ecs:EC2Service"
	typeLogGroup      = "aws:cloudwatch/logGroup:LogGroup"
	typeTemplate      = "aws:ec2/launchTemplate:LaunchTemplate"
	typeInstance      = "aws:ec2/instance:Instance"

	testVpcID = "vpc-0a1b2c3d"
)

var privateSubnets = []string{"subnet-private-a", "subnet-private-b"}

type recorded struct {
	Type                string
	Name                string
	Inputs              resource.PropertyMap
	DeleteBeforeReplace bool
}

// recordingMocks fakes the engine and remembers every registration
type recordingMocks struct {
	mu        sync.Mutex
	resources []recorded
}

func (m *recordingMocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	m.mu.Lock()
	m.resources = append(m.resources, recorded{
		Type:                args.TypeToken,
		Name:                args.Name,
		Inputs:              args.Inputs,
		DeleteBeforeReplace: args.RegisterRPC.GetDeleteBeforeReplace(),
	})
	m.mu.Unlock()

	outputs := args.Inputs.Copy()
	switch args.TypeToken {
	case typeVpc:
		outputs["vpcId"] = resource.NewStringProperty(testVpcID)
		outputs["privateSubnetIds"] = stringArray(privateSubnets...)
		outputs["publicSubnetIds"] = stringArray("subnet-public-a", "subnet-public-b")
	case typeCluster:
		outputs["arn"] = resource.NewStringProperty("arn:aws:ecs:us-east-1:123456789012:cluster/" + args.Name)
	case typeTargetGroup:
		outputs["arn"] = resource.NewStringProperty("arn:aws:elasticloadbalancing:us-east-1:123456789012:targetgroup/" + args.Name)
	}
	return args.Name + "-id", outputs, nil
}

func (m *recordingMocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	return args.Args, nil
}

func (m *recordingMocks) byType(typ string) []recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recorded
	for _, r := range m.resources {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func (m *recordingMocks) one(t *testing.T, typ string) recorded {
	t.Helper()
	found := m.byType(typ)
	require.Len(t, found, 1, "expected exactly one %s", typ)
	return found[0]
}

func (m *recordingMocks) identities() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.resources))
	for _, r := range m.resources {
		out = append(out, r.Type+"::"+r.Name)
	}
	sort.Strings(out)
	return out
}

func stringArray(values ...string) resource.PropertyValue {
	arr := make([]resource.PropertyValue, 0, len(values))
	for _, v := range values {
		arr = append(arr, resource.NewStringProperty(v))
	}
	return resource.NewArrayProperty(arr)
}

// plain strips secret and output wrappers from a property value
func plain(v resource.PropertyValue) resource.PropertyValue {
	for {
		switch {
		case v.IsSecret():
			v = v.SecretValue().Element
		case v.IsOutput():
			v = v.OutputValue().Element
		default:
			return v
		}
	}
}

func field(t *testing.T, m resource.PropertyMap, path ...string) resource.PropertyValue {
	t.Helper()
	var v resource.PropertyValue
	cur := m
	for i, key := range path {
		val, ok := cur[resource.PropertyKey(key)]
		require.True(t, ok, "missing input %s", strings.Join(path[:i+1], "."))
		v = plain(val)
		if i < len(path)-1 {
			require.True(t, v.IsObject(), "%s is not an object", strings.Join(path[:i+1], "."))
			cur = v.ObjectValue()
		}
	}
	return v
}

func stringValues(v resource.PropertyValue) []string {
	var out []string
	for _, e := range v.ArrayValue() {
		out = append(out, plain(e).StringValue())
	}
	return out
}

// preview runs the program against the mocks the way `pulumi preview` does
func preview(t *testing.T, mocks *recordingMocks, program pulumi.RunFunc, config map[string]string) error {
	t.Helper()
	return pulumi.RunErr(program,
		pulumi.WithMocks("pullbot", "test", mocks),
		func(info *pulumi.RunInfo) {
			info.DryRun = true
			if config != nil {
				info.Config = config
			}
		},
	)
}

func TestProgramRegistersOneOfEachKind(t *testing.T) {
	mocks := &recordingMocks{}
	require.NoError(t, preview(t, mocks, Program(topology.DefaultConfig()), nil))

	for _, typ := range []string{typeVpc, typeSecurityGroup, typeCluster, typeTargetGroup, typeALB, typeService, typeLogGroup} {
		assert.Len(t, mocks.byType(typ), 1, "expected exactly one %s", typ)
	}
	assert.Empty(t, mocks.byType(typeTemplate))
	assert.Empty(t, mocks.byType(typeInstance))
}

func TestSecurityGroupAllowsOnlyOpenEgress(t *testing.T) {
	mocks := &recordingMocks{}
	require.NoError(t, preview(t, mocks, Program(topology.DefaultConfig()), nil))

	sg := mocks.one(t, typeSecurityGroup)
	assert.Equal(t, testVpcID, field(t, sg.Inputs, "vpcId").StringValue())

	egress := field(t, sg.Inputs, "egress").ArrayValue()
	require.Len(t, egress, 1)
	rule := plain(egress[0]).ObjectValue()
	assert.Equal(t, "-1", field(t, rule, "protocol").StringValue())
	assert.Equal(t, float64(0), field(t, rule, "fromPort").NumberValue())
	assert.Equal(t, float64(0), field(t, rule, "toPort").NumberValue())
	assert.Equal(t, []string{"0.0.0.0/0"}, stringValues(field(t, rule, "cidrBlocks")))
	assert.Equal(t, []string{"::/0"}, stringValues(field(t, rule, "ipv6CidrBlocks")))

	if ingress, ok := sg.Inputs["ingress"]; ok {
		assert.Empty(t, plain(ingress).ArrayValue(), "no ingress rule may be declared")
	}
}

func TestServiceWiresClusterSubnetsAndPorts(t *testing.T) {
	mocks := &recordingMocks{}
	require.NoError(t, preview(t, mocks, Program(topology.DefaultConfig()), nil))

	svc := mocks.one(t, typeService)
	assert.Equal(t, float64(5), field(t, svc.Inputs, "desiredCount").NumberValue())
	assert.Equal(t, "arn:aws:ecs:us-east-1:123456789012:cluster/pullbot-cluster", field(t, svc.Inputs, "cluster").StringValue())
	assert.Equal(t, privateSubnets, stringValues(field(t, svc.Inputs, "networkConfiguration", "subnets")))

	container := field(t, svc.Inputs, "taskDefinitionArgs", "container").ObjectValue()
	assert.Equal(t, "ghcr.io/ljubon/pull/pull:latest", field(t, container, "image").StringValue())
	assert.Equal(t, float64(512), field(t, container, "cpu").NumberValue())
	assert.Equal(t, float64(128), field(t, container, "memory").NumberValue())

	mappings := field(t, container, "portMappings").ArrayValue()
	require.Len(t, mappings, 1)
	pm := plain(mappings[0]).ObjectValue()
	assert.Equal(t, float64(3000), field(t, pm, "containerPort").NumberValue())
	assert.Equal(t, float64(3000), field(t, pm, "hostPort").NumberValue())
	assert.Equal(t, "tcp", field(t, pm, "protocol").StringValue())

	_, hasRole := plain(field(t, svc.Inputs, "taskDefinitionArgs")).ObjectValue()["executionRole"]
	assert.False(t, hasRole, "no execution role unless one is configured")
	assert.True(t, svc.DeleteBeforeReplace, "service must be deleted before it is replaced")
}

func TestPortMappingRegistersIntoListenerTargetGroup(t *testing.T) {
	mocks := &recordingMocks{}
	require.NoError(t, preview(t, mocks, Program(topology.DefaultConfig()), nil))

	tg := mocks.one(t, typeTargetGroup)
	assert.Equal(t, "pullbot-lb-tg", tg.Name)
	assert.Equal(t, testVpcID, field(t, tg.Inputs, "vpcId").StringValue())
	assert.Equal(t, float64(3000), field(t, tg.Inputs, "port").NumberValue())
	assert.Equal(t, "ip", field(t, tg.Inputs, "targetType").StringValue())

	alb := mocks.one(t, typeALB)
	listener := field(t, alb.Inputs, "listener").ObjectValue()
	assert.Equal(t, float64(80), field(t, listener, "port").NumberValue())
	actions := field(t, listener, "defaultActions").ArrayValue()
	require.Len(t, actions, 1)
	action := plain(actions[0]).ObjectValue()
	assert.Equal(t, "forward", field(t, action, "type").StringValue())
	assert.Equal(t, "arn:aws:elasticloadbalancing:us-east-1:123456789012:targetgroup/pullbot-lb-tg",
		field(t, action, "targetGroupArn").StringValue())

	svc := mocks.one(t, typeService)
	mappings := field(t, svc.Inputs, "taskDefinitionArgs", "container", "portMappings").ArrayValue()
	require.Len(t, mappings, 1)
	bound := field(t, plain(mappings[0]).ObjectValue(), "targetGroup")
	require.True(t, bound.IsResourceReference(), "targetGroup must reference the declared target group, got %v", bound)
	ref := bound.ResourceReferenceValue()
	assert.Equal(t, typeTargetGroup, string(ref.URN.Type()))
	assert.Equal(t, "pullbot-lb-tg", ref.URN.Name())
}

func TestServiceUsesConfiguredExecutionRole(t *testing.T) {
	cfg := topology.DefaultConfig()
	cfg.ExecutionRoleArn = "arn:aws:iam::123456789012:role/ecsTaskExecutionRole"

	mocks := &recordingMocks{}
	require.NoError(t, preview(t, mocks, Program(cfg), nil))

	svc := mocks.one(t, typeService)
	assert.Equal(t, cfg.ExecutionRoleArn,
		field(t, svc.Inputs, "taskDefinitionArgs", "executionRole", "roleArn").StringValue())
}

func TestProgramIsIdempotent(t *testing.T) {
	first := &recordingMocks{}
	second := &recordingMocks{}
	require.NoError(t, preview(t, first, Program(topology.DefaultConfig()), nil))
	require.NoError(t, preview(t, second, Program(topology.DefaultConfig()), nil))

	assert.Equal(t, first.identities(), second.identities())
	assert.Equal(t, first.one(t, typeSecurityGroup).Inputs, second.one(t, typeSecurityGroup).Inputs)
}

func TestRegisterServiceFailsWithoutLoadBalancer(t *testing.T) {
	topo, err := topology.Assemble(topology.DefaultConfig())
	require.NoError(t, err)

	mocks := &recordingMocks{}
	var serviceErr error
	err = preview(t, mocks, func(ctx *pulumi.Context) error {
		reg := &registry{}
		for _, step := range []func(*pulumi.Context, *topology.Topology) error{
			reg.registerNetwork,
			reg.registerSecurityPolicy,
			reg.registerCluster,
			reg.registerLogGroup,
		} {
			if err := step(ctx, topo); err != nil {
				return err
			}
		}
		serviceErr = reg.registerService(ctx, topo)
		return nil
	}, nil)
	require.NoError(t, err)

	var refErr *models.ReferenceError
	require.True(t, errors.As(serviceErr, &refErr), "expected ReferenceError, got %v", serviceErr)
	assert.Contains(t, refErr.To, string(topology.KindLoadBalancer))
	assert.Empty(t, mocks.byType(typeService), "service must not be registered")
}

func TestRegisterRejectsNilTopology(t *testing.T) {
	err := preview(t, &recordingMocks{}, func(ctx *pulumi.Context) error {
		_, err := Register(ctx, nil)
		return err
	}, nil)
	require.Error(t, err)
}

func TestStackConfigOverridesDefaults(t *testing.T) {
	mocks := &recordingMocks{}
	config := map[string]string{
		"pullbot:desiredCount": "3",
		"pullbot:image":        "nginx:1.27",
	}
	require.NoError(t, preview(t, mocks, Program(topology.DefaultConfig()), config))

	svc := mocks.one(t, typeService)
	assert.Equal(t, float64(3), field(t, svc.Inputs, "desiredCount").NumberValue())
	assert.Equal(t, "nginx:1.27", field(t, svc.Inputs, "taskDefinitionArgs", "container", "image").StringValue())
}

func TestStackConfigRejectsMalformedValues(t *testing.T) {
	cases := map[string]map[string]string{
		"integer": {"pullbot:desiredCount": "five"},
		"tags":    {"pullbot:tags": "not-a-map"},
	}
	for name, config := range cases {
		t.Run(name, func(t *testing.T) {
			mocks := &recordingMocks{}
			var cfgErr error
			err := preview(t, mocks, func(ctx *pulumi.Context) error {
				_, cfgErr = ConfigFromStack(ctx, topology.DefaultConfig())
				return nil
			}, config)
			require.NoError(t, err)

			var vErr *models.ValidationError
			require.True(t, errors.As(cfgErr, &vErr), "expected ValidationError, got %v", cfgErr)
			for key, value := range config {
				assert.Equal(t, key, vErr.Field)
				assert.Equal(t, value, vErr.Value)
			}

			err = preview(t, mocks, Program(topology.DefaultConfig()), config)
			require.Error(t, err)
			assert.Empty(t, mocks.byType(typeService), "nothing may be registered from a malformed config")
		})
	}
}

func TestCapacityJoinsCluster(t *testing.T) {
	cfg := topology.DefaultConfig()
	cfg.AMIID = "ami-0123456789abcdef0"
	cfg.InstanceProfile = "ecsInstanceRole"

	mocks := &recordingMocks{}
	require.NoError(t, preview(t, mocks, Program(cfg), nil))

	lt := mocks.one(t, typeTemplate)
	assert.Equal(t, "ami-0123456789abcdef0", field(t, lt.Inputs, "imageId").StringValue())
	assert.Equal(t, "t2.medium", field(t, lt.Inputs, "instanceType").StringValue())

	decoded, err := base64.StdEncoding.DecodeString(field(t, lt.Inputs, "userData").StringValue())
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "ECS_CLUSTER=pullbot-cluster")

	mocks.one(t, typeInstance)
}
