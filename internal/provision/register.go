// Package provision turns a declared topology into Pulumi resources.
package provision

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudwatch"
	awsec2 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	awsecs "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecs"
	awslb "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lb"
	"github.com/pulumi/pulumi-awsx/sdk/v2/go/awsx/awsx"
	awsxec2 "github.com/pulumi/pulumi-awsx/sdk/v2/go/awsx/ec2"
	awsxecs "github.com/pulumi/pulumi-awsx/sdk/v2/go/awsx/ecs"
	awsxlb "github.com/pulumi/pulumi-awsx/sdk/v2/go/awsx/lb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/ljubon/pullbot-infra/internal/models"
	"github.com/ljubon/pullbot-infra/internal/topology"
)

// Stack output names
const (
	OutputVPCID           = "vpcId"
	OutputClusterArn      = "clusterArn"
	OutputClusterName     = "clusterName"
	OutputServiceName     = "serviceName"
	OutputLoadBalancerDNS = "loadBalancerDns"
	OutputURL             = "url"
	OutputTargetGroupArn  = "targetGroupArn"
)

// Handles are the engine handles a caller may compose further
type Handles struct {
	Cluster      *awsecs.Cluster
	Service      *awsxecs.EC2Service
	LoadBalancer *awsxlb.ApplicationLoadBalancer
	TargetGroup  *awslb.TargetGroup
}

// registry keeps the engine handle of every registered declaration
type registry struct {
	vpc      *awsxec2.Vpc
	sg       *awsec2.SecurityGroup
	cluster  *awsecs.Cluster
	alb      *awsxlb.ApplicationLoadBalancer
	tg       *awslb.TargetGroup
	logGroup *cloudwatch.LogGroup
	service  *awsxecs.EC2Service
}

// Register declares every resource of topo with the engine and wires their
// identifiers together. It fails before registering a resource whose
// dependency handle is missing.
func Register(ctx *pulumi.Context, topo *topology.Topology) (*Handles, error) {
	if topo == nil {
		return nil, &models.ReferenceError{From: "program", To: "topology"}
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}

	reg := &registry{}
	steps := []func(*pulumi.Context, *topology.Topology) error{
		reg.registerNetwork,
		reg.registerSecurityPolicy,
		reg.registerCluster,
		reg.registerLoadBalancer,
		reg.registerLogGroup,
		reg.registerService,
	}
	for _, step := range steps {
		if err := step(ctx, topo); err != nil {
			return nil, err
		}
	}

	if topo.Capacity != nil {
		if err := reg.registerCapacity(ctx, topo.Capacity); err != nil {
			return nil, err
		}
	}

	reg.export(ctx)

	return &Handles{
		Cluster:      reg.cluster,
		Service:      reg.service,
		LoadBalancer: reg.alb,
		TargetGroup:  reg.tg,
	}, nil
}

func (r *registry) registerNetwork(ctx *pulumi.Context, topo *topology.Topology) error {
	n := topo.Network
	args := &awsxec2.VpcArgs{
		NatGateways: &awsxec2.NatGatewayConfigurationArgs{
			Strategy: awsxec2.NatGatewayStrategySingle,
		},
		Tags: stringMap(n.Tags),
	}
	if n.CIDR != "" {
		args.CidrBlock = pulumi.StringRef(n.CIDR)
	}
	if n.AvailabilityZones > 0 {
		args.NumberOfAvailabilityZones = pulumi.IntRef(n.AvailabilityZones)
	}

	vpc, err := awsxec2.NewVpc(ctx, n.Name, args)
	if err != nil {
		return fmt.Errorf("failed to declare vpc %q: %w", n.Name, err)
	}
	r.vpc = vpc
	return nil
}

func (r *registry) registerSecurityPolicy(ctx *pulumi.Context, topo *topology.Topology) error {
	p := topo.SecurityPolicy
	if r.vpc == nil {
		return missing(p.Ref(), p.Network, "vpcId")
	}

	sg, err := awsec2.NewSecurityGroup(ctx, p.Name, &awsec2.SecurityGroupArgs{
		VpcId:   r.vpc.VpcId,
		Egress:  egressRules(p.Egress),
		Ingress: ingressRules(p.Ingress),
		Tags:    stringMap(p.Tags),
	})
	if err != nil {
		return fmt.Errorf("failed to declare security group %q: %w", p.Name, err)
	}
	r.sg = sg
	return nil
}

func (r *registry) registerCluster(ctx *pulumi.Context, topo *topology.Topology) error {
	c := topo.Cluster
	cluster, err := awsecs.NewCluster(ctx, c.Name, &awsecs.ClusterArgs{
		Name: pulumi.String(c.Name),
		Tags: stringMap(c.Tags),
	})
	if err != nil {
		return fmt.Errorf("failed to declare cluster %q: %w", c.Name, err)
	}
	r.cluster = cluster
	return nil
}

func (r *registry) registerLoadBalancer(ctx *pulumi.Context, topo *topology.Topology) error {
	l := topo.LoadBalancer
	if r.vpc == nil {
		return missing(l.Ref(), l.Network, "subnetIds")
	}

	// The listener forwards here; the service's port mappings register into it.
	tgName := l.Name + "-tg"
	tg, err := awslb.NewTargetGroup(ctx, tgName, &awslb.TargetGroupArgs{
		Port:       pulumi.Int(l.TargetPort),
		Protocol:   pulumi.String("HTTP"),
		TargetType: pulumi.String("ip"),
		VpcId:      r.vpc.VpcId,
		Tags:       stringMap(l.Tags),
	})
	if err != nil {
		return fmt.Errorf("failed to declare target group %q: %w", tgName, err)
	}

	alb, err := awsxlb.NewApplicationLoadBalancer(ctx, l.Name, &awsxlb.ApplicationLoadBalancerArgs{
		SubnetIds: r.vpc.PublicSubnetIds,
		Listener: &awsxlb.ListenerArgs{
			Port:     pulumi.Int(l.ListenerPort),
			Protocol: pulumi.String("HTTP"),
			DefaultActions: awslb.ListenerDefaultActionArray{
				awslb.ListenerDefaultActionArgs{
					Type:           pulumi.String("forward"),
					TargetGroupArn: tg.Arn,
				},
			},
		},
		Tags: stringMap(l.Tags),
	})
	if err != nil {
		return fmt.Errorf("failed to declare load balancer %q: %w", l.Name, err)
	}
	r.tg = tg
	r.alb = alb
	return nil
}

func (r *registry) registerLogGroup(ctx *pulumi.Context, topo *topology.Topology) error {
	g := topo.LogGroup
	logGroup, err := cloudwatch.NewLogGroup(ctx, g.Name, &cloudwatch.LogGroupArgs{
		Name:            pulumi.String(g.Name),
		RetentionInDays: pulumi.Int(g.RetentionDays),
		Tags:            stringMap(g.Tags),
	})
	if err != nil {
		return fmt.Errorf("failed to declare log group %q: %w", g.Name, err)
	}
	r.logGroup = logGroup
	return nil
}

func (r *registry) registerService(ctx *pulumi.Context, topo *topology.Topology) error {
	s := topo.Service
	switch {
	case r.vpc == nil:
		return missing(s.Ref(), s.Network, "networkConfiguration.subnets")
	case r.sg == nil:
		return missing(s.Ref(), topo.SecurityPolicy.Ref(), "networkConfiguration.securityGroups")
	case r.cluster == nil:
		return missing(s.Ref(), s.Cluster, "cluster")
	case r.alb == nil, r.tg == nil:
		return missing(s.Ref(), topo.LoadBalancer.Ref(), "portMappings.targetGroup")
	case r.logGroup == nil:
		return missing(s.Ref(), s.Container.LogGroup, "logConfiguration")
	}

	ctx.Log.Info(fmt.Sprintf("declaring service %s: %d x %s", s.Name, s.DesiredCount, s.Container.Image), nil)

	c := s.Container
	taskDef := &awsxecs.EC2ServiceTaskDefinitionArgs{
		Container: &awsxecs.TaskDefinitionContainerDefinitionArgs{
			Name:         pulumi.String(c.Name),
			Image:        pulumi.String(c.Image),
			Cpu:          pulumi.Int(c.CPU),
			Memory:       pulumi.Int(c.Memory),
			Essential:    pulumi.Bool(c.Essential),
			PortMappings: r.portMappings(c.PortMappings),
			LogConfiguration: &awsxecs.TaskDefinitionLogConfigurationArgs{
				LogDriver: pulumi.String("awslogs"),
				Options: pulumi.StringMap{
					"awslogs-group":         r.logGroup.Name,
					"awslogs-region":        pulumi.String(c.LogRegion),
					"awslogs-stream-prefix": pulumi.String("container"),
				},
			},
		},
	}
	if s.ExecutionRoleArn != "" {
		taskDef.ExecutionRole = &awsx.DefaultRoleWithPolicyArgs{
			RoleArn: pulumi.String(s.ExecutionRoleArn),
		}
	}

	// ECS rejects an in-place replacement that keeps the service name.
	service, err := awsxecs.NewEC2Service(ctx, s.Name, &awsxecs.EC2ServiceArgs{
		Cluster:      r.cluster.Arn,
		DesiredCount: pulumi.Int(s.DesiredCount),
		NetworkConfiguration: &awsecs.ServiceNetworkConfigurationArgs{
			Subnets:        r.vpc.PrivateSubnetIds,
			SecurityGroups: pulumi.StringArray{r.sg.ID().ToStringOutput()},
		},
		TaskDefinitionArgs: taskDef,
		Tags: stringMap(s.Tags),
	}, pulumi.DeleteBeforeReplace(true))
	if err != nil {
		return fmt.Errorf("failed to declare service %q: %w", s.Name, err)
	}
	r.service = service
	return nil
}

// portMappings binds every mapping that names a target to the load
// balancer's target group.
func (r *registry) portMappings(mappings []topology.PortMapping) awsxecs.TaskDefinitionPortMappingArray {
	out := awsxecs.TaskDefinitionPortMappingArray{}
	for _, pm := range mappings {
		args := awsxecs.TaskDefinitionPortMappingArgs{
			ContainerPort: pulumi.Int(pm.ContainerPort),
			HostPort:      pulumi.Int(pm.HostPort),
			Protocol:      pulumi.String("tcp"),
		}
		if !pm.TargetGroup.IsZero() {
			args.TargetGroup = r.tg
		}
		out = append(out, args)
	}
	return out
}

func (r *registry) export(ctx *pulumi.Context) {
	ctx.Export(OutputVPCID, r.vpc.VpcId)
	ctx.Export(OutputClusterArn, r.cluster.Arn)
	ctx.Export(OutputClusterName, r.cluster.Name)
	ctx.Export(OutputServiceName, r.service.Service.Name())
	ctx.Export(OutputLoadBalancerDNS, r.alb.LoadBalancer.DnsName())
	ctx.Export(OutputURL, pulumi.Sprintf("http://%s", r.alb.LoadBalancer.DnsName()))
	ctx.Export(OutputTargetGroupArn, r.tg.Arn)
}

func missing(from, to topology.Ref, field string) error {
	return &models.ReferenceError{From: from.String(), To: to.String(), Field: field}
}

func egressRules(rules []topology.Rule) awsec2.SecurityGroupEgressArray {
	out := awsec2.SecurityGroupEgressArray{}
	for _, rule := range rules {
		out = append(out, awsec2.SecurityGroupEgressArgs{
			FromPort:       pulumi.Int(rule.FromPort),
			ToPort:         pulumi.Int(rule.ToPort),
			Protocol:       pulumi.String(rule.Protocol),
			CidrBlocks:     pulumi.ToStringArray(rule.CIDRBlocks),
			Ipv6CidrBlocks: pulumi.ToStringArray(rule.IPv6CIDRBlocks),
		})
	}
	return out
}

func ingressRules(rules []topology.Rule) awsec2.SecurityGroupIngressArray {
	out := awsec2.SecurityGroupIngressArray{}
	for _, rule := range rules {
		out = append(out, awsec2.SecurityGroupIngressArgs{
			FromPort:       pulumi.Int(rule.FromPort),
			ToPort:         pulumi.Int(rule.ToPort),
			Protocol:       pulumi.String(rule.Protocol),
			CidrBlocks:     pulumi.ToStringArray(rule.CIDRBlocks),
			Ipv6CidrBlocks: pulumi.ToStringArray(rule.IPv6CIDRBlocks),
		})
	}
	return out
}

func stringMap(m map[string]string) pulumi.StringMapInput {
	if len(m) == 0 {
		return nil
	}
	return pulumi.ToStringMap(m)
}
