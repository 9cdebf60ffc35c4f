package topology

import (
	"fmt"

	"github.com/ljubon/pullbot-infra/internal/cloud/naming"
	"github.com/ljubon/pullbot-infra/internal/models"
)

const allProtocols = "-1"

// Assemble builds the full, cross-referenced declaration bundle for cfg.
// It is pure: equal configs always produce equal topologies.
func Assemble(cfg Config) (*Topology, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	network := newNetwork(cfg)

	policy, err := newSecurityPolicy(cfg, network)
	if err != nil {
		return nil, err
	}

	cluster := newCluster(cfg)

	lb, err := newLoadBalancer(cfg, network)
	if err != nil {
		return nil, err
	}

	logs := newLogGroup(cfg)

	service, err := newService(cfg, serviceDeps{
		network:      network,
		policy:       policy,
		cluster:      cluster,
		loadBalancer: lb,
		logGroup:     logs,
	})
	if err != nil {
		return nil, err
	}

	topo := &Topology{
		Network:        network,
		SecurityPolicy: policy,
		Cluster:        cluster,
		LoadBalancer:   lb,
		LogGroup:       logs,
		Service:        service,
	}

	if cfg.CapacityEnabled() {
		capacity, err := newCapacity(cfg, cluster, network, policy)
		if err != nil {
			return nil, err
		}
		topo.Capacity = capacity
	}

	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return topo, nil
}

func newNetwork(cfg Config) *Network {
	return &Network{
		Name:              naming.ResourceName(cfg.Prefix, naming.KindNetwork),
		CIDR:              cfg.NetworkCIDR,
		AvailabilityZones: cfg.AvailabilityZones,
		Tags:              cfg.tags(),
	}
}

// newSecurityPolicy declares open egress and no ingress
func newSecurityPolicy(cfg Config, network *Network) (*SecurityPolicy, error) {
	name := naming.ResourceName(cfg.Prefix, naming.KindSecurityPolicy)
	if network == nil {
		return nil, &models.ReferenceError{From: fmt.Sprintf("%s/%s", KindSecurityPolicy, name), To: string(KindNetwork), Field: "network"}
	}
	return &SecurityPolicy{
		Name:    name,
		Network: network.Ref(),
		Egress: []Rule{{
			FromPort:       0,
			ToPort:         0,
			Protocol:       allProtocols,
			CIDRBlocks:     copyStrings(cfg.EgressCIDRBlocks),
			IPv6CIDRBlocks: copyStrings(cfg.EgressIPv6CIDRBlocks),
		}},
		Tags: cfg.tags(),
	}, nil
}

func newCluster(cfg Config) *Cluster {
	return &Cluster{
		Name: naming.ResourceName(cfg.Prefix, naming.KindCluster),
		Tags: cfg.tags(),
	}
}

func newLoadBalancer(cfg Config, network *Network) (*LoadBalancer, error) {
	name := naming.ResourceName(cfg.Prefix, naming.KindLoadBalancer)
	if network == nil {
		return nil, &models.ReferenceError{From: fmt.Sprintf("%s/%s", KindLoadBalancer, name), To: string(KindNetwork), Field: "subnets"}
	}
	return &LoadBalancer{
		Name:         name,
		Network:      network.Ref(),
		TargetPort:   cfg.ContainerPort,
		ListenerPort: cfg.ListenerPort,
		Tags:         cfg.tags(),
	}, nil
}

func newLogGroup(cfg Config) *LogGroup {
	return &LogGroup{
		Name:          naming.ResourceName(cfg.Prefix, naming.KindLogGroup),
		RetentionDays: cfg.LogRetentionDays,
		Tags:          cfg.tags(),
	}
}

type serviceDeps struct {
	network      *Network
	policy       *SecurityPolicy
	cluster      *Cluster
	loadBalancer *LoadBalancer
	logGroup     *LogGroup
}

// newService wires every dependency into the service. A missing dependency
// fails here; the service is never declared with an unresolved target.
func newService(cfg Config, deps serviceDeps) (*Service, error) {
	name := naming.ResourceName(cfg.Prefix, naming.KindService)
	from := fmt.Sprintf("%s/%s", KindService, name)

	switch {
	case deps.network == nil:
		return nil, &models.ReferenceError{From: from, To: string(KindNetwork), Field: "network-configuration.subnets"}
	case deps.policy == nil:
		return nil, &models.ReferenceError{From: from, To: string(KindSecurityPolicy), Field: "network-configuration.security-groups"}
	case deps.cluster == nil:
		return nil, &models.ReferenceError{From: from, To: string(KindCluster), Field: "cluster"}
	case deps.loadBalancer == nil:
		return nil, &models.ReferenceError{From: from, To: string(KindLoadBalancer), Field: "container.port-mappings.target-group"}
	case deps.logGroup == nil:
		return nil, &models.ReferenceError{From: from, To: string(KindLogGroup), Field: "container.log-configuration"}
	}

	return &Service{
		Name:             name,
		Cluster:          deps.cluster.Ref(),
		Network:          deps.network.Ref(),
		SecurityPolicies: []Ref{deps.policy.Ref()},
		DesiredCount:     cfg.DesiredCount,
		Container: Container{
			Name:      cfg.ContainerName,
			Image:     cfg.Image,
			CPU:       cfg.CPU,
			Memory:    cfg.Memory,
			Essential: true,
			PortMappings: []PortMapping{{
				ContainerPort: cfg.ContainerPort,
				HostPort:      cfg.HostPort,
				TargetGroup:   deps.loadBalancer.Ref(),
			}},
			LogGroup:  deps.logGroup.Ref(),
			LogRegion: cfg.Region,
		},
		ExecutionRoleArn: cfg.ExecutionRoleArn,
		Tags:             cfg.tags(),
	}, nil
}

func newCapacity(cfg Config, cluster *Cluster, network *Network, policy *SecurityPolicy) (*Capacity, error) {
	name := naming.ResourceName(cfg.Prefix, naming.KindInstance)
	from := fmt.Sprintf("%s/%s", KindCapacity, name)
	switch {
	case cluster == nil:
		return nil, &models.ReferenceError{From: from, To: string(KindCluster), Field: "user-data"}
	case network == nil:
		return nil, &models.ReferenceError{From: from, To: string(KindNetwork), Field: "subnet"}
	case policy == nil:
		return nil, &models.ReferenceError{From: from, To: string(KindSecurityPolicy), Field: "security-groups"}
	}
	return &Capacity{
		Name:            name,
		Cluster:         cluster.Ref(),
		Network:         network.Ref(),
		SecurityPolicy:  policy.Ref(),
		AMIID:           cfg.AMIID,
		InstanceType:    cfg.InstanceType,
		InstanceProfile: cfg.InstanceProfile,
		Tags:            cfg.tags(),
	}, nil
}
