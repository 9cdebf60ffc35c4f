// Package topology declares the pullbot deployment as a graph of resource
// declarations. Nothing here talks to a cloud or to the provisioning engine.
package topology

import (
	"fmt"

	"github.com/ljubon/pullbot-infra/internal/models"
)

// Kind identifies a declared resource type
type Kind string

const (
	KindNetwork        Kind = "network"
	KindSecurityPolicy Kind = "security-policy"
	KindCluster        Kind = "cluster"
	KindLoadBalancer   Kind = "load-balancer"
	KindService        Kind = "service"
	KindLogGroup       Kind = "log-group"
	KindCapacity       Kind = "capacity"
)

// Ref is a handle to a declared resource, usable before the resource exists.
type Ref struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.Name)
}

// IsZero reports whether the reference points nowhere
func (r Ref) IsZero() bool {
	return r.Kind == "" || r.Name == ""
}

// Network is an isolated virtual network with public and private subnets
type Network struct {
	Name              string            `json:"name"`
	CIDR              string            `json:"cidr"`
	AvailabilityZones int               `json:"availability_zones"`
	Tags              map[string]string `json:"tags,omitempty"`
}

func (n *Network) Ref() Ref { return Ref{Kind: KindNetwork, Name: n.Name} }

// Rule is a single security group rule
type Rule struct {
	FromPort       int      `json:"from_port"`
	ToPort         int      `json:"to_port"`
	Protocol       string   `json:"protocol"`
	CIDRBlocks     []string `json:"cidr_blocks,omitempty"`
	IPv6CIDRBlocks []string `json:"ipv6_cidr_blocks,omitempty"`
}

// SecurityPolicy is the rule set attached to the service network interfaces
type SecurityPolicy struct {
	Name    string            `json:"name"`
	Network Ref               `json:"network"`
	Egress  []Rule            `json:"egress"`
	Ingress []Rule            `json:"ingress,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

func (s *SecurityPolicy) Ref() Ref { return Ref{Kind: KindSecurityPolicy, Name: s.Name} }

// Cluster groups scheduled containers
type Cluster struct {
	Name string            `json:"name"`
	Tags map[string]string `json:"tags,omitempty"`
}

func (c *Cluster) Ref() Ref { return Ref{Kind: KindCluster, Name: c.Name} }

// LoadBalancer is an L7 distributor with one default routing target
type LoadBalancer struct {
	Name       string            `json:"name"`
	Network    Ref               `json:"network"`
	TargetPort   int               `json:"target_port"`
	ListenerPort int               `json:"listener_port"`
	Tags         map[string]string `json:"tags,omitempty"`
}

func (l *LoadBalancer) Ref() Ref { return Ref{Kind: KindLoadBalancer, Name: l.Name} }

// LogGroup receives container logs
type LogGroup struct {
	Name          string            `json:"name"`
	RetentionDays int               `json:"retention_days"`
	Tags          map[string]string `json:"tags,omitempty"`
}

func (g *LogGroup) Ref() Ref { return Ref{Kind: KindLogGroup, Name: g.Name} }

// PortMapping binds a container port to a host port and, optionally, to the
// default routing target of a load balancer.
type PortMapping struct {
	ContainerPort int `json:"container_port"`
	HostPort      int `json:"host_port"`
	TargetGroup   Ref `json:"target_group"`
}

// Container is the single task container of the service
type Container struct {
	Name         string        `json:"name"`
	Image        string        `json:"image"`
	CPU          int           `json:"cpu"`
	Memory       int           `json:"memory"`
	Essential    bool          `json:"essential"`
	PortMappings []PortMapping `json:"port_mappings"`
	LogGroup     Ref           `json:"log_group"`
	LogRegion    string        `json:"log_region"`
}

// Service is the desired state of N running container replicas
type Service struct {
	Name             string            `json:"name"`
	Cluster          Ref               `json:"cluster"`
	Network          Ref               `json:"network"`
	SecurityPolicies []Ref             `json:"security_policies"`
	DesiredCount     int               `json:"desired_count"`
	Container        Container         `json:"container"`
	ExecutionRoleArn string            `json:"execution_role_arn,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

func (s *Service) Ref() Ref { return Ref{Kind: KindService, Name: s.Name} }

// Capacity is an EC2 instance joining the cluster through a launch template
type Capacity struct {
	Name            string            `json:"name"`
	Cluster         Ref               `json:"cluster"`
	Network         Ref               `json:"network"`
	SecurityPolicy  Ref               `json:"security_policy"`
	AMIID           string            `json:"ami_id"`
	InstanceType    string            `json:"instance_type"`
	InstanceProfile string            `json:"instance_profile,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

func (c *Capacity) Ref() Ref { return Ref{Kind: KindCapacity, Name: c.Name} }

// Topology is the bundle of declarations for one deployment unit
type Topology struct {
	Network        *Network        `json:"network"`
	SecurityPolicy *SecurityPolicy `json:"security_policy"`
	Cluster        *Cluster        `json:"cluster"`
	LoadBalancer   *LoadBalancer   `json:"load_balancer"`
	LogGroup       *LogGroup       `json:"log_group"`
	Service        *Service        `json:"service"`
	Capacity       *Capacity       `json:"capacity,omitempty"`
}

// Handles are the references a caller may compose further
type Handles struct {
	Cluster      Ref `json:"cluster"`
	Service      Ref `json:"service"`
	LoadBalancer Ref `json:"load_balancer"`
}

// Handles returns exactly the cluster, service and load balancer references
func (t *Topology) Handles() Handles {
	return Handles{
		Cluster:      t.Cluster.Ref(),
		Service:      t.Service.Ref(),
		LoadBalancer: t.LoadBalancer.Ref(),
	}
}

// Declaration is one entry of the flattened graph
type Declaration struct {
	Ref       Ref   `json:"ref"`
	DependsOn []Ref `json:"depends_on,omitempty"`
}

// Declarations returns the graph flattened in dependency order
func (t *Topology) Declarations() []Declaration {
	decls := []Declaration{
		{Ref: t.Network.Ref()},
		{Ref: t.SecurityPolicy.Ref(), DependsOn: []Ref{t.SecurityPolicy.Network}},
		{Ref: t.Cluster.Ref()},
		{Ref: t.LoadBalancer.Ref(), DependsOn: []Ref{t.LoadBalancer.Network}},
		{Ref: t.LogGroup.Ref()},
		{Ref: t.Service.Ref(), DependsOn: t.Service.dependencies()},
	}
	if t.Capacity != nil {
		decls = append(decls, Declaration{
			Ref:       t.Capacity.Ref(),
			DependsOn: []Ref{t.Capacity.Cluster, t.Capacity.Network, t.Capacity.SecurityPolicy},
		})
	}
	return decls
}

func (s *Service) dependencies() []Ref {
	deps := []Ref{s.Network}
	deps = append(deps, s.SecurityPolicies...)
	deps = append(deps, s.Cluster)
	for _, pm := range s.Container.PortMappings {
		if !pm.TargetGroup.IsZero() {
			deps = append(deps, pm.TargetGroup)
		}
	}
	if !s.Container.LogGroup.IsZero() {
		deps = append(deps, s.Container.LogGroup)
	}
	return deps
}

// Validate checks that every reference resolves to a declared resource
func (t *Topology) Validate() error {
	if t.Network == nil || t.SecurityPolicy == nil || t.Cluster == nil ||
		t.LoadBalancer == nil || t.LogGroup == nil || t.Service == nil {
		return &models.ReferenceError{From: "topology", To: "required declaration", Cause: fmt.Errorf("incomplete bundle")}
	}
	declared := make(map[Ref]bool)
	for _, d := range t.Declarations() {
		declared[d.Ref] = true
	}
	for _, d := range t.Declarations() {
		for _, dep := range d.DependsOn {
			if !declared[dep] {
				return &models.ReferenceError{From: d.Ref.String(), To: dep.String()}
			}
		}
	}
	return nil
}
