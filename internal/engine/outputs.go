package engine

import (
	"sort"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/common/apitype"

	"github.com/ljubon/pullbot-infra/internal/models"
	"github.com/ljubon/pullbot-infra/internal/provision"
)

// InfrastructureOutputs contains the stack outputs after deployment
type InfrastructureOutputs struct {
	VPCID           string `json:"vpc_id"`
	ClusterArn      string `json:"cluster_arn"`
	ClusterName     string `json:"cluster_name"`
	ServiceName     string `json:"service_name"`
	LoadBalancerDNS string `json:"load_balancer_dns"`
	URL             string `json:"url"`
	TargetGroupArn  string `json:"target_group_arn"`
}

// OutputsFromMap converts engine outputs. Missing or non-string values are
// left empty.
func OutputsFromMap(out auto.OutputMap) *InfrastructureOutputs {
	get := func(key string) string {
		if v, ok := out[key]; ok {
			if s, ok := v.Value.(string); ok {
				return s
			}
		}
		return ""
	}
	return &InfrastructureOutputs{
		VPCID:           get(provision.OutputVPCID),
		ClusterArn:      get(provision.OutputClusterArn),
		ClusterName:     get(provision.OutputClusterName),
		ServiceName:     get(provision.OutputServiceName),
		LoadBalancerDNS: get(provision.OutputLoadBalancerDNS),
		URL:             get(provision.OutputURL),
		TargetGroupArn:  get(provision.OutputTargetGroupArn),
	}
}

// Infrastructure maps outputs onto the metadata record
func (o *InfrastructureOutputs) Infrastructure(region string) models.InfrastructureInfo {
	return models.InfrastructureInfo{
		VPCId:          o.VPCID,
		ClusterArn:     o.ClusterArn,
		ClusterName:    o.ClusterName,
		ServiceName:    o.ServiceName,
		ALBDNS:         o.LoadBalancerDNS,
		URL:            o.URL,
		TargetGroupArn: o.TargetGroupArn,
		Region:         region,
	}
}

// ChangeSummary counts resource operations by kind (create, update, same...)
type ChangeSummary struct {
	Counts map[string]int
}

// NewChangeSummary copies counts into a summary
func NewChangeSummary(counts map[string]int) *ChangeSummary {
	c := &ChangeSummary{Counts: make(map[string]int, len(counts))}
	for k, v := range counts {
		c.Counts[k] = v
	}
	return c
}

// SummaryFromPreview converts a preview change summary
func SummaryFromPreview(counts map[apitype.OpType]int) *ChangeSummary {
	c := &ChangeSummary{Counts: make(map[string]int, len(counts))}
	for k, v := range counts {
		c.Counts[string(k)] = v
	}
	return c
}

// HasChanges reports whether any operation other than "same" is pending
func (c *ChangeSummary) HasChanges() bool {
	if c == nil {
		return false
	}
	for op, n := range c.Counts {
		if op != string(apitype.OpSame) && n > 0 {
			return true
		}
	}
	return false
}

// Ops returns the operation names in a stable order
func (c *ChangeSummary) Ops() []string {
	if c == nil {
		return nil
	}
	ops := make([]string, 0, len(c.Counts))
	for op := range c.Counts {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
