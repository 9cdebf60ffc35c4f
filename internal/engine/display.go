// internal/engine/display.go
package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/ljubon/pullbot-infra/internal/models"
)

// DisplayInfrastructureInfo shows the deployed endpoints and identifiers
func DisplayInfrastructureInfo(w io.Writer, projectName, stackName string, outputs *InfrastructureOutputs) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 70))
	fmt.Fprintf(w, "📊 INFRASTRUCTURE STATUS: %s/%s\n", projectName, stackName)
	fmt.Fprintln(w, strings.Repeat("=", 70))

	if outputs == nil {
		fmt.Fprintln(w, "No outputs recorded for this stack")
		fmt.Fprintln(w, strings.Repeat("=", 70))
		return
	}

	if outputs.URL != "" {
		fmt.Fprintf(w, "🔗 URL: %s\n", outputs.URL)
	}
	if outputs.LoadBalancerDNS != "" {
		fmt.Fprintf(w, "⚖️  Load Balancer: %s\n", outputs.LoadBalancerDNS)
	}
	if outputs.ClusterArn != "" || outputs.ClusterName != "" {
		name := outputs.ClusterName
		if name == "" {
			name = extractClusterName(outputs.ClusterArn)
		}
		fmt.Fprintf(w, "📦 ECS Cluster: %s\n", name)
	}
	if outputs.ServiceName != "" {
		fmt.Fprintf(w, "🐳 ECS Service: %s\n", outputs.ServiceName)
	}
	if outputs.VPCID != "" {
		fmt.Fprintf(w, "🌐 VPC: %s\n", outputs.VPCID)
	}
	if outputs.TargetGroupArn != "" {
		fmt.Fprintf(w, "🎯 Target Group: %s\n", outputs.TargetGroupArn)
	}

	fmt.Fprintln(w, strings.Repeat("=", 70))
}

// DisplayChangeSummary prints one line per operation kind
func DisplayChangeSummary(w io.Writer, summary *ChangeSummary) {
	if summary == nil || len(summary.Counts) == 0 {
		fmt.Fprintln(w, "No resource changes reported")
		return
	}
	fmt.Fprintln(w, "\n📋 Resource changes:")
	for _, op := range summary.Ops() {
		fmt.Fprintf(w, "   %-10s %d\n", op, summary.Counts[op])
	}
	if !summary.HasChanges() {
		fmt.Fprintln(w, "✨ Stack is up to date")
	}
}

// DisplayMetadata shows the recorded deployment state of a stack
func DisplayMetadata(w io.Writer, md *models.DeploymentMetadata) {
	fmt.Fprintf(w, "Status: %s\n", md.DeploymentStatus)
	if !md.DeployedAt.IsZero() {
		fmt.Fprintf(w, "Deployed at: %s\n", md.DeployedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if !md.DestroyedAt.IsZero() {
		fmt.Fprintf(w, "Destroyed at: %s\n", md.DestroyedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if md.Options.Image != "" {
		fmt.Fprintf(w, "Image: %s (%d replicas, cpu %d, memory %d)\n",
			md.Options.Image, md.Options.DesiredCount, md.Options.CPU, md.Options.Memory)
	}
}

// extractClusterName extracts the cluster name from an ARN
func extractClusterName(clusterArn string) string {
	parts := strings.Split(clusterArn, "/")
	if len(parts) > 1 {
		return parts[len(parts)-1]
	}
	return clusterArn
}

// DisplayEngineError shows a failed engine operation with troubleshooting hints
func DisplayEngineError(w io.Writer, operation string, err error) {
	fmt.Fprintln(w, "\n"+strings.Repeat("❌", 20))
	fmt.Fprintf(w, "PULUMI %s FAILED\n", strings.ToUpper(operation))
	fmt.Fprintln(w, strings.Repeat("❌", 20))

	fmt.Fprintf(w, "Error: %v\n", err)

	fmt.Fprintln(w, "\n💡 Troubleshooting:")
	fmt.Fprintln(w, "1. Check your AWS credentials are configured")
	fmt.Fprintln(w, "2. Ensure the pulumi CLI is installed and in PATH")
	fmt.Fprintln(w, "3. Set PULUMI_CONFIG_PASSPHRASE when using a self-managed backend")
	fmt.Fprintln(w, "4. Run `refresh` if resources were changed outside the stack")

	fmt.Fprintln(w, strings.Repeat("=", 50))
}
