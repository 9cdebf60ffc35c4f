// Command pullbot-stack is the entry point used by the plain pulumi CLI.
package main

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/ljubon/pullbot-infra/internal/provision"
	"github.com/ljubon/pullbot-infra/internal/topology"
)

func main() {
	pulumi.Run(provision.Program(topology.DefaultConfig()))
}
