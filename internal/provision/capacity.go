package provision

import (
	"encoding/base64"
	"fmt"

	awsec2 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/ljubon/pullbot-infra/internal/cloud/naming"
	"github.com/ljubon/pullbot-infra/internal/topology"
)

// userData makes the ECS agent join the named cluster
func userData(clusterName string) string {
	script := fmt.Sprintf("#!/bin/bash\necho ECS_CLUSTER=%s >> /etc/ecs/ecs.config;", clusterName)
	return base64.StdEncoding.EncodeToString([]byte(script))
}

// registerCapacity declares a launch template and one instance that joins
// the cluster so the EC2 service has somewhere to place tasks.
func (r *registry) registerCapacity(ctx *pulumi.Context, c *topology.Capacity) error {
	switch {
	case r.cluster == nil:
		return missing(c.Ref(), c.Cluster, "userData")
	case r.vpc == nil:
		return missing(c.Ref(), c.Network, "subnetId")
	case r.sg == nil:
		return missing(c.Ref(), c.SecurityPolicy, "vpcSecurityGroupIds")
	}

	encoded := r.cluster.Name.ApplyT(func(name string) string {
		return userData(name)
	}).(pulumi.StringOutput)

	templateName := c.Name + "-" + naming.KindLaunchTemplate
	ltArgs := &awsec2.LaunchTemplateArgs{
		NamePrefix:          pulumi.String(templateName + "-"),
		ImageId:             pulumi.String(c.AMIID),
		InstanceType:        pulumi.String(c.InstanceType),
		UserData:            encoded,
		VpcSecurityGroupIds: pulumi.StringArray{r.sg.ID().ToStringOutput()},
		Tags:                stringMap(c.Tags),
	}
	if c.InstanceProfile != "" {
		ltArgs.IamInstanceProfile = &awsec2.LaunchTemplateIamInstanceProfileArgs{
			Name: pulumi.String(c.InstanceProfile),
		}
	}

	lt, err := awsec2.NewLaunchTemplate(ctx, templateName, ltArgs)
	if err != nil {
		return fmt.Errorf("failed to declare launch template %q: %w", templateName, err)
	}

	_, err = awsec2.NewInstance(ctx, c.Name, &awsec2.InstanceArgs{
		LaunchTemplate: &awsec2.InstanceLaunchTemplateArgs{
			Id:      lt.ID().ToStringOutput(),
			Version: pulumi.String("$Latest"),
		},
		SubnetId: r.vpc.PrivateSubnetIds.Index(pulumi.Int(0)),
		Tags:     stringMap(c.Tags),
	})
	if err != nil {
		return fmt.Errorf("failed to declare instance %q: %w", c.Name, err)
	}
	return nil
}
