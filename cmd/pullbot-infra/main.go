package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ljubon/pullbot-infra/internal/cloud/naming"
	"github.com/ljubon/pullbot-infra/internal/topology"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	defaults := topology.DefaultConfig()

	overrides := []cli.Flag{
		&cli.StringFlag{
			Name:  "image",
			Usage: "Container image to run",
			Value: defaults.Image,
		},
		&cli.StringFlag{
			Name:  "container-name",
			Usage: "Name of the task container",
			Value: defaults.ContainerName,
		},
		&cli.IntFlag{
			Name:  "desired-count",
			Usage: "Number of service replicas",
			Value: defaults.DesiredCount,
		},
		&cli.IntFlag{
			Name:  "cpu",
			Usage: "Container CPU units",
			Value: defaults.CPU,
		},
		&cli.IntFlag{
			Name:  "memory",
			Usage: "Container memory (MiB)",
			Value: defaults.Memory,
		},
		&cli.IntFlag{
			Name:  "container-port",
			Usage: "Port the container listens on",
			Value: defaults.ContainerPort,
		},
		&cli.IntFlag{
			Name:  "host-port",
			Usage: "Host port mapped to the container port",
			Value: defaults.HostPort,
		},
		&cli.StringFlag{
			Name:  "execution-role-arn",
			Usage: "Existing task execution role; one is created when empty",
		},
		&cli.StringFlag{
			Name:  "ami-id",
			Usage: "ECS-optimized AMI; when set, an EC2 instance joins the cluster",
		},
		&cli.StringFlag{
			Name:  "instance-type",
			Usage: "Instance type for the capacity instance",
			Value: defaults.InstanceType,
		},
		&cli.StringFlag{
			Name:  "instance-profile",
			Usage: "IAM instance profile for the capacity instance",
		},
	}

	return &cli.App{
		Name:  "pullbot-infra",
		Usage: "Provision the pullbot ECS topology on AWS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "profile",
				Usage:   "AWS credential profile name (e.g., dev, prod)",
				EnvVars: []string{"AWS_PROFILE"},
			},
			&cli.StringFlag{
				Name:    "region",
				Usage:   "AWS region",
				EnvVars: []string{"AWS_REGION"},
			},
			&cli.StringFlag{
				Name:  "project",
				Usage: "Project name, also used for the state bucket",
				Value: naming.DefaultPrefix,
			},
			&cli.StringFlag{
				Name:  "stack",
				Usage: "Stack name",
				Value: "dev",
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "Pulumi state backend URL (defaults to a per-account S3 bucket)",
				EnvVars: []string{"PULUMI_BACKEND_URL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "render",
				Usage: "Print the declared resource graph without touching AWS",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format (json, yaml)",
						Value: "json",
					},
				}, overrides...),
				Action: renderCommand,
			},
			{
				Name:   "preview",
				Usage:  "Show the changes `up` would make",
				Flags:  overrides,
				Action: previewCommand,
			},
			{
				Name:  "up",
				Usage: "Create or update the infrastructure",
				Flags: append([]cli.Flag{
					&cli.BoolFlag{
						Name:  "skip-confirmation",
						Usage: "Deploy without asking",
					},
				}, overrides...),
				Action: upCommand,
			},
			{
				Name:  "destroy",
				Usage: "Tear down the infrastructure",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Skip confirmation prompts",
					},
					&cli.BoolFlag{
						Name:  "purge-metadata",
						Usage: "Delete the recorded deployment metadata instead of marking it destroyed",
					},
				},
				Action: destroyCommand,
			},
			{
				Name:   "refresh",
				Usage:  "Reconcile stack state with AWS",
				Action: refreshCommand,
			},
			{
				Name:  "outputs",
				Usage: "Print the stack outputs",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print outputs as JSON",
					},
				},
				Action: outputsCommand,
			},
			{
				Name:   "status",
				Usage:  "Show the recorded deployment status",
				Action: statusCommand,
			},
			{
				Name:   "help",
				Usage:  "Show detailed help",
				Action: showDetailedHelp,
			},
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
	}
}
