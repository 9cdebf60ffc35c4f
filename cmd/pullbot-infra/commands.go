package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	awscloud "github.com/ljubon/pullbot-infra/internal/cloud/aws"
	"github.com/ljubon/pullbot-infra/internal/cloud/naming"
	"github.com/ljubon/pullbot-infra/internal/engine"
	"github.com/ljubon/pullbot-infra/internal/models"
	"github.com/ljubon/pullbot-infra/internal/state"
	"github.com/ljubon/pullbot-infra/internal/topology"
)

// session is everything a command needs after the AWS preflight
type session struct {
	project  string
	stack    string
	region   string
	provider *awscloud.Provider
	identity *awscloud.Identity
	backend  string
	store    *state.S3Store
}

// topologyConfig builds the topology configuration from the override flags
func topologyConfig(c *cli.Context) (topology.Config, error) {
	cfg := topology.DefaultConfig()
	if c.IsSet("region") {
		cfg.Region = c.String("region")
	}
	if c.IsSet("image") {
		cfg.Image = c.String("image")
	}
	if c.IsSet("container-name") {
		cfg.ContainerName = c.String("container-name")
	}
	if c.IsSet("desired-count") {
		cfg.DesiredCount = c.Int("desired-count")
	}
	if c.IsSet("cpu") {
		cfg.CPU = c.Int("cpu")
	}
	if c.IsSet("memory") {
		cfg.Memory = c.Int("memory")
	}
	if c.IsSet("container-port") {
		cfg.ContainerPort = c.Int("container-port")
	}
	if c.IsSet("host-port") {
		cfg.HostPort = c.Int("host-port")
	}
	if c.IsSet("execution-role-arn") {
		cfg.ExecutionRoleArn = c.String("execution-role-arn")
	}
	if c.IsSet("ami-id") {
		cfg.AMIID = c.String("ami-id")
	}
	if c.IsSet("instance-type") {
		cfg.InstanceType = c.String("instance-type")
	}
	if c.IsSet("instance-profile") {
		cfg.InstanceProfile = c.String("instance-profile")
	}
	if err := cfg.Validate(); err != nil {
		return topology.Config{}, err
	}
	return cfg, nil
}

func projectName(c *cli.Context) (string, error) {
	project := naming.NormalizeProjectID(c.String("project"))
	if err := naming.ValidateProjectID(project); err != nil {
		return "", err
	}
	return project, nil
}

// newSession validates credentials and resolves the state backend. The
// default backend is a per-account S3 bucket created on first use.
func newSession(ctx context.Context, c *cli.Context) (*session, error) {
	project, err := projectName(c)
	if err != nil {
		return nil, err
	}

	loader := models.NewLoader(os.Stdout, "Validating AWS credentials...")
	loader.Start()
	provider, err := awscloud.NewProvider(ctx,
		awscloud.WithProfile(c.String("profile")),
		awscloud.WithRegion(c.String("region")),
	)
	if err != nil {
		loader.Stop()
		return nil, err
	}
	identity, err := provider.ValidateCredentials(ctx)
	if err != nil {
		loader.StopWithMessage("❌ AWS credentials are not valid")
		return nil, err
	}
	loader.StopWithMessage(fmt.Sprintf("✅ AWS account %s (%s)", identity.Account, provider.GetRegion()))

	s := &session{
		project:  project,
		stack:    c.String("stack"),
		region:   provider.GetRegion(),
		provider: provider,
		identity: identity,
		backend:  c.String("backend"),
	}

	if s.backend == "" {
		bucket := naming.StateBucketName(project, identity.Account)
		if _, err := provider.EnsureStateBucket(ctx, bucket); err != nil {
			return nil, err
		}
		s.backend = naming.BackendURL(bucket)
		s.store = state.NewS3Store(provider.S3Client, bucket, project, s.stack)
	}
	return s, nil
}

func (s *session) manager(cfg topology.Config) *engine.Manager {
	cfg.Region = s.region
	return engine.NewManager(s.project, s.stack,
		engine.WithRegion(s.region),
		engine.WithProfile(s.provider.AWSProfile()),
		engine.WithBackend(s.backend),
		engine.WithConfig(cfg),
	)
}

// renderCommand prints the declaration graph without any cloud calls
func renderCommand(c *cli.Context) error {
	cfg, err := topologyConfig(c)
	if err != nil {
		return err
	}
	return renderTopology(c.App.Writer, cfg, c.String("format"))
}

func renderTopology(w io.Writer, cfg topology.Config, format string) error {
	topo, err := topology.Assemble(cfg)
	if err != nil {
		return err
	}
	doc := struct {
		Topology     *topology.Topology     `json:"topology"`
		Declarations []topology.Declaration `json:"declarations"`
	}{topo, topo.Declarations()}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal topology: %w", err)
	}

	switch format {
	case "", "json":
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		// round-trip through JSON so keys follow the json tags
		var generic map[string]interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		return &models.ValidationError{Field: "format", Value: format, Message: "must be json or yaml"}
	}
}

func previewCommand(c *cli.Context) error {
	cfg, err := topologyConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}

	summary, err := s.manager(cfg).Preview(ctx)
	if err != nil {
		engine.DisplayEngineError(os.Stdout, engine.PhasePreview, err)
		return err
	}
	engine.DisplayChangeSummary(os.Stdout, summary)
	return nil
}

// upCommand handles infrastructure deployment
func upCommand(c *cli.Context) error {
	cfg, err := topologyConfig(c)
	if err != nil {
		return err
	}

	fmt.Println("\nChecking Infrastructure Prerequisites")
	fmt.Println(strings.Repeat("=", 80))

	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	if cfg.CapacityEnabled() {
		if err := s.provider.CheckInstanceProfile(ctx, cfg.InstanceProfile); err != nil {
			return err
		}
	}

	fmt.Printf("📦 %d x %s (cpu %d, memory %d, port %d->%d)\n",
		cfg.DesiredCount, cfg.Image, cfg.CPU, cfg.Memory, cfg.HostPort, cfg.ContainerPort)
	fmt.Printf("🗄️  State backend: %s\n", s.backend)
	fmt.Println(deploymentAction(ctx, s.store))

	if !c.Bool("skip-confirmation") {
		var confirmed bool
		prompt := &survey.Confirm{
			Message: fmt.Sprintf("Deploy stack '%s/%s' to %s?", s.project, s.stack, s.region),
			Default: true,
		}
		if err := survey.AskOne(prompt, &confirmed); err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("\nDeployment cancelled")
			return nil
		}
	}

	recordStatus(ctx, s.store, models.StatusDeploying)

	outputs, changes, err := s.manager(cfg).Deploy(ctx)
	if err != nil {
		recordStatus(ctx, s.store, models.StatusFailed)
		engine.DisplayEngineError(os.Stdout, engine.PhaseUp, err)
		return err
	}

	if s.store != nil {
		md := &models.DeploymentMetadata{
			DeploymentStatus: models.StatusDeployed,
			DeployedAt:       time.Now(),
			Infrastructure:   outputs.Infrastructure(s.region),
			Options: models.DeploymentOptions{
				Image:        cfg.Image,
				DesiredCount: cfg.DesiredCount,
				CPU:          cfg.CPU,
				Memory:       cfg.Memory,
				AMIID:        cfg.AMIID,
				InstanceType: cfg.InstanceType,
			},
		}
		if changes != nil {
			md.ResourceChanges = changes.Counts
		}
		if err := s.store.SaveDeploymentMetadata(ctx, md); err != nil {
			fmt.Printf("⚠️  Failed to save deployment metadata: %v\n", err)
		}
	}

	engine.DisplayChangeSummary(os.Stdout, changes)
	engine.DisplayInfrastructureInfo(os.Stdout, s.project, s.stack, outputs)
	return nil
}

// destroyCommand handles infrastructure teardown
func destroyCommand(c *cli.Context) error {
	project, err := projectName(c)
	if err != nil {
		return err
	}

	if !c.Bool("force") {
		var inputName string
		namePrompt := &survey.Input{
			Message: fmt.Sprintf("Type the project name (%s) to confirm:", project),
		}
		if err := survey.AskOne(namePrompt, &inputName); err != nil {
			return err
		}
		if inputName != project {
			fmt.Println("\nProject name does not match. Destroy cancelled.")
			return nil
		}

		var confirmed bool
		prompt := &survey.Confirm{
			Message: fmt.Sprintf("Are you sure? Stack '%s/%s' will be destroyed. This action cannot be undone.", project, c.String("stack")),
		}
		if err := survey.AskOne(prompt, &confirmed); err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("\nDestroy cancelled")
			return nil
		}
	}

	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}

	if s.store != nil {
		if deployed, err := s.store.IsDeployed(ctx); err == nil && !deployed {
			fmt.Println("ℹ️  No active deployment recorded; removing any resources left in the stack")
		}
	}

	if err := s.manager(topology.DefaultConfig()).Destroy(ctx); err != nil {
		engine.DisplayEngineError(os.Stdout, engine.PhaseDestroy, err)
		return err
	}
	finishDestroy(ctx, s.store, c.Bool("purge-metadata"))

	fmt.Println("🧹 All stack resources have been removed")
	return nil
}

func refreshCommand(c *cli.Context) error {
	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	if err := s.manager(topology.DefaultConfig()).Refresh(ctx); err != nil {
		engine.DisplayEngineError(os.Stdout, engine.PhaseRefresh, err)
		return err
	}
	fmt.Println("✅ Stack state refreshed")
	return nil
}

func outputsCommand(c *cli.Context) error {
	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}
	outputs, err := s.manager(topology.DefaultConfig()).Outputs(ctx)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(outputs)
	}
	engine.DisplayInfrastructureInfo(os.Stdout, s.project, s.stack, outputs)
	return nil
}

func statusCommand(c *cli.Context) error {
	ctx := context.Background()
	s, err := newSession(ctx, c)
	if err != nil {
		return err
	}

	fmt.Printf("\n🛰️  Checking infrastructure status for: %s/%s\n", s.project, s.stack)
	fmt.Println(strings.Repeat("━", 80))

	if s.store == nil {
		fmt.Println("ℹ️  Deployment metadata is only recorded with the default S3 backend.")
		fmt.Println("💡 Run 'pullbot-infra outputs' to read the stack outputs instead.")
		return nil
	}

	md, err := s.store.GetDeploymentMetadata(ctx)
	if errors.Is(err, state.ErrNoMetadata) {
		fmt.Println("❌ No infrastructure found for this stack.")
		fmt.Printf("💡 Run 'pullbot-infra --project %s --stack %s up' to create it.\n", s.project, s.stack)
		return nil
	}
	if err != nil {
		return err
	}

	engine.DisplayMetadata(os.Stdout, md)
	if md.DeploymentStatus == models.StatusDeployed {
		fmt.Printf("⏱️  Uptime: %s\n", humanUptimeSince(md.DeployedAt))
		engine.DisplayInfrastructureInfo(os.Stdout, s.project, s.stack, &engine.InfrastructureOutputs{
			VPCID:           md.Infrastructure.VPCId,
			ClusterArn:      md.Infrastructure.ClusterArn,
			ClusterName:     md.Infrastructure.ClusterName,
			ServiceName:     md.Infrastructure.ServiceName,
			LoadBalancerDNS: md.Infrastructure.ALBDNS,
			URL:             md.Infrastructure.URL,
			TargetGroupArn:  md.Infrastructure.TargetGroupArn,
		})
	}
	return nil
}

// deploymentAction tells whether up creates the stack or updates a recorded
// deployment
func deploymentAction(ctx context.Context, store *state.S3Store) string {
	if store == nil {
		return "🚀 Deploying stack"
	}
	deployed, err := store.IsDeployed(ctx)
	switch {
	case err != nil:
		return fmt.Sprintf("⚠️  Could not read deployment metadata: %v", err)
	case deployed:
		return "🔄 Updating existing deployment"
	default:
		return "🆕 Creating new deployment"
	}
}

// finishDestroy records the teardown, or forgets the stack entirely when
// purge is set
func finishDestroy(ctx context.Context, store *state.S3Store, purge bool) {
	if store == nil {
		return
	}
	if !purge {
		recordStatus(ctx, store, models.StatusDestroyed)
		return
	}
	if err := store.DeleteDeploymentMetadata(ctx); err != nil {
		fmt.Printf("⚠️  Failed to delete deployment metadata: %v\n", err)
		return
	}
	fmt.Println("🗑️  Deployment metadata removed")
}

// recordStatus updates the metadata status; failures only warn
func recordStatus(ctx context.Context, store *state.S3Store, status string) {
	if store == nil {
		return
	}
	if err := store.UpdateDeploymentStatus(ctx, status); err != nil {
		fmt.Printf("⚠️  Failed to record status %q: %v\n", status, err)
	}
}

func humanUptimeSince(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// showDetailedHelp prints usage examples
func showDetailedHelp(c *cli.Context) error {
	help := `
🐳 pullbot-infra - ECS topology for the pullbot service

BASIC USAGE:
  pullbot-infra render                       # Print the resource graph (no AWS calls)
  pullbot-infra preview                      # Show pending changes
  pullbot-infra up                           # Deploy (asks for confirmation)
  pullbot-infra destroy                      # Tear down (asks for the project name)

OVERRIDES:
  pullbot-infra up --image nginx:1.27 --desired-count 3
  pullbot-infra up --ami-id ami-0123 --instance-profile ecsInstanceRole

STACKS & STATE:
  pullbot-infra --stack prod up              # Separate stack, same project
  pullbot-infra --backend s3://my-bucket up  # Bring your own state backend
  pullbot-infra outputs --json               # Machine readable outputs
  pullbot-infra status                       # Recorded deployment status

ENVIRONMENT VARIABLES:
  AWS_PROFILE                # AWS profile to use
  AWS_REGION                 # AWS region (default us-east-1)
  PULUMI_BACKEND_URL         # State backend override
  PULUMI_CONFIG_PASSPHRASE   # Secrets passphrase for self-managed backends
`
	fmt.Fprint(c.App.Writer, help)
	return nil
}
