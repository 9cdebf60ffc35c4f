package provision

import (
	"encoding/json"
	"strconv"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"

	"github.com/ljubon/pullbot-infra/internal/models"
	"github.com/ljubon/pullbot-infra/internal/topology"
)

// ConfigNamespace is the stack config namespace for topology overrides
const ConfigNamespace = "pullbot"

// ConfigFromStack overlays the stack's config on base. Keys that are not set
// keep the base value; keys that are set but do not parse are an error.
func ConfigFromStack(ctx *pulumi.Context, base topology.Config) (topology.Config, error) {
	cfg := base
	conf := config.New(ctx, ConfigNamespace)

	strs := []struct {
		key string
		dst *string
	}{
		{"image", &cfg.Image},
		{"containerName", &cfg.ContainerName},
		{"executionRoleArn", &cfg.ExecutionRoleArn},
		{"amiId", &cfg.AMIID},
		{"instanceType", &cfg.InstanceType},
		{"instanceProfile", &cfg.InstanceProfile},
	}
	for _, s := range strs {
		if v := conf.Get(s.key); v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"desiredCount", &cfg.DesiredCount},
		{"cpu", &cfg.CPU},
		{"memory", &cfg.Memory},
		{"containerPort", &cfg.ContainerPort},
		{"hostPort", &cfg.HostPort},
		{"listenerPort", &cfg.ListenerPort},
	}
	for _, i := range ints {
		v := conf.Get(i.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return topology.Config{}, &models.ValidationError{
				Field:   ConfigNamespace + ":" + i.key,
				Value:   v,
				Message: "must be an integer",
			}
		}
		*i.dst = n
	}

	if v := conf.Get("tags"); v != "" {
		var tags map[string]string
		if err := json.Unmarshal([]byte(v), &tags); err != nil {
			return topology.Config{}, &models.ValidationError{
				Field:   ConfigNamespace + ":tags",
				Value:   v,
				Message: "must be a map of strings",
			}
		}
		if len(tags) > 0 {
			cfg.Tags = tags
		}
	}

	if region := config.New(ctx, "aws").Get("region"); region != "" {
		cfg.Region = region
	}
	return cfg, nil
}

// Program returns the Pulumi program declaring the pullbot topology
func Program(base topology.Config) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		cfg, err := ConfigFromStack(ctx, base)
		if err != nil {
			return err
		}

		topo, err := topology.Assemble(cfg)
		if err != nil {
			return err
		}

		_, err = Register(ctx, topo)
		return err
	}
}
