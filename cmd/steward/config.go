package main

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward"
	"gopkg.in/yaml.v3"
)

// chatConfig is the optional YAML configuration for the chat command. The
// models map is keyed by agent kind and replaces the built-in model of each
// listed agent.
type chatConfig struct {
	Models           map[string]string `yaml:"models"`
	QualityThreshold *float64          `yaml:"quality_threshold"`
	PlanComplexity   *int              `yaml:"plan_complexity"`
	LoopLimit        *int              `yaml:"loop_limit"`
}

func loadChatConfig(path string) (*chatConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.Value("path", path))
	}

	var cfg chatConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.Value("path", path))
	}

	return &cfg, nil
}

func (c *chatConfig) registryOptions() ([]steward.RegistryOption, error) {
	var opts []steward.RegistryOption
	for name, model := range c.Models {
		kind, err := steward.ParseAgentKind(name)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid agent kind in config", goerr.Value("kind", name))
		}
		if model == "" {
			return nil, goerr.New("empty model in config", goerr.Value("kind", name))
		}
		opts = append(opts, steward.WithModelOverride(kind, model))
	}
	return opts, nil
}

func (c *chatConfig) orchestratorOptions() []steward.Option {
	var opts []steward.Option
	if c.QualityThreshold != nil {
		opts = append(opts, steward.WithQualityThreshold(*c.QualityThreshold))
	}
	if c.PlanComplexity != nil {
		opts = append(opts, steward.WithPlanComplexity(*c.PlanComplexity))
	}
	if c.LoopLimit != nil {
		opts = append(opts, steward.WithLoopLimit(*c.LoopLimit))
	}
	return opts
}
