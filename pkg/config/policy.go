package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// profitPolicyFile is the optional YAML overlay for profit-taking thresholds.
// Zero fields leave the environment-derived value in place.
type profitPolicyFile struct {
	PartialExitThreshold float64 `yaml:"partial_exit_threshold"`
	FullExitThreshold    float64 `yaml:"full_exit_threshold"`
	PartialFraction      float64 `yaml:"partial_fraction"`
	BreakevenBufferPct   float64 `yaml:"breakeven_buffer_pct"`
	CloseLimitOffsetPct  float64 `yaml:"close_limit_offset_pct"`
}

func (c *Config) applyPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read profit policy %s: %w", path, err)
	}

	var p profitPolicyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("config: parse profit policy %s: %w", path, err)
	}

	if p.PartialExitThreshold != 0 {
		c.PartialExitThreshold = p.PartialExitThreshold
	}
	if p.FullExitThreshold != 0 {
		c.FullExitThreshold = p.FullExitThreshold
	}
	if p.PartialFraction != 0 {
		c.PartialFraction = p.PartialFraction
	}
	if p.BreakevenBufferPct != 0 {
		c.BreakevenBufferPct = p.BreakevenBufferPct
	}
	if p.CloseLimitOffsetPct != 0 {
		c.CloseLimitOffsetPct = p.CloseLimitOffsetPct
	}
	return nil
}
