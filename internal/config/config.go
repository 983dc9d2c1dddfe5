// Package config holds the per-mode run configuration: image set, mount
// layout, ensemble size and timeouts. Values come from built-in defaults,
// an optional YAML file, and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/onhm-labs/onhm-go/internal/domain"
	"github.com/onhm-labs/onhm-go/internal/platform/env"
	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "2h" or "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ImageBuild is one entry of the admin build-images image set.
type ImageBuild struct {
	ContextPath string `yaml:"context"`
	Tag         string `yaml:"tag"`
}

// ModeConfig parameterizes one run mode.
type ModeConfig struct {
	Members        int               `yaml:"members"`
	MaxConcurrency int               `yaml:"max_concurrency"`
	MaxRetries     int               `yaml:"max_retries"`
	AttemptTimeout Duration          `yaml:"attempt_timeout"`
	BatchTimeout   Duration          `yaml:"batch_timeout"`
	ImageRef       string            `yaml:"image"`
	Env            map[string]string `yaml:"env"`
}

// Config is the full orchestration configuration.
type Config struct {
	Volume       string                         `yaml:"volume"`
	VolumeMount  string                         `yaml:"volume_mount"`
	ProjectRoot  string                         `yaml:"project_root"`
	ResultRoot   string                         `yaml:"result_root"`
	DockerBin    string                         `yaml:"docker_bin"`
	MounterImage string                         `yaml:"mounter_image"`
	BaseImage    string                         `yaml:"base_image"`
	Images       []ImageBuild                   `yaml:"images"`
	Modes        map[domain.RunMode]*ModeConfig `yaml:"modes"`
}

// Default returns the built-in configuration for the NHM CONUS model. The
// retry/timeout numbers are operational defaults, not model requirements;
// override them per deployment in the YAML file.
func Default() *Config {
	return &Config{
		Volume:       "nhm_nhm",
		VolumeMount:  "/nhm",
		ProjectRoot:  "/nhm/NHM_PRMS_CONUS_GF_1_1",
		ResultRoot:   "./onhm-results",
		DockerBin:    "docker",
		MounterImage: "alpine",
		BaseImage:    "nhmusgs/base",
		Images: []ImageBuild{
			{ContextPath: "./images/base", Tag: "nhmusgs/base"},
			{ContextPath: "./images/gridmetetl", Tag: "nhmusgs/gridmetetl:0.30"},
			{ContextPath: "./images/ncf2cbh", Tag: "nhmusgs/ncf2cbh"},
			{ContextPath: "./images/prms", Tag: "nhmusgs/prms:5.2.1"},
			{ContextPath: "./images/out2ncf", Tag: "nhmusgs/out2ncf"},
		},
		Modes: map[domain.RunMode]*ModeConfig{
			domain.ModeOperational: {
				Members:        1,
				MaxConcurrency: 1,
				MaxRetries:     1,
				AttemptTimeout: Duration(4 * time.Hour),
				BatchTimeout:   Duration(6 * time.Hour),
				ImageRef:       "nhmusgs/prms:5.2.1",
			},
			domain.ModeSubSeasonal: {
				Members:        48,
				MaxConcurrency: 8,
				MaxRetries:     2,
				AttemptTimeout: Duration(2 * time.Hour),
				BatchTimeout:   Duration(14 * time.Hour),
				ImageRef:       "nhmusgs/prms:5.2.1",
			},
			domain.ModeSeasonal: {
				Members:        12,
				MaxConcurrency: 4,
				MaxRetries:     1,
				AttemptTimeout: Duration(8 * time.Hour),
				BatchTimeout:   Duration(24 * time.Hour),
				ImageRef:       "nhmusgs/prms:5.2.1",
			},
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (when path
// is non-empty) and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.overlay(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Volume = env.String("ONHM_VOLUME", cfg.Volume)
	cfg.ProjectRoot = env.String("PROJECT_ROOT", cfg.ProjectRoot)
	cfg.ResultRoot = env.String("ONHM_RESULT_ROOT", cfg.ResultRoot)
	cfg.DockerBin = env.String("ONHM_DOCKER_BIN", cfg.DockerBin)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay applies a YAML document on top of the current configuration.
// Mode entries merge field by field, so a file that sets only
// modes.sub-seasonal.members keeps the default image and timeouts.
func (c *Config) overlay(data []byte) error {
	modes := c.Modes
	c.Modes = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		c.Modes = modes
		return err
	}
	c.Modes = modes

	var doc struct {
		Modes map[domain.RunMode]yaml.Node `yaml:"modes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if c.Modes == nil && len(doc.Modes) > 0 {
		c.Modes = make(map[domain.RunMode]*ModeConfig, len(doc.Modes))
	}
	for mode, node := range doc.Modes {
		mc := c.Modes[mode]
		if mc == nil {
			mc = &ModeConfig{}
			c.Modes[mode] = mc
		}
		if err := node.Decode(mc); err != nil {
			return fmt.Errorf("mode %s: %w", mode, err)
		}
	}
	return nil
}

// DataVolume describes the shared volume every run mounts. It holds both
// staged inputs and model outputs, so it is always retained.
func (c *Config) DataVolume() domain.Volume {
	return domain.Volume{Name: c.Volume, Purpose: domain.VolumeInput, Retain: true}
}

func (c *Config) Validate() error {
	if err := c.DataVolume().Validate(); err != nil {
		return err
	}
	if !strings.HasPrefix(c.VolumeMount, "/") {
		return fmt.Errorf("volume mount must be absolute: %q", c.VolumeMount)
	}
	if strings.TrimSpace(c.ProjectRoot) == "" {
		return errors.New("project root is required")
	}
	if strings.TrimSpace(c.ResultRoot) == "" {
		return errors.New("result root is required")
	}
	for mode, mc := range c.Modes {
		if domain.NormalizeRunMode(string(mode)) == "" {
			return fmt.Errorf("unknown run mode in config: %q", mode)
		}
		if mc == nil {
			return fmt.Errorf("mode %s has no configuration", mode)
		}
		if mc.Members < 1 {
			return fmt.Errorf("mode %s: members must be >= 1", mode)
		}
		if mc.MaxConcurrency < 1 {
			return fmt.Errorf("mode %s: max concurrency must be >= 1", mode)
		}
		if mc.MaxRetries < 0 {
			return fmt.Errorf("mode %s: max retries must be >= 0", mode)
		}
		if strings.TrimSpace(mc.ImageRef) == "" {
			return fmt.Errorf("mode %s: image is required", mode)
		}
		if mode == domain.ModeSeasonal && mc.Members > 12 {
			return fmt.Errorf("mode %s: at most 12 members, got %d", mode, mc.Members)
		}
	}
	return nil
}

// Mode returns the configuration for a run mode.
func (c *Config) Mode(mode domain.RunMode) (*ModeConfig, error) {
	mc, ok := c.Modes[mode]
	if !ok || mc == nil {
		return nil, fmt.Errorf("run mode %s is not configured", mode)
	}
	return mc, nil
}
