package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config models switchyard.yml.
type Config struct {
	Pipeline struct {
		ID          string   `yaml:"id"`
		Concurrency int      `yaml:"concurrency"`
		NodeTimeout Duration `yaml:"node_timeout"`
		GracePeriod Duration `yaml:"grace_period"`
		MaxAttempts int      `yaml:"max_attempts"`
	} `yaml:"pipeline"`
	Defaults struct {
		Metadata map[string]string `yaml:"metadata"`
	} `yaml:"defaults"`
	Services map[string]Service `yaml:"services"`
}

// Service declares one node of the pipeline graph.
type Service struct {
	// Path is the source prefix whose changes affect this service.
	// Empty defaults to services/<name>.
	Path      string            `yaml:"path"`
	DependsOn []string          `yaml:"depends_on"`
	Metadata  map[string]string `yaml:"metadata"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with sy config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. Referential checks
// on depends_on (unknown names, cycles) belong to the graph itself.
func (c *Config) Validate() error {
	if c.Pipeline.ID == "" {
		return fmt.Errorf("config.pipeline.id is required")
	}
	if c.Pipeline.Concurrency < 0 {
		return fmt.Errorf("config.pipeline.concurrency must not be negative")
	}
	if c.Pipeline.MaxAttempts < 0 {
		return fmt.Errorf("config.pipeline.max_attempts must not be negative")
	}
	for name, svc := range c.Services {
		if name == "" {
			return fmt.Errorf("config.services contains empty service name")
		}
		seen := map[string]bool{}
		for _, dep := range svc.DependsOn {
			if dep == "" {
				return fmt.Errorf("service %s has empty dependency name", name)
			}
			if dep == name {
				return fmt.Errorf("service %s depends on itself", name)
			}
			if seen[dep] {
				return fmt.Errorf("service %s lists dependency %s twice", name, dep)
			}
			seen[dep] = true
		}
	}
	return nil
}

// Concurrency returns the configured limit, defaulting to 1.
func (c *Config) Concurrency() int {
	if c.Pipeline.Concurrency <= 0 {
		return 1
	}
	return c.Pipeline.Concurrency
}

// SourcePath returns the source prefix for a service, defaulting to
// services/<name>.
func (s Service) SourcePath(name string) string {
	if s.Path != "" {
		return s.Path
	}
	return "services/" + name
}

// MergedMetadata merges pipeline defaults under service metadata. The merge
// happens once, at graph construction; the result is never re-resolved
// mid-run.
func (c *Config) MergedMetadata(svc Service) map[string]string {
	merged := make(map[string]string, len(c.Defaults.Metadata)+len(svc.Metadata))
	for k, v := range c.Defaults.Metadata {
		merged[k] = v
	}
	for k, v := range svc.Metadata {
		merged[k] = v
	}
	return merged
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "switchyard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(pipelineID string) string {
	return fmt.Sprintf(defaultTemplate, pipelineID)
}

// Default returns the default Config struct for a pipeline.
func Default(pipelineID string) *Config {
	cfg, _ := FromYAML([]byte(GenerateDefault(pipelineID)))
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `pipeline:
  id: %s
  concurrency: 2
  node_timeout: 10m
  grace_period: 30s
  max_attempts: 1

defaults:
  metadata:
    registry: registry.example.local

services:
  user-service:
    metadata:
      command: "echo build user-service"

  notification-service:
    depends_on: [user-service]
    metadata:
      command: "echo build notification-service"

  api-gateway:
    depends_on: [user-service]
    metadata:
      command: "echo build api-gateway"

  backend:
    depends_on: [user-service, notification-service]
    metadata:
      command: "echo build backend"

  frontend:
    depends_on: [api-gateway]
    metadata:
      command: "echo build frontend"
`
