package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Permissions known to the authorizer.
var Permissions = []string{
	"task.kill",
	"task.list",
	"queue.read",
	"deployment.read",
}

// Config models taskcull.yml.
type Config struct {
	Cluster struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"cluster"`
	Kill struct {
		DispatchTimeoutSeconds int `yaml:"dispatch_timeout_seconds"`
	} `yaml:"kill"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// DispatchTimeout returns the bound on the kill dispatcher's join.
func (c *Config) DispatchTimeout() time.Duration {
	if c == nil || c.Kill.DispatchTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Kill.DispatchTimeoutSeconds) * time.Second
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with cull init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Cluster.ID == "" {
		return fmt.Errorf("config.cluster.id is required")
	}
	if c.Kill.DispatchTimeoutSeconds < 0 {
		return fmt.Errorf("config.kill.dispatch_timeout_seconds must not be negative")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["operator"]; !ok {
			return fmt.Errorf("config.rbac.roles must include operator")
		}
		known := map[string]struct{}{}
		for _, p := range Permissions {
			known[p] = struct{}{}
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
				if _, ok := known[perm]; !ok {
					return fmt.Errorf("role %s references unknown permission %s", roleID, perm)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskcull.yml")
}

// Default returns the default Config struct for a cluster.
func Default(clusterID string) *Config {
	var cfg Config
	cfg.Cluster.ID = clusterID
	_ = yaml.Unmarshal([]byte(GenerateDefault(clusterID)), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(clusterID string) string {
	return fmt.Sprintf(defaultTemplate, clusterID)
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

const defaultTemplate = `cluster:
  id: %s

kill:
  dispatch_timeout_seconds: 10

rbac:
  roles:
    operator:
      description: "May terminate and scale workloads"
      permissions: [task.kill, task.list, queue.read, deployment.read]
    viewer:
      description: "Read-only access"
      permissions: [task.list, queue.read, deployment.read]
`
