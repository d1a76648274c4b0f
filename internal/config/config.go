package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models reportline.yml.
type Config struct {
	Workspace struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"workspace"`
	Approvals struct {
		Templates map[string][]StepTemplate `yaml:"templates"`
		Defaults  map[string]string         `yaml:"defaults"`
	} `yaml:"approvals"`
	Quality struct {
		Severities []string `yaml:"severities"`
	} `yaml:"quality"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// StepTemplate seeds one approval step when a report of the matching type
// is registered.
type StepTemplate struct {
	Position int    `yaml:"position"`
	Approver string `yaml:"approver"`
	Required bool   `yaml:"required"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Secret  string   `yaml:"secret,omitempty"`
	Events  []string `yaml:"events,omitempty"`
	Enabled *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with rl config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	if c.Workspace.Kind != "report-governance" {
		return fmt.Errorf("config.workspace.kind must be 'report-governance'")
	}
	for name, steps := range c.Approvals.Templates {
		if len(steps) == 0 {
			return fmt.Errorf("approval template %s has no steps", name)
		}
		seen := map[int]bool{}
		for _, st := range steps {
			if st.Position < 1 {
				return fmt.Errorf("approval template %s has step with position < 1", name)
			}
			if seen[st.Position] {
				return fmt.Errorf("approval template %s repeats position %d", name, st.Position)
			}
			seen[st.Position] = true
			if st.Approver == "" {
				return fmt.Errorf("approval template %s step %d has empty approver", name, st.Position)
			}
		}
	}
	for reportType, tmpl := range c.Approvals.Defaults {
		if tmpl == "" {
			return fmt.Errorf("default approval template for report type %s is empty", reportType)
		}
		if _, ok := c.Approvals.Templates[tmpl]; !ok {
			return fmt.Errorf("default template %s for report type %s not defined", tmpl, reportType)
		}
	}
	for _, s := range c.Quality.Severities {
		if s == "" {
			return fmt.Errorf("config.quality.severities contains empty severity")
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
	return filepath.Join(workspace, "reportline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	cfg.Workspace.ID = workspaceID
	cfg.Workspace.Kind = "report-governance"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, workspaceID))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `workspace:
  id: %s
  kind: report-governance

approvals:
  templates:
    standard:
      - position: 1
        approver: data-steward
        required: true
      - position: 2
        approver: compliance-officer
        required: true
    lightweight:
      - position: 1
        approver: team-lead
        required: true
    regulated:
      - position: 1
        approver: data-steward
        required: true
      - position: 2
        approver: compliance-officer
        required: true
      - position: 3
        approver: legal-counsel
        required: true
      - position: 4
        approver: ciso
        required: false

  defaults:
    operational: lightweight
    financial: standard
    compliance: regulated
    audit: regulated

quality:
  severities: [info, warning, critical]
`
