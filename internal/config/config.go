package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultOrgID is used when no org was configured yet.
const DefaultOrgID = "default-org"

// Config models icerline.yml.
type Config struct {
	Org struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"org"`
	Evaluations struct {
		// Days until an assignment is due, per milestone. Missing entries
		// fall back to DefaultDueDays.
		DueDays        map[string]int `yaml:"due_days"`
		DefaultDueDays int            `yaml:"default_due_days"`
	} `yaml:"evaluations"`
	Dimensions []DimensionSeed `yaml:"dimensions"`
	FollowUp   struct {
		Plans []PlanSeed `yaml:"plans"`
	} `yaml:"follow_up"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type DimensionSeed struct {
	Code  string `yaml:"code"`
	Name  string `yaml:"name"`
	Order int    `yaml:"order"`
}

type PlanSeed struct {
	Code            string `yaml:"code"`
	Title           string `yaml:"title"`
	Description     string `yaml:"description"`
	TargetRiskLevel string `yaml:"target_risk_level"`
	DimensionCode   string `yaml:"dimension_code"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Secret  string   `yaml:"secret"`
	Enabled *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Org.ID == "" {
		return fmt.Errorf("config.org.id is required")
	}
	if c.Evaluations.DefaultDueDays <= 0 {
		return fmt.Errorf("config.evaluations.default_due_days must be positive")
	}
	for milestone, days := range c.Evaluations.DueDays {
		switch milestone {
		case "DAY_1", "WEEK_1", "MONTH_1":
		default:
			return fmt.Errorf("config.evaluations.due_days has unknown milestone %s", milestone)
		}
		if days <= 0 {
			return fmt.Errorf("due_days for %s must be positive", milestone)
		}
	}
	seen := map[string]bool{}
	for _, d := range c.Dimensions {
		if d.Code == "" {
			return fmt.Errorf("config.dimensions contains empty code")
		}
		if seen[d.Code] {
			return fmt.Errorf("config.dimensions has duplicate code %s", d.Code)
		}
		seen[d.Code] = true
		if d.Name == "" {
			return fmt.Errorf("dimension %s has empty name", d.Code)
		}
	}
	for _, p := range c.FollowUp.Plans {
		if p.Code == "" {
			return fmt.Errorf("config.follow_up.plans contains empty code")
		}
		switch p.TargetRiskLevel {
		case "HIGH", "MEDIUM":
		default:
			return fmt.Errorf("plan %s has invalid target_risk_level %q", p.Code, p.TargetRiskLevel)
		}
		if p.DimensionCode != "" && len(c.Dimensions) > 0 && !seen[p.DimensionCode] {
			return fmt.Errorf("plan %s references unknown dimension %s", p.Code, p.DimensionCode)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d] has empty url", i)
		}
	}
	return nil
}

// DueDaysFor returns the due-date offset for a milestone.
func (c *Config) DueDaysFor(milestone string) int {
	if days, ok := c.Evaluations.DueDays[milestone]; ok {
		return days
	}
	return c.Evaluations.DefaultDueDays
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "icerline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with icer config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Default returns the default Config struct for an org.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, orgID))).Decode(&cfg)
	cfg.Org.ID = orgID
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
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

const defaultTemplate = `org:
  id: %s
  name: Onboarding

evaluations:
  default_due_days: 30
  due_days:
    DAY_1: 7
    WEEK_1: 14
    MONTH_1: 30

dimensions:
  - code: INT
    name: "Integración"
    order: 1
  - code: COM
    name: "Comunicación"
    order: 2
  - code: ENT
    name: "Entendimiento del rol"
    order: 3
  - code: REN
    name: "Rendimiento"
    order: 4

follow_up:
  plans:
    - code: PD-30
      title: "Plan de desarrollo 30 días"
      description: "Structured development plan for medium-risk collaborators"
      target_risk_level: MEDIUM
    - code: SE-60
      title: "Seguimiento estrecho 60 días"
      description: "Close follow-up for high-risk collaborators"
      target_risk_level: HIGH
    - code: SE-60-COM
      title: "Seguimiento estrecho: comunicación"
      description: "High-risk follow-up focused on communication"
      target_risk_level: HIGH
      dimension_code: COM
`
