package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"tripauth/internal/perm"
)

const DefaultMaxDepth = 64

// Config models tripauth.yml.
type Config struct {
	Catalog      map[string]map[string]CatalogAction `yaml:"catalog"`
	OwnerProfile struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"owner_profile"`
	Resolver struct {
		MaxDepth int `yaml:"max_depth"`
	} `yaml:"resolver"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type CatalogAction struct {
	Description string `yaml:"description"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ta config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, or the default one if the file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for resource, actions := range c.Catalog {
		if resource == "" {
			return fmt.Errorf("config.catalog contains empty resource")
		}
		if len(actions) == 0 {
			return fmt.Errorf("config.catalog.%s has no actions", resource)
		}
		for action := range actions {
			if action == "" {
				return fmt.Errorf("config.catalog.%s contains empty action", resource)
			}
			if _, err := perm.Parse(resource + ":" + action); err != nil {
				return fmt.Errorf("config.catalog: %w", err)
			}
		}
	}
	if c.OwnerProfile.Name == "" {
		return fmt.Errorf("config.owner_profile.name is required")
	}
	if c.Resolver.MaxDepth < 0 {
		return fmt.Errorf("config.resolver.max_depth must not be negative")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// PermissionCatalog converts the catalog section into an immutable perm.Catalog.
func (c *Config) PermissionCatalog() (perm.Catalog, error) {
	names := make([]string, 0, len(c.Catalog))
	for name := range c.Catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	resources := make([]perm.Resource, 0, len(names))
	for _, name := range names {
		actionNames := make([]string, 0, len(c.Catalog[name]))
		for a := range c.Catalog[name] {
			actionNames = append(actionNames, a)
		}
		sort.Strings(actionNames)
		r := perm.Resource{Name: name}
		for _, a := range actionNames {
			r.Actions = append(r.Actions, perm.Action{Name: a, Description: c.Catalog[name][a].Description})
		}
		resources = append(resources, r)
	}
	return perm.NewCatalog(resources)
}

// MaxDepth returns the resolver chain limit, falling back to DefaultMaxDepth.
func (c *Config) MaxDepth() int {
	if c == nil || c.Resolver.MaxDepth == 0 {
		return DefaultMaxDepth
	}
	return c.Resolver.MaxDepth
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tripauth.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
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

const defaultTemplate = `catalog:
  activities:
    view:
      description: "See activity listings"
    create:
      description: "Create new activities"
    edit:
      description: "Edit activity details, pricing and availability"
    delete:
      description: "Remove activities"
    publish:
      description: "Publish or unpublish activities"
  bookings:
    view:
      description: "See bookings"
    create:
      description: "Create bookings on behalf of customers"
    edit:
      description: "Change booking details"
    cancel:
      description: "Cancel bookings"
    refund:
      description: "Issue refunds"
  reviews:
    view:
      description: "Read reviews"
    respond:
      description: "Reply to reviews"
    moderate:
      description: "Hide or flag reviews"
  employees:
    view:
      description: "See employees"
    create:
      description: "Invite employees"
    edit:
      description: "Change employee details and profiles"
    delete:
      description: "Remove employees"
  finance:
    view:
      description: "See revenue"
    payouts:
      description: "Manage payouts"
    invoices:
      description: "Download invoices"
  reports:
    view:
      description: "See reports"
    export:
      description: "Export reports"
  settings:
    view:
      description: "See account settings"
    edit:
      description: "Change account settings"

owner_profile:
  name: "Full Access"
  description: "Unrestricted access, created with the account"

resolver:
  max_depth: 64

log:
  level: info
  format: text
`
