package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"fleettag/pkg/engine"
	"fleettag/pkg/fanout"
	"fleettag/pkg/query"
)

const (
	// DefaultPath is where the CLI looks for its configuration file.
	DefaultPath = "fleettag.yaml"

	defaultSettle = 10 * time.Second
)

// Load reads the YAML file at path, applies environment overrides and defaults,
// and validates the result.
func Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(ctx, data)
}

// Parse is Load without the file read. The settle default is seeded before
// decoding so an explicit "settle: 0s" disables the wait.
func Parse(ctx context.Context, data []byte) (*Config, error) {
	cfg := Config{Tagger: TaggerConfig{Settle: defaultSettle}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	var overrides env
	if err := envconfig.Process(ctx, &overrides); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.applyEnv(overrides)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(e env) {
	if e.Credentials != "" {
		c.Credentials = e.Credentials
	}
	if e.PortalAddress != "" {
		c.Portal.Address = e.PortalAddress
	}
	if e.PortalPort != 0 {
		c.Portal.Port = e.PortalPort
	}
	if e.TagsPath != "" {
		c.Paths.Tags = e.TagsPath
	}
	if e.LogsPath != "" {
		c.Paths.Logs = e.LogsPath
	}
	if e.Workers != 0 {
		c.Fanout.Workers = e.Workers
	}
	if e.NATSURL != "" {
		c.Bus.URL = e.NATSURL
	}
	if e.S3Bucket != "" {
		c.S3.Bucket = e.S3Bucket
	}
	if e.OTLPEndpoint != "" {
		c.Telemetry.OTLPEndpoint = e.OTLPEndpoint
	}
}

func (c *Config) applyDefaults() {
	if c.Portal.Port == 0 {
		c.Portal.Port = 443
	}
	if c.Engine.Port == 0 {
		c.Engine.Port = engine.DefaultPort
	}
	if c.Engine.Timeout == 0 {
		c.Engine.Timeout = engine.DefaultTimeout
	}
	if c.Fanout.Workers == 0 {
		c.Fanout.Workers = fanout.DefaultWorkers
	}
	for i := range c.Queries {
		q := &c.Queries[i]
		q.ObjectType = strings.TrimSpace(q.ObjectType)
		q.Category = strings.TrimSpace(q.Category)
		q.IDColumn = strings.TrimSpace(q.IDColumn)
		q.Query = query.Normalize(q.Query)
	}
}

// validate reports every problem at once.
func (c *Config) validate() error {
	var errs []string
	if strings.TrimSpace(c.Portal.Address) == "" {
		errs = append(errs, "portal.address is required")
	}
	if c.Portal.Port < 0 || c.Portal.Port > 65535 {
		errs = append(errs, fmt.Sprintf("portal.port %d is outside the valid range 1-65535", c.Portal.Port))
	}
	if c.Credentials == "" {
		errs = append(errs, "credentials are required (set credentials or FLEETTAG_CREDENTIALS)")
	} else if _, err := engine.FromBase64(c.Credentials); err != nil {
		errs = append(errs, fmt.Sprintf("credentials: %v", err))
	}
	if c.Engine.Port < 0 || c.Engine.Port > 65535 {
		errs = append(errs, fmt.Sprintf("engine.port %d is outside the valid range 1-65535", c.Engine.Port))
	}
	if c.Engine.Timeout < 0 {
		errs = append(errs, "engine.timeout must be positive")
	}
	if c.Fanout.Workers < 0 {
		errs = append(errs, "fanout.workers must be positive")
	}
	if c.Tagger.Settle < 0 {
		errs = append(errs, "tagger.settle must not be negative")
	}
	if strings.TrimSpace(c.Paths.Tags) == "" {
		errs = append(errs, "paths.tags is required")
	}
	if len(c.Queries) == 0 {
		errs = append(errs, "at least one query is required")
	}

	seen := make(map[string]int, len(c.Queries))
	for i, q := range c.Queries {
		if q.ObjectType == "" {
			errs = append(errs, fmt.Sprintf("queries[%d].object_type is required", i))
		}
		if q.Category == "" {
			errs = append(errs, fmt.Sprintf("queries[%d].category is required", i))
		}
		if !query.SupportedCondition(q.IDColumn) {
			errs = append(errs, fmt.Sprintf("queries[%d].id_column %q must be one of id, hash, name", i, q.IDColumn))
		}
		if _, err := query.BuildIdentifierSelectStatement(q.Query); err != nil {
			errs = append(errs, fmt.Sprintf("queries[%d].query: %v", i, err))
		}
		key := templateKey(q.ObjectType, q.Category)
		if prev, dup := seen[key]; dup {
			errs = append(errs, fmt.Sprintf("queries[%d] duplicates queries[%d] for %s/%s", i, prev, q.ObjectType, q.Category))
		} else {
			seen[key] = i
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Template returns the id-lookup template for objectType and category.
func (c *Config) Template(objectType, category string) (QueryTemplate, error) {
	key := templateKey(objectType, category)
	for _, q := range c.Queries {
		if templateKey(q.ObjectType, q.Category) == key {
			return q, nil
		}
	}
	return QueryTemplate{}, fmt.Errorf("no id query configured for object type %q and category %q", objectType, category)
}

// CredentialsValue decodes the configured credentials.
func (c *Config) CredentialsValue() (engine.Credentials, error) {
	return engine.FromBase64(c.Credentials)
}

func templateKey(objectType, category string) string {
	return strings.TrimSpace(objectType) + "\x00" + strings.TrimSpace(category)
}
