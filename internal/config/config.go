// Package config loads the process configuration.
//
// Sources, lowest precedence first: defaults, a YAML file, a .env file, the
// process environment. Command line flags are applied last by the caller.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/maruel/gitwiki/internal/markup"
	"github.com/maruel/gitwiki/internal/storage/git"
	"github.com/maruel/gitwiki/internal/wiki"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "GITWIKI_"

// Config is the full process configuration.
type Config struct {
	// Repo is the path of the git working tree holding the pages.
	Repo string `yaml:"repo" json:"repo" jsonschema:"description=Path of the git working tree holding the pages"`
	// Init creates the repository when Repo is not one yet.
	Init bool `yaml:"init" json:"init,omitempty" jsonschema:"description=Create the repository if missing"`
	// Backend is the git implementation: gogit or exec.
	Backend string `yaml:"backend" json:"backend,omitempty" jsonschema:"enum=gogit,enum=exec,default=gogit"`
	// Markup is the content transform: markdown or plain.
	Markup string `yaml:"markup" json:"markup,omitempty" jsonschema:"enum=markdown,enum=plain,default=markdown"`
	// HTTP is the listen address.
	HTTP string `yaml:"http" json:"http,omitempty" jsonschema:"default=localhost:8080"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	// Watch enables invalidation of caches on external commits.
	Watch bool `yaml:"watch" json:"watch,omitempty" jsonschema:"default=true"`
	// TrustedProxies lists the reverse proxies, as IPs or CIDR prefixes,
	// whose X-Forwarded-For header identifies the client.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty" json:"trusted_proxies,omitempty" jsonschema:"description=Reverse proxies (IP or CIDR) whose X-Forwarded-For is trusted"`

	Wiki      wiki.Config `yaml:"wiki" json:"wiki"`
	Committer Committer   `yaml:"committer" json:"committer"`
	Limits    Limits      `yaml:"limits" json:"limits"`
}

// Committer is the identity recorded on commits, and the author when the
// request carries none.
type Committer struct {
	Name  string `yaml:"name" json:"name,omitempty" jsonschema:"default=gitwiki"`
	Email string `yaml:"email" json:"email,omitempty" jsonschema:"default=gitwiki@localhost"`
}

// Limits bounds request handling.
type Limits struct {
	// WriteRatePerMin limits page saves per client IP. 0 means unlimited.
	WriteRatePerMin int `yaml:"write_rate_per_min" json:"write_rate_per_min" jsonschema:"minimum=0,default=60"`
	// MaxBodyBytes limits the size of a submitted page.
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes" jsonschema:"minimum=1,default=1048576"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Repo:     ".",
		Backend:  git.BackendGoGit.String(),
		Markup:   "markdown",
		HTTP:     "localhost:8080",
		LogLevel: "info",
		Watch:    true,
		Wiki:     wiki.DefaultConfig(),
		Committer: Committer{
			Name:  "gitwiki",
			Email: "gitwiki@localhost",
		},
		Limits: Limits{
			WriteRatePerMin: 60,
			MaxBodyBytes:    1 << 20,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path.
//
// An empty path returns the defaults. A missing file is an error only when
// mustExist is true.
func Load(path string, mustExist bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the -config flag
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !mustExist {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty file decodes to io.EOF.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ReadDotEnv parses the .env file at path without touching the process
// environment. A missing file yields an empty map.
func ReadDotEnv(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return env, nil
}

// ApplyEnv overrides fields from GITWIKI_* variables. dotenv values are used
// when the process environment does not define the variable.
func (c *Config) ApplyEnv(dotenv map[string]string) error {
	lookup := func(key string) (string, bool) {
		key = EnvPrefix + key
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	strs := []struct {
		key string
		dst *string
	}{
		{"REPO", &c.Repo},
		{"BACKEND", &c.Backend},
		{"MARKUP", &c.Markup},
		{"HTTP", &c.HTTP},
		{"LOG_LEVEL", &c.LogLevel},
		{"EXT", &c.Wiki.Extension},
		{"ROOT", &c.Wiki.RootPage},
		{"LINK_PATTERN", &c.Wiki.LinkPattern},
		{"COMMITTER_NAME", &c.Committer.Name},
		{"COMMITTER_EMAIL", &c.Committer.Email},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}
	bools := []struct {
		key string
		dst *bool
	}{
		{"INIT", &c.Init},
		{"WATCH", &c.Watch},
	}
	for _, b := range bools {
		if v, ok := lookup(b.key); ok && v != "" {
			x, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err)
			}
			*b.dst = x
		}
	}
	if v, ok := lookup("TRUSTED_PROXIES"); ok && v != "" {
		c.TrustedProxies = SplitList(v)
	}
	if v, ok := lookup("WRITE_RATE_PER_MIN"); ok && v != "" {
		x, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sWRITE_RATE_PER_MIN: %w", EnvPrefix, err)
		}
		c.Limits.WriteRatePerMin = x
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Repo == "" {
		return errors.New("repo is required")
	}
	if _, err := git.ParseBackend(c.Backend); err != nil {
		return err
	}
	if _, err := markup.New(c.Markup); err != nil {
		return err
	}
	if c.HTTP == "" {
		return errors.New("http is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.LogLevel)
	}
	w := c.Wiki.WithDefaults()
	if err := w.Validate(); err != nil {
		return fmt.Errorf("wiki: %w", err)
	}
	if _, err := c.ProxyPrefixes(); err != nil {
		return err
	}
	if c.Limits.WriteRatePerMin < 0 {
		return errors.New("limits.write_rate_per_min must be non-negative")
	}
	if c.Limits.MaxBodyBytes <= 0 {
		return errors.New("limits.max_body_bytes must be positive")
	}
	return nil
}

// ProxyPrefixes parses TrustedProxies. A bare IP is a single address prefix.
func (c *Config) ProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, v := range c.TrustedProxies {
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted_proxies: %w", err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(v string) []string {
	var out []string
	for item := range strings.SplitSeq(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Save writes c as YAML to path.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	s := r.Reflect(&Config{})
	s.Title = "gitwiki configuration"
	return json.MarshalIndent(s, "", "  ")
}
