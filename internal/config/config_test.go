package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/maruel/gitwiki/internal/wiki"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Wiki != wiki.DefaultConfig() {
		t.Errorf("Wiki = %+v", cfg.Wiki)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	t.Run("NoPath", func(t *testing.T) {
		t.Parallel()
		cfg, err := Load("", true)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.HTTP != "localhost:8080" {
			t.Errorf("HTTP = %q", cfg.HTTP)
		}
	})
	t.Run("Missing", func(t *testing.T) {
		t.Parallel()
		p := filepath.Join(t.TempDir(), "gitwiki.yaml")
		if _, err := Load(p, false); err != nil {
			t.Errorf("optional missing file: %v", err)
		}
		if _, err := Load(p, true); err == nil {
			t.Error("required missing file should fail")
		}
	})
	t.Run("Empty", func(t *testing.T) {
		t.Parallel()
		cfg, err := Load(writeFile(t, "gitwiki.yaml", ""), true)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q", cfg.LogLevel)
		}
	})
	t.Run("Overlay", func(t *testing.T) {
		t.Parallel()
		p := writeFile(t, "gitwiki.yaml", `repo: /srv/wiki
backend: exec
wiki:
  root_page: Home
  link_pattern: '\b([A-Z][a-z]+[A-Z][A-Za-z0-9]+)\b'
limits:
  write_rate_per_min: 5
`)
		cfg, err := Load(p, true)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Repo != "/srv/wiki" || cfg.Backend != "exec" {
			t.Errorf("Repo = %q, Backend = %q", cfg.Repo, cfg.Backend)
		}
		if cfg.Wiki.RootPage != "Home" || cfg.Wiki.LinkPattern != wiki.LinkPatternWikiWord {
			t.Errorf("Wiki = %+v", cfg.Wiki)
		}
		if cfg.Wiki.Extension != wiki.DefaultExtension {
			t.Errorf("Extension = %q, want default", cfg.Wiki.Extension)
		}
		if cfg.Limits.WriteRatePerMin != 5 || cfg.Limits.MaxBodyBytes != 1<<20 {
			t.Errorf("Limits = %+v", cfg.Limits)
		}
		if err := cfg.Validate(); err != nil {
			t.Error(err)
		}
	})
	t.Run("UnknownField", func(t *testing.T) {
		t.Parallel()
		if _, err := Load(writeFile(t, "gitwiki.yaml", "bogus: 1\n"), true); err == nil {
			t.Error("unknown field should fail")
		}
	})
}

func TestSave(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Repo = "/srv/wiki"
	cfg.Wiki.Extension = ".text"
	cfg.TrustedProxies = []string{"10.0.0.0/8", "::1"}
	p := filepath.Join(t.TempDir(), "gitwiki.yaml")
	if err := cfg.Save(p); err != nil {
		t.Fatal(err)
	}
	got, err := Load(p, true)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(*got, cfg) {
		t.Errorf("Load(Save(cfg)) = %+v, want %+v", *got, cfg)
	}

	cfg.LogLevel = "loud"
	if err := cfg.Save(p); err == nil {
		t.Error("Save should validate")
	}
}

func TestDotEnv(t *testing.T) {
	t.Parallel()
	p := writeFile(t, ".env", "# comment\nGITWIKI_REPO=/srv/dotenv\nGITWIKI_INIT=true\nGITWIKI_EXT=.text\nGITWIKI_WRITE_RATE_PER_MIN=7\n")
	env, err := ReadDotEnv(p)
	if err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	if err := cfg.ApplyEnv(env); err != nil {
		t.Fatal(err)
	}
	if cfg.Repo != "/srv/dotenv" || !cfg.Init || cfg.Wiki.Extension != ".text" || cfg.Limits.WriteRatePerMin != 7 {
		t.Errorf("cfg = %+v", cfg)
	}

	env, err = ReadDotEnv(filepath.Join(t.TempDir(), "missing"))
	if err != nil || len(env) != 0 {
		t.Errorf("missing .env: %v, %v", env, err)
	}
}

func TestApplyEnvErrors(t *testing.T) {
	t.Parallel()
	for _, env := range []map[string]string{
		{"GITWIKI_INIT": "maybe"},
		{"GITWIKI_WATCH": "2x"},
		{"GITWIKI_WRITE_RATE_PER_MIN": "many"},
	} {
		cfg := Default()
		if err := cfg.ApplyEnv(env); err == nil {
			t.Errorf("ApplyEnv(%v) should fail", env)
		}
	}
}

func TestApplyEnvPrecedence(t *testing.T) {
	t.Setenv("GITWIKI_HTTP", ":9000")
	cfg := Default()
	if err := cfg.ApplyEnv(map[string]string{"GITWIKI_HTTP": ":7000", "GITWIKI_ROOT": "Home"}); err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP != ":9000" {
		t.Errorf("HTTP = %q, process environment must win over .env", cfg.HTTP)
	}
	if cfg.Wiki.RootPage != "Home" {
		t.Errorf("RootPage = %q", cfg.Wiki.RootPage)
	}
}

func TestProxyPrefixes(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if err := cfg.ApplyEnv(map[string]string{"GITWIKI_TRUSTED_PROXIES": "10.1.2.3/8, 192.0.2.7,,::ffff:127.0.0.1"}); err != nil {
		t.Fatal(err)
	}
	got, err := cfg.ProxyPrefixes()
	if err != nil {
		t.Fatal(err)
	}
	want := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.7/32"),
		netip.MustParsePrefix("127.0.0.1/32"),
	}
	if !slices.Equal(got, want) {
		t.Errorf("ProxyPrefixes() = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"NoRepo", func(c *Config) { c.Repo = "" }},
		{"Backend", func(c *Config) { c.Backend = "svn" }},
		{"Markup", func(c *Config) { c.Markup = "rst" }},
		{"NoHTTP", func(c *Config) { c.HTTP = "" }},
		{"LogLevel", func(c *Config) { c.LogLevel = "trace" }},
		{"Extension", func(c *Config) { c.Wiki.Extension = "md" }},
		{"LinkPattern", func(c *Config) { c.Wiki.LinkPattern = "(" }},
		{"Rate", func(c *Config) { c.Limits.WriteRatePerMin = -1 }},
		{"Body", func(c *Config) { c.Limits.MaxBodyBytes = 0 }},
		{"TrustedProxies", func(c *Config) { c.TrustedProxies = []string{"proxy.local"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSchema(t *testing.T) {
	t.Parallel()
	b, err := Schema()
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"root_page"`, `"write_rate_per_min"`, `"link_pattern"`, `"backend"`} {
		if !strings.Contains(s, want) {
			t.Errorf("schema lacks %s", want)
		}
	}
}
