// Defines the store configuration and its defaults.

package wiki

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// DefaultExtension is the file suffix of page blobs.
	DefaultExtension = ".markdown"
	// DefaultRootPage is the page served at "/".
	DefaultRootPage = "index"
	// DefaultLinkPattern matches [[Some Text]] and captures the inner text.
	DefaultLinkPattern = `\[\[(.*?)\]\]`
	// LinkPatternWikiWord matches CamelCase WikiWords.
	LinkPatternWikiWord = `\b([A-Z][a-z]+[A-Z][A-Za-z0-9]+)\b`
)

// Config is the process-wide store configuration. It is constructed once at
// startup and handed to NewStore.
type Config struct {
	// Extension maps a page name to its file: name + Extension.
	Extension string `yaml:"extension" json:"extension,omitempty" jsonschema:"default=.markdown"`
	// RootPage is the page whose URL is "/".
	RootPage string `yaml:"root_page" json:"root_page,omitempty" jsonschema:"default=index"`
	// LinkPattern is the regular expression recognizing wiki links in rendered
	// HTML. The first capture group, if any, is the link text.
	LinkPattern string `yaml:"link_pattern" json:"link_pattern,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Extension:   DefaultExtension,
		RootPage:    DefaultRootPage,
		LinkPattern: DefaultLinkPattern,
	}
}

// WithDefaults returns c with empty fields replaced by defaults.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Extension == "" {
		c.Extension = d.Extension
	}
	if c.RootPage == "" {
		c.RootPage = d.RootPage
	}
	if c.LinkPattern == "" {
		c.LinkPattern = d.LinkPattern
	}
	return c
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Extension, ".") || len(c.Extension) < 2 {
		return fmt.Errorf("extension %q must start with a dot", c.Extension)
	}
	if strings.ContainsAny(c.Extension, `/\`) {
		return fmt.Errorf("extension %q must not contain path separators", c.Extension)
	}
	if c.RootPage == "" {
		return errors.New("root_page is required")
	}
	if _, err := c.compileLinkPattern(); err != nil {
		return err
	}
	return nil
}

func (c *Config) compileLinkPattern() (*regexp.Regexp, error) {
	if c.LinkPattern == "" {
		return nil, errors.New("link_pattern is required")
	}
	re, err := regexp.Compile(c.LinkPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid link_pattern: %w", err)
	}
	return re, nil
}
