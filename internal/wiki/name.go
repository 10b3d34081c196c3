package wiki

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var (
	nonWordRe = regexp.MustCompile(`[^\w\s]`)
	tagRe     = regexp.MustCompile(`<[^>]*>`)
)

// NormalizeName turns link text into a page name: characters that are neither
// word characters nor whitespace are dropped, words are joined with hyphens and
// the result is lowercased.
//
// "My Target Page!" becomes "my-target-page".
func NormalizeName(text string) string {
	text = nonWordRe.ReplaceAllString(text, "")
	return strings.ToLower(strings.Join(strings.Fields(text), "-"))
}

// linkText extracts the plain text of a link label found in rendered HTML.
func linkText(label string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(label, ""))
}

// validateName rejects names that cannot be stored as a top-level file.
func (s *Store) validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, name)
	case strings.HasSuffix(name, s.cfg.Extension):
		return fmt.Errorf("%w: %q includes the extension %q", ErrInvalidName, name, s.cfg.Extension)
	}
	return nil
}
