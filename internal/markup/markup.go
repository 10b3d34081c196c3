// Package markup converts stored page text into sanitized HTML.
package markup

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Markdown renders GitHub flavored markdown and sanitizes the output.
//
// Raw HTML in the source is kept by goldmark and filtered by bluemonday, so
// safe inline markup survives while scripts and event handlers do not.
type Markdown struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewMarkdown returns a Markdown renderer. It is safe for concurrent use.
func NewMarkdown() *Markdown {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Footnote),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
	)
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("id").OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span", "div")
	return &Markdown{md: md, policy: policy}
}

// Render implements wiki.Markup.
func (m *Markdown) Render(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.md.Convert(src, &buf); err != nil {
		return nil, fmt.Errorf("failed to convert markdown: %w", err)
	}
	return m.policy.SanitizeBytes(buf.Bytes()), nil
}

// Plain shows the text verbatim in a preformatted block.
type Plain struct{}

// Render implements wiki.Markup.
func (Plain) Render(src []byte) ([]byte, error) {
	var b strings.Builder
	b.Grow(len(src) + 11)
	b.WriteString("<pre>")
	b.WriteString(html.EscapeString(string(src)))
	b.WriteString("</pre>")
	return []byte(b.String()), nil
}

// Renderer is implemented by Markdown and Plain.
type Renderer interface {
	Render(src []byte) ([]byte, error)
}

// New returns the renderer registered under name: "markdown" or "plain".
func New(name string) (Renderer, error) {
	switch strings.ToLower(name) {
	case "", "markdown", "md":
		return NewMarkdown(), nil
	case "plain", "text":
		return Plain{}, nil
	default:
		return nil, fmt.Errorf("unknown markup %q", name)
	}
}
