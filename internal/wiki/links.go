// Rewrites wiki links in rendered HTML into anchors.

package wiki

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"slices"
	"strings"
)

// Resolver rewrites matches of the configured link pattern into anchors.
//
// Each distinct target is resolved once per call with FindOrCreate. Resolution
// is a lookup only: rendering a link to a missing page never commits anything.
type Resolver struct {
	pattern *regexp.Regexp
	store   *Store
}

// Link is one wiki link found in rendered HTML.
type Link struct {
	// Label is the captured text, shown verbatim as the anchor content.
	Label string
	// Target is the normalized page name.
	Target string
}

// Links returns the wiki links found in src, in order of appearance.
// Matches that normalize to an empty name are skipped.
func (r *Resolver) Links(src string) []Link {
	var out []Link
	for _, m := range r.pattern.FindAllStringSubmatch(src, -1) {
		l := r.link(m)
		if l.Target != "" {
			out = append(out, l)
		}
	}
	return out
}

// Wikify replaces every link in src with an anchor to the normalized target.
// The anchor class is the target's Existence as of this call. Matches inside
// a tag, such as an image alt attribute, are left as is.
func (r *Resolver) Wikify(ctx context.Context, src string) (string, error) {
	matches := slices.DeleteFunc(r.pattern.FindAllStringSubmatchIndex(src, -1), func(loc []int) bool {
		return insideTag(src, loc[0])
	})
	if len(matches) == 0 {
		return src, nil
	}
	// First pass: resolve each distinct target once.
	targets := map[string]*Page{}
	for _, loc := range matches {
		l := r.linkAt(src, loc)
		if l.Target == "" {
			continue
		}
		if _, ok := targets[l.Target]; ok {
			continue
		}
		p, err := r.store.FindOrCreate(ctx, l.Target, "")
		if err != nil {
			if errors.Is(err, ErrInvalidName) {
				targets[l.Target] = nil
				continue
			}
			return "", fmt.Errorf("failed to resolve link %q: %w", l.Label, err)
		}
		targets[l.Target] = p
	}
	// Second pass: substitute.
	var b strings.Builder
	b.Grow(len(src))
	last := 0
	for _, loc := range matches {
		b.WriteString(src[last:loc[0]])
		last = loc[1]
		l := r.linkAt(src, loc)
		p := targets[l.Target]
		if p == nil {
			b.WriteString(src[loc[0]:loc[1]])
			continue
		}
		fmt.Fprintf(&b, `<a class="%s" href="%s">%s</a>`, p.Existence(), html.EscapeString(p.URL()), l.Label)
	}
	b.WriteString(src[last:])
	return b.String(), nil
}

// insideTag reports whether offset i of the HTML src is between a '<' and
// its closing '>'. Attribute values never hold a raw '>' once rendered.
func insideTag(src string, i int) bool {
	return strings.LastIndexByte(src[:i], '<') > strings.LastIndexByte(src[:i], '>')
}

func (r *Resolver) linkAt(src string, loc []int) Link {
	m := make([]string, len(loc)/2)
	for i := range m {
		if loc[2*i] >= 0 {
			m[i] = src[loc[2*i]:loc[2*i+1]]
		}
	}
	return r.link(m)
}

// link builds a Link from a submatch slice. Without a capture group the whole
// match is the label.
func (r *Resolver) link(m []string) Link {
	label := m[0]
	if len(m) > 1 {
		label = m[1]
	}
	return Link{Label: label, Target: NormalizeName(linkText(label))}
}

// linkTargets returns the distinct normalized targets linked from raw content.
func (s *Store) linkTargets(content []byte) []string {
	var out []string
	seen := map[string]bool{}
	for _, l := range s.resolver.Links(string(content)) {
		if seen[l.Target] {
			continue
		}
		seen[l.Target] = true
		out = append(out, l.Target)
	}
	return out
}
