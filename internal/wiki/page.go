// Defines the Page entity: one resolved snapshot of a wiki page.

package wiki

import (
	"context"
	"fmt"
	"net/url"
)

// Existence tells whether a blob backed the page when it was resolved.
type Existence int

const (
	// New means no blob was found; the page only exists in memory.
	New Existence = iota
	// Existing means a blob was found at head or at the pinned revision.
	Existing
)

// String returns the CSS class used for links to a page in this state.
func (e Existence) String() string {
	if e == Existing {
		return "existing"
	}
	return "new"
}

// Page is a request-scoped view of one page, bound to the blob found when it
// was resolved. It is never mutated; re-resolve through the Store to observe
// later commits.
type Page struct {
	store     *Store
	name      string
	content   []byte
	revision  string
	existence Existence
}

// Name returns the page name, which never contains the extension.
func (p *Page) Name() string {
	return p.name
}

// String returns the display name.
func (p *Page) String() string {
	return p.name
}

// IsNew reports whether no blob backed the page at resolution time.
func (p *Page) IsNew() bool {
	return p.existence == New
}

// Existence returns the existence state computed at resolution time.
func (p *Page) Existence() Existence {
	return p.existence
}

// Content returns the raw stored bytes. It is empty for a new page.
// The caller must not modify the returned slice.
func (p *Page) Content() []byte {
	return p.content
}

// Revision returns the commit the page is pinned to, or "" for head.
func (p *Page) Revision() string {
	return p.revision
}

// Path returns the repository path of the backing file.
func (p *Page) Path() string {
	return p.name + p.store.cfg.Extension
}

// IsRoot reports whether this is the configured root page.
func (p *Page) IsRoot() bool {
	return p.name == p.store.cfg.RootPage
}

// URL returns the path at which the page is served.
func (p *Page) URL() string {
	return p.store.PageURL(p.name)
}

// EditURL returns the path of the edit form.
func (p *Page) EditURL() string {
	return "/pages/" + url.PathEscape(p.name) + "/edit"
}

// HistoryURL returns the path of the history view.
func (p *Page) HistoryURL() string {
	return "/pages/" + url.PathEscape(p.name) + "/history"
}

// RevisionURL returns the path showing the page pinned to rev.
func (p *Page) RevisionURL(rev string) string {
	return "/pages/" + url.PathEscape(p.name) + "?rev=" + url.QueryEscape(rev)
}

// Render converts the content to HTML and rewrites wiki links into anchors.
//
// Link targets are looked up, and created in memory when missing, but nothing
// is written to the repository.
func (p *Page) Render(ctx context.Context) (string, error) {
	out, err := p.store.markup.Render(p.content)
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", p.name, err)
	}
	return p.store.resolver.Wikify(ctx, string(out))
}

// Save commits content as a new revision of the page.
//
// CRLF line endings are normalized to LF. Saving content identical to the
// current content is a no-op. An empty message defaults to
// "web commit: <name>". The author is taken from ctx, see WithAuthor.
// Failures wrap ErrCommitFailed.
func (p *Page) Save(ctx context.Context, content []byte, message string) error {
	if p.revision != "" {
		return fmt.Errorf("%w: %s@%s", ErrReadOnlyRevision, p.name, p.revision)
	}
	return p.store.save(ctx, p, content, message)
}

// History returns the commits touching the page, newest first.
func (p *Page) History(ctx context.Context) ([]Revision, error) {
	return p.store.History(ctx, p)
}

// Backlinks returns the names of existing pages linking to this page.
func (p *Page) Backlinks(ctx context.Context) ([]string, error) {
	return p.store.Backlinks(ctx, p.name)
}
