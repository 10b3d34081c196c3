// Package wiki implements the page store of a wiki kept in a git repository.
//
// Pages are files named <name><extension> at the top of the repository. Every
// save is a commit; history comes from the git log of the file. Rendering
// rewrites wiki links into anchors whose class tells whether the target page
// exists.
package wiki

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/maruel/gitwiki/internal/storage/git"
)

// Markup converts stored page content into HTML.
type Markup interface {
	Render(src []byte) ([]byte, error)
}

// Store resolves page names to pages and commits page edits.
type Store struct {
	repo     git.Repository
	cfg      Config
	markup   Markup
	resolver *Resolver
	links    linkIndex
}

// NewStore creates a page store over repo.
//
// Empty fields of cfg take their defaults. markup is applied to page content
// before wiki links are resolved.
func NewStore(repo git.Repository, cfg Config, markup Markup) (*Store, error) {
	if repo == nil {
		return nil, errRepoRequired
	}
	if markup == nil {
		return nil, errMarkupRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid wiki config: %w", err)
	}
	re, err := cfg.compileLinkPattern()
	if err != nil {
		return nil, err
	}
	s := &Store{
		repo:   repo,
		cfg:    cfg,
		markup: markup,
	}
	s.resolver = &Resolver{pattern: re, store: s}
	return s, nil
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Resolver returns the link resolver bound to this store.
func (s *Store) Resolver() *Resolver {
	return s.resolver
}

// FindOrCreate resolves name, optionally pinned to rev, to a page.
//
// The name is used verbatim. When no blob exists for it, or rev does not
// resolve to a commit, a new empty page at head is returned instead of an
// error. Errors are only returned for invalid names and repository failures.
func (s *Store) FindOrCreate(ctx context.Context, name, rev string) (*Page, error) {
	p, err := s.Lookup(ctx, name, rev)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, ErrMalformedRevision):
		slog.DebugContext(ctx, "Unresolvable revision, using new page", "page", name, "rev", rev)
		return s.newPage(name), nil
	case errors.Is(err, ErrPageNotFound):
		return s.newPage(name), nil
	default:
		return nil, err
	}
}

// Lookup is the strict form of FindOrCreate: a missing page yields
// ErrPageNotFound and an unresolvable revision yields ErrMalformedRevision.
func (s *Store) Lookup(ctx context.Context, name, rev string) (*Page, error) {
	if err := s.validateName(name); err != nil {
		return nil, err
	}
	data, err := s.repo.ReadBlob(ctx, rev, name+s.cfg.Extension)
	if err != nil {
		switch {
		case errors.Is(err, git.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrPageNotFound, name)
		case errors.Is(err, git.ErrBadRevision):
			return nil, fmt.Errorf("%w: %q", ErrMalformedRevision, rev)
		case errors.Is(err, git.ErrInvalidPath):
			return nil, fmt.Errorf("%w: %w", ErrInvalidName, err)
		}
		return nil, fmt.Errorf("failed to read page %s: %w", name, err)
	}
	return &Page{
		store:     s,
		name:      name,
		content:   data,
		revision:  rev,
		existence: Existing,
	}, nil
}

// Root resolves the configured root page.
func (s *Store) Root(ctx context.Context) (*Page, error) {
	return s.FindOrCreate(ctx, s.cfg.RootPage, "")
}

// FindAll returns every page at head, in repository tree order.
// Callers needing a display order must sort.
func (s *Store) FindAll(ctx context.Context) ([]*Page, error) {
	paths, err := s.repo.ListBlobs(ctx, s.cfg.Extension)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	pages := make([]*Page, 0, len(paths))
	for _, path := range paths {
		name := strings.TrimSuffix(path, s.cfg.Extension)
		if name == "" {
			continue
		}
		data, err := s.repo.ReadBlob(ctx, "", path)
		if err != nil {
			if errors.Is(err, git.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to read page %s: %w", name, err)
		}
		pages = append(pages, &Page{
			store:     s,
			name:      name,
			content:   data,
			existence: Existing,
		})
	}
	return pages, nil
}

// Invalidate drops cached indices. Call it when the repository changed
// outside of this store.
func (s *Store) Invalidate() {
	s.links.reset()
}

func (s *Store) newPage(name string) *Page {
	return &Page{store: s, name: name, existence: New}
}

// PageURL returns the path at which the page name is served.
func (s *Store) PageURL(name string) string {
	if name == s.cfg.RootPage {
		return "/"
	}
	return "/pages/" + url.PathEscape(name)
}

func (s *Store) save(ctx context.Context, p *Page, content []byte, message string) error {
	content = normalizeNewlines(content)
	if bytes.Equal(content, p.content) {
		slog.DebugContext(ctx, "Content unchanged, skipping commit", "page", p.name)
		return nil
	}
	if message == "" {
		message = "web commit: " + p.name
	}
	hash, err := s.repo.CommitFile(ctx, authorFrom(ctx), p.Path(), content, message)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCommitFailed, p.name, err)
	}
	s.links.update(p.name, s.linkTargets(content))
	slog.InfoContext(ctx, "Saved page", "page", p.name, "commit", hash, "new", p.IsNew())
	return nil
}

// normalizeNewlines converts CRLF and lone CR line endings to LF.
func normalizeNewlines(b []byte) []byte {
	if !bytes.ContainsRune(b, '\r') {
		return b
	}
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
}

type authorKey struct{}

// WithAuthor returns a context carrying the author of subsequent saves.
func WithAuthor(ctx context.Context, a git.Author) context.Context {
	return context.WithValue(ctx, authorKey{}, a)
}

func authorFrom(ctx context.Context) git.Author {
	a, _ := ctx.Value(authorKey{}).(git.Author)
	return a
}
