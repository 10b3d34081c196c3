// JSON API handlers.

package server

import (
	"cmp"
	"context"
	"slices"

	apierrors "github.com/maruel/gitwiki/internal/errors"
	"github.com/maruel/gitwiki/internal/storage/git"
	"github.com/maruel/gitwiki/internal/wiki"
)

// HealthRequest is the request for GET /api/health.
type HealthRequest struct{}

// Validate implements validatable.
func (*HealthRequest) Validate() error { return nil }

// HealthResponse reports liveness and the current head.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Head    string `json:"head,omitempty"`
}

// ListPagesRequest is the request for GET /api/pages.
type ListPagesRequest struct{}

// Validate implements validatable.
func (*ListPagesRequest) Validate() error { return nil }

// PageSummary is one entry of a page listing.
type PageSummary struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int    `json:"size"`
}

// ListPagesResponse lists every page at head, sorted by name.
type ListPagesResponse struct {
	Pages []PageSummary `json:"pages"`
}

// PageRequest addresses one page, optionally at a revision.
type PageRequest struct {
	Name string `path:"name"`
	Rev  string `query:"rev"`
	// Strict reports a missing page or bad revision as an error instead of
	// returning a new page.
	Strict bool `query:"strict"`
}

// Validate implements validatable.
func (r *PageRequest) Validate() error {
	if r.Name == "" {
		return apierrors.MissingField("name")
	}
	return nil
}

// PageResponse is one resolved page.
type PageResponse struct {
	Name       string `json:"name"`
	Existence  string `json:"existence"`
	Revision   string `json:"revision,omitempty"`
	Content    string `json:"content"`
	HTML       string `json:"html,omitempty"`
	URL        string `json:"url"`
	EditURL    string `json:"edit_url"`
	HistoryURL string `json:"history_url"`
}

// PutPageRequest saves a page.
type PutPageRequest struct {
	Name    string `path:"name" json:"-"`
	Content string `json:"content"`
	Message string `json:"message,omitempty"`
	Author  string `json:"author,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Validate implements validatable.
func (r *PutPageRequest) Validate() error {
	if r.Name == "" {
		return apierrors.MissingField("name")
	}
	return nil
}

// HistoryRequest addresses the history of one page.
type HistoryRequest struct {
	Name string `path:"name"`
}

// Validate implements validatable.
func (r *HistoryRequest) Validate() error {
	if r.Name == "" {
		return apierrors.MissingField("name")
	}
	return nil
}

// HistoryResponse lists the revisions of a page, newest first.
type HistoryResponse struct {
	Name      string          `json:"name"`
	Revisions []wiki.Revision `json:"revisions"`
}

// BacklinksResponse lists the pages linking to a page.
type BacklinksResponse struct {
	Name      string   `json:"name"`
	Backlinks []string `json:"backlinks"`
}

func (s *Server) health(ctx context.Context, _ *HealthRequest) (*HealthResponse, error) {
	head, err := s.repo.Head(ctx)
	if err != nil {
		return nil, err
	}
	return &HealthResponse{Status: "ok", Version: s.cfg.Version, Head: head}, nil
}

func (s *Server) listPages(ctx context.Context, _ *ListPagesRequest) (*ListPagesResponse, error) {
	pages, err := sortedPages(ctx, s.store)
	if err != nil {
		return nil, err
	}
	out := &ListPagesResponse{Pages: make([]PageSummary, len(pages))}
	for i, p := range pages {
		out.Pages[i] = PageSummary{Name: p.Name(), URL: p.URL(), Size: len(p.Content())}
	}
	return out, nil
}

func (s *Server) getPage(ctx context.Context, req *PageRequest) (*PageResponse, error) {
	var p *wiki.Page
	var err error
	if req.Strict {
		p, err = s.store.Lookup(ctx, req.Name, req.Rev)
	} else {
		p, err = s.store.FindOrCreate(ctx, req.Name, req.Rev)
	}
	if err != nil {
		return nil, err
	}
	html, err := p.Render(ctx)
	if err != nil {
		return nil, err
	}
	resp := pageResponse(p)
	resp.HTML = html
	return resp, nil
}

func (s *Server) putPage(ctx context.Context, req *PutPageRequest) (*PageResponse, error) {
	p, err := s.store.FindOrCreate(ctx, req.Name, "")
	if err != nil {
		return nil, err
	}
	ctx = wiki.WithAuthor(ctx, git.Author{Name: req.Author, Email: req.Email})
	if err := p.Save(ctx, []byte(req.Content), req.Message); err != nil {
		return nil, err
	}
	// Re-resolve to observe the commit.
	if p, err = s.store.FindOrCreate(ctx, req.Name, ""); err != nil {
		return nil, err
	}
	return pageResponse(p), nil
}

func (s *Server) pageHistory(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	p, err := s.store.FindOrCreate(ctx, req.Name, "")
	if err != nil {
		return nil, err
	}
	revs, err := p.History(ctx)
	if err != nil {
		return nil, err
	}
	if revs == nil {
		revs = []wiki.Revision{}
	}
	return &HistoryResponse{Name: p.Name(), Revisions: revs}, nil
}

func (s *Server) pageBacklinks(ctx context.Context, req *HistoryRequest) (*BacklinksResponse, error) {
	p, err := s.store.FindOrCreate(ctx, req.Name, "")
	if err != nil {
		return nil, err
	}
	names, err := p.Backlinks(ctx)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return &BacklinksResponse{Name: p.Name(), Backlinks: names}, nil
}

func pageResponse(p *wiki.Page) *PageResponse {
	return &PageResponse{
		Name:       p.Name(),
		Existence:  p.Existence().String(),
		Revision:   p.Revision(),
		Content:    string(p.Content()),
		URL:        p.URL(),
		EditURL:    p.EditURL(),
		HistoryURL: p.HistoryURL(),
	}
}

// sortedPages returns every page at head ordered by name for display.
func sortedPages(ctx context.Context, store *wiki.Store) ([]*wiki.Page, error) {
	pages, err := store.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(pages, func(a, b *wiki.Page) int { return cmp.Compare(a.Name(), b.Name()) })
	return pages, nil
}
