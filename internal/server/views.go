// HTML views.

package server

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/maruel/gitwiki/internal/storage/git"
	"github.com/maruel/gitwiki/internal/wiki"
)

//go:embed templates/*.html
var templateFS embed.FS

type views struct {
	show, edit, history, list *template.Template
}

func newViews() *views {
	funcs := template.FuncMap{
		"shortHash": func(h string) string {
			if len(h) > 10 {
				return h[:10]
			}
			return h
		},
	}
	parse := func(name string) *template.Template {
		return template.Must(template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	return &views{
		show:    parse("show.html"),
		edit:    parse("edit.html"),
		history: parse("history.html"),
		list:    parse("list.html"),
	}
}

type link struct {
	Name string
	URL  string
}

type showData struct {
	Title     string
	Page      *wiki.Page
	HTML      template.HTML
	Backlinks []link
}

type editData struct {
	Title   string
	Page    *wiki.Page
	Action  string
	Body    string
	Message string
	Author  string
	Error   string
}

type historyData struct {
	Title     string
	Page      *wiki.Page
	Revisions []wiki.Revision
}

type listData struct {
	Title string
	Pages []*wiki.Page
}

func (s *Server) showRoot(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Root(r.Context())
	if err != nil {
		s.viewError(w, r, err)
		return
	}
	s.renderPage(w, r, p)
}

func (s *Server) showPage(w http.ResponseWriter, r *http.Request) {
	rev := r.URL.Query().Get("rev")
	p, err := s.store.FindOrCreate(r.Context(), r.PathValue("name"), rev)
	if err != nil {
		s.viewError(w, r, err)
		return
	}
	if p.IsRoot() && rev == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	s.renderPage(w, r, p)
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, p *wiki.Page) {
	ctx := r.Context()
	out, err := p.Render(ctx)
	if err != nil {
		s.viewError(w, r, err)
		return
	}
	data := showData{Title: p.Name(), Page: p, HTML: template.HTML(out)} //nolint:gosec // G203: sanitized by the markup renderer
	if !p.IsNew() {
		names, err := p.Backlinks(ctx)
		if err != nil {
			// Backlink errors do not fail the view.
			slog.WarnContext(ctx, "Failed to compute backlinks", "page", p.Name(), "err", err)
		}
		for _, n := range names {
			data.Backlinks = append(data.Backlinks, link{Name: n, URL: s.store.PageURL(n)})
		}
	}
	s.execute(w, r, s.views.show, http.StatusOK, data)
}

func (s *Server) showEdit(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.FindOrCreate(r.Context(), r.PathValue("name"), "")
	if err != nil {
		s.viewError(w, r, err)
		return
	}
	s.execute(w, r, s.views.edit, http.StatusOK, editData{
		Title:  "Editing " + p.Name(),
		Page:   p,
		Action: editAction(p),
		Body:   string(p.Content()),
	})
}

func (s *Server) savePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	if err := r.ParseForm(); err != nil {
		s.viewError(w, r, bodyError(err))
		return
	}
	p, err := s.store.FindOrCreate(ctx, r.PathValue("name"), "")
	if err != nil {
		s.viewError(w, r, err)
		return
	}
	body := r.PostForm.Get("body")
	message := r.PostForm.Get("message")
	author := r.PostForm.Get("author")
	ctx = wiki.WithAuthor(ctx, git.Author{Name: author})
	if err := p.Save(ctx, []byte(body), message); err != nil {
		if !errors.Is(err, wiki.ErrCommitFailed) {
			s.viewError(w, r, err)
			return
		}
		// Keep the submitted text so the user can retry.
		slog.ErrorContext(ctx, "Save failed", "page", p.Name(), "err", err)
		s.execute(w, r, s.views.edit, http.StatusInternalServerError, editData{
			Title:   "Editing " + p.Name(),
			Page:    p,
			Action:  editAction(p),
			Body:    body,
			Message: message,
			Author:  author,
			Error:   "The page could not be saved. Please try again.",
		})
		return
	}
	http.Redirect(w, r, p.URL(), http.StatusSeeOther)
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := s.store.FindOrCreate(ctx, r.PathValue("name"), "")
	if err != nil {
		s.viewError(w, r, err)
		return
	}
	revs, err := p.History(ctx)
	if err != nil {
		s.viewError(w, r, err)
		return
	}
	s.execute(w, r, s.views.history, http.StatusOK, historyData{Title: "History of " + p.Name(), Page: p, Revisions: revs})
}

func (s *Server) showList(w http.ResponseWriter, r *http.Request) {
	pages, err := sortedPages(r.Context(), s.store)
	if err != nil {
		s.viewError(w, r, err)
		return
	}
	s.execute(w, r, s.views.list, http.StatusOK, listData{Title: "All pages", Pages: pages})
}

// editAction is the form target; the root page is saved under its name.
func editAction(p *wiki.Page) string {
	return "/pages/" + url.PathEscape(p.Name())
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, t *template.Template, status int, data any) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		s.viewError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) viewError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	msg := apiErr.Error()
	if apiErr.StatusCode() >= 500 {
		msg = apiErr.Message()
		if id := RequestID(r.Context()); id != "" {
			msg += " (request " + id + ")"
		}
		slog.ErrorContext(r.Context(), "View error", "id", RequestID(r.Context()), "path", r.URL.Path, "err", err)
	}
	http.Error(w, msg, apiErr.StatusCode())
}
