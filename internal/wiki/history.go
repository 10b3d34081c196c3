package wiki

import (
	"context"
	"fmt"
	"time"
)

// Revision describes one commit touching a page.
type Revision struct {
	ID          string    `json:"id"`
	Author      string    `json:"author"`
	AuthorEmail string    `json:"author_email,omitempty"`
	Time        time.Time `json:"time"`
	Message     string    `json:"message"`
}

// History returns the commits touching p along head's ancestry, newest first.
// A new page has no history.
func (s *Store) History(ctx context.Context, p *Page) ([]Revision, error) {
	if p.IsNew() {
		return nil, nil
	}
	commits, err := s.repo.GetHistory(ctx, p.Path(), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get history of %s: %w", p.name, err)
	}
	out := make([]Revision, len(commits))
	for i, c := range commits {
		msg := c.Message
		if c.Body != "" {
			msg += "\n\n" + c.Body
		}
		out[i] = Revision{
			ID:          c.Hash,
			Author:      c.Author,
			AuthorEmail: c.AuthorEmail,
			Time:        c.AuthorDate,
			Message:     msg,
		}
	}
	return out, nil
}
