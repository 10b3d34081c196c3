// In-memory link index for backlink queries.

package wiki

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// linkIndex maps page names to the pages they link to, and back.
//
// It is built on first use by scanning every page at head, then kept current
// by saves through the store. reset discards it so the next query rebuilds
// from the repository. gen counts updates and resets; a scan that observed a
// change of gen is stale and is redone.
type linkIndex struct {
	mu       sync.RWMutex
	built    bool
	gen      uint64
	forward  map[string][]string // source → targets
	backward map[string][]string // target → sources
}

func (c *linkIndex) ensureBuilt(ctx context.Context, s *Store) error {
	for {
		c.mu.RLock()
		built, gen := c.built, c.gen
		c.mu.RUnlock()
		if built {
			return nil
		}

		// Scan outside the lock; FindAll can be slow on large wikis.
		pages, err := s.FindAll(ctx)
		if err != nil {
			return err
		}
		forward := make(map[string][]string, len(pages))
		backward := map[string][]string{}
		for _, p := range pages {
			targets := s.linkTargets(p.content)
			if len(targets) == 0 {
				continue
			}
			forward[p.name] = targets
			for _, t := range targets {
				backward[t] = append(backward[t], p.name)
			}
		}

		c.mu.Lock()
		switch {
		case c.built:
		case c.gen != gen:
			c.mu.Unlock()
			slog.DebugContext(ctx, "Link index changed during scan, rescanning")
			continue
		default:
			c.forward = forward
			c.backward = backward
			c.built = true
		}
		c.mu.Unlock()
		return nil
	}
}

// update records the current targets of source. Before the index is built
// it only invalidates a scan in progress.
func (c *linkIndex) update(source string, targets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if !c.built {
		return
	}
	for _, old := range c.forward[source] {
		c.removeBackwardLocked(old, source)
	}
	if len(targets) == 0 {
		delete(c.forward, source)
	} else {
		c.forward[source] = targets
	}
	for _, t := range targets {
		c.backward[t] = append(c.backward[t], source)
	}
}

func (c *linkIndex) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.built = false
	c.forward = nil
	c.backward = nil
}

func (c *linkIndex) backlinks(target string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := slices.Clone(c.backward[target])
	slices.Sort(out)
	return out
}

// removeBackwardLocked removes source from the backward entry of target.
// Caller must hold mu for writing.
func (c *linkIndex) removeBackwardLocked(target, source string) {
	srcs := c.backward[target]
	if i := slices.Index(srcs, source); i >= 0 {
		srcs = slices.Delete(srcs, i, i+1)
		if len(srcs) == 0 {
			delete(c.backward, target)
		} else {
			c.backward[target] = srcs
		}
	}
}

// Backlinks returns the sorted names of pages at head linking to name.
func (s *Store) Backlinks(ctx context.Context, name string) ([]string, error) {
	if err := s.links.ensureBuilt(ctx, s); err != nil {
		return nil, err
	}
	return s.links.backlinks(name), nil
}
