// Implements Repository using go-git (pure Go, no git binary dependency).

package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GoGitRepo implements Repository using go-git (pure Go).
type GoGitRepo struct {
	dir          string
	defaultName  string
	defaultEmail string
	repo         *gogit.Repository
	// mu is held for writing during commits and for reading during reads.
	mu sync.RWMutex
}

func newGoGitRepo(_ context.Context, dir string, opts Options) (*GoGitRepo, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		if !errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
		}
		if !opts.Init {
			return nil, fmt.Errorf("%w: %s", ErrRepositoryUnavailable, dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
			return nil, fmt.Errorf("failed to create repo directory: %w", err)
		}
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		// Set user.name and user.email in the repo config.
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = opts.DefaultName
		cfg.User.Email = opts.DefaultEmail
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}

	return &GoGitRepo{
		dir:          dir,
		defaultName:  opts.DefaultName,
		defaultEmail: opts.DefaultEmail,
		repo:         repo,
	}, nil
}

// Dir returns the working directory of the repository.
func (r *GoGitRepo) Dir() string {
	return r.dir
}

// Head returns the current head commit hash, "" when there is none.
func (r *GoGitRepo) Head(_ context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.headLocked()
}

func (r *GoGitRepo) headLocked() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// ReadBlob returns the content of path at rev, or at head when rev is empty.
func (r *GoGitRepo) ReadBlob(ctx context.Context, rev, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readLocked(rev, p)
}

func (r *GoGitRepo) readLocked(rev, p string) ([]byte, error) {
	tree, err := r.treeLocked(rev)
	if err != nil {
		return nil, err
	}
	f, err := tree.File(p)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) || errors.Is(err, object.ErrEntryNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("failed to get file at commit: %w", err)
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

// treeLocked returns the tree of rev. An unborn head yields ErrNotFound since
// no path can exist in it.
func (r *GoGitRepo) treeLocked(rev string) (*object.Tree, error) {
	var h plumbing.Hash
	if rev == "" || rev == "HEAD" {
		ref, err := r.repo.Head()
		if err != nil {
			if errors.Is(err, plumbing.ErrReferenceNotFound) {
				return nil, fmt.Errorf("%w: repository has no commits", ErrNotFound)
			}
			return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		h = ref.Hash()
	} else {
		resolved, err := r.repo.ResolveRevision(plumbing.Revision(rev))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadRevision, rev)
		}
		h = *resolved
	}
	c, err := r.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadRevision, rev)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of %s: %w", h, err)
	}
	return tree, nil
}

// ListBlobs returns the top-level files at head ending with ext.
func (r *GoGitRepo) ListBlobs(ctx context.Context, ext string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tree, err := r.treeLocked("")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range tree.Entries {
		if !e.Mode.IsFile() || !strings.HasSuffix(e.Name, ext) {
			continue
		}
		out = append(out, e.Name)
	}
	return out, nil
}

// CommitFile writes, stages and commits path as one transaction.
func (r *GoGitRepo) CommitFile(ctx context.Context, author Author, path string, data []byte, msg string) (string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	return r.CommitTx(ctx, author, func() (string, []string, error) {
		return writeFile(r.dir, p, data, msg, func(p string) ([]byte, error) { return r.readLocked("", p) })
	})
}

// CommitTx executes fn while holding a lock and commits the returned files atomically.
func (r *GoGitRepo) CommitTx(ctx context.Context, author Author, fn func() (msg string, files []string, err error)) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, files, err := fn()
	clean := make([]string, 0, len(files))
	for _, f := range files {
		p, cerr := cleanPath(f)
		if cerr != nil {
			return "", cerr
		}
		clean = append(clean, p)
	}
	if err != nil {
		r.rollbackLocked(ctx, clean)
		return "", fmt.Errorf("%w: %w", ErrCommit, err)
	}
	if len(clean) == 0 {
		return r.headLocked()
	}
	hash, err := r.commitLocked(author, msg, clean)
	if err != nil {
		r.rollbackLocked(ctx, clean)
		return "", fmt.Errorf("%w: %w", ErrCommit, err)
	}
	if hash == "" {
		return r.headLocked()
	}
	return hash, nil
}

// rollbackLocked restores the working copy and index entries of files to head.
func (r *GoGitRepo) rollbackLocked(ctx context.Context, files []string) {
	if len(files) == 0 {
		return
	}
	w, err := r.repo.Worktree()
	if err != nil {
		slog.WarnContext(ctx, "Failed to open worktree for rollback", "err", err)
		return
	}
	for _, p := range files {
		full := filepath.Join(r.dir, filepath.FromSlash(p))
		prev, err := r.readLocked("", p)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				slog.WarnContext(ctx, "Failed to read head during rollback", "path", p, "err", err)
				continue
			}
			r.unstageLocked(ctx, p)
			if err := restoreFile(full, nil); err != nil {
				slog.WarnContext(ctx, "Failed to remove file during rollback", "path", p, "err", err)
			}
			continue
		}
		if prev == nil {
			prev = []byte{}
		}
		if err := restoreFile(full, prev); err != nil {
			slog.WarnContext(ctx, "Failed to restore file during rollback", "path", p, "err", err)
			continue
		}
		if _, err := w.Add(p); err != nil {
			slog.WarnContext(ctx, "Failed to restage file during rollback", "path", p, "err", err)
		}
	}
}

// unstageLocked drops the index entry of p. The working copy is not touched.
func (r *GoGitRepo) unstageLocked(ctx context.Context, p string) {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		slog.WarnContext(ctx, "Failed to read index during rollback", "path", p, "err", err)
		return
	}
	if _, err := idx.Remove(p); err != nil {
		return
	}
	if err := r.repo.Storer.SetIndex(idx); err != nil {
		slog.WarnContext(ctx, "Failed to write index during rollback", "path", p, "err", err)
	}
}

// commitLocked stages files and commits them. Returns "" when the staged
// files match head, in which case no commit is made.
func (r *GoGitRepo) commitLocked(author Author, msg string, files []string) (string, error) {
	w, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	// Stage specified files.
	for _, f := range files {
		if _, err := w.Add(f); err != nil {
			return "", fmt.Errorf("failed to stage files: %w", err)
		}
	}

	changed, err := r.stagedChangesLocked(files)
	if err != nil {
		return "", err
	}
	if !changed {
		return "", nil
	}

	a := author.withDefaults(r.defaultName, r.defaultEmail)
	now := time.Now()
	h, err := w.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  a.Name,
			Email: a.Email,
			When:  now,
		},
		Committer: &object.Signature{
			Name:  r.defaultName,
			Email: r.defaultEmail,
			When:  now,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return h.String(), nil
}

// stagedChangesLocked reports whether the index entry of any of files differs
// from head. Unlike Worktree.Status it ignores unrelated untracked files.
func (r *GoGitRepo) stagedChangesLocked(files []string) (bool, error) {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return false, fmt.Errorf("failed to read index: %w", err)
	}
	tree, err := r.treeLocked("")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	for _, f := range files {
		var headHash plumbing.Hash
		inHead := false
		if tree != nil {
			if e, err := tree.FindEntry(f); err == nil {
				headHash, inHead = e.Hash, true
			}
		}
		e, err := idx.Entry(f)
		switch {
		case errors.Is(err, index.ErrEntryNotFound):
			if inHead {
				return true, nil
			}
		case err != nil:
			return false, fmt.Errorf("failed to read index entry: %w", err)
		case !inHead || e.Hash != headHash:
			return true, nil
		}
	}
	return false, nil
}

// GetHistory returns commit history for a specific path, limited to n commits.
func (r *GoGitRepo) GetHistory(ctx context.Context, path string, n int) ([]*Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n = limitHistory(n)
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, err := r.repo.Head()
	if err != nil {
		return nil, nil //nolint:nilerr // no commits yet is not an error
	}
	opts := &gogit.LogOptions{From: ref.Hash()}
	if path != "" && path != "." {
		p, err := cleanPath(path)
		if err != nil {
			return nil, err
		}
		opts.FileName = &p
	}

	iter, err := r.repo.Log(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var commits []*Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		// Split message into subject and body.
		subject, body, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, &Commit{
			Hash:           c.Hash.String(),
			Message:        subject,
			Body:           strings.TrimSpace(body),
			Author:         c.Author.Name,
			AuthorEmail:    c.Author.Email,
			AuthorDate:     c.Author.When,
			Committer:      c.Committer.Name,
			CommitterEmail: c.Committer.Email,
			CommitDate:     c.Committer.When,
		})
	}
	return commits, nil
}
