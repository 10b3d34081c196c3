// Defines the Repository interface, Open, and shared types for git operations.

// Package git is the content repository adapter: it reads blobs from the
// committed tree of a git repository and writes files as atomic commits.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrRepositoryUnavailable is returned by Open when the directory is not a git repository.
	ErrRepositoryUnavailable = errors.New("git repository unavailable")
	// ErrNotFound is returned when a path does not exist in the requested tree.
	ErrNotFound = errors.New("blob not found")
	// ErrBadRevision is returned when a revision does not resolve to a commit.
	ErrBadRevision = errors.New("revision does not resolve to a commit")
	// ErrCommit wraps any failure of the write, stage, commit sequence.
	ErrCommit = errors.New("commit failed")
	// ErrInvalidPath is returned for paths escaping the repository root.
	ErrInvalidPath = errors.New("invalid path")
)

// Repository is the interface for git operations on a single repository.
//
// Reads always go through committed objects, never the working copy, so a
// commit in progress is never observed half written.
type Repository interface {
	// Dir returns the working directory of the repository.
	Dir() string
	// Head returns the hash of the current head commit, or "" when the
	// repository has no commits yet.
	Head(ctx context.Context) (string, error)
	// ReadBlob returns the content of path at rev. An empty rev means head.
	// Returns ErrNotFound or ErrBadRevision.
	ReadBlob(ctx context.Context, rev, path string) ([]byte, error)
	// ListBlobs returns the top-level file paths at head whose name ends with
	// ext, in tree order.
	ListBlobs(ctx context.Context, ext string) ([]string, error)
	// CommitFile writes data to path in the working copy, stages it and
	// commits it in one CommitTx. Returns the resulting head hash. When data
	// matches what head already has, no commit is made.
	CommitFile(ctx context.Context, author Author, path string, data []byte, msg string) (string, error)
	// CommitTx executes fn while holding the commit lock and commits the
	// files it returns. Returns the head hash after the transaction. If fn
	// returns no files, no commit is made. If fn or the commit fails, the
	// returned files are restored to their head content in the working copy
	// and the index, and the error wraps ErrCommit.
	CommitTx(ctx context.Context, author Author, fn func() (msg string, files []string, err error)) (string, error)
	// GetHistory returns commit history for a specific path, newest first,
	// limited to n commits. n is capped at 1000. If n <= 0, defaults to 1000.
	GetHistory(ctx context.Context, path string, n int) ([]*Commit, error)
}

// Backend selects which git implementation to use.
type Backend int

const (
	// BackendGoGit uses go-git (pure Go, no git binary needed). Default.
	BackendGoGit Backend = iota
	// BackendExec uses the git CLI via os/exec.
	BackendExec
)

// ParseBackend converts a configuration string into a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(s) {
	case "", "gogit", "go-git":
		return BackendGoGit, nil
	case "exec", "git":
		return BackendExec, nil
	default:
		return 0, fmt.Errorf("unknown git backend %q", s)
	}
}

func (b Backend) String() string {
	if b == BackendExec {
		return "exec"
	}
	return "gogit"
}

// Options configures Open.
type Options struct {
	// Dir is the repository working directory.
	Dir string
	// Init creates the repository when Dir is not one yet.
	Init bool
	// Backend selects the implementation.
	Backend Backend
	// DefaultName and DefaultEmail are used as committer, and as author
	// when the caller supplies none.
	DefaultName  string
	DefaultEmail string
}

// Open opens the repository described by opts.
//
// It returns an error wrapping ErrRepositoryUnavailable when opts.Dir is not a
// git repository and opts.Init is false.
func Open(ctx context.Context, opts Options) (Repository, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: no directory configured", ErrRepositoryUnavailable)
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository path: %w", err)
	}
	if opts.DefaultName == "" {
		opts.DefaultName = "gitwiki"
	}
	if opts.DefaultEmail == "" {
		opts.DefaultEmail = "gitwiki@localhost"
	}
	if !opts.Init {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
			return nil, fmt.Errorf("%w: %s is not a git working tree", ErrRepositoryUnavailable, dir)
		}
	}
	switch opts.Backend {
	case BackendExec:
		return newExecRepo(ctx, dir, opts)
	default:
		return newGoGitRepo(ctx, dir, opts)
	}
}

// Author identifies who made a change for git commits.
type Author struct {
	Name  string
	Email string
}

// Commit represents a commit in git history.
type Commit struct {
	Hash           string    `json:"hash"`
	Message        string    `json:"message"` // Subject line.
	Body           string    `json:"body"`    // Commit body (may be empty).
	Author         string    `json:"author"`
	AuthorEmail    string    `json:"author_email"`
	AuthorDate     time.Time `json:"author_date"`
	Committer      string    `json:"committer"`
	CommitterEmail string    `json:"committer_email"`
	CommitDate     time.Time `json:"commit_date"`
}

// cleanPath validates a repository-relative path and returns it in slash form.
func cleanPath(p string) (string, error) {
	if p == "" || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	c := filepath.ToSlash(filepath.Clean(p))
	if c == "." || strings.HasPrefix(c, "../") || c == ".." || strings.HasPrefix(c, "/") || c == ".git" || strings.HasPrefix(c, ".git/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return c, nil
}

// withDefaults fills empty author fields.
func (a Author) withDefaults(name, email string) Author {
	if a.Name == "" {
		a.Name = name
	}
	if a.Email == "" {
		a.Email = email
	}
	return a
}

// limitHistory normalizes the history length cap.
func limitHistory(n int) int {
	if n <= 0 || n > 1000 {
		return 1000
	}
	return n
}

// writeFile is the CommitTx body of CommitFile. It writes data to p in the
// working copy unless head already has it. head reads p at head under the
// commit lock. p is returned with a write error so the caller restores it.
func writeFile(dir, p string, data []byte, msg string, head func(p string) ([]byte, error)) (string, []string, error) {
	prev, err := head(p)
	if err == nil && bytes.Equal(prev, data) {
		return msg, nil, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", nil, err
	}
	full := filepath.Join(dir, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return "", nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil { //nolint:gosec // G306: 0o644 is intentional for user data files
		return "", []string{p}, fmt.Errorf("failed to write %s: %w", p, err)
	}
	return msg, []string{p}, nil
}

// restoreFile puts the working copy back to the committed state after a
// failed commit. prev is nil when the file did not exist at head; only a
// regular file is removed then.
func restoreFile(full string, prev []byte) error {
	if prev == nil {
		fi, err := os.Lstat(full)
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return os.WriteFile(full, prev, 0o644) //nolint:gosec // G306: 0o644 is intentional for user data files
}
