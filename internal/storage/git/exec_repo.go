// Implements Repository using os/exec git commands.

package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ExecRepo implements Repository using os/exec git commands.
type ExecRepo struct {
	dir          string
	defaultName  string
	defaultEmail string
	mu           sync.RWMutex
}

func newExecRepo(ctx context.Context, dir string, opts Options) (*ExecRepo, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("%w: git binary not found: %w", ErrRepositoryUnavailable, err)
	}
	r := &ExecRepo{
		dir:          dir,
		defaultName:  opts.DefaultName,
		defaultEmail: opts.DefaultEmail,
	}
	if err := r.init(ctx, opts.Init); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ExecRepo) init(ctx context.Context, create bool) error {
	gitDir := filepath.Join(r.dir, ".git")
	if _, err := os.Stat(gitDir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
	}
	if !create {
		return fmt.Errorf("%w: %s", ErrRepositoryUnavailable, r.dir)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create repo directory: %w", err)
	}
	if err := r.gitRun(ctx, "init"); err != nil {
		return fmt.Errorf("failed to initialize git repo: %w", err)
	}
	if err := r.gitRun(ctx, "config", "user.email", r.defaultEmail); err != nil {
		return fmt.Errorf("failed to configure git user.email: %w", err)
	}
	if err := r.gitRun(ctx, "config", "user.name", r.defaultName); err != nil {
		return fmt.Errorf("failed to configure git user.name: %w", err)
	}
	return nil
}

// Dir returns the working directory of the repository.
func (r *ExecRepo) Dir() string {
	return r.dir
}

// Head returns the current head commit hash, "" when there is none.
func (r *ExecRepo) Head(ctx context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.headLocked(ctx)
}

// headLocked returns "" without error when HEAD is unborn.
func (r *ExecRepo) headLocked(ctx context.Context) (string, error) {
	out, err := r.gitOutput(ctx, "rev-parse", "--verify", "--quiet", "HEAD^{commit}")
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return "", cerr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// resolveLocked resolves rev to a commit hash. Empty rev means head.
func (r *ExecRepo) resolveLocked(ctx context.Context, rev string) (string, error) {
	if rev == "" || rev == "HEAD" {
		h, err := r.headLocked(ctx)
		if err != nil {
			return "", err
		}
		if h == "" {
			return "", fmt.Errorf("%w: repository has no commits", ErrNotFound)
		}
		return h, nil
	}
	if strings.HasPrefix(rev, "-") {
		return "", fmt.Errorf("%w: %q", ErrBadRevision, rev)
	}
	out, err := r.gitOutput(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return "", cerr
		}
		return "", fmt.Errorf("%w: %q", ErrBadRevision, rev)
	}
	return strings.TrimSpace(string(out)), nil
}

// ReadBlob returns the content of path at rev, or at head when rev is empty.
func (r *ExecRepo) ReadBlob(ctx context.Context, rev, path string) ([]byte, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readLocked(ctx, rev, p)
}

func (r *ExecRepo) readLocked(ctx context.Context, rev, p string) ([]byte, error) {
	h, err := r.resolveLocked(ctx, rev)
	if err != nil {
		return nil, err
	}
	obj := h + ":" + p
	out, err := r.gitOutput(ctx, "cat-file", "-t", obj)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil || strings.TrimSpace(string(out)) != "blob" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	data, err := r.gitOutput(ctx, "cat-file", "blob", obj)
	if err != nil {
		return nil, fmt.Errorf("failed to get file at commit: %w", err)
	}
	return data, nil
}

// ListBlobs returns the top-level files at head ending with ext.
func (r *ExecRepo) ListBlobs(ctx context.Context, ext string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, err := r.headLocked(ctx)
	if err != nil || h == "" {
		return nil, err
	}
	out, err := r.gitOutput(ctx, "ls-tree", "-z", h)
	if err != nil {
		return nil, fmt.Errorf("failed to list tree: %w", err)
	}
	var paths []string
	// Each record is "<mode> SP <type> SP <object> TAB <file>".
	for record := range bytes.SplitSeq(out, []byte{0}) {
		meta, name, ok := bytes.Cut(record, []byte{'\t'})
		if !ok {
			continue
		}
		fields := strings.Fields(string(meta))
		if len(fields) < 3 || fields[1] != "blob" {
			continue
		}
		if n := string(name); strings.HasSuffix(n, ext) {
			paths = append(paths, n)
		}
	}
	return paths, nil
}

// CommitFile writes, stages and commits path as one transaction.
func (r *ExecRepo) CommitFile(ctx context.Context, author Author, path string, data []byte, msg string) (string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	return r.CommitTx(ctx, author, func() (string, []string, error) {
		return writeFile(r.dir, p, data, msg, func(p string) ([]byte, error) { return r.readLocked(ctx, "", p) })
	})
}

// CommitTx executes fn while holding a lock and commits the returned files atomically.
// If fn returns no files, no commit is made.
//
// Once fn returned, git commands run detached from ctx cancellation so that
// a client disconnecting does not leave a half staged commit behind.
func (r *ExecRepo) CommitTx(ctx context.Context, author Author, fn func() (msg string, files []string, err error)) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, files, err := fn()
	ctx = context.WithoutCancel(ctx)
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
	if len(clean) > 0 {
		if err := r.commit(ctx, author, msg, clean); err != nil {
			r.rollbackLocked(ctx, clean)
			return "", fmt.Errorf("%w: %w", ErrCommit, err)
		}
	}
	return r.headLocked(ctx)
}

// rollbackLocked restores the working copy and index entries of files to head.
func (r *ExecRepo) rollbackLocked(ctx context.Context, files []string) {
	for _, p := range files {
		full := filepath.Join(r.dir, filepath.FromSlash(p))
		prev, err := r.readLocked(ctx, "", p)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				slog.WarnContext(ctx, "Failed to read head during rollback", "path", p, "err", err)
				continue
			}
			if out, err := r.gitCombinedOutput(ctx, "rm", "--cached", "--quiet", "--ignore-unmatch", "--", p); err != nil {
				slog.WarnContext(ctx, "Failed to unstage file during rollback", "path", p, "err", err, "output", string(out))
			}
			if err := restoreFile(full, nil); err != nil {
				slog.WarnContext(ctx, "Failed to remove file during rollback", "path", p, "err", err)
			}
			continue
		}
		if out, err := r.gitCombinedOutput(ctx, "reset", "--quiet", "--", p); err != nil {
			slog.WarnContext(ctx, "Failed to reset index during rollback", "path", p, "err", err, "output", string(out))
		}
		if prev == nil {
			prev = []byte{}
		}
		if err := restoreFile(full, prev); err != nil {
			slog.WarnContext(ctx, "Failed to restore file during rollback", "path", p, "err", err)
		}
	}
}

func (r *ExecRepo) commit(ctx context.Context, author Author, message string, files []string) error {
	// Stage specified files
	args := append([]string{"add", "-A", "--"}, files...)
	if out, err := r.gitCombinedOutput(ctx, args...); err != nil {
		return fmt.Errorf("failed to stage files: %w\nOutput: %s", err, string(out))
	}

	// Check if there are staged changes for these files; exit code 1 means yes.
	diffArgs := append([]string{"diff", "--cached", "--quiet", "--"}, files...)
	if err := r.gitRun(ctx, diffArgs...); err == nil {
		return nil
	}

	a := author.withDefaults(r.defaultName, r.defaultEmail)
	authorStr := fmt.Sprintf("%s <%s>", a.Name, a.Email)
	commitArgs := append([]string{"commit", "--quiet", "--no-verify", "-m", message, "--author", authorStr, "--"}, files...)
	if out, err := r.gitCombinedOutput(ctx, commitArgs...); err != nil {
		return fmt.Errorf("failed to commit: %w\nOutput: %s", err, string(out))
	}
	return nil
}

// GetHistory returns commit history for a specific path, limited to n commits.
// n is capped at 1000. If n <= 0, defaults to 1000.
func (r *ExecRepo) GetHistory(ctx context.Context, path string, n int) ([]*Commit, error) {
	n = limitHistory(n)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, err := r.headLocked(ctx); err != nil || h == "" {
		return nil, err
	}

	// Use record separator (%x1e) between commits since body can contain newlines
	format := "%H%x00%an%x00%ae%x00%ai%x00%cn%x00%ce%x00%ci%x00%s%x00%b%x1e"
	args := []string{"log", "--pretty=format:" + format, fmt.Sprintf("-n%d", n), "HEAD", "--"}
	if path != "" && path != "." {
		p, err := cleanPath(path)
		if err != nil {
			return nil, err
		}
		args = append(args, p)
	}
	out, err := r.gitOutput(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	var commits []*Commit
	for record := range strings.SplitSeq(string(out), "\x1e") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}

		parts := strings.Split(record, "\x00")
		if len(parts) < 9 {
			continue
		}

		authorDate, _ := time.Parse("2006-01-02 15:04:05 -0700", parts[3])
		commitDate, _ := time.Parse("2006-01-02 15:04:05 -0700", parts[6])

		commits = append(commits, &Commit{
			Hash:           parts[0],
			Author:         parts[1],
			AuthorEmail:    parts[2],
			AuthorDate:     authorDate,
			Committer:      parts[4],
			CommitterEmail: parts[5],
			CommitDate:     commitDate,
			Message:        parts[7],
			Body:           strings.TrimSpace(parts[8]),
		})
	}

	return commits, nil
}

// gitCmd creates an exec.Cmd for git with standard environment settings.
// Pathspecs are literal: page names such as "*" or ":(exclude)x" are file
// names, not patterns.
func (r *ExecRepo) gitCmd(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // G204: arguments are constructed internally
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(),
		"GIT_CONFIG_GLOBAL=/dev/null",
		"GIT_CONFIG_SYSTEM=/dev/null",
		"GIT_LITERAL_PATHSPECS=1",
		"GIT_COMMITTER_NAME="+r.defaultName,
		"GIT_COMMITTER_EMAIL="+r.defaultEmail,
	)
	return cmd
}

// gitRun executes a git command that mutates the repository, using a
// detached context with timeout.
//
// The command is NOT tied to the HTTP request's cancellation, allowing git
// operations to complete even if the client disconnects.
func (r *ExecRepo) gitRun(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	return r.gitCmd(ctx, args...).Run()
}

// gitOutput executes a read-only git command and returns its stdout. It is
// killed when ctx is canceled.
func (r *ExecRepo) gitOutput(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	return r.gitCmd(ctx, args...).Output()
}

// gitCombinedOutput executes a mutating git command and returns combined
// stdout/stderr. Like gitRun it is detached from ctx cancellation.
func (r *ExecRepo) gitCombinedOutput(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	return r.gitCmd(ctx, args...).CombinedOutput()
}
