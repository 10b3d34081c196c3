package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
)

// backends returns the backends available in this environment.
func backends(t *testing.T) []Backend {
	t.Helper()
	out := []Backend{BackendGoGit}
	if _, err := exec.LookPath("git"); err == nil {
		out = append(out, BackendExec)
	}
	return out
}

func openTestRepo(t *testing.T, b Backend) (Repository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := Open(t.Context(), Options{
		Dir:          dir,
		Init:         true,
		Backend:      b,
		DefaultName:  "Test User",
		DefaultEmail: "test@example.com",
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return repo, dir
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("Unavailable", func(t *testing.T) {
		t.Parallel()
		for _, b := range backends(t) {
			_, err := Open(t.Context(), Options{Dir: t.TempDir(), Backend: b})
			if !errors.Is(err, ErrRepositoryUnavailable) {
				t.Errorf("%s: expected ErrRepositoryUnavailable, got %v", b, err)
			}
		}
	})

	t.Run("EmptyDir", func(t *testing.T) {
		t.Parallel()
		if _, err := Open(t.Context(), Options{}); !errors.Is(err, ErrRepositoryUnavailable) {
			t.Errorf("expected ErrRepositoryUnavailable, got %v", err)
		}
	})

	t.Run("Init", func(t *testing.T) {
		t.Parallel()
		for _, b := range backends(t) {
			_, dir := openTestRepo(t, b)
			if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
				t.Errorf("%s: .git directory not created", b)
			}
		}
	})

	t.Run("Reopen", func(t *testing.T) {
		t.Parallel()
		for _, b := range backends(t) {
			repo, dir := openTestRepo(t, b)
			if _, err := repo.CommitFile(t.Context(), Author{}, "a.txt", []byte("a"), "first"); err != nil {
				t.Fatal(err)
			}
			again, err := Open(t.Context(), Options{Dir: dir, Backend: b})
			if err != nil {
				t.Fatalf("%s: reopen failed: %v", b, err)
			}
			got, err := again.ReadBlob(t.Context(), "", "a.txt")
			if err != nil || string(got) != "a" {
				t.Errorf("%s: ReadBlob after reopen = %q, %v", b, got, err)
			}
		}
	})
}

func TestParseBackend(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendGoGit, false},
		{"gogit", BackendGoGit, false},
		{"exec", BackendExec, false},
		{"GIT", BackendExec, false},
		{"svn", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBackend(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseBackend(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRepo(t *testing.T) {
	t.Parallel()
	for _, b := range backends(t) {
		t.Run(b.String(), func(t *testing.T) {
			t.Parallel()
			testRepo(t, b)
		})
	}
}

func testRepo(t *testing.T, b Backend) {
	t.Run("EmptyRepository", func(t *testing.T) {
		t.Parallel()
		repo, _ := openTestRepo(t, b)
		ctx := t.Context()
		if h, err := repo.Head(ctx); err != nil || h != "" {
			t.Errorf("Head() = %q, %v; want empty", h, err)
		}
		if _, err := repo.ReadBlob(ctx, "", "missing.md"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ReadBlob() error = %v, want ErrNotFound", err)
		}
		paths, err := repo.ListBlobs(ctx, ".md")
		if err != nil || len(paths) != 0 {
			t.Errorf("ListBlobs() = %v, %v; want empty", paths, err)
		}
		history, err := repo.GetHistory(ctx, "missing.md", 10)
		if err != nil || len(history) != 0 {
			t.Errorf("GetHistory() = %v, %v; want empty", history, err)
		}
	})

	t.Run("CommitFile", func(t *testing.T) {
		t.Parallel()
		repo, dir := openTestRepo(t, b)
		ctx := t.Context()

		author := Author{Name: "Author", Email: "author@example.com"}
		hash, err := repo.CommitFile(ctx, author, "Home.md", []byte("hello world"), "Initial commit")
		if err != nil {
			t.Fatalf("CommitFile() failed: %v", err)
		}
		if hash == "" {
			t.Fatal("CommitFile() returned empty hash")
		}
		head, err := repo.Head(ctx)
		if err != nil || head != hash {
			t.Errorf("Head() = %q, %v; want %q", head, err, hash)
		}
		data, err := os.ReadFile(filepath.Join(dir, "Home.md"))
		if err != nil || string(data) != "hello world" {
			t.Errorf("working copy = %q, %v", data, err)
		}
		got, err := repo.ReadBlob(ctx, "", "Home.md")
		if err != nil {
			t.Fatalf("ReadBlob() failed: %v", err)
		}
		if string(got) != "hello world" {
			t.Errorf("ReadBlob() = %q, want %q", got, "hello world")
		}

		history, err := repo.GetHistory(ctx, "Home.md", 1)
		if err != nil {
			t.Fatalf("GetHistory() failed: %v", err)
		}
		if len(history) != 1 {
			t.Fatalf("expected 1 commit, got %d", len(history))
		}
		if history[0].Message != "Initial commit" {
			t.Errorf("expected message 'Initial commit', got '%s'", history[0].Message)
		}
		if history[0].Author != "Author" {
			t.Errorf("expected author 'Author', got '%s'", history[0].Author)
		}
		if history[0].Committer != "Test User" {
			t.Errorf("expected committer 'Test User', got '%s'", history[0].Committer)
		}
		if history[0].Hash != hash {
			t.Errorf("history hash = %s, want %s", history[0].Hash, hash)
		}
	})

	t.Run("CommitFileUnchanged", func(t *testing.T) {
		t.Parallel()
		repo, _ := openTestRepo(t, b)
		ctx := t.Context()

		first, err := repo.CommitFile(ctx, Author{}, "a.md", []byte("same"), "one")
		if err != nil {
			t.Fatal(err)
		}
		second, err := repo.CommitFile(ctx, Author{}, "a.md", []byte("same"), "two")
		if err != nil {
			t.Fatal(err)
		}
		if first != second {
			t.Errorf("unchanged commit moved head from %s to %s", first, second)
		}
		history, err := repo.GetHistory(ctx, "a.md", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(history) != 1 {
			t.Errorf("expected 1 commit, got %d", len(history))
		}
	})

	t.Run("DefaultAuthor", func(t *testing.T) {
		t.Parallel()
		repo, _ := openTestRepo(t, b)
		ctx := t.Context()
		if _, err := repo.CommitFile(ctx, Author{}, "a.md", []byte("x"), "msg"); err != nil {
			t.Fatal(err)
		}
		history, err := repo.GetHistory(ctx, "a.md", 1)
		if err != nil || len(history) != 1 {
			t.Fatalf("GetHistory() = %v, %v", history, err)
		}
		if history[0].Author != "Test User" || history[0].AuthorEmail != "test@example.com" {
			t.Errorf("author = %s <%s>", history[0].Author, history[0].AuthorEmail)
		}
	})

	t.Run("GetHistory", func(t *testing.T) {
		t.Parallel()
		repo, _ := openTestRepo(t, b)
		ctx := t.Context()

		for i, content := range []string{"v1", "v2"} {
			msg := "Commit " + string(rune('1'+i))
			if _, err := repo.CommitFile(ctx, Author{}, "test.md", []byte(content), msg); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := repo.CommitFile(ctx, Author{}, "other.md", []byte("x"), "Other"); err != nil {
			t.Fatal(err)
		}

		history, err := repo.GetHistory(ctx, "test.md", 10)
		if err != nil {
			t.Fatalf("GetHistory() failed: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("expected 2 commits, got %d", len(history))
		}
		if history[0].Message != "Commit 2" {
			t.Errorf("expected first commit to be 'Commit 2', got '%s'", history[0].Message)
		}
		if history[1].Message != "Commit 1" {
			t.Errorf("expected second commit to be 'Commit 1', got '%s'", history[1].Message)
		}

		all, err := repo.GetHistory(ctx, "", 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 2 || all[0].Message != "Other" {
			t.Errorf("GetHistory(all, 2) = %d commits, first %q", len(all), all[0].Message)
		}
	})

	t.Run("ReadBlobAtRevision", func(t *testing.T) {
		t.Parallel()
		repo, _ := openTestRepo(t, b)
		ctx := t.Context()

		v1, err := repo.CommitFile(ctx, Author{}, "test.md", []byte("content v1"), "Commit 1")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := repo.CommitFile(ctx, Author{}, "test.md", []byte("content v2"), "Commit 2"); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.CommitFile(ctx, Author{}, "later.md", []byte("later"), "Commit 3"); err != nil {
			t.Fatal(err)
		}

		content, err := repo.ReadBlob(ctx, v1, "test.md")
		if err != nil {
			t.Fatalf("ReadBlob(v1) failed: %v", err)
		}
		if string(content) != "content v1" {
			t.Errorf("expected 'content v1', got '%s'", string(content))
		}
		content, err = repo.ReadBlob(ctx, "", "test.md")
		if err != nil || string(content) != "content v2" {
			t.Errorf("ReadBlob(head) = %q, %v", content, err)
		}
		if _, err := repo.ReadBlob(ctx, v1, "later.md"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ReadBlob(v1, later.md) error = %v, want ErrNotFound", err)
		}
		if _, err := repo.ReadBlob(ctx, "0123456789abcdef0123456789abcdef01234567", "test.md"); !errors.Is(err, ErrBadRevision) {
			t.Errorf("unknown hash error = %v, want ErrBadRevision", err)
		}
		if _, err := repo.ReadBlob(ctx, "not-a-revision", "test.md"); !errors.Is(err, ErrBadRevision) {
			t.Errorf("garbage revision error = %v, want ErrBadRevision", err)
		}
	})

	t.Run("ListBlobs", func(t *testing.T) {
		t.Parallel()
		repo, dir := openTestRepo(t, b)
		ctx := t.Context()

		for _, name := range []string{"b.md", "a.md", "notes.txt"} {
			if _, err := repo.CommitFile(ctx, Author{}, name, []byte(name), "add "+name); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := repo.CommitFile(ctx, Author{}, "sub/c.md", []byte("c"), "nested"); err != nil {
			t.Fatal(err)
		}
		// Uncommitted files are not part of head.
		if err := os.WriteFile(filepath.Join(dir, "draft.md"), []byte("draft"), 0o600); err != nil {
			t.Fatal(err)
		}

		got, err := repo.ListBlobs(ctx, ".md")
		if err != nil {
			t.Fatalf("ListBlobs() failed: %v", err)
		}
		want := []string{"a.md", "b.md"}
		if !slices.Equal(got, want) {
			t.Errorf("ListBlobs() = %v, want %v", got, want)
		}
	})

	t.Run("InvalidPath", func(t *testing.T) {
		t.Parallel()
		repo, _ := openTestRepo(t, b)
		ctx := t.Context()
		for _, p := range []string{"", "../escape.md", ".git/config", "/abs.md"} {
			if _, err := repo.CommitFile(ctx, Author{}, p, []byte("x"), "bad"); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("CommitFile(%q) error = %v, want ErrInvalidPath", p, err)
			}
			if _, err := repo.ReadBlob(ctx, "", p); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("ReadBlob(%q) error = %v, want ErrInvalidPath", p, err)
			}
		}
	})

	t.Run("CommitTx", func(t *testing.T) {
		t.Parallel()
		repo, dir := openTestRepo(t, b)
		ctx := t.Context()

		if err := os.WriteFile(filepath.Join(dir, "tx.md"), []byte("tx"), 0o600); err != nil {
			t.Fatal(err)
		}
		hash, err := repo.CommitTx(ctx, Author{Name: "Tx"}, func() (string, []string, error) {
			return "transaction", []string{"tx.md"}, nil
		})
		if err != nil {
			t.Fatalf("CommitTx() failed: %v", err)
		}
		if head, _ := repo.Head(ctx); head != hash || hash == "" {
			t.Errorf("CommitTx() = %q, Head() = %q", hash, head)
		}
		got, err := repo.ReadBlob(ctx, "", "tx.md")
		if err != nil || string(got) != "tx" {
			t.Errorf("ReadBlob() = %q, %v", got, err)
		}

		wantErr := errors.New("boom")
		if _, err := repo.CommitTx(ctx, Author{}, func() (string, []string, error) {
			return "", nil, wantErr
		}); !errors.Is(err, wantErr) || !errors.Is(err, ErrCommit) {
			t.Errorf("CommitTx() error = %v, want %v", err, wantErr)
		}

		if got, err := repo.CommitTx(ctx, Author{}, func() (string, []string, error) {
			return "nothing", nil, nil
		}); err != nil || got != hash {
			t.Errorf("CommitTx(no files) = %q, %v; want %q", got, err, hash)
		}

		// A failing transaction restores what it touched.
		if err := os.WriteFile(filepath.Join(dir, "tx.md"), []byte("dirty"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "new.md"), []byte("new"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.CommitTx(ctx, Author{}, func() (string, []string, error) {
			return "", []string{"tx.md", "new.md"}, wantErr
		}); !errors.Is(err, ErrCommit) {
			t.Errorf("CommitTx() error = %v, want ErrCommit", err)
		}
		if data, err := os.ReadFile(filepath.Join(dir, "tx.md")); err != nil || string(data) != "tx" {
			t.Errorf("tx.md after rollback = %q, %v", data, err)
		}
		if _, err := os.Stat(filepath.Join(dir, "new.md")); !os.IsNotExist(err) {
			t.Errorf("new.md after rollback: %v", err)
		}
		history, err := repo.GetHistory(ctx, "", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(history) != 1 {
			t.Errorf("expected 1 commit, got %d", len(history))
		}
	})

	t.Run("MultilineMessage", func(t *testing.T) {
		t.Parallel()
		repo, _ := openTestRepo(t, b)
		ctx := t.Context()
		if _, err := repo.CommitFile(ctx, Author{}, "m.md", []byte("m"), "Subject\n\nBody line"); err != nil {
			t.Fatal(err)
		}
		history, err := repo.GetHistory(ctx, "m.md", 1)
		if err != nil || len(history) != 1 {
			t.Fatalf("GetHistory() = %v, %v", history, err)
		}
		if history[0].Message != "Subject" {
			t.Errorf("Message = %q", history[0].Message)
		}
		if !strings.Contains(history[0].Body, "Body line") {
			t.Errorf("Body = %q", history[0].Body)
		}
	})

	t.Run("CommitFailure", func(t *testing.T) {
		t.Parallel()
		repo, dir := openTestRepo(t, b)
		ctx := t.Context()
		before, err := repo.CommitFile(ctx, Author{}, "keep.md", []byte("keep"), "first")
		if err != nil {
			t.Fatal(err)
		}
		// A non-empty directory where the file should go makes the write fail.
		if err := os.MkdirAll(filepath.Join(dir, "blocked.md", "sub"), 0o755); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.CommitFile(ctx, Author{}, "blocked.md", []byte("x"), "blocked"); !errors.Is(err, ErrCommit) {
			t.Fatalf("CommitFile() error = %v, want ErrCommit", err)
		}
		if _, err := repo.ReadBlob(ctx, "", "blocked.md"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ReadBlob() error = %v, want ErrNotFound", err)
		}
		if head, err := repo.Head(ctx); err != nil || head != before {
			t.Errorf("Head() = %q, %v; want %q", head, err, before)
		}
		if fi, err := os.Stat(filepath.Join(dir, "blocked.md", "sub")); err != nil || !fi.IsDir() {
			t.Errorf("directory in the way was modified: %v", err)
		}
		// The repository is still usable.
		if _, err := repo.CommitFile(ctx, Author{}, "keep.md", []byte("keep 2"), "second"); err != nil {
			t.Errorf("CommitFile() after failure: %v", err)
		}
	})

	t.Run("ConcurrentCommits", func(t *testing.T) {
		t.Parallel()
		repo, _ := openTestRepo(t, b)
		ctx := t.Context()
		const n = 8
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			wg.Go(func() {
				name := fmt.Sprintf("page%d.md", i)
				if _, err := repo.CommitFile(ctx, Author{}, name, []byte(name), "add "+name); err != nil {
					errs <- err
				}
			})
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("CommitFile() failed: %v", err)
		}
		history, err := repo.GetHistory(ctx, "", 100)
		if err != nil {
			t.Fatal(err)
		}
		if len(history) != n {
			t.Errorf("expected %d commits, got %d", n, len(history))
		}
		for i := range n {
			name := fmt.Sprintf("page%d.md", i)
			if got, err := repo.ReadBlob(ctx, "", name); err != nil || string(got) != name {
				t.Errorf("ReadBlob(%s) = %q, %v", name, got, err)
			}
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		t.Parallel()
		repo, _ := openTestRepo(t, b)
		if _, err := repo.CommitFile(t.Context(), Author{}, "a.md", []byte("a"), "a"); err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		if _, err := repo.ReadBlob(ctx, "", "a.md"); !errors.Is(err, context.Canceled) {
			t.Errorf("ReadBlob() error = %v, want context.Canceled", err)
		}
		if _, err := repo.ListBlobs(ctx, ".md"); !errors.Is(err, context.Canceled) {
			t.Errorf("ListBlobs() error = %v, want context.Canceled", err)
		}
	})

	t.Run("LiteralPath", func(t *testing.T) {
		t.Parallel()
		repo, dir := openTestRepo(t, b)
		ctx := t.Context()
		if _, err := repo.CommitFile(ctx, Author{}, "a.md", []byte("a"), "a"); err != nil {
			t.Fatal(err)
		}
		// Uncommitted edit that a glob would pick up.
		if err := os.WriteFile(filepath.Join(dir, "a.md"), []byte("edited"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.CommitFile(ctx, Author{}, "*.md", []byte("star"), "star"); err != nil {
			t.Fatal(err)
		}
		if got, err := repo.ReadBlob(ctx, "", "*.md"); err != nil || string(got) != "star" {
			t.Errorf("ReadBlob(*.md) = %q, %v", got, err)
		}
		if got, err := repo.ReadBlob(ctx, "", "a.md"); err != nil || string(got) != "a" {
			t.Errorf("ReadBlob(a.md) = %q, %v; want unchanged", got, err)
		}
		history, err := repo.GetHistory(ctx, "*.md", 10)
		if err != nil || len(history) != 1 {
			t.Errorf("GetHistory(*.md) = %d commits, %v", len(history), err)
		}
	})
}
