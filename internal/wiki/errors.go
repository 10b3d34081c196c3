package wiki

import "errors"

var (
	// ErrPageNotFound is returned by Lookup when no blob backs the name.
	// FindOrCreate never returns it; it yields a new page instead.
	ErrPageNotFound = errors.New("page not found")
	// ErrMalformedRevision is returned by Lookup when the revision does not
	// resolve to a commit.
	ErrMalformedRevision = errors.New("malformed revision")
	// ErrCommitFailed is returned by Save when the write, stage or commit failed.
	// The repository is left as it was; retrying with the same content is safe.
	ErrCommitFailed = errors.New("commit failed")
	// ErrInvalidName is returned for names that cannot map to a page file.
	ErrInvalidName = errors.New("invalid page name")
	// ErrReadOnlyRevision is returned when saving a page pinned to a revision.
	ErrReadOnlyRevision = errors.New("page is pinned to a historical revision")

	errRepoRequired   = errors.New("repository is required")
	errMarkupRequired = errors.New("markup is required")
)
