package server

import (
	"errors"
	"net/http"

	apierrors "github.com/maruel/gitwiki/internal/errors"
	"github.com/maruel/gitwiki/internal/wiki"
)

// toAPIError maps store errors to API errors. Errors that already carry a
// status are returned as is.
func toAPIError(err error) *apierrors.APIError {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var status int
	var code apierrors.ErrorCode
	switch {
	case errors.Is(err, wiki.ErrInvalidName):
		status, code = http.StatusBadRequest, apierrors.ErrInvalidName
	case errors.Is(err, wiki.ErrReadOnlyRevision):
		status, code = http.StatusBadRequest, apierrors.ErrReadOnlyRevision
	case errors.Is(err, wiki.ErrMalformedRevision):
		status, code = http.StatusBadRequest, apierrors.ErrMalformedRevision
	case errors.Is(err, wiki.ErrPageNotFound):
		status, code = http.StatusNotFound, apierrors.ErrPageNotFound
	case errors.Is(err, wiki.ErrCommitFailed):
		return apierrors.NewAPIError(http.StatusInternalServerError, apierrors.ErrCommitFailed, "Failed to save page, retry").Wrap(err)
	default:
		return apierrors.Internal(err)
	}
	return apierrors.NewAPIError(status, code, err.Error())
}
