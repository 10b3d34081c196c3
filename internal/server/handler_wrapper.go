// Provides the generic JSON handler wrapper.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	apierrors "github.com/maruel/gitwiki/internal/errors"
)

// validatable is implemented by every request type.
type validatable interface {
	Validate() error
}

// Wrap turns fn into an http.Handler.
//
// The request body, if any, is decoded as JSON into a new In. Fields tagged
// `path:"name"` and `query:"name"` are then filled from the URL. The decoded
// request is validated before fn is called; the response is encoded as JSON.
//
// Example:
//
//	type GetPageRequest struct {
//	    Name string `path:"name"`
//	}
//
//	func (s *Server) getPage(ctx context.Context, req *GetPageRequest) (*PageResponse, error)
func Wrap[In any, PtrIn interface {
	*In
	validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), maxBody int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		input := new(In)
		if !readAndDecodeBody(ctx, w, r, input, maxBody) {
			return
		}
		populatePathParams(r, input)
		populateQueryParams(r, input)
		if err := PtrIn(input).Validate(); err != nil {
			writeError(ctx, w, err)
			return
		}
		output, err := fn(ctx, PtrIn(input))
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(output); err != nil {
			slog.ErrorContext(ctx, "Failed to encode response", "err", err)
		}
	})
}

// readAndDecodeBody reads the request body with a size limit and decodes JSON
// into input. Returns false if an error was written to the response.
func readAndDecodeBody[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In, maxBody int64) bool {
	if maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	}
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		writeError(ctx, w, bodyError(err))
		return false
	}
	if len(body) > 0 {
		d := json.NewDecoder(bytes.NewReader(body))
		d.DisallowUnknownFields()
		if err := d.Decode(input); err != nil {
			writeError(ctx, w, apierrors.BadRequest("Invalid request body").Wrap(err))
			return false
		}
	}
	return true
}

// bodyError converts a failure reading a request body into an API error.
func bodyError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return apierrors.NewAPIError(http.StatusRequestEntityTooLarge, apierrors.ErrPayloadTooLarge, "Request body too large").
			WithDetail("limit", maxBytesErr.Limit)
	}
	return apierrors.BadRequest("Failed to read request body").Wrap(err)
}

// populatePathParams fills string fields tagged `path:"paramName"`.
func populatePathParams(r *http.Request, input any) {
	elem, ok := structElem(input)
	if !ok {
		return
	}
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("path")
		if tag == "" || field.Type.Kind() != reflect.String {
			continue
		}
		if v := r.PathValue(tag); v != "" {
			elem.Field(i).SetString(v)
		}
	}
}

// populateQueryParams fills string, int and bool fields tagged
// `query:"paramName"`. Unparsable values are ignored.
func populateQueryParams(r *http.Request, input any) {
	elem, ok := structElem(input)
	if !ok {
		return
	}
	query := r.URL.Query()
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("query")
		if tag == "" {
			continue
		}
		v := query.Get(tag)
		if v == "" {
			continue
		}
		//nolint:exhaustive // Only string, int and bool are supported.
		switch field.Type.Kind() {
		case reflect.String:
			elem.Field(i).SetString(v)
		case reflect.Int:
			if n, err := strconv.Atoi(v); err == nil {
				elem.Field(i).SetInt(int64(n))
			}
		case reflect.Bool:
			if b, err := strconv.ParseBool(v); err == nil {
				elem.Field(i).SetBool(b)
			}
		default:
		}
	}
}

func structElem(input any) (reflect.Value, bool) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer {
		return reflect.Value{}, false
	}
	elem := val.Elem()
	return elem, elem.Kind() == reflect.Struct
}

// writeError writes err as a JSON error response.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	apiErr := toAPIError(err)
	msg := apiErr.Error()
	if apiErr.StatusCode() >= 500 {
		// Server side details stay in the log.
		msg = apiErr.Message()
		slog.ErrorContext(ctx, "Handler error", "id", RequestID(ctx), "err", err, "statusCode", apiErr.StatusCode(), "code", apiErr.Code())
	} else {
		slog.WarnContext(ctx, "Handler error", "id", RequestID(ctx), "err", err, "statusCode", apiErr.StatusCode(), "code", apiErr.Code())
	}
	writeErrorResponseWithCode(w, apiErr.StatusCode(), apiErr.Code(), msg, RequestID(ctx), apiErr.Details())
}

// writeErrorResponseWithCode writes a detailed error response as JSON.
// requestID lets a user report an error that can be found in the log.
func writeErrorResponseWithCode(w http.ResponseWriter, statusCode int, code apierrors.ErrorCode, message, requestID string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := map[string]any{
		"code":    code,
		"message": message,
	}
	if requestID != "" {
		body["request_id"] = requestID
	}
	response := map[string]any{"error": body}
	if len(details) > 0 {
		response["details"] = details
	}
	_ = json.NewEncoder(w).Encode(response)
}
