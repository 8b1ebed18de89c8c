// Package httputil holds response writers and bounded body readers shared by
// the HTTP handlers.
package httputil

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/R3E-Network/ipa_gateway/internal/errors"
)

// ErrBodyTooLarge is returned by ReadAllStrict when a body exceeds its limit.
var ErrBodyTooLarge = stderrors.New("body exceeds size limit")

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteJSONError writes err as {"error": message} with its mapped status.
func WriteJSONError(w http.ResponseWriter, err error) {
	status, message := describe(err)
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteTextError writes err as a plain-text body with its mapped status.
func WriteTextError(w http.ResponseWriter, err error) {
	status, message := describe(err)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	io.WriteString(w, message)
}

// describe hides the message of errors that are not ServiceErrors or that
// map to 500, so internal details never reach clients.
func describe(err error) (int, string) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
	status := errors.HTTPStatus(err)
	if serviceErr.Code == errors.CodeInternal {
		return status, http.StatusText(status)
	}
	return status, serviceErr.Message
}

// ReadAllWithLimit reads at most limit bytes from r, silently truncating.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid limit %d", limit)
	}
	return io.ReadAll(io.LimitReader(r, limit))
}

// ReadAllStrict reads r fully and fails with ErrBodyTooLarge past limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid limit %d", limit)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}
