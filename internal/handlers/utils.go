package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"video-compare/internal/decoder"
	"video-compare/internal/logging"
	"video-compare/internal/playback"
	"video-compare/internal/session"
	"video-compare/internal/timeline"
)

// maxBodyBytes bounds request bodies; every command body is a few fields.
const maxBodyBytes = 64 << 10

// errUnsupportedMediaType rejects command bodies that are not JSON. Browsers
// send text/plain and form posts cross-origin without a preflight.
var errUnsupportedMediaType = errors.New("unsupported media type")

// writeJSON encodes v as JSON and writes it to the response writer.
// Encoding or write errors are logged since the response is already under
// way.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, map[string]string{"error": message})
}

// writeJSONStatus writes a simple status response as JSON.
func writeJSONStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": status})
}

// decodeJSON reads a JSON body into v. The request must be sent as
// application/json and unknown fields are rejected.
func decodeJSON(r *http.Request, v interface{}) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("%w: Content-Type must be application/json", errUnsupportedMediaType)
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: bad request body: %v", playback.ErrInvalidArgument, err)
	}
	return nil
}

// errorStatus maps engine errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrClosed):
		return http.StatusNotFound
	case errors.Is(err, playback.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, playback.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, decoder.ErrUnreadableSource), errors.Is(err, timeline.ErrNotEnoughFrames):
		return http.StatusUnprocessableEntity
	case errors.Is(err, playback.ErrResourceExhausted):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with the status errorStatus picks for it.
func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logging.Error("request failed: %v", err)
	}
	writeJSONError(w, err.Error(), status)
}
