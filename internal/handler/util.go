package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/capitalize-ai/messaging-core/internal/model"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response, mapping the error kind to
// an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	var e *model.Error
	if !errors.As(err, &e) {
		e = model.ErrTransientStore("internal error")
	}
	writeJSON(w, model.HTTPStatus(err), e)
}
