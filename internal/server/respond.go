package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	svcErr "github.com/oggyb/muzz-commitments/internal/errors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// RespondJSON writes v as a JSON response with the given status.
func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// RespondError maps a domain/infra error to its HTTP status and a
// machine-readable code. Internal errors are logged, not leaked.
func RespondError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := svcErr.HTTPStatus(err)

	var body ErrorBody
	body.Error.Code = svcErr.Code(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "err", err)
		body.Error.Message = "internal error"
	} else {
		body.Error.Message = err.Error()
	}
	RespondJSON(w, status, body)
}
