package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/CarlosSalas01/SistemaDeReplicas/internal/domain"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: codeForStatus(status)})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// envelope is the success shape shared by every JSON endpoint.
type envelope struct {
	Message    string             `json:"message,omitempty"`
	Data       any                `json:"data"`
	Pagination *domain.Pagination `json:"pagination,omitempty"`
}

var statusByKind = map[domain.ErrorKind]int{
	domain.KindValidation:      http.StatusBadRequest,
	domain.KindInvalidState:    http.StatusConflict,
	domain.KindNotFound:        http.StatusNotFound,
	domain.KindAuthorization:   http.StatusForbidden,
	domain.KindUnauthenticated: http.StatusUnauthorized,
	domain.KindConflict:        http.StatusConflict,
	domain.KindPersistence:     http.StatusInternalServerError,
}

// writeServiceError maps a service failure onto its HTTP status.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		r.logger.Error("unclassified handler error", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	status, ok := statusByKind[de.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", "error", err, "path", req.URL.Path)
		writeJSON(w, status, errorBody{Error: "internal server error", Code: string(de.Kind)})
		return
	}
	writeJSON(w, status, errorBody{Error: domain.MessageOf(err), Code: string(de.Kind)})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(domain.KindValidation)
	case http.StatusUnauthorized:
		return string(domain.KindUnauthenticated)
	case http.StatusForbidden:
		return string(domain.KindAuthorization)
	case http.StatusNotFound:
		return string(domain.KindNotFound)
	case http.StatusConflict:
		return string(domain.KindConflict)
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "internal"
	}
}
