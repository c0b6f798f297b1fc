package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/af-corp/thinkrelay/internal/types"
)

// APIError is the error envelope returned to callers.
type APIError struct {
	Error APIErrorBody `json:"error"`
}

type APIErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, body APIErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIError{Error: body})
}

// WriteErr maps a typed gateway error to its status and body. Unknown errors
// are reported as internal.
func WriteErr(w http.ResponseWriter, requestID string, err error) {
	status, body := Classify(err)
	WriteError(w, requestID, status, body)
}

// Classify returns the HTTP status and error body for err.
func Classify(err error) (int, APIErrorBody) {
	var (
		verr *types.ValidationError
		uerr *types.UpstreamError
		ierr *types.InternalError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, APIErrorBody{Message: verr.Message, Type: verr.Type, Param: verr.Param}
	case errors.As(err, &uerr):
		return http.StatusBadRequest, APIErrorBody{
			Message: types.ProviderDisplayName(uerr.Provider) + " API Error: " + uerr.Message,
			Type:    uerr.Provider + "_" + uerr.Kind,
			Param:   uerr.Param,
			Code:    uerr.Code,
		}
	case errors.As(err, &ierr):
		return http.StatusInternalServerError, APIErrorBody{Message: ierr.Message, Type: "internal_error"}
	default:
		return http.StatusInternalServerError, APIErrorBody{Message: "Internal server error: " + err.Error(), Type: "internal_error"}
	}
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, APIErrorBody{Message: message, Type: "bad_request"})
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, APIErrorBody{Message: message, Type: "internal_error"})
}

func WriteServiceUnavailableError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusServiceUnavailable, APIErrorBody{Message: message, Type: "service_unavailable"})
}
