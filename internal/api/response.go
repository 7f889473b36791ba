package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/matheus3301/wadesk/internal/apperr"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps an error to the wire shape {"error":{"code","message"}}.
// Unclassified errors surface as INTERNAL_ERROR without leaking detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		s.logger.Error("unhandled error", zap.Error(err), zap.String("path", r.URL.Path))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Code:    apperr.CodeInternal,
			Message: "internal error",
		}})
		return
	}
	if e.Code == apperr.CodeInternal {
		s.logger.Error("internal error", zap.Error(err), zap.String("path", r.URL.Path))
	}
	writeJSON(w, apperr.HTTPStatus(e.Code), errorBody{Error: errorDetail{
		Code:    e.Code,
		Message: e.Message,
	}})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("malformed request body")
	}
	return nil
}
