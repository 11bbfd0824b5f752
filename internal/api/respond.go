package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/digkill/buildgen/internal/service"
)

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeMessage(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, messageResponse{Message: msg})
}

// writeError maps service errors to status codes. Unknown errors surface their message with 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		s.writeMessage(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, service.ErrInsufficientCredits):
		s.writeMessage(w, http.StatusForbidden, service.ErrInsufficientCredits.Error())
	case errors.Is(err, service.ErrNotFound):
		s.writeMessage(w, http.StatusNotFound, "Project not found")
	case errors.Is(err, service.ErrVersionNotFound):
		s.writeMessage(w, http.StatusNotFound, "Version not found")
	case errors.Is(err, service.ErrPlanNotFound):
		s.writeMessage(w, http.StatusNotFound, "Plan not found")
	case errors.Is(err, service.ErrRateLimited):
		s.writeMessage(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, service.ErrGenerationInProgress):
		s.writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrPromoAlreadyRedeemed):
		s.writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrPromoInvalid),
		errors.Is(err, service.ErrPromoExhausted),
		errors.Is(err, service.ErrInvalidSignature):
		s.writeMessage(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("handler error", "err", err, "path", r.URL.Path)
		s.writeMessage(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return false
	}
	return true
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
