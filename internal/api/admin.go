package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/buildgen/internal/models"
)

type promoRequest struct {
	Code    string `json:"code"`
	Credits int    `json:"credits"`
	MaxUses int    `json:"max_uses"`
}

type promoUpdateRequest struct {
	Code    *string `json:"code"`
	Credits *int    `json:"credits"`
	MaxUses *int    `json:"max_uses"`
	Uses    *int    `json:"uses"`
}

type adjustCreditsRequest struct {
	Delta int    `json:"delta"`
	Note  string `json:"note"`
}

func (s *Server) handleListPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := s.deps.Promos.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promos)
}

func (s *Server) handleCreatePromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if !s.decode(w, r, &req) {
		return
	}
	promo, err := s.deps.Promos.Create(r.Context(), models.PromoCode{Code: req.Code, Credits: req.Credits, MaxUses: req.MaxUses})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, promo)
}

func (s *Server) handleUpdatePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req promoUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}

	current, err := s.findPromo(r, id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if current == nil {
		http.Error(w, "promo not found", http.StatusNotFound)
		return
	}
	if req.Code != nil {
		current.Code = *req.Code
	}
	if req.Credits != nil {
		current.Credits = *req.Credits
	}
	if req.MaxUses != nil {
		current.MaxUses = *req.MaxUses
	}
	if req.Uses != nil {
		current.Uses = *req.Uses
	}

	promo, err := s.deps.Promos.Update(r.Context(), *current)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promo)
}

func (s *Server) findPromo(r *http.Request, id int64) (*models.PromoCode, error) {
	promos, err := s.deps.Promos.List(r.Context())
	if err != nil {
		return nil, err
	}
	for i := range promos {
		if promos[i].ID == id {
			return &promos[i], nil
		}
	}
	return nil, nil
}

func (s *Server) handleDeletePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.deps.Promos.Delete(r.Context(), id); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdjustCredits(w http.ResponseWriter, r *http.Request) {
	var req adjustCreditsRequest
	if !s.decode(w, r, &req) {
		return
	}
	balance, err := s.deps.Accounts.AdjustCredits(r.Context(), chi.URLParam(r, "id"), req.Delta, req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"credits": balance})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.deps.Accounts.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.JobStatusFailed
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := s.deps.Jobs.Jobs(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
