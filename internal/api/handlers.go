package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/buildgen/internal/models"
	"github.com/digkill/buildgen/internal/service"
)

type createProjectRequest struct {
	InitialPrompt string `json:"initial_prompt"`
}

type reviseRequest struct {
	Message string `json:"message"`
}

type purchaseRequest struct {
	PlanID string `json:"planId"`
}

type promoRedeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.deps.Projects.CreateProject(r.Context(), accountID(r), req.InitialPrompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"projectId": id})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.deps.Projects.GetProject(r.Context(), accountID(r), chi.URLParam(r, "projectId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]*models.Project{"project": project})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.deps.Projects.ListProjects(r.Context(), accountID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]models.Project{"projects": projects})
}

func (s *Server) handleTogglePublish(w http.ResponseWriter, r *http.Request) {
	msg, err := s.deps.Projects.TogglePublish(r.Context(), accountID(r), chi.URLParam(r, "projectId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeMessage(w, http.StatusOK, msg)
}

func (s *Server) handleRevise(w http.ResponseWriter, r *http.Request) {
	var req reviseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Projects.Revise(r.Context(), accountID(r), chi.URLParam(r, "projectId"), req.Message); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeMessage(w, http.StatusAccepted, "Revision started")
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Projects.Rollback(r.Context(), accountID(r), chi.URLParam(r, "projectId"), chi.URLParam(r, "versionId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeMessage(w, http.StatusOK, "Version rolled back")
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Projects.Delete(r.Context(), accountID(r), chi.URLParam(r, "projectId")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeMessage(w, http.StatusOK, "Project deleted successfully")
}

func (s *Server) handleListPublished(w http.ResponseWriter, r *http.Request) {
	projects, err := s.deps.Projects.ListPublished(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]models.Project{"projects": projects})
}

func (s *Server) handlePublishedDocument(w http.ResponseWriter, r *http.Request) {
	html, err := s.deps.Projects.PublishedDocument(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, html)
}

func (s *Server) handlePlans(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]models.Plan{"plans": service.Plans()})
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := s.deps.Accounts.Credits(r.Context(), accountID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"credits": credits})
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	link, err := s.deps.Payments.PurchaseCredits(r.Context(), accountID(r), req.PlanID, s.origin(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"payment_link": link})
}

// origin is where checkout returns to: the caller's Origin, else the first allowed origin.
func (s *Server) origin(r *http.Request) string {
	if o := strings.TrimSpace(r.Header.Get("Origin")); o != "" {
		return o
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		return s.cfg.AllowedOrigins[0]
	}
	return ""
}

func (s *Server) handleRedeemPromo(w http.ResponseWriter, r *http.Request) {
	var req promoRedeemRequest
	if !s.decode(w, r, &req) {
		return
	}
	credits, err := s.deps.Promos.Redeem(r.Context(), accountID(r), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"credits": credits})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeMessage(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := s.deps.Payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
