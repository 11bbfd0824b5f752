package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/buildgen/internal/auth"
	"github.com/digkill/buildgen/internal/config"
	"github.com/digkill/buildgen/internal/metrics"
	"github.com/digkill/buildgen/internal/models"
)

const maxBodyBytes = 50 << 20

type Projects interface {
	CreateProject(ctx context.Context, accountID, prompt string) (string, error)
	GetProject(ctx context.Context, accountID, projectID string) (*models.Project, error)
	ListProjects(ctx context.Context, accountID string) ([]models.Project, error)
	ListPublished(ctx context.Context) ([]models.Project, error)
	PublishedDocument(ctx context.Context, projectID string) (string, error)
	TogglePublish(ctx context.Context, accountID, projectID string) (string, error)
	Revise(ctx context.Context, accountID, projectID, request string) error
	Rollback(ctx context.Context, accountID, projectID, versionID string) error
	Delete(ctx context.Context, accountID, projectID string) error
}

type Accounts interface {
	Ensure(ctx context.Context, id, email, name string) (*models.Account, error)
	Credits(ctx context.Context, id string) (int, error)
	AdjustCredits(ctx context.Context, id string, delta int, note string) (int, error)
	History(ctx context.Context, id string, limit int) ([]models.LedgerEntry, error)
}

type Payments interface {
	PurchaseCredits(ctx context.Context, accountID, planID, origin string) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type Promos interface {
	Redeem(ctx context.Context, accountID, code string) (int, error)
	List(ctx context.Context) ([]models.PromoCode, error)
	Create(ctx context.Context, promo models.PromoCode) (*models.PromoCode, error)
	Update(ctx context.Context, promo models.PromoCode) (*models.PromoCode, error)
	Delete(ctx context.Context, id int64) error
}

type Jobs interface {
	Jobs(ctx context.Context, status models.JobStatus, limit int) ([]models.GenerationJob, error)
}

// Deps are the collaborators the HTTP layer dispatches to.
type Deps struct {
	Projects  Projects
	Accounts  Accounts
	Payments  Payments
	Promos    Promos
	Jobs      Jobs
	Verifier  *auth.Verifier
	AuthProxy http.Handler
	Metrics   *metrics.Metrics
}

type Server struct {
	cfg    config.Config
	log    *slog.Logger
	deps   Deps
	router *chi.Mux
}

func NewServer(cfg config.Config, log *slog.Logger, deps Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{cfg: cfg, log: log, deps: deps, router: r}
	if deps.Metrics != nil {
		r.Use(s.metricsMiddleware)
	}
	r.Use(s.corsMiddleware())

	// The webhook reads the raw body for signature checks.
	r.Post("/api/stripe", s.handleStripeWebhook)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Server is Live!"))
	})
	if deps.AuthProxy != nil {
		r.Handle("/api/auth/*", deps.AuthProxy)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	r.Get("/api/plans", s.handlePlans)

	r.Route("/api/project", func(r chi.Router) {
		r.Get("/published", s.handleListPublished)
		r.Get("/published/{projectId}", s.handlePublishedDocument)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)
			r.Get("/{projectId}", s.handleGetProject)
			r.Patch("/{projectId}/publish", s.handleTogglePublish)
			r.Post("/{projectId}/revision", s.handleRevise)
			r.Put("/{projectId}/rollback/{versionId}", s.handleRollback)
			r.Delete("/{projectId}", s.handleDeleteProject)
		})
	})

	r.Route("/api/user", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/credits", s.handleCredits)
		r.Post("/purchase", s.handlePurchase)
		r.Post("/promo", s.handleRedeemPromo)
	})

	if !cfg.AdminEnabled() {
		log.Warn("admin routes disabled, ADMIN_PASSWORD is not set")
		return s
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.basicAuthMiddleware())
		r.Route("/promo-codes", func(r chi.Router) {
			r.Get("/", s.handleListPromos)
			r.Post("/", s.handleCreatePromo)
			r.Put("/{id}", s.handleUpdatePromo)
			r.Delete("/{id}", s.handleDeletePromo)
		})
		r.Post("/accounts/{id}/credits", s.handleAdjustCredits)
		r.Get("/accounts/{id}/ledger", s.handleLedger)
		r.Get("/jobs", s.handleListJobs)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}
