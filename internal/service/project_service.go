package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/digkill/buildgen/internal/config"
	"github.com/digkill/buildgen/internal/models"
)

// JobQueue accepts job IDs for background processing.
type JobQueue interface {
	Enqueue(jobID string) bool
}

type ProjectService struct {
	cfg       config.Config
	log       *slog.Logger
	stores    Stores
	queue     JobQueue
	limiter   RateLimiter
	publisher Publisher
}

func NewProjectService(cfg config.Config, log *slog.Logger, stores Stores, queue JobQueue, limiter RateLimiter, publisher Publisher) *ProjectService {
	return &ProjectService{
		cfg:       cfg,
		log:       log,
		stores:    stores,
		queue:     queue,
		limiter:   limiter,
		publisher: publisher,
	}
}

// CreateProject charges the account, stores the project with its first prompt and queues
// the initial generation. The returned project has no code yet.
func (s *ProjectService) CreateProject(ctx context.Context, accountID, prompt string) (string, error) {
	if accountID == "" {
		return "", ErrUnauthorized
	}
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: initial_prompt is required", ErrInvalidInput)
	}
	if err := s.allow(ctx, accountID); err != nil {
		return "", err
	}

	cost := s.cfg.GenerationCost
	project := &models.Project{
		ID:            uuid.NewString(),
		UserID:        accountID,
		Name:          ProjectName(prompt),
		InitialPrompt: prompt,
	}
	job := &models.GenerationJob{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		UserID:    accountID,
		Kind:      models.JobKindInitial,
		Prompt:    prompt,
		Status:    models.JobStatusPending,
		Cost:      cost,
	}

	err := s.stores.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.lockBalance(ctx, accountID, cost); err != nil {
			return err
		}
		if err := s.stores.Projects.Create(ctx, project); err != nil {
			return err
		}
		if err := s.stores.Accounts.IncrementCreations(ctx, accountID); err != nil {
			return err
		}
		if err := s.stores.Conversations.Append(ctx, project.ID, models.RoleUser, prompt); err != nil {
			return err
		}
		if err := s.charge(ctx, accountID, cost, models.LedgerReasonGeneration, project.ID); err != nil {
			return err
		}
		return s.stores.Jobs.Create(ctx, job)
	})
	if err != nil {
		return "", err
	}

	s.log.Info("project created", "project_id", project.ID, "user_id", accountID, "job_id", job.ID)
	s.enqueue(job.ID)
	return project.ID, nil
}

// Revise charges the account and queues a change request against the current version.
func (s *ProjectService) Revise(ctx context.Context, accountID, projectID, request string) error {
	if accountID == "" {
		return ErrUnauthorized
	}
	request = strings.TrimSpace(request)
	if request == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	if err := s.allow(ctx, accountID); err != nil {
		return err
	}

	cost := s.cfg.GenerationCost
	job := &models.GenerationJob{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    accountID,
		Kind:      models.JobKindRevision,
		Prompt:    request,
		Status:    models.JobStatusPending,
		Cost:      cost,
	}

	err := s.stores.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.lockBalance(ctx, accountID, cost); err != nil {
			return err
		}
		project, err := s.stores.Projects.GetOwned(ctx, accountID, projectID)
		if err != nil {
			return err
		}
		if project == nil {
			return ErrNotFound
		}
		if project.CurrentCode == nil {
			return fmt.Errorf("%w: project has no version to change yet", ErrInvalidInput)
		}
		active, err := s.stores.Jobs.HasActive(ctx, projectID)
		if err != nil {
			return err
		}
		if active {
			return ErrGenerationInProgress
		}
		if err := s.stores.Conversations.Append(ctx, projectID, models.RoleUser, request); err != nil {
			return err
		}
		if err := s.charge(ctx, accountID, cost, models.LedgerReasonRevision, projectID); err != nil {
			return err
		}
		return s.stores.Jobs.Create(ctx, job)
	})
	if err != nil {
		return err
	}

	s.log.Info("revision queued", "project_id", projectID, "user_id", accountID, "job_id", job.ID)
	s.enqueue(job.ID)
	return nil
}

// lockBalance row-locks the account and applies the credit gate.
func (s *ProjectService) lockBalance(ctx context.Context, accountID string, cost int) error {
	account, err := s.stores.Accounts.GetForUpdate(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrUnauthorized
	}
	if account.Credits < cost {
		return ErrInsufficientCredits
	}
	return nil
}

func (s *ProjectService) charge(ctx context.Context, accountID string, cost int, reason models.LedgerReason, ref string) error {
	ok, err := s.stores.Accounts.Debit(ctx, accountID, cost)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientCredits
	}
	return s.stores.Ledger.Append(ctx, accountID, -cost, reason, ref)
}

func (s *ProjectService) allow(ctx context.Context, accountID string) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, "generate:"+accountID)
	if err != nil {
		s.log.Warn("rate limiter unavailable, allowing request", "err", err, "user_id", accountID)
		return nil
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

func (s *ProjectService) enqueue(jobID string) {
	if s.queue == nil {
		return
	}
	if !s.queue.Enqueue(jobID) {
		s.log.Warn("generation queue full, job left for the next sweep", "job_id", jobID)
	}
}

// GetProject returns an owned project with its conversation and versions, oldest first.
func (s *ProjectService) GetProject(ctx context.Context, accountID, projectID string) (*models.Project, error) {
	if accountID == "" {
		return nil, ErrUnauthorized
	}
	project, err := s.stores.Projects.GetOwned(ctx, accountID, projectID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, ErrNotFound
	}

	project.Conversation, err = s.stores.Conversations.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	project.Versions, err = s.stores.Versions.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return project, nil
}

// ListProjects returns the account's projects, most recently updated first.
func (s *ProjectService) ListProjects(ctx context.Context, accountID string) ([]models.Project, error) {
	if accountID == "" {
		return nil, ErrUnauthorized
	}
	return s.stores.Projects.ListByOwner(ctx, accountID)
}

func (s *ProjectService) ListPublished(ctx context.Context) ([]models.Project, error) {
	return s.stores.Projects.ListPublished(ctx)
}

// PublishedDocument returns the current HTML of a published project.
func (s *ProjectService) PublishedDocument(ctx context.Context, projectID string) (string, error) {
	project, err := s.stores.Projects.Get(ctx, projectID)
	if err != nil {
		return "", err
	}
	if project == nil || !project.IsPublished || project.CurrentCode == nil {
		return "", ErrNotFound
	}
	return *project.CurrentCode, nil
}

// TogglePublish flips the published flag and reports the new state as a message.
func (s *ProjectService) TogglePublish(ctx context.Context, accountID, projectID string) (string, error) {
	if accountID == "" {
		return "", ErrUnauthorized
	}
	project, err := s.stores.Projects.GetOwned(ctx, accountID, projectID)
	if err != nil {
		return "", err
	}
	if project == nil {
		return "", ErrNotFound
	}

	published := !project.IsPublished
	if err := s.stores.Projects.SetPublished(ctx, projectID, published); err != nil {
		return "", err
	}

	if published {
		if project.CurrentCode != nil {
			s.publish(ctx, projectID, *project.CurrentCode)
		}
		return "Project Published Successfully", nil
	}
	s.unpublish(ctx, projectID)
	return "Project Unpublished", nil
}

// Rollback points the project back at one of its earlier versions.
func (s *ProjectService) Rollback(ctx context.Context, accountID, projectID, versionID string) error {
	if accountID == "" {
		return ErrUnauthorized
	}
	project, err := s.stores.Projects.GetOwned(ctx, accountID, projectID)
	if err != nil {
		return err
	}
	if project == nil {
		return ErrNotFound
	}
	version, err := s.stores.Versions.Get(ctx, projectID, versionID)
	if err != nil {
		return err
	}
	if version == nil {
		return ErrVersionNotFound
	}

	err = s.stores.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.stores.Projects.SetCurrent(ctx, projectID, version.Code, version.ID); err != nil {
			return err
		}
		return s.stores.Conversations.Append(ctx, projectID, models.RoleAssistant, msgRolledBack)
	})
	if err != nil {
		return err
	}

	if project.IsPublished {
		s.publish(ctx, projectID, version.Code)
	}
	return nil
}

func (s *ProjectService) Delete(ctx context.Context, accountID, projectID string) error {
	if accountID == "" {
		return ErrUnauthorized
	}
	project, err := s.stores.Projects.GetOwned(ctx, accountID, projectID)
	if err != nil {
		return err
	}
	if project == nil {
		return ErrNotFound
	}
	deleted, err := s.stores.Projects.Delete(ctx, accountID, projectID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	if project.IsPublished {
		s.unpublish(ctx, projectID)
	}
	s.log.Info("project deleted", "project_id", projectID, "user_id", accountID)
	return nil
}

func (s *ProjectService) publish(ctx context.Context, projectID, html string) {
	if s.publisher == nil {
		return
	}
	url, err := s.publisher.Publish(ctx, projectID, html)
	if err != nil {
		s.log.Error("publish site failed", "err", err, "project_id", projectID)
		return
	}
	s.log.Info("site published", "project_id", projectID, "url", url)
}

func (s *ProjectService) unpublish(ctx context.Context, projectID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Unpublish(ctx, projectID); err != nil {
		s.log.Error("unpublish site failed", "err", err, "project_id", projectID)
	}
}
