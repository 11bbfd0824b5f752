package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/buildgen/internal/config"
	"github.com/digkill/buildgen/internal/models"
)

const (
	sweepInterval  = 30 * time.Second
	sweepBatchSize = 100
	maxErrorLength = 500
	maxDescription = 1000
)

var (
	errEmptyCompletion = errors.New("completion returned no code")
	errJobNotRunning   = errors.New("job is no longer running")
)

// GenerationWorker runs queued generation jobs on a bounded pool and settles credits
// for every attempt it finishes.
type GenerationWorker struct {
	cfg       config.Config
	log       *slog.Logger
	stores    Stores
	completer Completer
	publisher Publisher
	notifier  Notifier
	metrics   Recorder

	queue  chan string
	queued sync.Map
}

func NewGenerationWorker(cfg config.Config, log *slog.Logger, stores Stores, completer Completer, publisher Publisher, notifier Notifier, metrics Recorder) *GenerationWorker {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	size := cfg.GenerationQueue
	if size <= 0 {
		size = 1
	}
	return &GenerationWorker{
		cfg:       cfg,
		log:       log,
		stores:    stores,
		completer: completer,
		publisher: publisher,
		notifier:  notifier,
		metrics:   metrics,
		queue:     make(chan string, size),
	}
}

// Enqueue hands a job to the pool without blocking. It reports false when the queue is full;
// the job stays pending and the periodic sweep picks it up.
func (w *GenerationWorker) Enqueue(jobID string) bool {
	if _, loaded := w.queued.LoadOrStore(jobID, struct{}{}); loaded {
		return true
	}
	select {
	case w.queue <- jobID:
		w.metrics.SetQueueDepth(len(w.queue))
		return true
	default:
		w.queued.Delete(jobID)
		return false
	}
}

// Reconcile settles jobs interrupted by a previous shutdown and re-queues pending ones.
func (w *GenerationWorker) Reconcile(ctx context.Context) error {
	running, err := w.stores.Jobs.ListByStatus(ctx, models.JobStatusRunning, sweepBatchSize)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	for i := range running {
		job := running[i]
		w.log.Warn("failing job interrupted by restart", "job_id", job.ID, "project_id", job.ProjectID)
		w.fail(ctx, &job, "interrupted by restart")
	}

	w.sweep(ctx)
	return nil
}

// Run starts the workers and blocks until ctx is cancelled and every in-flight job is settled.
func (w *GenerationWorker) Run(ctx context.Context) {
	workers := w.cfg.GenerationWorkers
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	w.log.Info("generation workers started", "workers", workers, "queue", cap(w.queue))

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.log.Info("generation workers stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *GenerationWorker) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-w.queue:
			w.queued.Delete(jobID)
			w.metrics.SetQueueDepth(len(w.queue))
			if err := w.Process(ctx, jobID); err != nil {
				w.log.Error("process job failed", "err", err, "job_id", jobID, "worker", id)
			}
		}
	}
}

func (w *GenerationWorker) sweep(ctx context.Context) {
	pending, err := w.stores.Jobs.ListByStatus(ctx, models.JobStatusPending, sweepBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("list pending jobs", "err", err)
		}
		return
	}
	for _, job := range pending {
		if !w.Enqueue(job.ID) {
			return
		}
	}
}

// Process claims a pending job and runs it to a terminal state.
func (w *GenerationWorker) Process(ctx context.Context, jobID string) error {
	claimed, err := w.stores.Jobs.Claim(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	job, err := w.stores.Jobs.Get(ctx, jobID)
	if err != nil {
		w.release(ctx, jobID)
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s vanished after claim", jobID)
	}

	started := time.Now()
	status := models.JobStatusSucceeded
	err = w.run(ctx, job)
	switch {
	case errors.Is(err, errJobNotRunning):
		w.log.Warn("job settled elsewhere, dropping result", "job_id", job.ID, "project_id", job.ProjectID)
		return nil
	case err != nil:
		status = models.JobStatusFailed
		w.log.Error("generation failed", "err", err, "job_id", job.ID, "project_id", job.ProjectID)
		w.fail(ctx, job, err.Error())
	}
	w.metrics.ObserveGeneration(string(job.Kind), string(status), time.Since(started))
	return nil
}

func (w *GenerationWorker) run(ctx context.Context, job *models.GenerationJob) error {
	project, err := w.stores.Projects.Get(ctx, job.ProjectID)
	if err != nil {
		return err
	}
	if project == nil {
		return ErrNotFound
	}

	switch job.Kind {
	case models.JobKindInitial:
		return w.runInitial(ctx, job, project)
	case models.JobKindRevision:
		return w.runRevision(ctx, job, project)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (w *GenerationWorker) runInitial(ctx context.Context, job *models.GenerationJob, project *models.Project) error {
	enhanced := w.enhance(ctx, enhanceSystemPrompt, job)

	if err := w.say(ctx, project.ID, fmt.Sprintf(msgEnhancedFormat, enhanced)); err != nil {
		return err
	}
	if err := w.say(ctx, project.ID, msgGenerating); err != nil {
		return err
	}

	code, err := w.generate(ctx, codeSystemPrompt, enhanced)
	if err != nil {
		return err
	}
	return w.succeed(ctx, job, code, initialVersionLabel, msgCreated)
}

func (w *GenerationWorker) runRevision(ctx context.Context, job *models.GenerationJob, project *models.Project) error {
	if project.CurrentCode == nil {
		return fmt.Errorf("project %s has no current code", project.ID)
	}
	enhanced := w.enhance(ctx, revisionEnhanceSystemPrompt, job)

	if err := w.say(ctx, project.ID, fmt.Sprintf(msgEnhancedFormat, enhanced)); err != nil {
		return err
	}
	if err := w.say(ctx, project.ID, msgRevising); err != nil {
		return err
	}

	code, err := w.generate(ctx, revisionSystemPrompt, revisionUserMessage(*project.CurrentCode, enhanced))
	if err != nil {
		return err
	}
	if err := w.succeed(ctx, job, code, truncateRunes(fmt.Sprintf(revisionVersionFormat, job.Prompt), maxDescription), msgRevised); err != nil {
		return err
	}
	if project.IsPublished {
		w.republish(ctx, project.ID, code)
	}
	return nil
}

// enhance never fails the job: an error or empty answer falls back to the raw prompt.
func (w *GenerationWorker) enhance(ctx context.Context, system string, job *models.GenerationJob) string {
	text, err := w.completer.Complete(ctx, w.cfg.EnhanceModel, system, job.Prompt)
	if err != nil {
		w.log.Warn("prompt enhancement failed, using raw prompt", "err", err, "job_id", job.ID)
		return job.Prompt
	}
	if text == "" {
		return job.Prompt
	}
	return text
}

func (w *GenerationWorker) generate(ctx context.Context, system, user string) (string, error) {
	text, err := w.completer.Complete(ctx, w.cfg.CodeModel, system, user)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	if text == "" {
		return "", errEmptyCompletion
	}
	code := CleanDocument(text)
	if code == "" {
		return "", errEmptyCompletion
	}
	return code, nil
}

func (w *GenerationWorker) say(ctx context.Context, projectID, content string) error {
	return w.stores.Conversations.Append(ctx, projectID, models.RoleAssistant, content)
}

// succeed stores the version, moves the project pointer and closes the job in one transaction.
func (w *GenerationWorker) succeed(ctx context.Context, job *models.GenerationJob, code, description, reply string) error {
	return w.stores.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		version, err := w.stores.Versions.Create(ctx, job.ProjectID, code, description)
		if err != nil {
			return err
		}
		if err := w.say(ctx, job.ProjectID, reply); err != nil {
			return err
		}
		if err := w.stores.Projects.SetCurrent(ctx, job.ProjectID, code, version.ID); err != nil {
			return err
		}
		return w.finish(ctx, job.ID, models.JobStatusSucceeded, false, "")
	})
}

func (w *GenerationWorker) finish(ctx context.Context, jobID string, status models.JobStatus, refunded bool, reason string) error {
	ok, err := w.stores.Jobs.Finish(ctx, jobID, status, refunded, reason)
	if err != nil {
		return err
	}
	if !ok {
		return errJobNotRunning
	}
	return nil
}

// release returns a claimed job to pending so the sweep retries it.
func (w *GenerationWorker) release(ctx context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.stores.Jobs.Release(ctx, jobID); err != nil {
		w.log.Error("release job failed", "err", err, "job_id", jobID)
	}
}

// fail refunds the job's cost, tells the user and closes the job in one transaction.
// It uses a context detached from shutdown so an interrupted job is still settled.
func (w *GenerationWorker) fail(ctx context.Context, job *models.GenerationJob, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	reason = truncateRunes(reason, maxErrorLength)

	err := w.stores.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		project, err := w.stores.Projects.Get(ctx, job.ProjectID)
		if err != nil {
			return err
		}
		if project != nil {
			if err := w.say(ctx, job.ProjectID, msgGenerationFailed); err != nil {
				return err
			}
		}
		if err := w.stores.Accounts.AddCredits(ctx, job.UserID, job.Cost); err != nil {
			return err
		}
		if err := w.stores.Ledger.Append(ctx, job.UserID, job.Cost, models.LedgerReasonRefund, job.ID); err != nil {
			return err
		}
		return w.finish(ctx, job.ID, models.JobStatusFailed, true, reason)
	})
	if errors.Is(err, errJobNotRunning) {
		w.log.Warn("job already settled, refund skipped", "job_id", job.ID, "user_id", job.UserID)
		return
	}
	if err != nil {
		w.log.Error("refund failed", "err", err, "job_id", job.ID, "user_id", job.UserID, "credits", job.Cost)
		return
	}

	w.metrics.AddRefund(job.Cost)
	w.notifier.GenerationFailed(job.ID, job.ProjectID, job.UserID, reason)
	w.log.Info("job refunded", "job_id", job.ID, "user_id", job.UserID, "credits", job.Cost)
}

func (w *GenerationWorker) republish(ctx context.Context, projectID, code string) {
	if w.publisher == nil {
		return
	}
	if _, err := w.publisher.Publish(ctx, projectID, code); err != nil {
		w.log.Error("republish site failed", "err", err, "project_id", projectID)
	}
}

// Jobs lists jobs in one status for the operator view.
func (w *GenerationWorker) Jobs(ctx context.Context, status models.JobStatus, limit int) ([]models.GenerationJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	switch status {
	case models.JobStatusPending, models.JobStatusRunning, models.JobStatusSucceeded, models.JobStatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown job status %q", ErrInvalidInput, status)
	}
	return w.stores.Jobs.ListByStatus(ctx, status, limit)
}
