package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/digkill/buildgen/internal/models"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) GenerationFailed(jobID, projectID, userID, reason string) {
	m.Called(jobID, projectID, userID, reason)
}

func (m *mockNotifier) PaymentSettled(userID, transactionID string, credits int) {
	m.Called(userID, transactionID, credits)
}

type workerFixture struct {
	db        *memDB
	completer *scriptedCompleter
	notifier  *mockNotifier
	publisher *fakePublisher
	projects  *ProjectService
	worker    *GenerationWorker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	db := newMemDB()
	completer := &scriptedCompleter{answers: map[string]string{}, errs: map[string]error{}}
	notifier := &mockNotifier{}
	publisher := &fakePublisher{}
	worker := NewGenerationWorker(testConfig(), testLogger(), db.stores(), completer, publisher, notifier, nil)
	projects := NewProjectService(testConfig(), testLogger(), db.stores(), worker, nil, publisher)
	return &workerFixture{
		db:        db,
		completer: completer,
		notifier:  notifier,
		publisher: publisher,
		projects:  projects,
		worker:    worker,
	}
}

// createAndRun creates a project and runs its queued job inline.
func (f *workerFixture) createAndRun(t *testing.T, prompt string) string {
	t.Helper()
	id, err := f.projects.CreateProject(context.Background(), "acc-1", prompt)
	require.NoError(t, err)
	jobs := f.db.jobsFor(id)
	require.Len(t, jobs, 1)
	require.NoError(t, f.worker.Process(context.Background(), jobs[0].ID))
	return id
}

func contents(entries []models.ConversationEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

func TestInitialGenerationSucceeds(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.completer.answers["enhance-model"] = "a warm bakery site with a menu"
	f.completer.answers["code-model"] = "```html\n<html><body>bread</body></html>\n```"

	id := f.createAndRun(t, "a bakery landing page")

	assert.Equal(t, 15, f.db.balance("acc-1"))

	project, err := f.projects.GetProject(context.Background(), "acc-1", id)
	require.NoError(t, err)
	require.NotNil(t, project.CurrentCode)
	assert.Equal(t, "<html><body>bread</body></html>", *project.CurrentCode)
	require.Len(t, project.Versions, 1)
	assert.Equal(t, "initial version", project.Versions[0].Description)
	assert.NotContains(t, project.Versions[0].Code, "```")
	assert.Equal(t, project.Versions[0].ID, *project.CurrentVersionIndex)

	assert.Equal(t, []string{
		"a bakery landing page",
		`I've enhanced your prompt to: "a warm bakery site with a menu"`,
		"now generating your website...",
		"I've created your website! You can preview it and request changes.",
	}, contents(project.Conversation))
	assert.Equal(t, models.RoleUser, project.Conversation[0].Role)

	require.Len(t, f.completer.calls, 2)
	assert.Equal(t, enhanceSystemPrompt, f.completer.calls[0].System)
	assert.Equal(t, "a bakery landing page", f.completer.calls[0].User)
	assert.Equal(t, codeSystemPrompt, f.completer.calls[1].System)
	assert.Equal(t, "a warm bakery site with a menu", f.completer.calls[1].User)

	jobs := f.db.jobsFor(id)
	assert.Equal(t, models.JobStatusSucceeded, jobs[0].Status)
	assert.False(t, jobs[0].Refunded)
	f.notifier.AssertNotCalled(t, "GenerationFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEmptyCodeRefunds(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.completer.answers["enhance-model"] = "enhanced"
	f.notifier.On("GenerationFailed", mock.Anything, mock.Anything, "acc-1", mock.Anything).Once()

	id := f.createAndRun(t, "portfolio")

	assert.Equal(t, 20, f.db.balance("acc-1"))

	project, err := f.projects.GetProject(context.Background(), "acc-1", id)
	require.NoError(t, err)
	assert.Nil(t, project.CurrentCode)
	assert.Nil(t, project.CurrentVersionIndex)
	assert.Empty(t, project.Versions)
	assert.Equal(t, msgGenerationFailed, project.Conversation[len(project.Conversation)-1].Content)

	jobs := f.db.jobsFor(id)
	assert.Equal(t, models.JobStatusFailed, jobs[0].Status)
	assert.True(t, jobs[0].Refunded)

	ledger := f.db.ledgerFor("acc-1")
	require.Len(t, ledger, 2)
	assert.Equal(t, -5, ledger[0].Delta)
	assert.Equal(t, 5, ledger[1].Delta)
	assert.Equal(t, models.LedgerReasonRefund, ledger[1].Reason)
	f.notifier.AssertExpectations(t)
}

func TestEnhancementErrorFallsBackToRawPrompt(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.completer.errs["enhance-model"] = errors.New("provider down")
	f.completer.answers["code-model"] = "<html></html>"

	id := f.createAndRun(t, "a bakery landing page")

	require.Len(t, f.completer.calls, 2)
	assert.Equal(t, "a bakery landing page", f.completer.calls[1].User)

	project, err := f.projects.GetProject(context.Background(), "acc-1", id)
	require.NoError(t, err)
	assert.Equal(t, `I've enhanced your prompt to: "a bakery landing page"`, project.Conversation[1].Content)
	assert.Equal(t, 15, f.db.balance("acc-1"))
}

func TestCodeProviderErrorRefunds(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.completer.answers["enhance-model"] = "enhanced"
	f.completer.errs["code-model"] = errors.New("502 bad gateway")
	f.notifier.On("GenerationFailed", mock.Anything, mock.Anything, "acc-1", mock.MatchedBy(func(reason string) bool {
		return strings.Contains(reason, "502")
	})).Once()

	id := f.createAndRun(t, "portfolio")

	assert.Equal(t, 20, f.db.balance("acc-1"))
	jobs := f.db.jobsFor(id)
	assert.Equal(t, models.JobStatusFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].Error, "502")
	f.notifier.AssertExpectations(t)
}

func TestSettlementFailureRefunds(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.completer.answers["code-model"] = "<html></html>"
	f.notifier.On("GenerationFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Once()
	f.db.fail["Projects.SetCurrent"] = errors.New("deadlock")

	id := f.createAndRun(t, "portfolio")

	assert.Equal(t, 20, f.db.balance("acc-1"))
	project, err := f.projects.GetProject(context.Background(), "acc-1", id)
	require.NoError(t, err)
	assert.Empty(t, project.Versions, "version insert rolled back with the failed settlement")
	assert.Nil(t, project.CurrentCode)
}

func TestProcessIgnoresClaimedJob(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.completer.answers["code-model"] = "<html></html>"

	id := f.createAndRun(t, "portfolio")
	jobs := f.db.jobsFor(id)

	require.NoError(t, f.worker.Process(context.Background(), jobs[0].ID))
	assert.Len(t, f.completer.calls, 2)
	assert.Equal(t, 15, f.db.balance("acc-1"))
}

func TestRevisionCreatesVersionAndRepublishes(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.completer.answers["enhance-model"] = "enhanced"
	f.completer.answers["code-model"] = "<p>v1</p>"
	id := f.createAndRun(t, "portfolio")

	_, err := f.projects.TogglePublish(context.Background(), "acc-1", id)
	require.NoError(t, err)

	f.completer.answers["enhance-model"] = "make the header blue"
	f.completer.answers["code-model"] = "```html\n<p>v2</p>\n```"
	require.NoError(t, f.projects.Revise(context.Background(), "acc-1", id, "blue header"))
	jobs := f.db.jobsFor(id)
	require.Len(t, jobs, 2)
	require.NoError(t, f.worker.Process(context.Background(), jobs[1].ID))

	project, err := f.projects.GetProject(context.Background(), "acc-1", id)
	require.NoError(t, err)
	require.Len(t, project.Versions, 2)
	assert.Equal(t, "Changes made: blue header", project.Versions[1].Description)
	assert.Equal(t, "<p>v2</p>", *project.CurrentCode)
	assert.Equal(t, project.Versions[1].ID, *project.CurrentVersionIndex)

	tail := contents(project.Conversation)[4:]
	assert.Equal(t, []string{
		"blue header",
		`I've enhanced your prompt to: "make the header blue"`,
		"Now making changes to your website...",
		"I've made the changes to your website! You can now preview it",
	}, tail)

	last := f.completer.calls[len(f.completer.calls)-1]
	assert.Equal(t, revisionSystemPrompt, last.System)
	assert.Contains(t, last.User, "<p>v1</p>")
	assert.Contains(t, last.User, "make the header blue")

	assert.Equal(t, "<p>v2</p>", f.publisher.published[id])
	assert.Equal(t, 10, f.db.balance("acc-1"))
}

func TestReconcileRefundsInterruptedAndRequeuesPending(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.notifier.On("GenerationFailed", mock.Anything, mock.Anything, "acc-1", "interrupted by restart").Once()

	running, err := f.projects.CreateProject(context.Background(), "acc-1", "first")
	require.NoError(t, err)
	pending, err := f.projects.CreateProject(context.Background(), "acc-1", "second")
	require.NoError(t, err)
	runningJob := f.db.jobsFor(running)[0]
	claimed, err := f.db.stores().Jobs.Claim(context.Background(), runningJob.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	// drain what CreateProject queued so only the sweep refills it
	for len(f.worker.queue) > 0 {
		f.worker.queued.Delete(<-f.worker.queue)
	}

	require.NoError(t, f.worker.Reconcile(context.Background()))

	assert.Equal(t, 15, f.db.balance("acc-1"))
	job := f.db.jobsFor(running)[0]
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.True(t, job.Refunded)

	require.Len(t, f.worker.queue, 1)
	assert.Equal(t, f.db.jobsFor(pending)[0].ID, <-f.worker.queue)
	f.notifier.AssertExpectations(t)
}

func TestEnqueueDeduplicatesAndReportsFullQueue(t *testing.T) {
	cfg := testConfig()
	cfg.GenerationQueue = 1
	w := NewGenerationWorker(cfg, testLogger(), newMemDB().stores(), &scriptedCompleter{}, nil, nil, nil)

	assert.True(t, w.Enqueue("job-1"))
	assert.True(t, w.Enqueue("job-1"))
	assert.Len(t, w.queue, 1)
	assert.False(t, w.Enqueue("job-2"))
}

func TestRunProcessesQueuedJobs(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.completer.answers["code-model"] = "<html></html>"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()

	id, err := f.projects.CreateProject(context.Background(), "acc-1", "portfolio")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		jobs := f.db.jobsFor(id)
		return len(jobs) == 1 && jobs[0].Status == models.JobStatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestJobsRejectsUnknownStatus(t *testing.T) {
	f := newWorkerFixture(t)
	_, err := f.worker.Jobs(context.Background(), models.JobStatus("bogus"), 10)
	require.ErrorIs(t, err, ErrInvalidInput)

	jobs, err := f.worker.Jobs(context.Background(), models.JobStatusPending, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestFailTruncatesLongReason(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.completer.errs["code-model"] = fmt.Errorf("%s", strings.Repeat("x", 2000))
	f.notifier.On("GenerationFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Once()

	id := f.createAndRun(t, "portfolio")
	assert.Len(t, f.db.jobsFor(id)[0].Error, maxErrorLength)
}

func TestFailKeepsMultibyteReasonValid(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.completer.errs["code-model"] = fmt.Errorf("%s", strings.Repeat("é", 600))
	f.notifier.On("GenerationFailed", mock.Anything, mock.Anything, "acc-1", mock.Anything).Once()

	id := f.createAndRun(t, "portfolio")

	job := f.db.jobsFor(id)[0]
	assert.True(t, utf8.ValidString(job.Error))
	assert.Equal(t, maxErrorLength, utf8.RuneCountInString(job.Error))
	assert.True(t, job.Refunded)
	assert.Equal(t, 20, f.db.balance("acc-1"))
}

func TestLongRevisionRequestSucceeds(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.completer.answers["code-model"] = "<p>v1</p>"
	id := f.createAndRun(t, "portfolio")

	request := strings.Repeat("make it bluer ", 200)
	f.completer.answers["code-model"] = "<p>v2</p>"
	require.NoError(t, f.projects.Revise(context.Background(), "acc-1", id, request))
	jobs := f.db.jobsFor(id)
	require.Len(t, jobs, 2)
	require.NoError(t, f.worker.Process(context.Background(), jobs[1].ID))

	project, err := f.projects.GetProject(context.Background(), "acc-1", id)
	require.NoError(t, err)
	require.Len(t, project.Versions, 2)
	description := project.Versions[1].Description
	assert.True(t, strings.HasPrefix(description, "Changes made: make it bluer"))
	assert.Equal(t, maxDescription, utf8.RuneCountInString(description))
	assert.Equal(t, "<p>v2</p>", *project.CurrentCode)
	assert.Equal(t, models.JobStatusSucceeded, f.db.jobsFor(id)[1].Status)
	assert.Equal(t, 10, f.db.balance("acc-1"))
}

func TestProcessReleasesJobWhenLookupFails(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.completer.answers["code-model"] = "<html></html>"

	id, err := f.projects.CreateProject(context.Background(), "acc-1", "portfolio")
	require.NoError(t, err)
	jobID := f.db.jobsFor(id)[0].ID

	f.db.fail["Jobs.Get"] = errors.New("connection reset")
	require.Error(t, f.worker.Process(context.Background(), jobID))
	assert.Equal(t, models.JobStatusPending, f.db.jobsFor(id)[0].Status)

	delete(f.db.fail, "Jobs.Get")
	require.NoError(t, f.worker.Process(context.Background(), jobID))
	assert.Equal(t, models.JobStatusSucceeded, f.db.jobsFor(id)[0].Status)
}

func TestSettledJobIsNotFinishedTwice(t *testing.T) {
	f := newWorkerFixture(t)
	f.db.addAccount("acc-1", 20)
	f.notifier.On("GenerationFailed", mock.Anything, mock.Anything, "acc-1", "interrupted by restart").Once()

	id, err := f.projects.CreateProject(context.Background(), "acc-1", "portfolio")
	require.NoError(t, err)
	job := f.db.jobsFor(id)[0]
	claimed, err := f.db.stores().Jobs.Claim(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	// another instance restarts and settles the job this worker is still running
	require.NoError(t, f.worker.Reconcile(context.Background()))
	assert.Equal(t, 20, f.db.balance("acc-1"))

	err = f.worker.succeed(context.Background(), &job, "<html></html>", initialVersionLabel, msgCreated)
	require.ErrorIs(t, err, errJobNotRunning)
	f.worker.fail(context.Background(), &job, "late failure")

	project, err := f.projects.GetProject(context.Background(), "acc-1", id)
	require.NoError(t, err)
	assert.Empty(t, project.Versions)
	assert.Nil(t, project.CurrentCode)
	assert.Equal(t, 20, f.db.balance("acc-1"))
	assert.Len(t, f.db.ledgerFor("acc-1"), 2)
	assert.Equal(t, models.JobStatusFailed, f.db.jobsFor(id)[0].Status)
	f.notifier.AssertExpectations(t)
}
