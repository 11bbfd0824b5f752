package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/digkill/buildgen/internal/billing"
	"github.com/digkill/buildgen/internal/config"
	"github.com/digkill/buildgen/internal/models"
	"github.com/digkill/buildgen/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		GenerationCost:    5,
		DefaultCredits:    20,
		GenerationWorkers: 2,
		GenerationQueue:   16,
		EnhanceModel:      "enhance-model",
		CodeModel:         "code-model",
		AppID:             "BuildGen",
		CheckoutExpiry:    30 * time.Minute,
	}
}

// memDB is an in-memory stand-in for MySQL. WithTransaction restores the previous
// state when fn fails.
type memDB struct {
	mu            sync.Mutex
	accounts      map[string]models.Account
	projects      map[string]models.Project
	conversations []models.ConversationEntry
	versions      []models.Version
	jobs          map[string]models.GenerationJob
	txns          map[string]models.Transaction
	ledger        []models.LedgerEntry
	promos        map[int64]models.PromoCode
	redemptions   map[string]bool
	seq           int64
	fail          map[string]error
}

func newMemDB() *memDB {
	return &memDB{
		accounts:    map[string]models.Account{},
		projects:    map[string]models.Project{},
		jobs:        map[string]models.GenerationJob{},
		txns:        map[string]models.Transaction{},
		promos:      map[int64]models.PromoCode{},
		redemptions: map[string]bool{},
		fail:        map[string]error{},
	}
}

func (m *memDB) stores() Stores {
	return Stores{
		Tx:            memTx{m},
		Accounts:      memAccounts{m},
		Projects:      memProjects{m},
		Conversations: memConversations{m},
		Versions:      memVersions{m},
		Jobs:          memJobs{m},
		Transactions:  memTransactions{m},
		Ledger:        memLedger{m},
		Promos:        memPromos{m},
	}
}

func (m *memDB) failWith(op string) error {
	return m.fail[op]
}

func (m *memDB) addAccount(id string, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = models.Account{ID: id, Credits: credits}
}

func (m *memDB) balance(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Credits
}

func (m *memDB) project(id string) (models.Project, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	return p, ok
}

func (m *memDB) jobsFor(projectID string) []models.GenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.GenerationJob
	for _, j := range m.jobs {
		if j.ProjectID == projectID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// finishJob drives a job through claim and success the way a worker would.
func finishJob(t *testing.T, m *memDB, jobID string) {
	t.Helper()
	jobs := m.stores().Jobs
	claimed, err := jobs.Claim(context.Background(), jobID)
	require.NoError(t, err)
	require.True(t, claimed)
	finished, err := jobs.Finish(context.Background(), jobID, models.JobStatusSucceeded, false, "")
	require.NoError(t, err)
	require.True(t, finished)
}

func (m *memDB) ledgerFor(userID string) []models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range m.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

type memSnapshot struct {
	accounts      map[string]models.Account
	projects      map[string]models.Project
	conversations []models.ConversationEntry
	versions      []models.Version
	jobs          map[string]models.GenerationJob
	txns          map[string]models.Transaction
	ledger        []models.LedgerEntry
	promos        map[int64]models.PromoCode
	redemptions   map[string]bool
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memDB) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memSnapshot{
		accounts:      cloneMap(m.accounts),
		projects:      cloneMap(m.projects),
		conversations: append([]models.ConversationEntry(nil), m.conversations...),
		versions:      append([]models.Version(nil), m.versions...),
		jobs:          cloneMap(m.jobs),
		txns:          cloneMap(m.txns),
		ledger:        append([]models.LedgerEntry(nil), m.ledger...),
		promos:        cloneMap(m.promos),
		redemptions:   cloneMap(m.redemptions),
	}
}

func (m *memDB) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = s.accounts
	m.projects = s.projects
	m.conversations = s.conversations
	m.versions = s.versions
	m.jobs = s.jobs
	m.txns = s.txns
	m.ledger = s.ledger
	m.promos = s.promos
	m.redemptions = s.redemptions
}

type memTxKey struct{}

type memTx struct{ m *memDB }

func (t memTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	snap := t.m.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		t.m.restore(snap)
		return err
	}
	return nil
}

type memAccounts struct{ m *memDB }

func (a memAccounts) Get(_ context.Context, id string) (*models.Account, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	acc, ok := a.m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (a memAccounts) GetForUpdate(ctx context.Context, id string) (*models.Account, error) {
	if err := a.m.failWith("Accounts.GetForUpdate"); err != nil {
		return nil, err
	}
	return a.Get(ctx, id)
}

func (a memAccounts) Ensure(_ context.Context, id, email, name string, starting int) (*models.Account, bool, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	if acc, ok := a.m.accounts[id]; ok {
		return &acc, false, nil
	}
	acc := models.Account{ID: id, Email: email, Name: name, Credits: starting}
	a.m.accounts[id] = acc
	return &acc, true, nil
}

func (a memAccounts) AddCredits(_ context.Context, id string, delta int) error {
	if err := a.m.failWith("Accounts.AddCredits"); err != nil {
		return err
	}
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	acc, ok := a.m.accounts[id]
	if !ok {
		return fmt.Errorf("account %s not found", id)
	}
	acc.Credits += delta
	a.m.accounts[id] = acc
	return nil
}

func (a memAccounts) Debit(_ context.Context, id string, amount int) (bool, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	acc, ok := a.m.accounts[id]
	if !ok || acc.Credits < amount {
		return false, nil
	}
	acc.Credits -= amount
	a.m.accounts[id] = acc
	return true, nil
}

func (a memAccounts) IncrementCreations(_ context.Context, id string) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	acc := a.m.accounts[id]
	acc.TotalCreation++
	a.m.accounts[id] = acc
	return nil
}

type memProjects struct{ m *memDB }

func (p memProjects) Create(_ context.Context, project *models.Project) error {
	if err := p.m.failWith("Projects.Create"); err != nil {
		return err
	}
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	cp := *project
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	p.m.projects[project.ID] = cp
	return nil
}

func (p memProjects) Get(_ context.Context, id string) (*models.Project, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	pr, ok := p.m.projects[id]
	if !ok {
		return nil, nil
	}
	return &pr, nil
}

func (p memProjects) GetOwned(ctx context.Context, userID, id string) (*models.Project, error) {
	pr, err := p.Get(ctx, id)
	if err != nil || pr == nil || pr.UserID != userID {
		return nil, err
	}
	return pr, nil
}

func (p memProjects) ListByOwner(_ context.Context, userID string) ([]models.Project, error) {
	return p.filter(func(pr models.Project) bool { return pr.UserID == userID }), nil
}

func (p memProjects) ListPublished(_ context.Context) ([]models.Project, error) {
	return p.filter(func(pr models.Project) bool { return pr.IsPublished }), nil
}

func (p memProjects) filter(keep func(models.Project) bool) []models.Project {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	out := make([]models.Project, 0)
	for _, pr := range p.m.projects {
		if keep(pr) {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.After(out[k].UpdatedAt) })
	return out
}

func (p memProjects) SetPublished(_ context.Context, id string, published bool) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	pr := p.m.projects[id]
	pr.IsPublished = published
	p.m.projects[id] = pr
	return nil
}

func (p memProjects) SetCurrent(_ context.Context, id, code, versionID string) error {
	if err := p.m.failWith("Projects.SetCurrent"); err != nil {
		return err
	}
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	pr := p.m.projects[id]
	pr.CurrentCode = &code
	pr.CurrentVersionIndex = &versionID
	pr.UpdatedAt = time.Now()
	p.m.projects[id] = pr
	return nil
}

func (p memProjects) Delete(_ context.Context, userID, id string) (bool, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	pr, ok := p.m.projects[id]
	if !ok || pr.UserID != userID {
		return false, nil
	}
	delete(p.m.projects, id)
	return true, nil
}

type memConversations struct{ m *memDB }

func (c memConversations) Append(_ context.Context, projectID string, role models.Role, content string) error {
	if err := c.m.failWith("Conversations.Append"); err != nil {
		return err
	}
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.conversations = append(c.m.conversations, models.ConversationEntry{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	return nil
}

func (c memConversations) ListByProject(_ context.Context, projectID string) ([]models.ConversationEntry, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	out := make([]models.ConversationEntry, 0)
	for _, e := range c.m.conversations {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memVersions struct{ m *memDB }

func (v memVersions) Create(_ context.Context, projectID, code, description string) (*models.Version, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	ver := models.Version{ID: uuid.NewString(), ProjectID: projectID, Code: code, Description: description, Timestamp: time.Now()}
	v.m.versions = append(v.m.versions, ver)
	return &ver, nil
}

func (v memVersions) Get(_ context.Context, projectID, id string) (*models.Version, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	for _, ver := range v.m.versions {
		if ver.ID == id && ver.ProjectID == projectID {
			return &ver, nil
		}
	}
	return nil, nil
}

func (v memVersions) ListByProject(_ context.Context, projectID string) ([]models.Version, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	out := make([]models.Version, 0)
	for _, ver := range v.m.versions {
		if ver.ProjectID == projectID {
			out = append(out, ver)
		}
	}
	return out, nil
}

type memJobs struct{ m *memDB }

func (j memJobs) Create(_ context.Context, job *models.GenerationJob) error {
	if err := j.m.failWith("Jobs.Create"); err != nil {
		return err
	}
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	cp := *job
	cp.CreatedAt = time.Now()
	j.m.jobs[job.ID] = cp
	return nil
}

func (j memJobs) Get(_ context.Context, id string) (*models.GenerationJob, error) {
	if err := j.m.failWith("Jobs.Get"); err != nil {
		return nil, err
	}
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	job, ok := j.m.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (j memJobs) Claim(_ context.Context, id string) (bool, error) {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	job, ok := j.m.jobs[id]
	if !ok || job.Status != models.JobStatusPending {
		return false, nil
	}
	job.Status = models.JobStatusRunning
	j.m.jobs[id] = job
	return true, nil
}

func (j memJobs) Finish(_ context.Context, id string, status models.JobStatus, refunded bool, errMsg string) (bool, error) {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	job, ok := j.m.jobs[id]
	if !ok || job.Status != models.JobStatusRunning {
		return false, nil
	}
	job.Status = status
	job.Refunded = refunded
	job.Error = errMsg
	j.m.jobs[id] = job
	return true, nil
}

func (j memJobs) Release(_ context.Context, id string) error {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	job, ok := j.m.jobs[id]
	if ok && job.Status == models.JobStatusRunning {
		job.Status = models.JobStatusPending
		j.m.jobs[id] = job
	}
	return nil
}

func (j memJobs) ListByStatus(_ context.Context, status models.JobStatus, limit int) ([]models.GenerationJob, error) {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	out := make([]models.GenerationJob, 0)
	for _, job := range j.m.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j memJobs) HasActive(_ context.Context, projectID string) (bool, error) {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	for _, job := range j.m.jobs {
		if job.ProjectID == projectID && (job.Status == models.JobStatusPending || job.Status == models.JobStatusRunning) {
			return true, nil
		}
	}
	return false, nil
}

type memTransactions struct{ m *memDB }

func (t memTransactions) Create(_ context.Context, txn *models.Transaction) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.txns[txn.ID] = *txn
	return nil
}

func (t memTransactions) Get(_ context.Context, id string) (*models.Transaction, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	txn, ok := t.m.txns[id]
	if !ok {
		return nil, nil
	}
	return &txn, nil
}

func (t memTransactions) MarkPaid(_ context.Context, id, ref string) (bool, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	txn, ok := t.m.txns[id]
	if !ok || txn.IsPaid {
		return false, nil
	}
	txn.IsPaid = true
	txn.ProviderRef = ref
	t.m.txns[id] = txn
	return true, nil
}

type memLedger struct{ m *memDB }

func (l memLedger) Append(_ context.Context, userID string, delta int, reason models.LedgerReason, ref string) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	l.m.seq++
	l.m.ledger = append(l.m.ledger, models.LedgerEntry{ID: l.m.seq, UserID: userID, Delta: delta, Reason: reason, Reference: ref})
	return nil
}

func (l memLedger) ListByUser(_ context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	entries := l.m.ledgerFor(userID)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

type memPromos struct{ m *memDB }

func (p memPromos) GetByID(_ context.Context, id int64) (*models.PromoCode, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	promo, ok := p.m.promos[id]
	if !ok {
		return nil, nil
	}
	return &promo, nil
}

func (p memPromos) GetByCodeForUpdate(_ context.Context, code string) (*models.PromoCode, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	for _, promo := range p.m.promos {
		if promo.Code == strings.ToUpper(code) {
			return &promo, nil
		}
	}
	return nil, nil
}

func (p memPromos) List(_ context.Context) ([]models.PromoCode, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	out := make([]models.PromoCode, 0, len(p.m.promos))
	for _, promo := range p.m.promos {
		out = append(out, promo)
	}
	return out, nil
}

func (p memPromos) Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	p.m.mu.Lock()
	p.m.seq++
	cp := *promo
	cp.ID = p.m.seq
	cp.Code = strings.ToUpper(cp.Code)
	p.m.promos[cp.ID] = cp
	p.m.mu.Unlock()
	return p.GetByID(ctx, cp.ID)
}

func (p memPromos) Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	p.m.mu.Lock()
	p.m.promos[promo.ID] = *promo
	p.m.mu.Unlock()
	return p.GetByID(ctx, promo.ID)
}

func (p memPromos) Delete(_ context.Context, id int64) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	delete(p.m.promos, id)
	return nil
}

func (p memPromos) IncrementUsage(_ context.Context, id int64) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	promo := p.m.promos[id]
	if promo.Uses >= promo.MaxUses {
		return repository.ErrPromoExhausted
	}
	promo.Uses++
	p.m.promos[id] = promo
	return nil
}

func (p memPromos) HasUserRedeemed(_ context.Context, userID string, id int64) (bool, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.m.redemptions[redemptionKey(userID, id)], nil
}

func (p memPromos) RecordRedemption(_ context.Context, userID string, id int64) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.m.redemptions[redemptionKey(userID, id)] = true
	return nil
}

func redemptionKey(userID string, id int64) string {
	return fmt.Sprintf("%s/%d", userID, id)
}

// scriptedCompleter answers by model name; an error entry wins over text.
type scriptedCompleter struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	calls   []completionCall
}

type completionCall struct {
	Model  string
	System string
	User   string
}

func (c *scriptedCompleter) Complete(_ context.Context, model, system, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, completionCall{Model: model, System: system, User: user})
	if err := c.errs[model]; err != nil {
		return "", err
	}
	return c.answers[model], nil
}

type recordingQueue struct {
	ids []string
}

func (q *recordingQueue) Enqueue(id string) bool {
	q.ids = append(q.ids, id)
	return true
}

type fakeGateway struct {
	requests []billing.CheckoutRequest
	event    *billing.Event
	parseErr error
}

func (g *fakeGateway) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (*billing.Checkout, error) {
	g.requests = append(g.requests, req)
	return &billing.Checkout{SessionID: "cs_test", URL: "https://checkout.test/cs_test"}, nil
}

func (g *fakeGateway) ParseWebhook([]byte, string) (*billing.Event, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	return g.event, nil
}

type fakePublisher struct {
	mu          sync.Mutex
	published   map[string]string
	unpublished []string
}

func (p *fakePublisher) Publish(_ context.Context, projectID, html string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.published == nil {
		p.published = map[string]string{}
	}
	p.published[projectID] = html
	return "https://cdn.test/" + projectID, nil
}

func (p *fakePublisher) Unpublish(_ context.Context, projectID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unpublished = append(p.unpublished, projectID)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }
