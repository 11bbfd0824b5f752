package service

import (
	"context"
	"time"

	"github.com/digkill/buildgen/internal/billing"
	"github.com/digkill/buildgen/internal/models"
)

// TxRunner runs fn in a transaction carried by ctx.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type AccountStore interface {
	Get(ctx context.Context, id string) (*models.Account, error)
	GetForUpdate(ctx context.Context, id string) (*models.Account, error)
	Ensure(ctx context.Context, id, email, name string, startingCredits int) (*models.Account, bool, error)
	AddCredits(ctx context.Context, id string, delta int) error
	Debit(ctx context.Context, id string, amount int) (bool, error)
	IncrementCreations(ctx context.Context, id string) error
}

type ProjectStore interface {
	Create(ctx context.Context, project *models.Project) error
	Get(ctx context.Context, id string) (*models.Project, error)
	GetOwned(ctx context.Context, userID, id string) (*models.Project, error)
	ListByOwner(ctx context.Context, userID string) ([]models.Project, error)
	ListPublished(ctx context.Context) ([]models.Project, error)
	SetPublished(ctx context.Context, id string, published bool) error
	SetCurrent(ctx context.Context, id, code, versionID string) error
	Delete(ctx context.Context, userID, id string) (bool, error)
}

type ConversationStore interface {
	Append(ctx context.Context, projectID string, role models.Role, content string) error
	ListByProject(ctx context.Context, projectID string) ([]models.ConversationEntry, error)
}

type VersionStore interface {
	Create(ctx context.Context, projectID, code, description string) (*models.Version, error)
	Get(ctx context.Context, projectID, id string) (*models.Version, error)
	ListByProject(ctx context.Context, projectID string) ([]models.Version, error)
}

type JobStore interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	Get(ctx context.Context, id string) (*models.GenerationJob, error)
	Claim(ctx context.Context, id string) (bool, error)
	Finish(ctx context.Context, id string, status models.JobStatus, refunded bool, errMsg string) (bool, error)
	Release(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.GenerationJob, error)
	HasActive(ctx context.Context, projectID string) (bool, error)
}

type TransactionStore interface {
	Create(ctx context.Context, txn *models.Transaction) error
	Get(ctx context.Context, id string) (*models.Transaction, error)
	MarkPaid(ctx context.Context, id, providerRef string) (bool, error)
}

type LedgerStore interface {
	Append(ctx context.Context, userID string, delta int, reason models.LedgerReason, reference string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
}

type PromoStore interface {
	GetByID(ctx context.Context, id int64) (*models.PromoCode, error)
	GetByCodeForUpdate(ctx context.Context, code string) (*models.PromoCode, error)
	List(ctx context.Context) ([]models.PromoCode, error)
	Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error)
	Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error)
	Delete(ctx context.Context, id int64) error
	IncrementUsage(ctx context.Context, promoID int64) error
	HasUserRedeemed(ctx context.Context, userID string, promoID int64) (bool, error)
	RecordRedemption(ctx context.Context, userID string, promoID int64) error
}

// Stores groups the persistence collaborators shared by the services.
type Stores struct {
	Tx            TxRunner
	Accounts      AccountStore
	Projects      ProjectStore
	Conversations ConversationStore
	Versions      VersionStore
	Jobs          JobStore
	Transactions  TransactionStore
	Ledger        LedgerStore
	Promos        PromoStore
}

// Completer returns the text of one chat completion.
type Completer interface {
	Complete(ctx context.Context, model, system, user string) (string, error)
}

type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.Checkout, error)
	ParseWebhook(payload []byte, signature string) (*billing.Event, error)
}

// Publisher mirrors published projects to static hosting.
type Publisher interface {
	Publish(ctx context.Context, projectID, html string) (string, error)
	Unpublish(ctx context.Context, projectID string) error
}

type Notifier interface {
	GenerationFailed(jobID, projectID, userID, reason string)
	PaymentSettled(userID, transactionID string, credits int)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Recorder interface {
	ObserveGeneration(kind, status string, elapsed time.Duration)
	AddRefund(credits int)
	IncPaymentSettled()
	SetQueueDepth(n int)
}

type nopNotifier struct{}

func (nopNotifier) GenerationFailed(string, string, string, string) {}
func (nopNotifier) PaymentSettled(string, string, int)              {}

type nopRecorder struct{}

func (nopRecorder) ObserveGeneration(string, string, time.Duration) {}
func (nopRecorder) AddRefund(int)                                   {}
func (nopRecorder) IncPaymentSettled()                              {}
func (nopRecorder) SetQueueDepth(int)                               {}
