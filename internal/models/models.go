package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type JobKind string

const (
	JobKindInitial  JobKind = "initial"
	JobKindRevision JobKind = "revision"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

type LedgerReason string

const (
	LedgerReasonGeneration LedgerReason = "generation"
	LedgerReasonRevision   LedgerReason = "revision"
	LedgerReasonRefund     LedgerReason = "refund"
	LedgerReasonPurchase   LedgerReason = "purchase"
	LedgerReasonPromo      LedgerReason = "promo"
	LedgerReasonAdjustment LedgerReason = "adjustment"
)

type Account struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Credits       int       `json:"credits"`
	TotalCreation int       `json:"totalCreation"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Project struct {
	ID                  string              `json:"id"`
	UserID              string              `json:"userId"`
	Name                string              `json:"name"`
	InitialPrompt       string              `json:"initial_prompt"`
	CurrentCode         *string             `json:"current_code"`
	CurrentVersionIndex *string             `json:"current_version_index"`
	IsPublished         bool                `json:"isPublished"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
	Conversation        []ConversationEntry `json:"conversation,omitempty"`
	Versions            []Version           `json:"versions,omitempty"`
}

type ConversationEntry struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Version struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// GenerationJob is the durable record of one background generation attempt.
type GenerationJob struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	UserID    string    `json:"userId"`
	Kind      JobKind   `json:"kind"`
	Prompt    string    `json:"prompt"`
	Status    JobStatus `json:"status"`
	Cost      int       `json:"cost"`
	Refunded  bool      `json:"refunded"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	PlanID      string    `json:"planId"`
	Amount      int       `json:"amount"`
	Credits     int       `json:"credits"`
	IsPaid      bool      `json:"isPaid"`
	ProviderRef string    `json:"providerRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type LedgerEntry struct {
	ID        int64        `json:"id"`
	UserID    string       `json:"userId"`
	Delta     int          `json:"delta"`
	Reason    LedgerReason `json:"reason"`
	Reference string       `json:"reference"`
	CreatedAt time.Time    `json:"createdAt"`
}

type PromoCode struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Credits   int       `json:"credits"`
	MaxUses   int       `json:"max_uses"`
	Uses      int       `json:"uses"`
	CreatedAt time.Time `json:"created_at"`
}

// Plan is a credit package sold through checkout. Amount is in whole dollars.
type Plan struct {
	ID      string `json:"id"`
	Credits int    `json:"credits"`
	Amount  int    `json:"amount"`
}
