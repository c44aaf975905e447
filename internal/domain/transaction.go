package domain

import (
	"time"
)

// TransactionType enumerates the supported transaction kinds.
type TransactionType string

const (
	TypePayment    TransactionType = "PAYMENT"
	TypeTransfer   TransactionType = "TRANSFER"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypeDeposit    TransactionType = "DEPOSIT"
)

// ValidType reports whether t is one of the supported transaction types.
func ValidType(t TransactionType) bool {
	switch t {
	case TypePayment, TypeTransfer, TypeWithdrawal, TypeDeposit:
		return true
	}
	return false
}

// TypeCode returns a stable integer encoding of the transaction type,
// used as a model feature.
func TypeCode(t TransactionType) int {
	switch t {
	case TypePayment:
		return 0
	case TypeTransfer:
		return 1
	case TypeWithdrawal:
		return 2
	case TypeDeposit:
		return 3
	}
	return -1
}

// TransactionStatus enumerates the lifecycle states of a transaction.
type TransactionStatus string

const (
	StatusPending       TransactionStatus = "PENDING"
	StatusCompleted     TransactionStatus = "COMPLETED"
	StatusFraudDetected TransactionStatus = "FRAUD_DETECTED"
	StatusCancelled     TransactionStatus = "CANCELLED"
	StatusFailed        TransactionStatus = "FAILED"
)

// MinAmount is the smallest accepted transaction amount.
const MinAmount = 0.01

// Transaction is an immutable snapshot of a financial transaction.
// Status and FraudScore are mutated only through the engine's single
// authorized path; everything else is fixed at creation.
type Transaction struct {
	ID        string `json:"id"`
	Reference string `json:"reference"` // human-readable, globally unique

	Type        TransactionType `json:"type"`
	Amount      float64         `json:"amount"` // > 0, minimum 0.01
	Description string          `json:"description,omitempty"`

	Status     TransactionStatus `json:"status"`
	FraudScore *float64          `json:"fraudScore,omitempty"` // last ensemble confidence

	UserID string `json:"userId"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TransactionRequest is the API request payload for creating a transaction.
type TransactionRequest struct {
	Reference   string          `json:"reference"`
	Type        TransactionType `json:"type"`
	Amount      float64         `json:"amount"`
	Description string          `json:"description,omitempty"`
	UserID      string          `json:"userId"`
}

// ToTransaction converts a request to a PENDING transaction snapshot.
func (r *TransactionRequest) ToTransaction(id string) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:          id,
		Reference:   r.Reference,
		Type:        r.Type,
		Amount:      r.Amount,
		Description: r.Description,
		Status:      StatusPending,
		UserID:      r.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Role identifies who is requesting a lifecycle transition.
type Role string

const (
	RoleSystem Role = "SYSTEM"
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
)

// Actor is the identity behind an administrative or user action.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// UserAggregates carries the per-user statistics consumed by the
// feature extractor: how many transactions the user has made and
// their average amount.
type UserAggregates struct {
	UserID           string  `json:"userId"`
	TransactionCount int64   `json:"transactionCount"`
	AverageAmount    float64 `json:"averageAmount"`

	// RecentCount is the number of evaluations observed for the user
	// within the velocity window. Counted at evaluation time, never
	// cached with the history aggregates.
	RecentCount int64 `json:"recentCount"`
}
