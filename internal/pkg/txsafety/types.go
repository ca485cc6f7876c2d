package txsafety

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Operation direction.
const (
	OpCredit = "credit"
	OpDebit  = "debit"
)

// ResultStatus is the outcome taxonomy for balance operations.
type ResultStatus string

const (
	StatusSuccess           ResultStatus = "SUCCESS"
	StatusFailed            ResultStatus = "FAILED"
	StatusRolledBack        ResultStatus = "ROLLED_BACK"
	StatusDuplicate         ResultStatus = "DUPLICATE"
	StatusInsufficientFunds ResultStatus = "INSUFFICIENT_FUNDS"
	StatusValidationFailed  ResultStatus = "VALIDATION_FAILED"
)

var (
	// ErrInsufficientFunds aborts a batch whose debit would drive a balance
	// component negative. Nothing is applied.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrWalletNotFound is returned when an operation targets a wallet that
	// does not exist.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrValidation marks operation input that failed structural validation.
	ErrValidation = errors.New("balance operation validation failed")
)

// BalanceOperation describes one balance component mutation. User wallets
// are addressed by user + currency, internal wallets by provider + currency.
type BalanceOperation struct {
	WalletType    string          `json:"wallet_type" validate:"required,oneof=user internal"`
	UserID        uint            `json:"user_id" validate:"required_if=WalletType user"`
	Provider      string          `json:"provider" validate:"required_if=WalletType internal"`
	Currency      string          `json:"currency" validate:"required,min=2,max=10"`
	BalanceType   string          `json:"balance_type" validate:"required,oneof=available frozen locked reserved"`
	Amount        decimal.Decimal `json:"amount" validate:"-"`
	Op            string          `json:"op" validate:"required,oneof=credit debit"`
	TransactionID string          `json:"transaction_id" validate:"omitempty,max=64"`
}

// OperationContext scopes a batch of operations to one logical transaction.
// TransactionID is the idempotency boundary: a completed token for it makes
// any replay a no-op.
type OperationContext struct {
	TransactionID string `validate:"required,min=1,max=64"`
	OperationType string `validate:"required,min=1,max=50"`
	InitiatedBy   string `validate:"omitempty,max=100"`
}

// Result reports the outcome of a balance operation batch.
type Result struct {
	Status            ResultStatus `json:"status"`
	DuplicateDetected bool         `json:"duplicate_detected"`
	AuditIDs          []string     `json:"audit_ids,omitempty"`
	Error             string       `json:"error,omitempty"`
}

// Succeeded reports whether the batch left storage in the requested state
// (either applied now or already applied by an earlier delivery).
func (r *Result) Succeeded() bool {
	return r.Status == StatusSuccess || r.Status == StatusDuplicate
}
