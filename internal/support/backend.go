// Package support provides the account data behind the support
// responder's tools: user profiles, transactions, account limits and
// transfer diagnostics.
package support

import (
	"context"
	"time"
)

// DefaultHistoryLimit is the number of transactions returned when the
// caller does not ask for a specific count.
const DefaultHistoryLimit = 5

// fallbackUser supplies profile and transaction data for unknown keys.
const fallbackUser = "user_test"

// Profile is a user's account profile.
type Profile struct {
	Found             bool   `json:"found"`
	UserID            string `json:"user_id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Document          string `json:"document"`
	AccountStatus     string `json:"account_status"`
	VerificationLevel string `json:"verification_level"`
	AccountType       string `json:"account_type"`
	CreatedAt         string `json:"created_at"`
	Role              string `json:"role,omitempty"`
	BlockReason       string `json:"block_reason,omitempty"`
}

// Transaction is a single account movement.
type Transaction struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Method    string    `json:"method"`
	Merchant  string    `json:"merchant,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Status    string    `json:"status"`
	Date      time.Time `json:"date"`
}

// History is a page of a user's most recent transactions.
type History struct {
	UserKey       string        `json:"user_key"`
	Transactions  []Transaction `json:"transactions"`
	TotalCount    int           `json:"total_count"`
	ReturnedCount int           `json:"returned_count"`
	TotalAmount   float64       `json:"total_amount"`
	Currency      string        `json:"currency,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// AccountStatus describes an account's limits and restrictions.
type AccountStatus struct {
	Found             bool       `json:"found"`
	UserKey           string     `json:"user_key,omitempty"`
	UserID            string     `json:"user_id,omitempty"`
	AccountStatus     string     `json:"account_status,omitempty"`
	CanSend           bool       `json:"can_send"`
	CanReceive        bool       `json:"can_receive"`
	DailySendLimit    float64    `json:"daily_send_limit"`
	DailyReceiveLimit float64    `json:"daily_receive_limit"`
	UsedToday         float64    `json:"used_today"`
	RemainingToday    float64    `json:"remaining_today"`
	Currency          string     `json:"currency,omitempty"`
	LastTransaction   *time.Time `json:"last_transaction,omitempty"`
	Restrictions      []string   `json:"restrictions,omitempty"`
	BlockReason       string     `json:"block_reason,omitempty"`
	BlockedSince      string     `json:"blocked_since,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// TransferDiagnosis reports what is wrong with a transfer, if anything.
type TransferDiagnosis struct {
	Found               bool       `json:"found"`
	TransferID          string     `json:"transfer_id"`
	UserID              string     `json:"user_id,omitempty"`
	Status              string     `json:"status"`
	Amount              float64    `json:"amount,omitempty"`
	Recipient           string     `json:"recipient,omitempty"`
	CreatedAt           *time.Time `json:"created_at,omitempty"`
	IssueDetected       bool       `json:"issue_detected"`
	IssueType           string     `json:"issue_type,omitempty"`
	IssueDescription    string     `json:"issue_description,omitempty"`
	CanRetry            *bool      `json:"can_retry,omitempty"`
	CanCancel           *bool      `json:"can_cancel,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	Recommendations     []string   `json:"recommendations,omitempty"`
	SupportTicket       string     `json:"support_ticket,omitempty"`
	Message             string     `json:"message,omitempty"`
}

// Backend answers the support tools' lookups. Unknown users and
// transfers are reported in the returned value, never as an error;
// errors mean the backend itself failed.
type Backend interface {
	LookupUser(ctx context.Context, userKey string) (*Profile, error)
	TransactionHistory(ctx context.Context, userKey string, limit int) (*History, error)
	AccountStatus(ctx context.Context, userKey string) (*AccountStatus, error)
	TroubleshootTransfer(ctx context.Context, transferID string) (*TransferDiagnosis, error)
}
