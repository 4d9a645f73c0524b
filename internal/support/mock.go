package support

import (
	"context"
	"log/slog"
	"time"
)

// MockBackend serves fixed demo accounts. Timestamps are computed
// relative to the current time on every call so the data always looks
// recent.
type MockBackend struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewMockBackend creates the demo backend.
func NewMockBackend(logger *slog.Logger) *MockBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockBackend{
		now:    time.Now,
		logger: logger.With("component", "support_backend", "mocked", true),
	}
}

var mockProfiles = map[string]Profile{
	"user_leo": {
		UserID:            "user_leo",
		Name:              "Leonardo Frizzo",
		Email:             "leonardo.frizzo@cloudwalk.io",
		Phone:             "+55 11 98765-4321",
		Document:          "123.456.789-00",
		AccountStatus:     "active",
		VerificationLevel: "full",
		AccountType:       "business",
		CreatedAt:         "2024-01-15",
		Role:              "Head of Engineering",
	},
	"user_luiz": {
		UserID:            "user_luiz",
		Name:              "Luiz Silva",
		Email:             "luiz.silva@cloudwalk.io",
		Phone:             "+55 11 91234-5678",
		Document:          "987.654.321-00",
		AccountStatus:     "active",
		VerificationLevel: "full",
		AccountType:       "business",
		CreatedAt:         "2023-06-10",
		Role:              "CEO",
	},
	"user_test": {
		UserID:            "user_test",
		Name:              "Maria Santos",
		Email:             "maria.santos@example.com",
		Phone:             "+55 11 99999-8888",
		Document:          "111.222.333-44",
		AccountStatus:     "active",
		VerificationLevel: "basic",
		AccountType:       "personal",
		CreatedAt:         "2025-03-20",
	},
	"user_blocked": {
		UserID:            "user_blocked",
		Name:              "João Silva",
		Email:             "joao.silva@example.com",
		Phone:             "+55 11 97777-6666",
		Document:          "555.666.777-88",
		AccountStatus:     "blocked",
		VerificationLevel: "basic",
		AccountType:       "personal",
		CreatedAt:         "2025-11-05",
		BlockReason:       "Suspicious activity detected",
	},
}

// mockTx is a transaction whose date is an offset into the past.
type mockTx struct {
	tx  Transaction
	age time.Duration
}

const day = 24 * time.Hour

var mockTransactions = map[string][]mockTx{
	"user_leo": {
		{Transaction{ID: "tx_leo_001", Type: "payment_received", Amount: 1250.00, Currency: "BRL", Method: "credit_card", Merchant: "CloudWalk Store", Status: "completed"}, 1 * day},
		{Transaction{ID: "tx_leo_002", Type: "pix_sent", Amount: 500.00, Currency: "BRL", Method: "pix", Recipient: "Maria Santos", Status: "completed"}, 3 * day},
		{Transaction{ID: "tx_leo_003", Type: "payment_received", Amount: 3500.00, Currency: "BRL", Method: "debit_card", Merchant: "Tech Solutions", Status: "completed"}, 5 * day},
	},
	"user_luiz": {
		{Transaction{ID: "tx_luiz_001", Type: "payment_received", Amount: 15000.00, Currency: "BRL", Method: "credit_card", Merchant: "InfinitePay Consulting", Status: "completed"}, 12 * time.Hour},
		{Transaction{ID: "tx_luiz_002", Type: "pix_sent", Amount: 2000.00, Currency: "BRL", Method: "pix", Recipient: "Leonardo Frizzo", Status: "completed"}, 2 * day},
	},
	"user_test": {
		{Transaction{ID: "tx_test_001", Type: "payment_received", Amount: 150.00, Currency: "BRL", Method: "debit_card", Merchant: "Padaria São Paulo", Status: "completed"}, 1 * day},
		{Transaction{ID: "tx_test_002", Type: "payment_received", Amount: 50.00, Currency: "BRL", Method: "credit_card", Merchant: "Uber", Status: "completed"}, 2 * day},
	},
}

var mockStatuses = map[string]AccountStatus{
	"user_leo": {
		UserID: "user_leo", AccountStatus: "active", CanSend: true, CanReceive: true,
		DailySendLimit: 10000, DailyReceiveLimit: 50000, UsedToday: 1750, RemainingToday: 8250,
		Currency: "BRL", Restrictions: []string{},
	},
	"user_luiz": {
		UserID: "user_luiz", AccountStatus: "active", CanSend: true, CanReceive: true,
		DailySendLimit: 50000, DailyReceiveLimit: 100000, UsedToday: 2000, RemainingToday: 48000,
		Currency: "BRL", Restrictions: []string{},
	},
	"user_test": {
		UserID: "user_test", AccountStatus: "active", CanSend: true, CanReceive: true,
		DailySendLimit: 1000, DailyReceiveLimit: 5000, UsedToday: 200, RemainingToday: 800,
		Currency: "BRL", Restrictions: []string{"needs_verification_for_higher_limits"},
	},
	"user_blocked": {
		UserID: "user_blocked", AccountStatus: "blocked",
		Currency: "BRL", Restrictions: []string{"account_blocked"},
		BlockReason: "Suspicious activity detected", BlockedSince: "2025-11-05",
	},
}

// mockTransfer is a transfer diagnosis with times as offsets from now.
type mockTransfer struct {
	diag TransferDiagnosis
	age  time.Duration
	eta  time.Duration
}

func boolPtr(b bool) *bool { return &b }

var mockTransfers = map[string]mockTransfer{
	"tx_leo_pending_001": {
		diag: TransferDiagnosis{
			TransferID:       "tx_leo_pending_001",
			UserID:           "user_leo",
			Status:           "pending",
			Amount:           5000.00,
			Recipient:        "João Silva",
			IssueDetected:    true,
			IssueType:        "recipient_bank_processing_delay",
			IssueDescription: "Transfer is being processed by recipient's bank. Expected completion in 1-2 hours.",
			CanCancel:        boolPtr(true),
			Recommendations: []string{
				"Wait for recipient bank to process the transfer",
				"If not completed in 2 hours, contact support",
			},
		},
		age: 30 * time.Minute,
		eta: time.Hour,
	},
	"tx_test_failed_001": {
		diag: TransferDiagnosis{
			TransferID:       "tx_test_failed_001",
			UserID:           "user_test",
			Status:           "failed",
			Amount:           1500.00,
			Recipient:        "Maria Santos",
			IssueDetected:    true,
			IssueType:        "daily_limit_exceeded",
			IssueDescription: "Transfer failed because it would exceed your daily send limit of R$ 1000.00. You have already used R$ 200.00 today.",
			CanRetry:         boolPtr(false),
			Recommendations: []string{
				"Wait until tomorrow to retry",
				"Request a limit increase in your account settings",
				"Split the transfer into smaller amounts over multiple days",
			},
		},
		age: 2 * time.Hour,
	},
	"tx_blocked_001": {
		diag: TransferDiagnosis{
			TransferID:       "tx_blocked_001",
			UserID:           "user_blocked",
			Status:           "blocked",
			Amount:           500.00,
			Recipient:        "Leonardo Frizzo",
			IssueDetected:    true,
			IssueType:        "account_blocked",
			IssueDescription: "Transfer blocked due to suspicious activity on your account. Account is currently under review.",
			CanRetry:         boolPtr(false),
			CanCancel:        boolPtr(false),
			Recommendations: []string{
				"Contact support immediately to resolve account block",
				"Provide identity verification documents",
				"Review recent account activity for unauthorized transactions",
			},
			SupportTicket: "SUP-2025-001234",
		},
		age: day,
	},
}

// LookupUser returns the user's profile. Unknown keys get the demo
// profile re-keyed to the caller.
func (m *MockBackend) LookupUser(_ context.Context, userKey string) (*Profile, error) {
	p, ok := mockProfiles[userKey]
	if !ok {
		m.logger.Info("unknown user, using default profile", "user_key", maskKey(userKey))
		p = mockProfiles[fallbackUser]
		p.UserID = userKey
	}
	p.Found = true
	return &p, nil
}

// TransactionHistory returns up to limit of the user's most recent
// transactions, newest first. Unknown keys get the demo history.
func (m *MockBackend) TransactionHistory(_ context.Context, userKey string, limit int) (*History, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	txs, ok := mockTransactions[userKey]
	if !ok {
		m.logger.Info("unknown user, using default transactions", "user_key", maskKey(userKey))
		txs = mockTransactions[fallbackUser]
	}
	if len(txs) == 0 {
		return &History{
			UserKey:      userKey,
			Transactions: []Transaction{},
			Message:      "No transactions found",
		}, nil
	}

	now := m.now()
	n := min(limit, len(txs))
	h := &History{
		UserKey:       userKey,
		Transactions:  make([]Transaction, 0, n),
		TotalCount:    len(txs),
		ReturnedCount: n,
		Currency:      "BRL",
	}
	for _, mt := range txs[:n] {
		tx := mt.tx
		tx.Date = now.Add(-mt.age)
		h.Transactions = append(h.Transactions, tx)
		h.TotalAmount += tx.Amount
	}
	return h, nil
}

// AccountStatus returns the account's limits. Unknown keys are reported
// as not found.
func (m *MockBackend) AccountStatus(_ context.Context, userKey string) (*AccountStatus, error) {
	st, ok := mockStatuses[userKey]
	if !ok {
		m.logger.Warn("no account status for user", "user_key", maskKey(userKey))
		return &AccountStatus{UserKey: userKey, Found: false, Error: "Account not found"}, nil
	}
	st.Found = true
	if st.AccountStatus == "active" {
		now := m.now()
		st.LastTransaction = &now
	}
	return &st, nil
}

// TroubleshootTransfer diagnoses a transfer. Transfers with no recorded
// issue are reported as completed.
func (m *MockBackend) TroubleshootTransfer(_ context.Context, transferID string) (*TransferDiagnosis, error) {
	mt, ok := mockTransfers[transferID]
	if !ok {
		return &TransferDiagnosis{
			Found:         true,
			TransferID:    transferID,
			Status:        "completed",
			IssueDetected: false,
			Message:       "Transfer completed successfully with no issues detected",
		}, nil
	}

	now := m.now()
	d := mt.diag
	d.Found = true
	created := now.Add(-mt.age)
	d.CreatedAt = &created
	if mt.eta > 0 {
		eta := now.Add(mt.eta)
		d.EstimatedCompletion = &eta
	}
	m.logger.Warn("transfer issue detected", "transfer_id", transferID, "issue_type", d.IssueType)
	return &d, nil
}

// maskKey shortens a user key for logs.
func maskKey(k string) string {
	if len(k) <= 8 {
		return k
	}
	return k[:8] + "..."
}
