package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/duobank/duobank/internal/audit"
	"github.com/duobank/duobank/internal/money"
)

// Transaction types.
const (
	TypeTransfer = "transfer"
	TypeExchange = "exchange"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks the balance
	// to cover a requested movement.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAmountNotPositive occurs when a parsed amount is zero.
	ErrAmountNotPositive = errors.New("amount must be greater than zero")

	// ErrSelfTransfer occurs when sender and recipient are the same user.
	ErrSelfTransfer = errors.New("cannot transfer to self")

	// ErrRecipientNotFound occurs when no user owns the recipient email.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrAccountNotFound occurs when an account cannot be resolved or
	// disappears between resolution and locking.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransactionNotFound occurs when a transaction does not exist or does
	// not belong to the caller.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrLedgerImbalance indicates a violated conservation invariant. This is
	// an engine fault, never a user error.
	ErrLedgerImbalance = errors.New("ledger integrity failure")

	// ErrSystemAccountMissing indicates the FX counterparty accounts were
	// never seeded. A deployment fault, not a user error.
	ErrSystemAccountMissing = errors.New("system accounts not seeded")

	// ErrEmailTaken occurs when a registration email is already in use.
	ErrEmailTaken = errors.New("email already registered")
)

// Storage backends surface these fixed markers for conditions also enforced
// at the database layer. They are translated to the matching sentinel errors.
const (
	markerInsufficientFunds = "Insufficient funds"
	markerLedgerImbalance   = "Ledger is not balanced"
)

func mapStoreError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, markerInsufficientFunds) {
		return ErrInsufficientFunds
	}
	if strings.Contains(msg, markerLedgerImbalance) {
		return ErrLedgerImbalance
	}
	return err
}

// UserRecord is the persisted form of a user as the ledger stores see it.
type UserRecord struct {
	ID           string
	Email        string
	Name         string
	PasswordHash []byte
	CreatedAt    time.Time
}

// AccountRow is the locked view of one account inside a unit of work.
type AccountRow struct {
	ID           string
	UserID       string
	Currency     money.Currency
	BalanceCents int64
}

// EntryInput is one signed ledger movement to be recorded.
type EntryInput struct {
	AccountID   string
	Currency    money.Currency
	AmountCents int64
}

// TransferRecord captures the persisted fields of a transfer transaction.
type TransferRecord struct {
	FromUserID    string
	ToUserID      string
	Currency      money.Currency
	AmountCents   int64
	FromAccountID string
	ToAccountID   string
}

// ExchangeRecord captures the persisted fields of an exchange transaction,
// including the exact rate fraction.
type ExchangeRecord struct {
	UserID          string
	FromAccountID   string
	ToAccountID     string
	SrcCurrency     money.Currency
	DstCurrency     money.Currency
	SrcAmountCents  int64
	DstAmountCents  int64
	RateNumerator   int64
	RateDenominator int64
}

// ListFilter narrows and pages a transaction listing.
type ListFilter struct {
	Type  string
	Page  int
	Limit int
}

// TransactionSummary is one row of a transaction listing. Transfer and
// exchange rows populate different field subsets, as in the HTTP projection.
type TransactionSummary struct {
	ID        string
	Type      string
	CreatedAt time.Time

	Direction         string
	Currency          money.Currency
	AmountCents       int64
	CounterpartyEmail string

	SrcCurrency     money.Currency
	DstCurrency     money.Currency
	SrcAmountCents  int64
	DstAmountCents  int64
	RateNumerator   int64
	RateDenominator int64
}

// ListPage is a page of transaction summaries.
type ListPage struct {
	Page  int
	Limit int
	Items []TransactionSummary
}

// Entry is one persisted ledger entry.
type Entry struct {
	ID          string
	AccountID   string
	Currency    money.Currency
	AmountCents int64
	CreatedAt   time.Time
}

// TransactionDetail is the full record of one transaction with its entries.
type TransactionDetail struct {
	ID         string
	Type       string
	CreatedAt  time.Time
	FromUserID string
	ToUserID   string

	Currency    money.Currency
	AmountCents int64

	SrcCurrency     money.Currency
	DstCurrency     money.Currency
	SrcAmountCents  int64
	DstAmountCents  int64
	RateNumerator   int64
	RateDenominator int64

	Entries []Entry
}

// ReconcileItem compares one account's stored balance against its summed
// ledger entries.
type ReconcileItem struct {
	AccountID      string
	Currency       money.Currency
	BalanceCents   int64
	LedgerSumCents int64
	DiffCents      int64
	OK             bool
}

// ReconcileReport aggregates reconciliation across a user's accounts.
type ReconcileReport struct {
	OK    bool
	Items []ReconcileItem
}

// UnitOfWork is the set of operations available inside one atomic storage
// transaction. Every mutation made through it becomes visible all at once on
// commit or not at all.
type UnitOfWork interface {
	UserIDByEmail(ctx context.Context, email string) (string, bool, error)
	AccountID(ctx context.Context, userID string, currency money.Currency) (string, bool, error)
	SystemAccountID(ctx context.Context, currency money.Currency) (string, bool, error)

	// LockAccounts deduplicates and sorts the ids ascending, acquires an
	// exclusive lock on exactly those rows and re-reads their balances. Fewer
	// rows than distinct ids means an account vanished: ErrAccountNotFound.
	LockAccounts(ctx context.Context, ids []string) ([]AccountRow, error)

	// InsertUser and InsertAccount provision a user row and one zero-balance
	// account, so registration and its welcome grants share one transaction.
	InsertUser(ctx context.Context, rec UserRecord) error
	InsertAccount(ctx context.Context, userID string, currency money.Currency) (string, error)

	InsertTransfer(ctx context.Context, rec TransferRecord) (string, error)
	InsertExchange(ctx context.Context, rec ExchangeRecord) (string, error)
	InsertEntries(ctx context.Context, transactionID string, entries []EntryInput) error
	ApplyBalanceDelta(ctx context.Context, accountID string, deltaCents int64) error
	WriteAudit(ctx context.Context, entry audit.Entry) error
}

// Store is the storage port consumed by the engine and the read-side
// services. ExecTx runs fn inside one unit of work with commit/rollback
// semantics; the remaining methods are lock-free reads.
type Store interface {
	ExecTx(ctx context.Context, fn func(uow UnitOfWork) error) error

	ListAccounts(ctx context.Context, userID string) ([]AccountRow, error)
	Account(ctx context.Context, accountID string) (AccountRow, bool, error)
	ListTransactions(ctx context.Context, userID string, filter ListFilter) (ListPage, error)
	TransactionDetail(ctx context.Context, userID, transactionID string) (TransactionDetail, error)
	Reconcile(ctx context.Context, userID string) (ReconcileReport, error)
}
