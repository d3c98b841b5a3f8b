package ledger

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duobank/duobank/internal/audit"
	"github.com/duobank/duobank/internal/money"
)

type memUser struct {
	ID           string
	Email        string
	Name         string
	PasswordHash []byte
	CreatedAt    time.Time
}

type memTransaction struct {
	ID         string
	Type       string
	CreatedAt  time.Time
	FromUserID string
	ToUserID   string

	Currency      money.Currency
	AmountCents   int64
	FromAccountID string
	ToAccountID   string

	SrcCurrency     money.Currency
	DstCurrency     money.Currency
	SrcAmountCents  int64
	DstAmountCents  int64
	RateNumerator   int64
	RateDenominator int64
}

type memEntry struct {
	Entry
	TransactionID string
}

type ownerKey struct {
	userID   string
	currency money.Currency
}

// MemoryStore is a concurrency-safe in-memory ledger store for unit tests and
// credential-free development. A single mutex serializes units of work, so
// each ExecTx observes and publishes state atomically, matching the
// commit-or-abort contract of the Postgres store.
type MemoryStore struct {
	mu sync.Mutex

	users        map[string]memUser
	usersByEmail map[string]string
	accounts     map[string]*AccountRow
	byOwner      map[ownerKey]string
	transactions []memTransaction
	entries      []memEntry
	audits       []audit.Entry

	systemUserID string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]memUser),
		usersByEmail: make(map[string]string),
		accounts:     make(map[string]*AccountRow),
		byOwner:      make(map[ownerKey]string),
	}
}

// ExecTx serializes the unit of work under the store mutex. On error every
// staged effect is discarded: inserted users and accounts disappear, balances
// are restored and appended records truncated, so no partial state survives.
func (s *MemoryStore) ExecTx(_ context.Context, fn func(uow UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	usersSnap := maps.Clone(s.users)
	emailSnap := maps.Clone(s.usersByEmail)
	accountsSnap := maps.Clone(s.accounts)
	ownerSnap := maps.Clone(s.byOwner)
	balances := make(map[string]int64, len(s.accounts))
	for id, acct := range s.accounts {
		balances[id] = acct.BalanceCents
	}
	txCount, entryCount, auditCount := len(s.transactions), len(s.entries), len(s.audits)

	if err := fn(&memUnitOfWork{store: s}); err != nil {
		s.users = usersSnap
		s.usersByEmail = emailSnap
		s.accounts = accountsSnap
		s.byOwner = ownerSnap
		for id, bal := range balances {
			s.accounts[id].BalanceCents = bal
		}
		s.transactions = s.transactions[:txCount]
		s.entries = s.entries[:entryCount]
		s.audits = s.audits[:auditCount]
		return err
	}
	return nil
}

type memUnitOfWork struct {
	store *MemoryStore
}

func (u *memUnitOfWork) UserIDByEmail(_ context.Context, email string) (string, bool, error) {
	id, ok := u.store.usersByEmail[email]
	return id, ok, nil
}

func (u *memUnitOfWork) AccountID(_ context.Context, userID string, currency money.Currency) (string, bool, error) {
	id, ok := u.store.byOwner[ownerKey{userID: userID, currency: currency}]
	return id, ok, nil
}

func (u *memUnitOfWork) SystemAccountID(_ context.Context, currency money.Currency) (string, bool, error) {
	if u.store.systemUserID == "" {
		return "", false, nil
	}
	id, ok := u.store.byOwner[ownerKey{userID: u.store.systemUserID, currency: currency}]
	return id, ok, nil
}

// LockAccounts mirrors the Postgres contract. The store mutex already grants
// exclusivity; deduplication, ordering and the row-count re-check are kept
// for behavioral parity.
func (u *memUnitOfWork) LockAccounts(_ context.Context, ids []string) ([]AccountRow, error) {
	distinct := dedupeSorted(ids)
	locked := make([]AccountRow, 0, len(distinct))
	for _, id := range distinct {
		acct, ok := u.store.accounts[id]
		if !ok {
			return nil, ErrAccountNotFound
		}
		locked = append(locked, *acct)
	}
	return locked, nil
}

func (u *memUnitOfWork) InsertUser(_ context.Context, rec UserRecord) error {
	if _, exists := u.store.usersByEmail[rec.Email]; exists {
		return ErrEmailTaken
	}
	u.store.users[rec.ID] = memUser{
		ID:           rec.ID,
		Email:        rec.Email,
		Name:         rec.Name,
		PasswordHash: rec.PasswordHash,
		CreatedAt:    rec.CreatedAt,
	}
	u.store.usersByEmail[rec.Email] = rec.ID
	return nil
}

func (u *memUnitOfWork) InsertAccount(_ context.Context, userID string, currency money.Currency) (string, error) {
	id := uuid.NewString()
	u.store.accounts[id] = &AccountRow{ID: id, UserID: userID, Currency: currency}
	u.store.byOwner[ownerKey{userID: userID, currency: currency}] = id
	return id, nil
}

func (u *memUnitOfWork) InsertTransfer(_ context.Context, rec TransferRecord) (string, error) {
	tx := memTransaction{
		ID:            uuid.NewString(),
		Type:          TypeTransfer,
		CreatedAt:     time.Now().UTC(),
		FromUserID:    rec.FromUserID,
		ToUserID:      rec.ToUserID,
		Currency:      rec.Currency,
		AmountCents:   rec.AmountCents,
		FromAccountID: rec.FromAccountID,
		ToAccountID:   rec.ToAccountID,
	}
	u.store.transactions = append(u.store.transactions, tx)
	return tx.ID, nil
}

func (u *memUnitOfWork) InsertExchange(_ context.Context, rec ExchangeRecord) (string, error) {
	tx := memTransaction{
		ID:              uuid.NewString(),
		Type:            TypeExchange,
		CreatedAt:       time.Now().UTC(),
		FromUserID:      rec.UserID,
		ToUserID:        rec.UserID,
		FromAccountID:   rec.FromAccountID,
		ToAccountID:     rec.ToAccountID,
		SrcCurrency:     rec.SrcCurrency,
		DstCurrency:     rec.DstCurrency,
		SrcAmountCents:  rec.SrcAmountCents,
		DstAmountCents:  rec.DstAmountCents,
		RateNumerator:   rec.RateNumerator,
		RateDenominator: rec.RateDenominator,
	}
	u.store.transactions = append(u.store.transactions, tx)
	return tx.ID, nil
}

func (u *memUnitOfWork) InsertEntries(_ context.Context, transactionID string, entries []EntryInput) error {
	for _, in := range entries {
		u.store.entries = append(u.store.entries, memEntry{
			Entry: Entry{
				ID:          uuid.NewString(),
				AccountID:   in.AccountID,
				Currency:    in.Currency,
				AmountCents: in.AmountCents,
				CreatedAt:   time.Now().UTC(),
			},
			TransactionID: transactionID,
		})
	}
	return nil
}

func (u *memUnitOfWork) ApplyBalanceDelta(_ context.Context, accountID string, deltaCents int64) error {
	acct, ok := u.store.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	acct.BalanceCents += deltaCents
	return nil
}

func (u *memUnitOfWork) WriteAudit(_ context.Context, entry audit.Entry) error {
	u.store.audits = append(u.store.audits, entry)
	return nil
}

// FindUserByEmail returns the stored user record for an email.
func (s *MemoryStore) FindUserByEmail(email string) (UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByEmail[email]
	if !ok {
		return UserRecord{}, false
	}
	return toUserRecord(s.users[id]), true
}

// FindUserByID returns the stored user record for an id.
func (s *MemoryStore) FindUserByID(id string) (UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return UserRecord{}, false
	}
	return toUserRecord(user), true
}

func toUserRecord(user memUser) UserRecord {
	return UserRecord{
		ID:           user.ID,
		Email:        user.Email,
		Name:         user.Name,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
	}
}

// ListAccounts returns the user's accounts ordered by currency.
func (s *MemoryStore) ListAccounts(_ context.Context, userID string) ([]AccountRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AccountRow
	for _, currency := range []money.Currency{money.EUR, money.USD} {
		if id, ok := s.byOwner[ownerKey{userID: userID, currency: currency}]; ok {
			out = append(out, *s.accounts[id])
		}
	}
	return out, nil
}

// Account fetches a single account by id.
func (s *MemoryStore) Account(_ context.Context, accountID string) (AccountRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return AccountRow{}, false, nil
	}
	return *acct, true, nil
}

// ListTransactions pages the user's transactions newest first.
func (s *MemoryStore) ListTransactions(_ context.Context, userID string, filter ListFilter) (ListPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}

	var matched []memTransaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if tx.FromUserID != userID && tx.ToUserID != userID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		matched = append(matched, tx)
	}

	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	result := ListPage{Page: page, Limit: limit, Items: []TransactionSummary{}}
	for _, tx := range matched[start:end] {
		item := TransactionSummary{ID: tx.ID, Type: tx.Type, CreatedAt: tx.CreatedAt}
		if tx.Type == TypeTransfer {
			item.Currency = tx.Currency
			item.AmountCents = tx.AmountCents
			if tx.FromUserID == userID {
				item.Direction = "out"
				item.CounterpartyEmail = s.users[tx.ToUserID].Email
			} else {
				item.Direction = "in"
				item.CounterpartyEmail = s.users[tx.FromUserID].Email
			}
		} else {
			item.SrcCurrency = tx.SrcCurrency
			item.DstCurrency = tx.DstCurrency
			item.SrcAmountCents = tx.SrcAmountCents
			item.DstAmountCents = tx.DstAmountCents
			item.RateNumerator = tx.RateNumerator
			item.RateDenominator = tx.RateDenominator
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// TransactionDetail returns one transaction with its entries, scoped to
// participants.
func (s *MemoryStore) TransactionDetail(_ context.Context, userID, transactionID string) (TransactionDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range s.transactions {
		if tx.ID != transactionID {
			continue
		}
		if tx.FromUserID != userID && tx.ToUserID != userID {
			return TransactionDetail{}, ErrTransactionNotFound
		}
		detail := TransactionDetail{
			ID:              tx.ID,
			Type:            tx.Type,
			CreatedAt:       tx.CreatedAt,
			FromUserID:      tx.FromUserID,
			ToUserID:        tx.ToUserID,
			Currency:        tx.Currency,
			AmountCents:     tx.AmountCents,
			SrcCurrency:     tx.SrcCurrency,
			DstCurrency:     tx.DstCurrency,
			SrcAmountCents:  tx.SrcAmountCents,
			DstAmountCents:  tx.DstAmountCents,
			RateNumerator:   tx.RateNumerator,
			RateDenominator: tx.RateDenominator,
		}
		for _, entry := range s.entries {
			if entry.TransactionID == tx.ID {
				detail.Entries = append(detail.Entries, entry.Entry)
			}
		}
		return detail, nil
	}
	return TransactionDetail{}, ErrTransactionNotFound
}

// Reconcile compares stored balances against summed entries for the user.
func (s *MemoryStore) Reconcile(_ context.Context, userID string) (ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := ReconcileReport{OK: true, Items: []ReconcileItem{}}
	for _, currency := range []money.Currency{money.EUR, money.USD} {
		id, ok := s.byOwner[ownerKey{userID: userID, currency: currency}]
		if !ok {
			continue
		}
		acct := s.accounts[id]
		var sum int64
		for _, entry := range s.entries {
			if entry.AccountID == id {
				sum += entry.AmountCents
			}
		}
		item := ReconcileItem{
			AccountID:      id,
			Currency:       currency,
			BalanceCents:   acct.BalanceCents,
			LedgerSumCents: sum,
			DiffCents:      acct.BalanceCents - sum,
		}
		item.OK = item.DiffCents == 0
		if !item.OK {
			report.OK = false
		}
		report.Items = append(report.Items, item)
	}
	return report, nil
}
