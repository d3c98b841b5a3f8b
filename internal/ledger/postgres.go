package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duobank/duobank/internal/audit"
	"github.com/duobank/duobank/internal/money"
)

// SystemEmail identifies the reserved user owning the FX counterparty
// accounts.
const SystemEmail = "system@bank.local"

// PostgresStore persists the ledger in PostgreSQL with row-level locking.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// ExecTx runs fn inside one database transaction. Any error rolls everything
// back; a nil return commits.
func (s *PostgresStore) ExecTx(ctx context.Context, fn func(uow UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgxUnitOfWork{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgxUnitOfWork struct {
	tx pgx.Tx
}

func (u *pgxUnitOfWork) UserIDByEmail(ctx context.Context, email string) (string, bool, error) {
	var id uuid.UUID
	err := u.tx.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id.String(), true, nil
}

func (u *pgxUnitOfWork) AccountID(ctx context.Context, userID string, currency money.Currency) (string, bool, error) {
	var id uuid.UUID
	err := u.tx.QueryRow(ctx, `SELECT id FROM accounts WHERE user_id = $1 AND currency = $2`, userID, string(currency)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id.String(), true, nil
}

func (u *pgxUnitOfWork) SystemAccountID(ctx context.Context, currency money.Currency) (string, bool, error) {
	var id uuid.UUID
	err := u.tx.QueryRow(ctx, `
        SELECT a.id
        FROM accounts a
        JOIN users u ON u.id = a.user_id
        WHERE u.email = $1 AND a.currency = $2`, SystemEmail, string(currency)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id.String(), true, nil
}

// LockAccounts acquires FOR UPDATE locks on the distinct ids in ascending
// order. Ascending order is the global lock ordering: every operation locks
// its whole account set this way, so no two transactions can hold locks in
// conflicting order.
func (u *pgxUnitOfWork) LockAccounts(ctx context.Context, ids []string) ([]AccountRow, error) {
	distinct := dedupeSorted(ids)

	rows, err := u.tx.Query(ctx, `
        SELECT id, user_id, currency, balance_cents
        FROM accounts
        WHERE id = ANY($1::uuid[])
        ORDER BY id
        FOR UPDATE`, distinct)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locked []AccountRow
	for rows.Next() {
		var (
			id       uuid.UUID
			userID   uuid.UUID
			currency string
			balance  int64
		)
		if err := rows.Scan(&id, &userID, &currency, &balance); err != nil {
			return nil, err
		}
		locked = append(locked, AccountRow{
			ID:           id.String(),
			UserID:       userID.String(),
			Currency:     money.Currency(currency),
			BalanceCents: balance,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Checked after the locks are held, so a concurrent deletion cannot slip
	// past validation.
	if len(locked) != len(distinct) {
		return nil, ErrAccountNotFound
	}
	return locked, nil
}

func (u *pgxUnitOfWork) InsertUser(ctx context.Context, rec UserRecord) error {
	userID, err := uuid.Parse(rec.ID)
	if err != nil {
		return err
	}
	_, err = u.tx.Exec(ctx, `
        INSERT INTO users (id, email, name, password_hash, created_at)
        VALUES ($1, $2, $3, $4, $5)`,
		userID, rec.Email, rec.Name, string(rec.PasswordHash), rec.CreatedAt.UTC())
	return err
}

func (u *pgxUnitOfWork) InsertAccount(ctx context.Context, userID string, currency money.Currency) (string, error) {
	id := uuid.New()
	_, err := u.tx.Exec(ctx, `
        INSERT INTO accounts (id, user_id, currency, balance_cents)
        VALUES ($1, $2, $3, 0)`, id, userID, string(currency))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (u *pgxUnitOfWork) InsertTransfer(ctx context.Context, rec TransferRecord) (string, error) {
	id := uuid.New()
	_, err := u.tx.Exec(ctx, `
        INSERT INTO transactions (id, type, from_user_id, to_user_id, currency, amount_cents, from_account_id, to_account_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, TypeTransfer, rec.FromUserID, rec.ToUserID, string(rec.Currency), rec.AmountCents, rec.FromAccountID, rec.ToAccountID)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (u *pgxUnitOfWork) InsertExchange(ctx context.Context, rec ExchangeRecord) (string, error) {
	id := uuid.New()
	_, err := u.tx.Exec(ctx, `
        INSERT INTO transactions (id, type, from_user_id, to_user_id, from_account_id, to_account_id,
            src_currency, dst_currency, src_amount_cents, dst_amount_cents, rate_numerator, rate_denominator)
        VALUES ($1, $2, $3, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, TypeExchange, rec.UserID, rec.FromAccountID, rec.ToAccountID,
		string(rec.SrcCurrency), string(rec.DstCurrency), rec.SrcAmountCents, rec.DstAmountCents,
		rec.RateNumerator, rec.RateDenominator)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (u *pgxUnitOfWork) InsertEntries(ctx context.Context, transactionID string, entries []EntryInput) error {
	for _, entry := range entries {
		if _, err := u.tx.Exec(ctx, `
            INSERT INTO ledger_entries (id, transaction_id, account_id, currency, amount_cents)
            VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), transactionID, entry.AccountID, string(entry.Currency), entry.AmountCents); err != nil {
			return err
		}
	}
	return nil
}

func (u *pgxUnitOfWork) ApplyBalanceDelta(ctx context.Context, accountID string, deltaCents int64) error {
	cmd, err := u.tx.Exec(ctx, `UPDATE accounts SET balance_cents = balance_cents + $1 WHERE id = $2`, deltaCents, accountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (u *pgxUnitOfWork) WriteAudit(ctx context.Context, entry audit.Entry) error {
	return audit.WriteWith(ctx, u.tx, entry)
}

// ListAccounts returns the user's accounts ordered by currency.
func (s *PostgresStore) ListAccounts(ctx context.Context, userID string) ([]AccountRow, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, user_id, currency, balance_cents
        FROM accounts WHERE user_id = $1 ORDER BY currency`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountRow
	for rows.Next() {
		var (
			id       uuid.UUID
			ownerID  uuid.UUID
			currency string
			balance  int64
		)
		if err := rows.Scan(&id, &ownerID, &currency, &balance); err != nil {
			return nil, err
		}
		out = append(out, AccountRow{ID: id.String(), UserID: ownerID.String(), Currency: money.Currency(currency), BalanceCents: balance})
	}
	return out, rows.Err()
}

// Account fetches a single account by id.
func (s *PostgresStore) Account(ctx context.Context, accountID string) (AccountRow, bool, error) {
	var (
		id       uuid.UUID
		ownerID  uuid.UUID
		currency string
		balance  int64
	)
	err := s.db.QueryRow(ctx, `
        SELECT id, user_id, currency, balance_cents FROM accounts WHERE id = $1`, accountID).
		Scan(&id, &ownerID, &currency, &balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return AccountRow{}, false, nil
	}
	if err != nil {
		return AccountRow{}, false, err
	}
	return AccountRow{ID: id.String(), UserID: ownerID.String(), Currency: money.Currency(currency), BalanceCents: balance}, true, nil
}

// ListTransactions pages the transactions the user participated in, newest
// first.
func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, filter ListFilter) (ListPage, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}
	offset := (page - 1) * limit

	query := `
        SELECT t.id, t.type, t.created_at, t.from_user_id, t.to_user_id, fu.email, tu.email,
               t.currency, t.amount_cents,
               t.src_currency, t.dst_currency, t.src_amount_cents, t.dst_amount_cents,
               t.rate_numerator, t.rate_denominator
        FROM transactions t
        JOIN users fu ON fu.id = t.from_user_id
        JOIN users tu ON tu.id = t.to_user_id
        WHERE (t.from_user_id = $1 OR t.to_user_id = $1)`
	args := []any{userID}
	if filter.Type != "" {
		query += ` AND t.type = $2`
		args = append(args, filter.Type)
	}
	query += fmt.Sprintf(` ORDER BY t.created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return ListPage{}, err
	}
	defer rows.Close()

	result := ListPage{Page: page, Limit: limit, Items: []TransactionSummary{}}
	for rows.Next() {
		var (
			id, fromUserID, toUserID   uuid.UUID
			txType, fromEmail, toEmail string
			createdAt                  time.Time
			currency, srcCur, dstCur   *string
			amount, srcAmount          *int64
			dstAmount, rateNum, rateDen *int64
		)
		if err := rows.Scan(&id, &txType, &createdAt, &fromUserID, &toUserID, &fromEmail, &toEmail,
			&currency, &amount, &srcCur, &dstCur, &srcAmount, &dstAmount, &rateNum, &rateDen); err != nil {
			return ListPage{}, err
		}

		item := TransactionSummary{ID: id.String(), Type: txType, CreatedAt: createdAt}
		if txType == TypeTransfer {
			item.Direction = "in"
			item.CounterpartyEmail = fromEmail
			if fromUserID.String() == userID {
				item.Direction = "out"
				item.CounterpartyEmail = toEmail
			}
			if currency != nil {
				item.Currency = money.Currency(*currency)
			}
			if amount != nil {
				item.AmountCents = *amount
			}
		} else {
			if srcCur != nil {
				item.SrcCurrency = money.Currency(*srcCur)
			}
			if dstCur != nil {
				item.DstCurrency = money.Currency(*dstCur)
			}
			if srcAmount != nil {
				item.SrcAmountCents = *srcAmount
			}
			if dstAmount != nil {
				item.DstAmountCents = *dstAmount
			}
			if rateNum != nil {
				item.RateNumerator = *rateNum
			}
			if rateDen != nil {
				item.RateDenominator = *rateDen
			}
		}
		result.Items = append(result.Items, item)
	}
	return result, rows.Err()
}

// TransactionDetail returns the full record with ledger entries. A
// transaction the user did not participate in reads as not found.
func (s *PostgresStore) TransactionDetail(ctx context.Context, userID, transactionID string) (TransactionDetail, error) {
	txUUID, err := uuid.Parse(transactionID)
	if err != nil {
		return TransactionDetail{}, ErrTransactionNotFound
	}

	var (
		id, fromUserID, toUserID    uuid.UUID
		txType                      string
		createdAt                   time.Time
		currency, srcCur, dstCur    *string
		amount, srcAmount           *int64
		dstAmount, rateNum, rateDen *int64
	)
	err = s.db.QueryRow(ctx, `
        SELECT id, type, created_at, from_user_id, to_user_id,
               currency, amount_cents,
               src_currency, dst_currency, src_amount_cents, dst_amount_cents,
               rate_numerator, rate_denominator
        FROM transactions WHERE id = $1`, txUUID).
		Scan(&id, &txType, &createdAt, &fromUserID, &toUserID,
			&currency, &amount, &srcCur, &dstCur, &srcAmount, &dstAmount, &rateNum, &rateDen)
	if errors.Is(err, pgx.ErrNoRows) {
		return TransactionDetail{}, ErrTransactionNotFound
	}
	if err != nil {
		return TransactionDetail{}, err
	}
	if fromUserID.String() != userID && toUserID.String() != userID {
		return TransactionDetail{}, ErrTransactionNotFound
	}

	detail := TransactionDetail{
		ID:         id.String(),
		Type:       txType,
		CreatedAt:  createdAt,
		FromUserID: fromUserID.String(),
		ToUserID:   toUserID.String(),
	}
	if currency != nil {
		detail.Currency = money.Currency(*currency)
	}
	if amount != nil {
		detail.AmountCents = *amount
	}
	if srcCur != nil {
		detail.SrcCurrency = money.Currency(*srcCur)
	}
	if dstCur != nil {
		detail.DstCurrency = money.Currency(*dstCur)
	}
	if srcAmount != nil {
		detail.SrcAmountCents = *srcAmount
	}
	if dstAmount != nil {
		detail.DstAmountCents = *dstAmount
	}
	if rateNum != nil {
		detail.RateNumerator = *rateNum
	}
	if rateDen != nil {
		detail.RateDenominator = *rateDen
	}

	rows, err := s.db.Query(ctx, `
        SELECT id, account_id, currency, amount_cents, created_at
        FROM ledger_entries WHERE transaction_id = $1 ORDER BY created_at ASC, id ASC`, txUUID)
	if err != nil {
		return TransactionDetail{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entryID, accountID uuid.UUID
			cur                string
			cents              int64
			at                 time.Time
		)
		if err := rows.Scan(&entryID, &accountID, &cur, &cents, &at); err != nil {
			return TransactionDetail{}, err
		}
		detail.Entries = append(detail.Entries, Entry{
			ID:          entryID.String(),
			AccountID:   accountID.String(),
			Currency:    money.Currency(cur),
			AmountCents: cents,
			CreatedAt:   at,
		})
	}
	return detail, rows.Err()
}

// Reconcile compares each of the user's stored balances against its summed
// ledger entries. Pure read, no locks.
func (s *PostgresStore) Reconcile(ctx context.Context, userID string) (ReconcileReport, error) {
	rows, err := s.db.Query(ctx, `
        SELECT a.id, a.currency, a.balance_cents,
               COALESCE(SUM(le.amount_cents), 0)::bigint AS ledger_sum_cents
        FROM accounts a
        LEFT JOIN ledger_entries le ON le.account_id = a.id
        WHERE a.user_id = $1
        GROUP BY a.id, a.currency, a.balance_cents
        ORDER BY a.currency`, userID)
	if err != nil {
		return ReconcileReport{}, err
	}
	defer rows.Close()

	report := ReconcileReport{OK: true, Items: []ReconcileItem{}}
	for rows.Next() {
		var (
			id        uuid.UUID
			currency  string
			balance   int64
			ledgerSum int64
		)
		if err := rows.Scan(&id, &currency, &balance, &ledgerSum); err != nil {
			return ReconcileReport{}, err
		}
		item := ReconcileItem{
			AccountID:      id.String(),
			Currency:       money.Currency(currency),
			BalanceCents:   balance,
			LedgerSumCents: ledgerSum,
			DiffCents:      balance - ledgerSum,
		}
		item.OK = item.DiffCents == 0
		if !item.OK {
			report.OK = false
		}
		report.Items = append(report.Items, item)
	}
	return report, rows.Err()
}

func dedupeSorted(ids []string) []string {
	distinct := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}
	sort.Strings(distinct)
	return distinct
}
