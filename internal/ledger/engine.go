package ledger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/duobank/duobank/internal/audit"
	"github.com/duobank/duobank/internal/exchange"
	"github.com/duobank/duobank/internal/money"
	"github.com/duobank/duobank/internal/notification"
)

// Engine performs all balance mutations. Each operation runs inside exactly
// one storage unit of work: accounts are locked in one global ascending id
// order, balances and double-entry records change together, the audit record
// is written in the same transaction, and notifications go out only after the
// commit is durable.
type Engine struct {
	store    Store
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewEngine constructs the ledger engine.
func NewEngine(store Store, notifier notification.Notifier, logger *slog.Logger) *Engine {
	return &Engine{store: store, notifier: notifier, logger: logger}
}

// TransferOutcome is the result of a committed transfer.
type TransferOutcome struct {
	TransactionID string
}

// ExchangeOutcome is the result of a committed exchange.
type ExchangeOutcome struct {
	TransactionID  string
	Rate           string
	DstAmountCents int64
}

// Transfer moves amountRaw of currency from one user to the owner of toEmail.
func (e *Engine) Transfer(ctx context.Context, fromUserID, toEmailRaw string, currency money.Currency, amountRaw string) (TransferOutcome, error) {
	amount, err := money.ParseAmount(amountRaw)
	if err != nil {
		return TransferOutcome{}, err
	}
	if amount <= 0 {
		return TransferOutcome{}, ErrAmountNotPositive
	}
	if _, err := money.ParseCurrency(string(currency)); err != nil {
		return TransferOutcome{}, err
	}
	toEmail := strings.ToLower(strings.TrimSpace(toEmailRaw))

	var outcome TransferOutcome
	var toUserID string
	err = e.store.ExecTx(ctx, func(uow UnitOfWork) error {
		var ok bool
		toUserID, ok, err = uow.UserIDByEmail(ctx, toEmail)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRecipientNotFound
		}
		if toUserID == fromUserID {
			return ErrSelfTransfer
		}

		fromAccountID, ok, err := uow.AccountID(ctx, fromUserID, currency)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		toAccountID, ok, err := uow.AccountID(ctx, toUserID, currency)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}

		locked, err := uow.LockAccounts(ctx, []string{fromAccountID, toAccountID})
		if err != nil {
			return err
		}
		from, ok := rowByID(locked, fromAccountID)
		if !ok {
			return ErrAccountNotFound
		}
		// Re-checked under the lock: the pre-lock view may be stale.
		if from.BalanceCents < amount {
			return ErrInsufficientFunds
		}

		txID, err := uow.InsertTransfer(ctx, TransferRecord{
			FromUserID:    fromUserID,
			ToUserID:      toUserID,
			Currency:      currency,
			AmountCents:   amount,
			FromAccountID: fromAccountID,
			ToAccountID:   toAccountID,
		})
		if err != nil {
			return err
		}

		entries := []EntryInput{
			{AccountID: fromAccountID, Currency: currency, AmountCents: -amount},
			{AccountID: toAccountID, Currency: currency, AmountCents: amount},
		}
		if err := uow.InsertEntries(ctx, txID, entries); err != nil {
			return err
		}
		if err := uow.ApplyBalanceDelta(ctx, fromAccountID, -amount); err != nil {
			return err
		}
		if err := uow.ApplyBalanceDelta(ctx, toAccountID, amount); err != nil {
			return err
		}

		if err := assertConserved(entries); err != nil {
			return err
		}
		if from.BalanceCents-amount < 0 {
			return ErrLedgerImbalance
		}

		if err := uow.WriteAudit(ctx, audit.Entry{
			UserID:     fromUserID,
			Action:     "transaction.transfer",
			EntityType: "transaction",
			EntityID:   txID,
			Metadata: map[string]any{
				"currency":    currency,
				"amountCents": amount,
				"toEmail":     toEmail,
			},
		}); err != nil {
			return err
		}

		outcome = TransferOutcome{TransactionID: txID}
		return nil
	})
	if err != nil {
		return TransferOutcome{}, mapStoreError(err)
	}

	payload := map[string]any{"reason": TypeTransfer, "transactionId": outcome.TransactionID}
	e.notify(ctx, fromUserID, payload)
	e.notify(ctx, toUserID, payload)

	return outcome, nil
}

// Exchange converts amountRaw of fromCurrency into the other supported
// currency at the fixed rate, with the system FX accounts absorbing each leg.
func (e *Engine) Exchange(ctx context.Context, userID string, fromCurrency money.Currency, amountRaw string) (ExchangeOutcome, error) {
	amount, err := money.ParseAmount(amountRaw)
	if err != nil {
		return ExchangeOutcome{}, err
	}
	if amount <= 0 {
		return ExchangeOutcome{}, ErrAmountNotPositive
	}

	quote, err := exchange.Convert(fromCurrency, amount)
	if err != nil {
		return ExchangeOutcome{}, err
	}

	var outcome ExchangeOutcome
	err = e.store.ExecTx(ctx, func(uow UnitOfWork) error {
		srcAccountID, ok, err := uow.AccountID(ctx, userID, quote.FromCurrency)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		dstAccountID, ok, err := uow.AccountID(ctx, userID, quote.ToCurrency)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}

		sysSrcAccountID, ok, err := uow.SystemAccountID(ctx, quote.FromCurrency)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSystemAccountMissing
		}
		sysDstAccountID, ok, err := uow.SystemAccountID(ctx, quote.ToCurrency)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSystemAccountMissing
		}

		locked, err := uow.LockAccounts(ctx, []string{srcAccountID, dstAccountID, sysSrcAccountID, sysDstAccountID})
		if err != nil {
			return err
		}
		src, ok := rowByID(locked, srcAccountID)
		if !ok {
			return ErrAccountNotFound
		}
		if src.BalanceCents < quote.FromAmountCents {
			return ErrInsufficientFunds
		}

		txID, err := uow.InsertExchange(ctx, ExchangeRecord{
			UserID:          userID,
			FromAccountID:   srcAccountID,
			ToAccountID:     dstAccountID,
			SrcCurrency:     quote.FromCurrency,
			DstCurrency:     quote.ToCurrency,
			SrcAmountCents:  quote.FromAmountCents,
			DstAmountCents:  quote.ToAmountCents,
			RateNumerator:   quote.RateNumerator,
			RateDenominator: quote.RateDenominator,
		})
		if err != nil {
			return err
		}

		// Each currency leg balances independently against the FX account.
		entries := []EntryInput{
			{AccountID: srcAccountID, Currency: quote.FromCurrency, AmountCents: -quote.FromAmountCents},
			{AccountID: sysSrcAccountID, Currency: quote.FromCurrency, AmountCents: quote.FromAmountCents},
			{AccountID: sysDstAccountID, Currency: quote.ToCurrency, AmountCents: -quote.ToAmountCents},
			{AccountID: dstAccountID, Currency: quote.ToCurrency, AmountCents: quote.ToAmountCents},
		}
		if err := uow.InsertEntries(ctx, txID, entries); err != nil {
			return err
		}
		for _, entry := range entries {
			if err := uow.ApplyBalanceDelta(ctx, entry.AccountID, entry.AmountCents); err != nil {
				return err
			}
		}

		if err := assertConserved(entries); err != nil {
			return err
		}
		if src.BalanceCents-quote.FromAmountCents < 0 {
			return ErrLedgerImbalance
		}

		if err := uow.WriteAudit(ctx, audit.Entry{
			UserID:     userID,
			Action:     "transaction.exchange",
			EntityType: "transaction",
			EntityID:   txID,
			Metadata: map[string]any{
				"srcCurrency":     quote.FromCurrency,
				"dstCurrency":     quote.ToCurrency,
				"srcAmountCents":  quote.FromAmountCents,
				"dstAmountCents":  quote.ToAmountCents,
				"rateNumerator":   quote.RateNumerator,
				"rateDenominator": quote.RateDenominator,
			},
		}); err != nil {
			return err
		}

		outcome = ExchangeOutcome{
			TransactionID:  txID,
			Rate:           quote.Rate(),
			DstAmountCents: quote.ToAmountCents,
		}
		return nil
	})
	if err != nil {
		return ExchangeOutcome{}, mapStoreError(err)
	}

	e.notify(ctx, userID, map[string]any{"reason": TypeExchange, "transactionId": outcome.TransactionID})

	return outcome, nil
}

// RegisterUser provisions the user row, its zero-balance USD and EUR
// accounts, the welcome grants and the registration audit record inside one
// unit of work. A failure at any step leaves no trace of the user.
func (e *Engine) RegisterUser(ctx context.Context, user UserRecord, grants map[money.Currency]int64) error {
	err := e.store.ExecTx(ctx, func(uow UnitOfWork) error {
		_, ok, err := uow.UserIDByEmail(ctx, user.Email)
		if err != nil {
			return err
		}
		if ok {
			return ErrEmailTaken
		}

		if err := uow.InsertUser(ctx, user); err != nil {
			return err
		}
		for _, currency := range []money.Currency{money.USD, money.EUR} {
			if _, err := uow.InsertAccount(ctx, user.ID, currency); err != nil {
				return err
			}
		}

		systemUserID, ok, err := uow.UserIDByEmail(ctx, SystemEmail)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSystemAccountMissing
		}
		for _, currency := range []money.Currency{money.EUR, money.USD} {
			if amount := grants[currency]; amount > 0 {
				if err := postGrant(ctx, uow, systemUserID, user.ID, currency, amount); err != nil {
					return err
				}
			}
		}

		return uow.WriteAudit(ctx, audit.Entry{
			UserID:     user.ID,
			Action:     "auth.register",
			EntityType: "user",
			EntityID:   user.ID,
			Metadata:   map[string]any{"email": user.Email},
		})
	})
	if err != nil {
		return mapStoreError(err)
	}
	return nil
}

// GrantInitial posts balance grants to an already-provisioned user as regular
// transfers from the system account, so the balances stay entry-backed.
func (e *Engine) GrantInitial(ctx context.Context, userID string, grants map[money.Currency]int64) error {
	err := e.store.ExecTx(ctx, func(uow UnitOfWork) error {
		systemUserID, ok, err := uow.UserIDByEmail(ctx, SystemEmail)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSystemAccountMissing
		}

		for _, currency := range []money.Currency{money.EUR, money.USD} {
			amount := grants[currency]
			if amount <= 0 {
				continue
			}
			if err := postGrant(ctx, uow, systemUserID, userID, currency, amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mapStoreError(err)
	}
	return nil
}

// postGrant moves amount of currency from the system account to the user
// inside the caller's unit of work.
func postGrant(ctx context.Context, uow UnitOfWork, systemUserID, userID string, currency money.Currency, amount int64) error {
	sysAccountID, ok, err := uow.SystemAccountID(ctx, currency)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSystemAccountMissing
	}
	accountID, ok, err := uow.AccountID(ctx, userID, currency)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}

	locked, err := uow.LockAccounts(ctx, []string{sysAccountID, accountID})
	if err != nil {
		return err
	}
	sys, ok := rowByID(locked, sysAccountID)
	if !ok {
		return ErrAccountNotFound
	}
	if sys.BalanceCents < amount {
		return ErrInsufficientFunds
	}

	txID, err := uow.InsertTransfer(ctx, TransferRecord{
		FromUserID:    systemUserID,
		ToUserID:      userID,
		Currency:      currency,
		AmountCents:   amount,
		FromAccountID: sysAccountID,
		ToAccountID:   accountID,
	})
	if err != nil {
		return err
	}
	entries := []EntryInput{
		{AccountID: sysAccountID, Currency: currency, AmountCents: -amount},
		{AccountID: accountID, Currency: currency, AmountCents: amount},
	}
	if err := uow.InsertEntries(ctx, txID, entries); err != nil {
		return err
	}
	if err := uow.ApplyBalanceDelta(ctx, sysAccountID, -amount); err != nil {
		return err
	}
	if err := uow.ApplyBalanceDelta(ctx, accountID, amount); err != nil {
		return err
	}
	if err := assertConserved(entries); err != nil {
		return err
	}

	return uow.WriteAudit(ctx, audit.Entry{
		UserID:     userID,
		Action:     "transaction.grant",
		EntityType: "transaction",
		EntityID:   txID,
		Metadata: map[string]any{
			"currency":    currency,
			"amountCents": amount,
		},
	})
}

// notify delivers a post-commit event. Failures are logged and swallowed: the
// transaction is already durable.
func (e *Engine) notify(ctx context.Context, userID string, payload map[string]any) {
	if e.notifier == nil {
		return
	}
	msg := notification.Message{UserID: userID, Event: notification.EventBalancesUpdated, Payload: payload}
	if err := e.notifier.Send(ctx, msg); err != nil && e.logger != nil {
		e.logger.Warn("notify user", "user_id", userID, "error", err)
	}
}

// assertConserved verifies that the entries sum to zero within every currency
// they touch. A failure here is an engine bug.
func assertConserved(entries []EntryInput) error {
	sums := make(map[money.Currency]int64, 2)
	for _, entry := range entries {
		sums[entry.Currency] += entry.AmountCents
	}
	for _, sum := range sums {
		if sum != 0 {
			return ErrLedgerImbalance
		}
	}
	return nil
}

func rowByID(rows []AccountRow, id string) (AccountRow, bool) {
	for _, row := range rows {
		if row.ID == id {
			return row, true
		}
	}
	return AccountRow{}, false
}
