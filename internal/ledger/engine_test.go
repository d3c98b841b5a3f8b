package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/duobank/duobank/internal/logging"
	"github.com/duobank/duobank/internal/money"
	"github.com/duobank/duobank/internal/notification"
)

type captureNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *captureNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *captureNotifier) sent() []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.Message, len(n.messages))
	copy(out, n.messages)
	return out
}

func newTestEngine(t *testing.T) (*Engine, *MemoryStore, *captureNotifier) {
	t.Helper()
	store := NewMemoryStore()
	store.Bootstrap()
	notifier := &captureNotifier{}
	return NewEngine(store, notifier, logging.Discard()), store, notifier
}

func grantedUser(t *testing.T, engine *Engine, store *MemoryStore, email string, usd, eur int64) string {
	t.Helper()
	id := store.AddUser(email, email)
	store.AddAccount(id, money.USD, 0)
	store.AddAccount(id, money.EUR, 0)
	grants := map[money.Currency]int64{money.USD: usd, money.EUR: eur}
	if err := engine.GrantInitial(context.Background(), id, grants); err != nil {
		t.Fatalf("grant initial balances: %v", err)
	}
	return id
}

func balanceOf(t *testing.T, store *MemoryStore, userID string, currency money.Currency) int64 {
	t.Helper()
	accounts, err := store.ListAccounts(context.Background(), userID)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	for _, acct := range accounts {
		if acct.Currency == currency {
			return acct.BalanceCents
		}
	}
	t.Fatalf("no %s account for %s", currency, userID)
	return 0
}

func TestTransferMovesFundsAndWritesEntries(t *testing.T) {
	engine, store, notifier := newTestEngine(t)
	ctx := context.Background()

	alice := grantedUser(t, engine, store, "alice@test.com", 100_000, 0)
	bob := grantedUser(t, engine, store, "bob@test.com", 100_000, 0)

	out, err := engine.Transfer(ctx, alice, "Bob@Test.com ", money.USD, "10.00")
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if out.TransactionID == "" {
		t.Fatal("expected a transaction id")
	}

	if got := balanceOf(t, store, alice, money.USD); got != 99_000 {
		t.Fatalf("expected alice USD 99000, got %d", got)
	}
	if got := balanceOf(t, store, bob, money.USD); got != 101_000 {
		t.Fatalf("expected bob USD 101000, got %d", got)
	}

	detail, err := store.TransactionDetail(ctx, alice, out.TransactionID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(detail.Entries))
	}
	var sum int64
	for _, entry := range detail.Entries {
		sum += entry.AmountCents
	}
	if sum != 0 {
		t.Fatalf("entries do not conserve: sum=%d", sum)
	}

	msgs := notifier.sent()
	if len(msgs) != 2 {
		t.Fatalf("expected notifications to both participants, got %d", len(msgs))
	}
	for _, msg := range msgs {
		if msg.Event != notification.EventBalancesUpdated {
			t.Fatalf("unexpected event %q", msg.Event)
		}
	}
}

func TestTransferInsufficientFundsLeavesStateUntouched(t *testing.T) {
	engine, store, notifier := newTestEngine(t)
	ctx := context.Background()

	alice := grantedUser(t, engine, store, "alice@test.com", 500, 0)
	grantedUser(t, engine, store, "bob@test.com", 0, 0)

	before, err := store.ListTransactions(ctx, alice, ListFilter{})
	if err != nil {
		t.Fatalf("list before: %v", err)
	}

	if _, err := engine.Transfer(ctx, alice, "bob@test.com", money.USD, "10.00"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if got := balanceOf(t, store, alice, money.USD); got != 500 {
		t.Fatalf("balance changed after rejected transfer: %d", got)
	}
	after, err := store.ListTransactions(ctx, alice, ListFilter{})
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(after.Items) != len(before.Items) {
		t.Fatalf("rejected transfer wrote rows: %d -> %d", len(before.Items), len(after.Items))
	}
	if report, _ := store.Reconcile(ctx, alice); !report.OK {
		t.Fatalf("reconcile failed after rejected transfer: %+v", report)
	}
	if len(notifier.sent()) != 0 {
		t.Fatal("no notification expected for a failed transfer")
	}
}

func TestTransferValidation(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	alice := grantedUser(t, engine, store, "alice@test.com", 100_000, 0)
	grantedUser(t, engine, store, "bob@test.com", 0, 0)

	if _, err := engine.Transfer(ctx, alice, "nobody@nowhere.test", money.USD, "10.00"); !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
	if _, err := engine.Transfer(ctx, alice, "alice@test.com", money.USD, "10.00"); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
	if _, err := engine.Transfer(ctx, alice, "bob@test.com", money.USD, "-5.00"); !errors.Is(err, money.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.Transfer(ctx, alice, "bob@test.com", money.USD, "0.00"); !errors.Is(err, ErrAmountNotPositive) {
		t.Fatalf("expected ErrAmountNotPositive, got %v", err)
	}
	if _, err := engine.Transfer(ctx, alice, "bob@test.com", money.Currency("GBP"), "10.00"); !errors.Is(err, money.ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestExchangeUSDToEUR(t *testing.T) {
	engine, store, notifier := newTestEngine(t)
	ctx := context.Background()

	alice := grantedUser(t, engine, store, "alice@test.com", 100_000, 0)

	out, err := engine.Exchange(ctx, alice, money.USD, "10.00")
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if out.DstAmountCents != 920 {
		t.Fatalf("expected 920 destination cents, got %d", out.DstAmountCents)
	}
	if out.Rate != "USD->EUR 92/100" {
		t.Fatalf("unexpected rate %q", out.Rate)
	}

	if got := balanceOf(t, store, alice, money.USD); got != 99_000 {
		t.Fatalf("expected USD 99000, got %d", got)
	}
	if got := balanceOf(t, store, alice, money.EUR); got != 920 {
		t.Fatalf("expected EUR 920, got %d", got)
	}

	detail, err := store.TransactionDetail(ctx, alice, out.TransactionID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Entries) != 4 {
		t.Fatalf("expected 4 ledger entries, got %d", len(detail.Entries))
	}
	sums := map[money.Currency]int64{}
	for _, entry := range detail.Entries {
		sums[entry.Currency] += entry.AmountCents
	}
	if sums[money.USD] != 0 || sums[money.EUR] != 0 {
		t.Fatalf("per-currency conservation violated: %+v", sums)
	}
	if detail.RateNumerator != 92 || detail.RateDenominator != 100 {
		t.Fatalf("rate pair not persisted verbatim: %d/%d", detail.RateNumerator, detail.RateDenominator)
	}

	msgs := notifier.sent()
	if len(msgs) != 1 || msgs[0].UserID != alice {
		t.Fatalf("expected one notification to the acting user, got %+v", msgs)
	}
}

func TestExchangeInsufficientFunds(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	alice := grantedUser(t, engine, store, "alice@test.com", 500, 0)

	if _, err := engine.Exchange(ctx, alice, money.USD, "10.00"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := balanceOf(t, store, alice, money.USD); got != 500 {
		t.Fatalf("balance changed after rejected exchange: %d", got)
	}
}

func TestExchangeWithoutSystemAccounts(t *testing.T) {
	store := NewMemoryStore() // no Bootstrap
	engine := NewEngine(store, nil, logging.Discard())
	ctx := context.Background()

	alice := store.AddUser("alice@test.com", "Alice")
	store.AddAccount(alice, money.USD, 100_000)
	store.AddAccount(alice, money.EUR, 0)

	if _, err := engine.Exchange(ctx, alice, money.USD, "10.00"); !errors.Is(err, ErrSystemAccountMissing) {
		t.Fatalf("expected ErrSystemAccountMissing, got %v", err)
	}
}

func TestConcurrentTransfersDrainExactly(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	const workers = 8
	const amountCents = int64(1_000)

	alice := store.AddUser("alice@test.com", "Alice")
	store.AddAccount(alice, money.USD, workers*amountCents)
	bob := store.AddUser("bob@test.com", "Bob")
	store.AddAccount(bob, money.USD, 0)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Transfer(ctx, alice, "bob@test.com", money.USD, "10.00"); err != nil {
				t.Errorf("concurrent transfer failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := balanceOf(t, store, alice, money.USD); got != 0 {
		t.Fatalf("expected drained balance 0, got %d", got)
	}
	if got := balanceOf(t, store, bob, money.USD); got != workers*amountCents {
		t.Fatalf("expected bob to hold %d, got %d", workers*amountCents, got)
	}

	// One more must fail: the source is empty now.
	if _, err := engine.Transfer(ctx, alice, "bob@test.com", money.USD, "10.00"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestReconcileAfterMixedOperations(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	alice := grantedUser(t, engine, store, "alice@test.com", 100_000, 50_000)
	bob := grantedUser(t, engine, store, "bob@test.com", 100_000, 50_000)

	if _, err := engine.Transfer(ctx, alice, "bob@test.com", money.USD, "25.50"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := engine.Exchange(ctx, alice, money.EUR, "100.00"); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if _, err := engine.Transfer(ctx, bob, "alice@test.com", money.EUR, "5.00"); err != nil {
		t.Fatalf("transfer back: %v", err)
	}

	for _, userID := range []string{alice, bob} {
		report, err := store.Reconcile(ctx, userID)
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if !report.OK {
			t.Fatalf("reconcile mismatch for %s: %+v", userID, report.Items)
		}
		for _, item := range report.Items {
			if item.DiffCents != 0 {
				t.Fatalf("account %s diff %d", item.AccountID, item.DiffCents)
			}
		}
	}
}

func TestListTransactionsFilterAndPaging(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	alice := grantedUser(t, engine, store, "alice@test.com", 100_000, 0)
	grantedUser(t, engine, store, "bob@test.com", 0, 0)

	for i := 0; i < 3; i++ {
		if _, err := engine.Transfer(ctx, alice, "bob@test.com", money.USD, "1.00"); err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
	}
	if _, err := engine.Exchange(ctx, alice, money.USD, "2.00"); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	exchanges, err := store.ListTransactions(ctx, alice, ListFilter{Type: TypeExchange})
	if err != nil {
		t.Fatalf("list exchanges: %v", err)
	}
	if len(exchanges.Items) != 1 {
		t.Fatalf("expected 1 exchange, got %d", len(exchanges.Items))
	}

	paged, err := store.ListTransactions(ctx, alice, ListFilter{Type: TypeTransfer, Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	// 3 outgoing transfers plus the initial grant; page 1 holds the newest 2.
	if len(paged.Items) != 2 {
		t.Fatalf("expected page of 2, got %d", len(paged.Items))
	}
	if paged.Items[0].Direction != "out" || paged.Items[0].CounterpartyEmail != "bob@test.com" {
		t.Fatalf("unexpected summary: %+v", paged.Items[0])
	}
}

func TestTransactionDetailScopedToParticipants(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	alice := grantedUser(t, engine, store, "alice@test.com", 100_000, 0)
	grantedUser(t, engine, store, "bob@test.com", 0, 0)
	mallory := grantedUser(t, engine, store, "mallory@test.com", 0, 0)

	out, err := engine.Transfer(ctx, alice, "bob@test.com", money.USD, "10.00")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if _, err := store.TransactionDetail(ctx, mallory, out.TransactionID); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound for non-participant, got %v", err)
	}
}

func TestStoreErrorMarkerMapping(t *testing.T) {
	if got := mapStoreError(errors.New(`ERROR: Insufficient funds (SQLSTATE P0001)`)); !errors.Is(got, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", got)
	}
	if got := mapStoreError(errors.New(`ERROR: Ledger is not balanced (SQLSTATE P0001)`)); !errors.Is(got, ErrLedgerImbalance) {
		t.Fatalf("expected ErrLedgerImbalance, got %v", got)
	}
	other := errors.New("connection refused")
	if got := mapStoreError(other); got != other {
		t.Fatalf("unrelated error must pass through, got %v", got)
	}
}
