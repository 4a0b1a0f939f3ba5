package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
)

func newTestEngine(store *fakeStore) *Engine {
	return NewEngine(store, store, zerolog.Nop())
}

func activeAccount(id string, balance int) *domain.Account {
	expires := time.Now().Add(30 * 24 * time.Hour)
	return &domain.Account{
		ID:            id,
		WixUserID:     "wix-" + id,
		Email:         id + "@example.com",
		PlanID:        domain.PlanTemel,
		Balance:       balance,
		TotalGranted:  balance,
		Features:      []string{domain.FeatureGenerate, domain.FeatureLyrics},
		AllowedModels: []string{"V4", "V4_5"},
		Status:        domain.SubscriptionActive,
		ExpiresAt:     &expires,
	}
}

func TestSpendRecordsEntryAndBalance(t *testing.T) {
	store := newFakeStore(activeAccount("a1", 10))
	engine := newTestEngine(store)

	entry, err := engine.Spend(context.Background(), "a1", domain.ActionGenerate, 1, "task-1")
	if err != nil {
		t.Fatalf("Spend: %v", err)
	}
	if entry.Amount != -1 || entry.BalanceAfter != 9 {
		t.Fatalf("entry = amount %d balance %d, want -1 / 9", entry.Amount, entry.BalanceAfter)
	}

	account, _ := store.GetByWixID(context.Background(), "wix-a1")
	if account.Balance != 9 || account.TotalSpent != 1 {
		t.Fatalf("account = balance %d spent %d, want 9 / 1", account.Balance, account.TotalSpent)
	}
	if account.TotalGranted-account.TotalSpent != account.Balance {
		t.Fatalf("counters no longer explain the balance: %d - %d != %d",
			account.TotalGranted, account.TotalSpent, account.Balance)
	}
}

func TestConcurrentSpendsNeverOverdraw(t *testing.T) {
	store := newFakeStore(activeAccount("a1", 3))
	engine := newTestEngine(store)

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Spend(context.Background(), "a1", domain.ActionGenerate, 1, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientCredit):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 3 {
		t.Fatalf("%d spends succeeded on a balance of 3", succeeded)
	}

	account, _ := store.GetByWixID(context.Background(), "wix-a1")
	if account.Balance != 0 {
		t.Fatalf("balance = %d after draining, want 0", account.Balance)
	}
	if got := len(store.byKind(domain.EntrySpend)); got != 3 {
		t.Fatalf("%d spend entries, want 3", got)
	}
}

func TestConcurrentSpendEntriesFollowCommitOrder(t *testing.T) {
	const balance = 50
	store := newFakeStore(activeAccount("a1", balance))
	engine := newTestEngine(store)

	var wg sync.WaitGroup
	for i := 0; i < balance; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Spend(context.Background(), "a1", domain.ActionGenerate, 1, ""); err != nil {
				t.Errorf("Spend: %v", err)
			}
		}()
	}
	wg.Wait()

	// The debit and its entry commit together, so the log in append order
	// must show strictly decreasing balances with no gaps.
	entries := store.appended()
	if len(entries) != balance {
		t.Fatalf("%d entries, want %d", len(entries), balance)
	}
	for i, e := range entries {
		if want := balance - 1 - i; e.BalanceAfter != want {
			t.Fatalf("entry %d has balanceAfter %d, want %d", i, e.BalanceAfter, want)
		}
	}
}

func TestSpendStoreFailureLeavesBalanceIntact(t *testing.T) {
	store := newFakeStore(activeAccount("a1", 5))
	store.appendErr = errors.New("disk full")
	engine := newTestEngine(store)

	_, err := engine.Spend(context.Background(), "a1", domain.ActionGenerate, 1, "task-1")
	if !errors.Is(err, domain.ErrCreditSyncFailed) {
		t.Fatalf("expected ErrCreditSyncFailed, got %v", err)
	}
	// The settlement rolled back as a whole: no debit, no entry.
	account, _ := store.GetByWixID(context.Background(), "wix-a1")
	if account.Balance != 5 {
		t.Fatalf("balance = %d, want 5 untouched", account.Balance)
	}
	if got := len(store.byKind(domain.EntrySpend)); got != 0 {
		t.Fatalf("%d spend entries after failed settlement, want 0", got)
	}
}

func TestGrantIsIdempotentPerOrder(t *testing.T) {
	store := newFakeStore(activeAccount("a1", 0))
	engine := newTestEngine(store)

	account, entry, err := engine.Grant(context.Background(), "a1", domain.PlanTemel, domain.ActionSubStart, "order-1")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if entry.Amount != 50 || account.Balance != 50 {
		t.Fatalf("grant = +%d, balance %d, want +50 / 50", entry.Amount, account.Balance)
	}

	if _, _, err := engine.Grant(context.Background(), "a1", domain.PlanTemel, domain.ActionSubStart, "order-1"); !errors.Is(err, domain.ErrDuplicateEvent) {
		t.Fatalf("replayed order: expected ErrDuplicateEvent, got %v", err)
	}
	account, _ = store.GetByWixID(context.Background(), "wix-a1")
	if account.Balance != 50 {
		t.Fatalf("balance = %d after replay, want 50", account.Balance)
	}
	if got := len(store.byKind(domain.EntryGrant)); got != 1 {
		t.Fatalf("%d grant entries after replay, want 1", got)
	}
}

func TestConcurrentGrantsSameOrderGrantOnce(t *testing.T) {
	store := newFakeStore(activeAccount("a1", 0))
	engine := newTestEngine(store)

	// Simultaneous deliveries of the same order all race past the replay
	// check; the entry log's uniqueness must let exactly one through.
	const deliveries = 8
	var wg sync.WaitGroup
	results := make(chan error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := engine.Grant(context.Background(), "a1", domain.PlanTemel, domain.ActionSubStart, "order-7")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrDuplicateEvent):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d grants applied for one order", succeeded)
	}
	account, _ := store.GetByWixID(context.Background(), "wix-a1")
	if account.Balance != 50 {
		t.Fatalf("balance = %d, want 50 granted once", account.Balance)
	}
	if got := len(store.byKind(domain.EntryGrant)); got != 1 {
		t.Fatalf("%d grant entries, want 1", got)
	}
}

func TestGrantRejectsUnknownPlan(t *testing.T) {
	engine := newTestEngine(newFakeStore(activeAccount("a1", 0)))
	if _, _, err := engine.Grant(context.Background(), "a1", domain.PlanID("premium"), "", "order-1"); !errors.Is(err, domain.ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
	if _, _, err := engine.Grant(context.Background(), "a1", domain.PlanNone, "", "order-2"); !errors.Is(err, domain.ErrInvalidPlan) {
		t.Fatalf("PlanNone: expected ErrInvalidPlan, got %v", err)
	}
}

func TestRenewalStacksCredits(t *testing.T) {
	store := newFakeStore(activeAccount("a1", 7))
	engine := newTestEngine(store)

	account, _, err := engine.Grant(context.Background(), "a1", domain.PlanUzman, domain.ActionSubRenew, "order-2")
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if account.Balance != 507 {
		t.Fatalf("balance = %d after renewal, want 507 (7 remaining + 500)", account.Balance)
	}
	if account.PlanID != domain.PlanUzman || !account.HasModel("V5") {
		t.Fatalf("entitlement bundle not re-snapshotted: %+v", account)
	}
}

func TestRefundTaskOnce(t *testing.T) {
	store := newFakeStore(activeAccount("a1", 5))
	engine := newTestEngine(store)

	if _, err := engine.Spend(context.Background(), "a1", domain.ActionGenerate, 1, "task-9"); err != nil {
		t.Fatalf("Spend: %v", err)
	}

	entry, err := engine.RefundTask(context.Background(), "task-9", "generation failed")
	if err != nil {
		t.Fatalf("RefundTask: %v", err)
	}
	if entry.Amount != 1 || entry.BalanceAfter != 5 {
		t.Fatalf("refund = +%d balance %d, want +1 / 5", entry.Amount, entry.BalanceAfter)
	}

	account, _ := store.GetByWixID(context.Background(), "wix-a1")
	if account.Balance != 5 || account.TotalSpent != 0 {
		t.Fatalf("account after refund = balance %d spent %d, want 5 / 0", account.Balance, account.TotalSpent)
	}

	if _, err := engine.RefundTask(context.Background(), "task-9", "replayed callback"); !errors.Is(err, domain.ErrDuplicateEvent) {
		t.Fatalf("second refund: expected ErrDuplicateEvent, got %v", err)
	}
	if account, _ = store.GetByWixID(context.Background(), "wix-a1"); account.Balance != 5 {
		t.Fatalf("balance = %d after replayed refund, want 5", account.Balance)
	}
}

func TestRefundTaskWithoutSpend(t *testing.T) {
	engine := newTestEngine(newFakeStore(activeAccount("a1", 5)))
	if _, err := engine.RefundTask(context.Background(), "task-unknown", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelPreservesBalance(t *testing.T) {
	store := newFakeStore(activeAccount("a1", 42))
	engine := newTestEngine(store)

	account, err := engine.Cancel(context.Background(), "a1", "order-3")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if account.Status != domain.SubscriptionCancelled || account.Balance != 42 {
		t.Fatalf("cancel = status %s balance %d, want cancelled / 42", account.Status, account.Balance)
	}
	cancellations := store.byKind(domain.EntryCancellation)
	if len(cancellations) != 1 || cancellations[0].Amount != 0 {
		t.Fatalf("expected one zero-amount cancellation entry, got %+v", cancellations)
	}
}

func TestExpireForfeitsExactlyOnce(t *testing.T) {
	store := newFakeStore(activeAccount("a1", 17))
	engine := newTestEngine(store)

	account, err := engine.Expire(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if account.Status != domain.SubscriptionExpired || account.Balance != 0 {
		t.Fatalf("expire = status %s balance %d, want expired / 0", account.Status, account.Balance)
	}
	if account.TotalGranted-account.TotalSpent != account.Balance {
		t.Fatalf("counters no longer explain the balance after forfeit")
	}

	// A second observer settles nothing and appends nothing.
	if _, err := engine.Expire(context.Background(), "a1"); err != nil {
		t.Fatalf("second Expire: %v", err)
	}
	forfeits := store.byKind(domain.EntryCancellation)
	if len(forfeits) != 1 || forfeits[0].Amount != -17 {
		t.Fatalf("expected one -17 forfeit entry, got %+v", forfeits)
	}
}

func TestExpireOverdueSweep(t *testing.T) {
	overdue := activeAccount("a1", 9)
	past := time.Now().Add(-time.Hour)
	overdue.ExpiresAt = &past
	current := activeAccount("a2", 5)

	store := newFakeStore(overdue, current)
	engine := newTestEngine(store)

	n, err := engine.ExpireOverdue(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if n != 1 {
		t.Fatalf("settled %d accounts, want 1", n)
	}
	swept, _ := store.GetByWixID(context.Background(), "wix-a1")
	untouched, _ := store.GetByWixID(context.Background(), "wix-a2")
	if swept.Balance != 0 || swept.Status != domain.SubscriptionExpired {
		t.Fatalf("overdue account not settled: %+v", swept)
	}
	if untouched.Balance != 5 || untouched.Status != domain.SubscriptionActive {
		t.Fatalf("current account touched by sweep: %+v", untouched)
	}
	forfeits := store.byKind(domain.EntryCancellation)
	if len(forfeits) != 1 || forfeits[0].Amount != -9 {
		t.Fatalf("expected one -9 forfeit entry from the sweep, got %+v", forfeits)
	}
}
