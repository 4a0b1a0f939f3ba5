package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
)

// fakeStore mirrors the Postgres adapters under one mutex: conditional
// updates, the (kind, external_ref) uniqueness of the entry log, and the
// all-or-nothing commit of a mutation with its entry.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	entries  []domain.LedgerEntry

	err       error
	appendErr error
}

func newFakeStore(accounts ...*domain.Account) *fakeStore {
	f := &fakeStore{accounts: make(map[string]*domain.Account)}
	for _, a := range accounts {
		f.accounts[a.ID] = a
	}
	return f
}

func snapshot(a *domain.Account) *domain.Account {
	copied := *a
	return &copied
}

func (f *fakeStore) Create(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	account.CreatedAt = time.Now()
	f.accounts[account.ID] = account
	return snapshot(account), nil
}

func (f *fakeStore) GetByWixID(ctx context.Context, wixUserID string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, a := range f.accounts {
		if a.WixUserID == wixUserID {
			return snapshot(a), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, a := range f.accounts {
		if a.Email == email {
			return snapshot(a), nil
		}
	}
	return nil, domain.ErrNotFound
}

// settle applies the mutation and records the entry as one unit, like the
// Postgres transaction does. Any failure leaves the account untouched.
func (f *fakeStore) settle(accountID string, entry *domain.LedgerEntry, mutate func(*domain.Account) error) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, domain.ErrUnknownAccount
	}
	if entry.ExternalRef != "" && f.hasRefLocked(entry.Kind, entry.ExternalRef) {
		return nil, domain.ErrDuplicateEvent
	}
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	if err := mutate(a); err != nil {
		return nil, err
	}
	entry.AccountID = a.ID
	entry.BalanceAfter = a.Balance
	e := *entry
	e.CreatedAt = time.Now()
	f.entries = append(f.entries, e)
	return snapshot(a), nil
}

func (f *fakeStore) Debit(ctx context.Context, accountID string, amount int, entry *domain.LedgerEntry) (*domain.Account, error) {
	return f.settle(accountID, entry, func(a *domain.Account) error {
		if a.Balance < amount {
			return domain.ErrInsufficientCredit
		}
		a.Balance -= amount
		a.TotalSpent += amount
		return nil
	})
}

func (f *fakeStore) Credit(ctx context.Context, accountID string, amount int, entry *domain.LedgerEntry) (*domain.Account, error) {
	return f.settle(accountID, entry, func(a *domain.Account) error {
		a.Balance += amount
		a.TotalSpent -= amount
		if a.TotalSpent < 0 {
			a.TotalSpent = 0
		}
		return nil
	})
}

func (f *fakeStore) ApplyGrant(ctx context.Context, accountID string, plan domain.PlanDefinition, credits int, expiresAt time.Time, entry *domain.LedgerEntry) (*domain.Account, error) {
	return f.settle(accountID, entry, func(a *domain.Account) error {
		now := time.Now()
		a.PlanID = plan.ID
		a.Balance += credits
		a.TotalGranted += credits
		a.Features = plan.Features
		a.AllowedModels = plan.AllowedModels
		a.Status = domain.SubscriptionActive
		a.PurchasedAt = &now
		a.ExpiresAt = &expiresAt
		return nil
	})
}

func (f *fakeStore) AddCredits(ctx context.Context, accountID string, amount int, entry *domain.LedgerEntry) (*domain.Account, error) {
	return f.settle(accountID, entry, func(a *domain.Account) error {
		a.Balance += amount
		a.TotalGranted += amount
		return nil
	})
}

func (f *fakeStore) SetStatus(ctx context.Context, accountID string, status domain.SubscriptionStatus, entry *domain.LedgerEntry) (*domain.Account, error) {
	return f.settle(accountID, entry, func(a *domain.Account) error {
		a.Status = status
		return nil
	})
}

func (f *fakeStore) Expire(ctx context.Context, accountID string, entry *domain.LedgerEntry) (*domain.Account, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, false, domain.ErrUnknownAccount
	}
	if a.Status == domain.SubscriptionExpired {
		return snapshot(a), false, nil
	}
	if f.appendErr != nil {
		return nil, false, f.appendErr
	}
	forfeited := a.Balance
	a.TotalSpent += forfeited
	a.Balance = 0
	a.Status = domain.SubscriptionExpired
	entry.AccountID = a.ID
	entry.Amount = -forfeited
	entry.BalanceAfter = 0
	e := *entry
	e.CreatedAt = time.Now()
	f.entries = append(f.entries, e)
	return snapshot(a), true, nil
}

func (f *fakeStore) ListOverdue(ctx context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var ids []string
	for id, a := range f.accounts {
		if a.Status == domain.SubscriptionExpired || a.ExpiresAt == nil || !now.After(*a.ExpiresAt) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) hasRefLocked(kind domain.EntryKind, externalRef string) bool {
	for _, e := range f.entries {
		if e.Kind == kind && e.ExternalRef == externalRef {
			return true
		}
	}
	return false
}

func (f *fakeStore) HasRef(ctx context.Context, kind domain.EntryKind, externalRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasRefLocked(kind, externalRef), nil
}

func (f *fakeStore) SpendByRef(ctx context.Context, externalRef string) (*domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].Kind == domain.EntrySpend && f.entries[i].ExternalRef == externalRef {
			e := f.entries[i]
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.entries[i].AccountID == accountID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

func (f *fakeStore) ActionCounts(ctx context.Context, accountID string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int{}
	for _, e := range f.entries {
		if e.AccountID == accountID && e.Kind == domain.EntrySpend && e.Status == domain.EntryCompleted {
			counts[e.Action]++
		}
	}
	return counts, nil
}

func (f *fakeStore) byKind(kind domain.EntryKind) []domain.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range f.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// appended returns the entry log in append order.
func (f *fakeStore) appended() []domain.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.LedgerEntry, len(f.entries))
	copy(out, f.entries)
	return out
}
