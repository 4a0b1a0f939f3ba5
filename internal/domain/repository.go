package domain

import (
	"context"
	"time"
)

// AccountRepository defines access methods for accounts. Every balance
// mutation settles together with its ledger entry in one commit, so the
// per-account entry order matches the order mutations actually took effect.
// The store fills the entry's BalanceAfter (and, for Expire, the forfeited
// Amount) from the updated row before recording it.
type AccountRepository interface {
	Create(ctx context.Context, account *Account) (*Account, error)
	GetByWixID(ctx context.Context, wixUserID string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	// Debit subtracts amount from the balance only if balance >= amount,
	// incrementing total_spent. Returns ErrInsufficientCredit when the floor
	// check fails and ErrUnknownAccount when no such account exists.
	Debit(ctx context.Context, accountID string, amount int, entry *LedgerEntry) (*Account, error)
	// Credit adds amount back to the balance and decrements total_spent,
	// reversing a prior debit.
	Credit(ctx context.Context, accountID string, amount int, entry *LedgerEntry) (*Account, error)
	// ApplyGrant snapshots the plan's entitlement bundle onto the account and
	// adds credits on top of any remaining balance. A replayed external
	// reference rolls the grant back and returns ErrDuplicateEvent.
	ApplyGrant(ctx context.Context, accountID string, plan PlanDefinition, credits int, expiresAt time.Time, entry *LedgerEntry) (*Account, error)
	// AddCredits raises balance and total_granted without touching the plan,
	// for manual operator grants.
	AddCredits(ctx context.Context, accountID string, amount int, entry *LedgerEntry) (*Account, error)
	SetStatus(ctx context.Context, accountID string, status SubscriptionStatus, entry *LedgerEntry) (*Account, error)
	// Expire forfeits the remaining balance and marks the account expired.
	// The update is conditional on the account not already being expired;
	// applied reports whether this call was the one that took effect. The
	// entry is recorded only when it was.
	Expire(ctx context.Context, accountID string, entry *LedgerEntry) (account *Account, applied bool, err error)
	// ListOverdue returns the ids of accounts whose window has passed, for
	// the background sweep.
	ListOverdue(ctx context.Context, now time.Time) ([]string, error)
}

// LedgerRepository reads the append-only entry log. Writes happen inside
// account settlements only.
type LedgerRepository interface {
	// HasRef reports whether an entry of the kind with this external
	// reference was already recorded, for replay detection.
	HasRef(ctx context.Context, kind EntryKind, externalRef string) (bool, error)
	// SpendByRef returns the spend entry settled for a provider task.
	SpendByRef(ctx context.Context, externalRef string) (*LedgerEntry, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]LedgerEntry, error)
	// ActionCounts aggregates completed spend entries per action tag.
	ActionCounts(ctx context.Context, accountID string) (map[string]int, error)
}

// OrderRepository persists pending orders for guest/asynchronous payment flows.
type OrderRepository interface {
	Create(ctx context.Context, order *PendingOrder) error
	GetByID(ctx context.Context, id string) (*PendingOrder, error)
	// LatestPending returns the most recent pending order for the email
	// created after the cutoff.
	LatestPending(ctx context.Context, email string, cutoff time.Time) (*PendingOrder, error)
	// MarkFulfilled links the dispatched task and moves the order out of
	// pending. The update is conditional on status still being pending.
	MarkFulfilled(ctx context.Context, orderID, taskID string) error
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// TrackRepository persists denormalized provider task state for client polling.
type TrackRepository interface {
	Create(ctx context.Context, track *Track) error
	GetByTaskID(ctx context.Context, taskID string) (*Track, error)
	UpdateStatus(ctx context.Context, taskID string, status TrackStatus, resultJSON []byte) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
