// Package ledger holds the credit settlement engine and the entitlement
// guard. The engine is the only writer of account balances and ledger
// entries; everything else reads.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
)

// Engine settles credit movements against the account store. Each operation
// hands the store a prepared entry and the store commits the balance
// mutation and the entry together, so the ledger never drifts from the
// balances and per-account entry order follows commit order.
type Engine struct {
	accounts domain.AccountRepository
	entries  domain.LedgerRepository
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine creates a settlement engine.
func NewEngine(accounts domain.AccountRepository, entries domain.LedgerRepository, logger zerolog.Logger) *Engine {
	return &Engine{
		accounts: accounts,
		entries:  entries,
		logger:   logger,
		now:      time.Now,
	}
}

// Spend debits amount credits for the given action. The balance floor is
// re-checked at commit time by the store; a stale guard read never
// over-spends. The returned entry carries the post-debit balance snapshot.
func (e *Engine) Spend(ctx context.Context, accountID, action string, amount int, taskID string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		amount = 1
	}
	entry := &domain.LedgerEntry{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Kind:        domain.EntrySpend,
		Action:      action,
		Amount:      -amount,
		ExternalRef: taskID,
		Status:      domain.EntryCompleted,
	}
	if _, err := e.accounts.Debit(ctx, accountID, amount, entry); err != nil {
		if errors.Is(err, domain.ErrInsufficientCredit) || errors.Is(err, domain.ErrUnknownAccount) {
			return nil, err
		}
		e.logger.Error().Err(err).
			Str("account_id", accountID).
			Str("action", action).
			Int("amount", amount).
			Msg("spend could not be settled")
		return nil, fmt.Errorf("%w: %v", domain.ErrCreditSyncFailed, err)
	}
	return entry, nil
}

// Refund reverses a prior spend, restoring balance and the spent counter
// alongside the symmetric refund entry.
func (e *Engine) Refund(ctx context.Context, spend *domain.LedgerEntry, reason string) (*domain.LedgerEntry, error) {
	if spend == nil || spend.Kind != domain.EntrySpend {
		return nil, fmt.Errorf("refund requires a spend entry")
	}
	amount := -spend.Amount
	entry := &domain.LedgerEntry{
		ID:          uuid.NewString(),
		AccountID:   spend.AccountID,
		Kind:        domain.EntryRefund,
		Action:      domain.ActionRefund,
		Amount:      amount,
		ExternalRef: spend.ExternalRef,
		Description: reason,
		Status:      domain.EntryRefunded,
	}
	if _, err := e.accounts.Credit(ctx, spend.AccountID, amount, entry); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			return nil, err
		}
		e.logger.Error().Err(err).
			Str("account_id", spend.AccountID).
			Msg("refund could not be settled")
		return nil, fmt.Errorf("%w: %v", domain.ErrCreditSyncFailed, err)
	}
	return entry, nil
}

// RefundTask reverses the spend settled for a failed provider task, at most
// once per task. Replayed failure callbacks short-circuit with
// ErrDuplicateEvent.
func (e *Engine) RefundTask(ctx context.Context, taskID, reason string) (*domain.LedgerEntry, error) {
	if taskID == "" {
		return nil, domain.ErrNotFound
	}
	refunded, err := e.entries.HasRef(ctx, domain.EntryRefund, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if refunded {
		return nil, domain.ErrDuplicateEvent
	}
	spend, err := e.entries.SpendByRef(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return e.Refund(ctx, spend, reason)
}

// Grant activates a plan on the account: entitlement bundle snapshotted from
// the catalog, expiry extended from now, credits stacked on the remaining
// balance. Replays of the same orderID short-circuit with ErrDuplicateEvent;
// two concurrent deliveries race past the check, but the store rolls the
// loser back and reports the same sentinel.
func (e *Engine) Grant(ctx context.Context, accountID string, planID domain.PlanID, action, orderID string) (*domain.Account, *domain.LedgerEntry, error) {
	plan, err := domain.PlanByID(planID)
	if err != nil {
		return nil, nil, err
	}
	if orderID != "" {
		seen, err := e.entries.HasRef(ctx, domain.EntryGrant, orderID)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		if seen {
			return nil, nil, domain.ErrDuplicateEvent
		}
	}

	if action == "" {
		action = domain.ActionSubStart
	}
	entry := &domain.LedgerEntry{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Kind:        domain.EntryGrant,
		Action:      action,
		Amount:      plan.Credits,
		ExternalRef: orderID,
		Description: plan.Name,
		Status:      domain.EntryCompleted,
	}
	expiresAt := e.now().Add(time.Duration(plan.DurationDays) * 24 * time.Hour)
	account, err := e.accounts.ApplyGrant(ctx, accountID, plan, plan.Credits, expiresAt, entry)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) || errors.Is(err, domain.ErrUnknownAccount) {
			return nil, nil, err
		}
		e.logger.Error().Err(err).
			Str("account_id", accountID).
			Str("order_id", orderID).
			Msg("grant could not be settled")
		return nil, nil, err
	}
	return account, entry, nil
}

// GrantCredits adds raw credits without changing the plan, for the operator
// path.
func (e *Engine) GrantCredits(ctx context.Context, accountID string, credits int, description string) (*domain.Account, *domain.LedgerEntry, error) {
	if credits <= 0 {
		return nil, nil, fmt.Errorf("credit amount must be positive")
	}
	entry := &domain.LedgerEntry{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Kind:        domain.EntryGrant,
		Action:      domain.ActionManual,
		Amount:      credits,
		Description: description,
		Status:      domain.EntryCompleted,
	}
	account, err := e.accounts.AddCredits(ctx, accountID, credits, entry)
	if err != nil {
		return nil, nil, err
	}
	return account, entry, nil
}

// Cancel marks the subscription cancelled. The balance stays; remaining
// credits are consumed naturally or at expiry.
func (e *Engine) Cancel(ctx context.Context, accountID, orderID string) (*domain.Account, error) {
	entry := &domain.LedgerEntry{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Kind:        domain.EntryCancellation,
		Action:      domain.ActionSubCancel,
		Amount:      0,
		ExternalRef: orderID,
		Status:      domain.EntryCompleted,
	}
	account, err := e.accounts.SetStatus(ctx, accountID, domain.SubscriptionCancelled, entry)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Expire settles an overdue subscription: the remaining balance is forfeited
// and the status flipped, exactly once no matter how many callers observe the
// overdue state.
func (e *Engine) Expire(ctx context.Context, accountID string) (*domain.Account, error) {
	account, _, err := e.expire(ctx, accountID)
	return account, err
}

func (e *Engine) expire(ctx context.Context, accountID string) (*domain.Account, bool, error) {
	entry := &domain.LedgerEntry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Kind:      domain.EntryCancellation,
		Action:    domain.ActionSubExpire,
		Status:    domain.EntryCompleted,
	}
	return e.accounts.Expire(ctx, accountID, entry)
}

// ExpireOverdue sweeps every account whose subscription window has passed,
// settling each with its forfeit entry. Returns how many were settled.
func (e *Engine) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	ids, err := e.accounts.ListOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, id := range ids {
		_, applied, err := e.expire(ctx, id)
		if err != nil {
			e.logger.Error().Err(err).Str("account_id", id).Msg("overdue account could not be settled")
			continue
		}
		if applied {
			settled++
		}
	}
	return settled, nil
}

// IsDuplicate reports whether the error is the idempotency short-circuit,
// which intake handlers acknowledge as success.
func IsDuplicate(err error) bool {
	return errors.Is(err, domain.ErrDuplicateEvent)
}
