package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
)

// Guard gates credit-consuming operations. Check is read-only and safe to
// call repeatedly before the external action runs; the single exception is
// the first observation of an overdue subscription, which delegates a
// one-time settlement to the engine.
type Guard struct {
	accounts domain.AccountRepository
	engine   *Engine
	now      func() time.Time
}

// NewGuard creates an entitlement guard.
func NewGuard(accounts domain.AccountRepository, engine *Engine) *Guard {
	return &Guard{accounts: accounts, engine: engine, now: time.Now}
}

// Check resolves the account for the external identity and walks the
// entitlement gates in order: identity, expiry, balance, feature, model.
// Each failure maps to a distinct sentinel. A store failure during the
// lookup denies the action (fail closed).
func (g *Guard) Check(ctx context.Context, wixUserID, feature, model string) (*domain.Account, error) {
	if wixUserID == "" {
		return nil, domain.ErrUnauthenticated
	}

	account, err := g.accounts.GetByWixID(ctx, wixUserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownAccount
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	if account.Expired(g.now()) {
		if settled, err := g.engine.Expire(ctx, account.ID); err == nil {
			account = settled
		}
		return account, domain.ErrSubscriptionExpired
	}
	if account.Status == domain.SubscriptionExpired {
		return account, domain.ErrSubscriptionExpired
	}

	if account.Balance < 1 {
		return account, domain.ErrInsufficientCredit
	}
	if feature != "" && !account.HasFeature(feature) {
		return account, domain.ErrFeatureNotEntitled
	}
	if model != "" && !account.HasModel(model) {
		return account, domain.ErrModelNotEntitled
	}
	return account, nil
}
