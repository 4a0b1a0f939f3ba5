package domain

import "time"

// SubscriptionStatus enumerates subscription lifecycle states.
type SubscriptionStatus string

const (
	SubscriptionNone      SubscriptionStatus = "none"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// Account is the persisted entitlement record for one end user. Balance is
// never mutated outside the settlement engine; the repository enforces the
// balance >= 0 floor in a single conditional statement.
type Account struct {
	ID            string
	WixUserID     string
	Email         string
	DisplayName   string
	PlanID        PlanID
	Balance       int
	TotalGranted  int
	TotalSpent    int
	Features      []string
	AllowedModels []string
	Status        SubscriptionStatus
	PurchasedAt   *time.Time
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Expired reports whether the account's subscription window has passed,
// regardless of the stored status.
func (a Account) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// HasFeature reports whether the feature is in the account's allow-list.
func (a Account) HasFeature(feature string) bool {
	for _, f := range a.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// HasModel reports whether the model tier is in the account's allow-list.
func (a Account) HasModel(model string) bool {
	for _, m := range a.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// DaysRemaining returns the whole days left until expiry, never negative.
func (a Account) DaysRemaining(now time.Time) int {
	if a.ExpiresAt == nil {
		return 0
	}
	d := a.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(d.Hours() / 24)
	if d.Hours() > float64(days)*24 {
		days++
	}
	return days
}
