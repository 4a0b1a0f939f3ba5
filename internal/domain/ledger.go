package domain

import "time"

// EntryKind enumerates balance-affecting event kinds.
type EntryKind string

const (
	EntrySpend        EntryKind = "spend"
	EntryRefund       EntryKind = "refund"
	EntryGrant        EntryKind = "grant"
	EntryCancellation EntryKind = "cancellation"
)

// EntryStatus enumerates ledger entry states. Completed entries are immutable;
// a pending entry transitions at most once.
type EntryStatus string

const (
	EntryCompleted EntryStatus = "completed"
	EntryPending   EntryStatus = "pending"
	EntryFailed    EntryStatus = "failed"
	EntryRefunded  EntryStatus = "refunded"
)

// Ledger actions tag what an entry paid for.
const (
	ActionGenerate  = "generate"
	ActionExtend    = "extend"
	ActionCover     = "cover"
	ActionLyrics    = "lyrics"
	ActionPersona   = "persona"
	ActionSubStart  = "subscription_start"
	ActionSubRenew  = "subscription_renew"
	ActionSubCancel = "subscription_cancel"
	ActionSubExpire = "subscription_expire"
	ActionRefund    = "refund"
	ActionManual    = "manual"
)

// LedgerEntry records one balance-affecting event with a post-commit balance
// snapshot. Spend amounts are negative, grants and refunds positive.
type LedgerEntry struct {
	ID           string
	AccountID    string
	Kind         EntryKind
	Action       string
	Amount       int
	BalanceAfter int
	ExternalRef  string
	Description  string
	Status       EntryStatus
	CreatedAt    time.Time
}
