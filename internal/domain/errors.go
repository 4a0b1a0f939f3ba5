package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrSubscriptionExpired = errors.New("subscription expired")
	ErrInsufficientCredit  = errors.New("insufficient credit")
	ErrFeatureNotEntitled  = errors.New("feature not entitled")
	ErrModelNotEntitled    = errors.New("model not entitled")
	ErrInvalidPlan         = errors.New("invalid plan")
	ErrDuplicateEvent      = errors.New("duplicate event")
	ErrCreditSyncFailed    = errors.New("credit sync failed")
	ErrStoreUnavailable    = errors.New("store unavailable")
)
