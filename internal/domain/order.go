package domain

import "time"

// OrderStatus enumerates pending order states. No transition leaves fulfilled
// or expired.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFulfilled OrderStatus = "fulfilled"
	OrderExpired   OrderStatus = "expired"
)

// PendingOrderRetention bounds how long an order waits for its payment
// confirmation before the worker expires it.
const PendingOrderRetention = time.Hour

// PendingOrder records the intent to run a paid operation once payment
// clears. RequestJSON holds the serialized generation parameters; TaskID is
// linked when the confirmation webhook dispatches the operation.
type PendingOrder struct {
	ID          string
	AccountID   string
	Email       string
	RequestJSON []byte
	TaskID      string
	Status      OrderStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
