package models

import "time"

// Side represents the direction of the original copied order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for an original order side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// FollowedOrder statuses that count as open for reconciliation.
const (
	OrderStatusOpen    = "open"
	OrderStatusPartial = "partially_closed"
	OrderStatusClosed  = "closed"
)

// FollowedOrder is a follower's record of having copied a specific trade.
// It carries both sizing state (what is still open, the copied trader's
// last observed position size) and the auto-close bookkeeping the
// reconciliation job mutates on every pass.
type FollowedOrder struct {
	ID           int64  `json:"id"`
	UserID       string `json:"user_id"`
	UserEmail    string `json:"user_email"`
	UserWallet   string `json:"user_wallet"`   // follower's proxy wallet, used for position lookups
	TraderWallet string `json:"trader_wallet"` // copied trader's wallet
	ConditionID  string `json:"condition_id"`  // target market
	Outcome      string `json:"outcome"`       // outcome label, e.g. "Yes"
	Side         Side   `json:"side"`          // side of the original copied order
	Status       string `json:"status"`

	RemainingSize      float64  `json:"remaining_size"`
	TraderPositionSize *float64 `json:"trader_position_size"` // nil until first observation

	AutoCloseEnabled     bool       `json:"auto_close_enabled"`
	SlippagePercent      float64    `json:"slippage_percent"`        // 0 means use the configured default
	AutoCloseTriggeredAt *time.Time `json:"auto_close_triggered_at"` // terminal once set
	AutoCloseAttemptedAt *time.Time `json:"auto_close_attempted_at"`
	AutoCloseRetryCount  int        `json:"auto_close_retry_count"`
	AutoCloseError       string     `json:"auto_close_error"`
	AutoCloseOrderID     string     `json:"auto_close_order_id"` // exchange id of the most recent close attempt

	ResolvedNotified   bool `json:"resolved_notified"`
	TraderExitNotified bool `json:"trader_exit_notified"`

	CreatedAt time.Time `json:"created_at"`
}

// OrderEvent statuses. Every exchange interaction starts at attempted and
// is closed out to a terminal status once the exchange responds.
const (
	EventStatusAttempted = "attempted"
	EventStatusSubmitted = "submitted"
	EventStatusRejected  = "rejected"
)

// OrderEvent is an append/update audit row, one per submission attempt.
type OrderEvent struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	Wallet          string    `json:"wallet"`
	IdempotencyKey  string    `json:"idempotency_key"`
	TokenID         string    `json:"token_id"`
	ConditionID     string    `json:"condition_id"`
	Side            Side      `json:"side"`
	Price           float64   `json:"price"`
	Size            float64   `json:"size"`
	Status          string    `json:"status"`
	ErrorCode       string    `json:"error_code"`
	Message         string    `json:"message"`
	FillRatio       *float64  `json:"fill_ratio"` // set after fill verification
	FollowedOrderID int64     `json:"followed_order_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NotificationPref is a user's email notification preference.
// An absent row means notifications are enabled.
type NotificationPref struct {
	UserID       string `json:"user_id"`
	EmailEnabled bool   `json:"email_enabled"`
}
