package storage

import (
	"context"
	"time"

	"github.com/hiiliketocode/polycopy-sub006/models"
)

// Store defines the persistence operations the reconciliation job and the
// HTTP surface depend on.
type Store interface {
	Close() error

	// Candidate queries
	ListAutoCloseCandidates(ctx context.Context, limit int) ([]models.FollowedOrder, error)
	ListNotificationCandidates(ctx context.Context, limit int) ([]models.FollowedOrder, error)

	// Auto-close bookkeeping. ClaimAutoCloseAttempt is a conditional
	// write: it bumps auto_close_attempted_at only if the row still
	// carries the attempted-at value this invocation read, so two
	// overlapping invocations cannot both submit for the same order.
	ClaimAutoCloseAttempt(ctx context.Context, orderID int64, prevAttemptedAt *time.Time, at time.Time) (bool, error)
	UpdateTraderBaseline(ctx context.Context, orderID int64, size float64) error
	RecordAutoCloseFailure(ctx context.Context, orderID int64, retryCount int, message, exchangeOrderID string, at time.Time) error
	RecordAutoCloseFill(ctx context.Context, orderID int64, newBaseline, filledSize float64, terminal bool, exchangeOrderID string, at time.Time) error

	// Order event audit trail
	InsertOrderEvent(ctx context.Context, ev *models.OrderEvent) error
	CloseOrderEvent(ctx context.Context, eventID int64, status, errorCode, message string) error
	SetOrderEventFill(ctx context.Context, eventID int64, fillRatio float64) error

	// Notification flags and preferences
	MarkResolvedNotified(ctx context.Context, orderID int64) error
	MarkTraderExitNotified(ctx context.Context, orderID int64) error
	GetNotificationPref(ctx context.Context, userID string) (*models.NotificationPref, error)

	// Invocation lock and response cache (Redis)
	AcquireJobLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseJobLock(ctx context.Context, key string) error
	CacheGet(ctx context.Context, key string) (string, error)
	CacheSet(ctx context.Context, key, value string, ttl time.Duration) error
}

// Ensure both implementations satisfy the interface
var _ Store = (*PostgresStore)(nil)
var _ Store = (*MockStore)(nil)
