package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hiiliketocode/polycopy-sub006/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// PostgresStore wraps PostgreSQL persistence with Redis for locks and
// short-lived caches.
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewPostgres creates a new PostgreSQL store with connection pooling and
// a Redis client.
func NewPostgres() (*PostgresStore, error) {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "polycopy")
	password := getEnv("POSTGRES_PASSWORD", "polycopy123")
	dbname := getEnv("POSTGRES_DB", "polycopy")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?pool_max_conns=20&pool_min_conns=2",
		user, password, host, port, dbname)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	// Query timeouts so a stalled reconciliation query cannot hang the job
	config.ConnConfig.RuntimeParams["statement_timeout"] = "30000"
	config.ConnConfig.RuntimeParams["lock_timeout"] = "10000"

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", redisHost, redisPort),
		Password:     redisPassword,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	log.Printf("[Storage] Connected to postgres %s:%s and redis %s:%s", host, port, redisHost, redisPort)

	return &PostgresStore{pool: pool, redis: rdb}, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// Close releases the pool and the Redis client.
func (s *PostgresStore) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const followedOrderColumns = `
	id, user_id, user_email, user_wallet, trader_wallet, condition_id,
	outcome, side, status, remaining_size, trader_position_size,
	auto_close_enabled, slippage_percent, auto_close_triggered_at,
	auto_close_attempted_at, auto_close_retry_count, auto_close_error,
	auto_close_order_id, resolved_notified, trader_exit_notified, created_at`

func scanFollowedOrder(row pgx.Row) (models.FollowedOrder, error) {
	var o models.FollowedOrder
	err := row.Scan(
		&o.ID, &o.UserID, &o.UserEmail, &o.UserWallet, &o.TraderWallet, &o.ConditionID,
		&o.Outcome, &o.Side, &o.Status, &o.RemainingSize, &o.TraderPositionSize,
		&o.AutoCloseEnabled, &o.SlippagePercent, &o.AutoCloseTriggeredAt,
		&o.AutoCloseAttemptedAt, &o.AutoCloseRetryCount, &o.AutoCloseError,
		&o.AutoCloseOrderID, &o.ResolvedNotified, &o.TraderExitNotified, &o.CreatedAt,
	)
	return o, err
}

// ListAutoCloseCandidates loads orders eligible for auto-close this pass:
// auto-close enabled, not yet triggered, still open, with size remaining.
// Cooldown and retry-ceiling filtering is recomputed in the job, not here,
// so a row never needs a stored "gave up" flag.
func (s *PostgresStore) ListAutoCloseCandidates(ctx context.Context, limit int) ([]models.FollowedOrder, error) {
	query := `
		SELECT ` + followedOrderColumns + `
		FROM followed_orders
		WHERE auto_close_enabled = TRUE
		  AND auto_close_triggered_at IS NULL
		  AND status IN ($1, $2)
		  AND remaining_size > 0
		ORDER BY id
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, models.OrderStatusOpen, models.OrderStatusPartial, limit)
	if err != nil {
		return nil, fmt.Errorf("list auto-close candidates: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// ListNotificationCandidates loads open orders with at least one
// notification still unsent.
func (s *PostgresStore) ListNotificationCandidates(ctx context.Context, limit int) ([]models.FollowedOrder, error) {
	query := `
		SELECT ` + followedOrderColumns + `
		FROM followed_orders
		WHERE status IN ($1, $2)
		  AND remaining_size > 0
		  AND (resolved_notified = FALSE OR trader_exit_notified = FALSE)
		ORDER BY id
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, models.OrderStatusOpen, models.OrderStatusPartial, limit)
	if err != nil {
		return nil, fmt.Errorf("list notification candidates: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]models.FollowedOrder, error) {
	var orders []models.FollowedOrder
	for rows.Next() {
		o, err := scanFollowedOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan followed order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ClaimAutoCloseAttempt conditionally claims an order for a submission
// attempt. The update succeeds only if auto_close_attempted_at still holds
// the value this invocation read, so overlapping invocations cannot both
// claim the same row.
func (s *PostgresStore) ClaimAutoCloseAttempt(ctx context.Context, orderID int64, prevAttemptedAt *time.Time, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE followed_orders
		SET auto_close_attempted_at = $1
		WHERE id = $2
		  AND auto_close_attempted_at IS NOT DISTINCT FROM $3
		  AND auto_close_triggered_at IS NULL`,
		at, orderID, prevAttemptedAt)
	if err != nil {
		return false, fmt.Errorf("claim auto-close attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateTraderBaseline records a fresh trader position size with no close
// action taken.
func (s *PostgresStore) UpdateTraderBaseline(ctx context.Context, orderID int64, size float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE followed_orders
		SET trader_position_size = $1
		WHERE id = $2`,
		size, orderID)
	if err != nil {
		return fmt.Errorf("update trader baseline: %w", err)
	}
	return nil
}

// RecordAutoCloseFailure writes a failed attempt: the retry count, the
// error message, the exchange order id of the attempt (if any), and the
// attempt timestamp move together in one statement.
func (s *PostgresStore) RecordAutoCloseFailure(ctx context.Context, orderID int64, retryCount int, message, exchangeOrderID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE followed_orders
		SET auto_close_retry_count = $1,
		    auto_close_error = $2,
		    auto_close_order_id = $3,
		    auto_close_attempted_at = $4
		WHERE id = $5`,
		retryCount, message, exchangeOrderID, at, orderID)
	if err != nil {
		return fmt.Errorf("record auto-close failure: %w", err)
	}
	return nil
}

// RecordAutoCloseFill writes a filled attempt: baseline update, remaining
// size reduction, retry state cleared, and (when the trader is fully out)
// the terminal triggered timestamp.
func (s *PostgresStore) RecordAutoCloseFill(ctx context.Context, orderID int64, newBaseline, filledSize float64, terminal bool, exchangeOrderID string, at time.Time) error {
	var query string
	if terminal {
		query = `
		UPDATE followed_orders
		SET trader_position_size = $1,
		    remaining_size = GREATEST(remaining_size - $2, 0),
		    auto_close_retry_count = 0,
		    auto_close_error = '',
		    auto_close_order_id = $3,
		    auto_close_attempted_at = $4,
		    auto_close_triggered_at = $4,
		    status = '` + models.OrderStatusClosed + `'
		WHERE id = $5`
	} else {
		query = `
		UPDATE followed_orders
		SET trader_position_size = $1,
		    remaining_size = GREATEST(remaining_size - $2, 0),
		    auto_close_retry_count = 0,
		    auto_close_error = '',
		    auto_close_order_id = $3,
		    auto_close_attempted_at = $4,
		    status = '` + models.OrderStatusPartial + `'
		WHERE id = $5`
	}

	_, err := s.pool.Exec(ctx, query, newBaseline, filledSize, exchangeOrderID, at, orderID)
	if err != nil {
		return fmt.Errorf("record auto-close fill: %w", err)
	}
	return nil
}

// InsertOrderEvent appends an audit row at status attempted and fills in
// the generated id.
func (s *PostgresStore) InsertOrderEvent(ctx context.Context, ev *models.OrderEvent) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO order_events (
			user_id, wallet, idempotency_key, token_id, condition_id,
			side, price, size, status, error_code, message,
			followed_order_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		ev.UserID, ev.Wallet, ev.IdempotencyKey, ev.TokenID, ev.ConditionID,
		ev.Side, ev.Price, ev.Size, ev.Status, ev.ErrorCode, ev.Message,
		ev.FollowedOrderID,
	).Scan(&ev.ID, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// CloseOrderEvent updates an audit row to its terminal status.
func (s *PostgresStore) CloseOrderEvent(ctx context.Context, eventID int64, status, errorCode, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE order_events
		SET status = $1, error_code = $2, message = $3, updated_at = NOW()
		WHERE id = $4`,
		status, errorCode, message, eventID)
	if err != nil {
		return fmt.Errorf("close order event: %w", err)
	}
	return nil
}

// SetOrderEventFill records the verified fill ratio on an audit row.
func (s *PostgresStore) SetOrderEventFill(ctx context.Context, eventID int64, fillRatio float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE order_events
		SET fill_ratio = $1, updated_at = NOW()
		WHERE id = $2`,
		fillRatio, eventID)
	if err != nil {
		return fmt.Errorf("set order event fill: %w", err)
	}
	return nil
}

// MarkResolvedNotified sets the market-resolved notification flag.
func (s *PostgresStore) MarkResolvedNotified(ctx context.Context, orderID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE followed_orders SET resolved_notified = TRUE WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("mark resolved notified: %w", err)
	}
	return nil
}

// MarkTraderExitNotified sets the trader-exit notification flag.
func (s *PostgresStore) MarkTraderExitNotified(ctx context.Context, orderID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE followed_orders SET trader_exit_notified = TRUE WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("mark trader exit notified: %w", err)
	}
	return nil
}

// GetNotificationPref returns a user's notification preference, or
// ErrNotFound when no row exists (absent row means enabled).
func (s *PostgresStore) GetNotificationPref(ctx context.Context, userID string) (*models.NotificationPref, error) {
	var pref models.NotificationPref
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, email_enabled FROM notification_prefs WHERE user_id = $1`,
		userID,
	).Scan(&pref.UserID, &pref.EmailEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification pref: %w", err)
	}
	return &pref, nil
}

// AcquireJobLock takes the invocation lock via SETNX.
func (s *PostgresStore) AcquireJobLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	hostname, _ := os.Hostname()
	ok, err := s.redis.SetNX(ctx, key, hostname, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire job lock: %w", err)
	}
	return ok, nil
}

// ReleaseJobLock drops the invocation lock.
func (s *PostgresStore) ReleaseJobLock(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release job lock: %w", err)
	}
	return nil
}

// CacheGet reads a cached value, returning ErrNotFound on a miss.
func (s *PostgresStore) CacheGet(ctx context.Context, key string) (string, error) {
	val, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("cache get: %w", err)
	}
	return val, nil
}

// CacheSet writes a cached value with a TTL.
func (s *PostgresStore) CacheSet(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
