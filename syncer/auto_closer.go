package syncer

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/hiiliketocode/polycopy-sub006/api"
	"github.com/hiiliketocode/polycopy-sub006/config"
	"github.com/hiiliketocode/polycopy-sub006/models"
	"github.com/hiiliketocode/polycopy-sub006/storage"
)

const jobLockKey = "autoclose:job-lock"

// verifyPendingMessage marks an order whose close submission was accepted
// but whose fill lookup failed. The next eligible pass re-verifies the
// stored exchange order id before submitting anything new.
const verifyPendingMessage = "fill verification pending"

// ExchangeClient is the exchange surface the job depends on. Satisfied by
// api.ClobClient; tests use a fake.
type ExchangeClient interface {
	MarketFetcher
	GetOrder(ctx context.Context, orderID string) (*api.OpenOrder, error)
	SubmitOrder(ctx context.Context, req api.CloseOrderRequest) api.SubmitResult
}

// EgressChecker verifies the outbound egress path before signed
// submissions.
type EgressChecker interface {
	Check(ctx context.Context) error
}

// Result summarizes one reconciliation pass.
type Result struct {
	TradesChecked     int `json:"tradesChecked"`
	NotificationsSent int `json:"notificationsSent"`
}

// AutoCloser is the scheduled reconciliation job. It compares each
// followed order's stored trader baseline against the trader's live
// position, closes the follower's share of any reduction with a
// fill-and-kill order, verifies the fill, and tracks retry state.
type AutoCloser struct {
	store     storage.Store
	exchange  ExchangeClient
	positions PositionReader
	gate      EgressChecker
	notifier  *Notifier
	cfg       config.AutoCloseConfig

	// Injectable for tests
	sleep func(time.Duration)
	now   func() time.Time
}

// NewAutoCloser creates the job with its collaborators.
func NewAutoCloser(store storage.Store, exchange ExchangeClient, positions PositionReader, gate EgressChecker, notifier *Notifier, cfg config.AutoCloseConfig) *AutoCloser {
	return &AutoCloser{
		store:     store,
		exchange:  exchange,
		positions: positions,
		gate:      gate,
		notifier:  notifier,
		cfg:       cfg,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// Run executes one reconciliation pass: the notification phase in
// concurrent batches, then auto-close strictly sequentially. The two
// phases are independent failure domains.
func (ac *AutoCloser) Run(ctx context.Context) (Result, error) {
	var result Result

	lockTTL := time.Duration(ac.cfg.LockTTLSec) * time.Second
	acquired, err := ac.store.AcquireJobLock(ctx, jobLockKey, lockTTL)
	if err != nil {
		// Redis being down must not stop reconciliation; the per-row
		// conditional claim still guards against overlap.
		log.Printf("[AutoCloser] Job lock unavailable, continuing without it: %v", err)
	} else if !acquired {
		log.Printf("[AutoCloser] Another invocation holds the job lock, skipping pass")
		return result, nil
	} else {
		defer ac.store.ReleaseJobLock(ctx, jobLockKey)
	}

	// Phase 1: notifications
	notifCandidates, err := ac.store.ListNotificationCandidates(ctx, ac.cfg.MaxCandidates)
	if err != nil {
		log.Printf("[AutoCloser] Failed to load notification candidates: %v", err)
	} else {
		result.NotificationsSent += ac.notifier.Run(ctx, notifCandidates)
	}

	// Phase 2: auto-close
	candidates, err := ac.store.ListAutoCloseCandidates(ctx, ac.cfg.MaxCandidates)
	if err != nil {
		return result, fmt.Errorf("failed to load auto-close candidates: %w", err)
	}

	for i := range candidates {
		o := candidates[i]
		result.TradesChecked++

		// Exchange interactions run one at a time: every iteration may
		// perform signed writes sharing the same wallet credentials.
		if err := ac.reconcileSafe(ctx, &o, &result.NotificationsSent); err != nil {
			log.Printf("[AutoCloser] Order %d: %v", o.ID, err)
		}
	}

	log.Printf("[AutoCloser] Pass complete: %d orders checked, %d notifications sent",
		result.TradesChecked, result.NotificationsSent)

	return result, nil
}

// reconcileSafe isolates one order's reconciliation; a panic or error in
// one order never aborts the run.
func (ac *AutoCloser) reconcileSafe(ctx context.Context, o *models.FollowedOrder, sent *int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during reconciliation: %v", r)
		}
	}()
	return ac.reconcile(ctx, o, sent)
}

func (ac *AutoCloser) reconcile(ctx context.Context, o *models.FollowedOrder, sent *int) error {
	if o.AutoCloseTriggeredAt != nil {
		return nil // terminal, never re-attempted
	}

	retry := EffectiveRetryCount(o)
	if AtCeiling(retry) {
		log.Printf("[AutoCloser] Order %d: retry ceiling reached (%d), manual close required", o.ID, retry)
		return nil
	}
	if InCooldown(retry, o.AutoCloseAttemptedAt, ac.now()) {
		return nil // deferred, not a failure
	}

	if o.ConditionID == "" || o.TraderWallet == "" || o.UserWallet == "" || o.Outcome == "" {
		// May resolve itself once upstream data is backfilled; no retry
		// counter increment.
		log.Printf("[AutoCloser] Order %d: missing identifying fields, skipping", o.ID)
		return nil
	}

	// A previously accepted submission with an unverified fill is
	// resolved before anything new is submitted.
	if o.AutoCloseOrderID != "" && o.AutoCloseError == verifyPendingMessage {
		return ac.resumeVerification(ctx, o, retry, sent)
	}

	traderSize, _, err := ac.positions.PositionSize(ctx, o.TraderWallet, o.ConditionID, o.Outcome)
	if err != nil {
		return fmt.Errorf("trader position lookup failed: %w", err)
	}

	decision := ComputeReduction(o.TraderPositionSize, traderSize)
	if !decision.ShouldClose {
		if err := ac.store.UpdateTraderBaseline(ctx, o.ID, decision.NewBaseline); err != nil {
			return fmt.Errorf("baseline update failed: %w", err)
		}
		return nil
	}

	followerSize, _, err := ac.positions.PositionSize(ctx, o.UserWallet, o.ConditionID, o.Outcome)
	if err != nil {
		return fmt.Errorf("follower position lookup failed: %w", err)
	}
	if followerSize <= 0 {
		log.Printf("[AutoCloser] Order %d: follower holds no position, nothing to close", o.ID)
		return ac.store.UpdateTraderBaseline(ctx, o.ID, decision.NewBaseline)
	}

	market, err := ac.exchange.GetMarket(ctx, o.ConditionID)
	if err != nil {
		return fmt.Errorf("market lookup failed: %w", err)
	}
	token := market.TokenForOutcome(o.Outcome)
	if token == nil {
		log.Printf("[AutoCloser] Order %d: no token for outcome %q, skipping", o.ID, o.Outcome)
		return nil
	}
	price, err := strconv.ParseFloat(token.Price, 64)
	if err != nil || price <= 0 {
		log.Printf("[AutoCloser] Order %d: no usable price for token %s, skipping", o.ID, token.TokenID)
		return nil
	}

	closeSize := CloseSize(followerSize, decision.CloseFraction, ac.cfg.SizeStep)
	if closeSize <= 0 {
		// Rounds below the minimum step: a successful no-op that still
		// moves the baseline forward.
		return ac.store.UpdateTraderBaseline(ctx, o.ID, decision.NewBaseline)
	}

	slippage := o.SlippagePercent
	if slippage <= 0 {
		slippage = ac.cfg.DefaultSlippagePct
	}
	closeSide := o.Side.Opposite()
	limitPrice := ClosePrice(price, o.Side, slippage, market.TickSize())

	attemptAt := ac.now()
	claimed, err := ac.store.ClaimAutoCloseAttempt(ctx, o.ID, o.AutoCloseAttemptedAt, attemptAt)
	if err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}
	if !claimed {
		log.Printf("[AutoCloser] Order %d: claimed by a concurrent invocation, skipping", o.ID)
		return nil
	}

	ev := &models.OrderEvent{
		UserID:          o.UserID,
		Wallet:          o.UserWallet,
		IdempotencyKey:  fmt.Sprintf("autoclose-%d-%d", o.ID, attemptAt.UnixNano()),
		TokenID:         token.TokenID,
		ConditionID:     o.ConditionID,
		Side:            closeSide,
		Price:           limitPrice,
		Size:            closeSize,
		Status:          models.EventStatusAttempted,
		FollowedOrderID: o.ID,
	}
	if err := ac.store.InsertOrderEvent(ctx, ev); err != nil {
		// Abort before any network call so no attempt goes unaudited.
		return fmt.Errorf("order event insert failed: %w", err)
	}

	if err := ac.gate.Check(ctx); err != nil {
		res := api.GateUnavailable(err)
		ac.closeEvent(ctx, ev.ID, models.EventStatusRejected, res.ErrorType, res.Message)
		ac.fail(ctx, o, retry, res.Message, "", market.Question, sent)
		return nil
	}

	log.Printf("[AutoCloser] Order %d: closing %.2f %s at %.3f (trader %.2f -> %.2f, fraction %.4f)",
		o.ID, closeSize, closeSide, limitPrice, orZero(o.TraderPositionSize), decision.NewBaseline, decision.CloseFraction)

	res := ac.exchange.SubmitOrder(ctx, api.CloseOrderRequest{
		TokenID: token.TokenID,
		Side:    string(closeSide),
		Size:    closeSize,
		Price:   limitPrice,
		NegRisk: market.NegRisk,
	})

	switch res.Kind {
	case api.SubmitRejected, api.SubmitGateUnavailable:
		ac.closeEvent(ctx, ev.ID, models.EventStatusRejected, res.ErrorType, res.Message)
		ac.fail(ctx, o, retry, res.Message, "", market.Question, sent)
		return nil
	case api.SubmitSubmitted:
		ac.closeEvent(ctx, ev.ID, models.EventStatusSubmitted, "", res.Status)
	}

	// Let the fill settle before looking it up
	ac.sleep(time.Duration(ac.cfg.SettleDelaySec) * time.Second)

	return ac.verifyFill(ctx, o, retry, decision.NewBaseline, closeSize, limitPrice, res.OrderID, ev.ID, market.Question, sent)
}

// verifyFill looks up a submitted order and settles the bookkeeping.
func (ac *AutoCloser) verifyFill(ctx context.Context, o *models.FollowedOrder, retry int, newBaseline, requestedSize, price float64, exchangeOrderID string, eventID int64, question string, sent *int) error {
	ord, err := ac.exchange.GetOrder(ctx, exchangeOrderID)
	if err != nil {
		// Not assumed filled: recorded as pending and re-verified next
		// eligible pass. The retry counter still bounds the loop.
		log.Printf("[AutoCloser] Order %d: fill lookup failed for %s: %v", o.ID, exchangeOrderID, err)
		ac.fail(ctx, o, retry, verifyPendingMessage, exchangeOrderID, question, sent)
		return nil
	}

	filled := ord.FilledSize()
	if filled <= 0 {
		if eventID > 0 {
			ac.setEventFill(ctx, eventID, 0)
		}
		ac.fail(ctx, o, retry, "close order did not fill", exchangeOrderID, question, sent)
		return nil
	}

	// The exchange's fill price is authoritative over the limit price we
	// asked for; a resumed verification has no limit price at all.
	if p, perr := strconv.ParseFloat(ord.Price, 64); perr == nil && p > 0 {
		price = p
	}

	ratio := filled / requestedSize
	if ratio > 1 {
		ratio = 1
	}
	if eventID > 0 {
		ac.setEventFill(ctx, eventID, ratio)
	}

	// Partial fills book the same as full fills; the ratio lives in the
	// audit row. Terminal only when the trader is fully out.
	terminal := newBaseline <= 0
	if err := ac.store.RecordAutoCloseFill(ctx, o.ID, newBaseline, filled, terminal, exchangeOrderID, ac.now()); err != nil {
		return fmt.Errorf("fill bookkeeping failed: %w", err)
	}

	if ac.notifier.NotifyAutoCloseSuccess(ctx, o, question, filled, price) {
		*sent++
	}

	return nil
}

// resumeVerification re-checks a previously submitted order whose fill
// lookup failed, before any new submission for this followed order. The
// row is claimed first so two overlapping invocations cannot both book
// the same parked fill.
func (ac *AutoCloser) resumeVerification(ctx context.Context, o *models.FollowedOrder, retry int, sent *int) error {
	claimed, err := ac.store.ClaimAutoCloseAttempt(ctx, o.ID, o.AutoCloseAttemptedAt, ac.now())
	if err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}
	if !claimed {
		log.Printf("[AutoCloser] Order %d: claimed by a concurrent invocation, skipping", o.ID)
		return nil
	}

	question := o.ConditionID
	if market, err := ac.exchange.GetMarket(ctx, o.ConditionID); err == nil {
		question = market.Question
	}

	traderSize, _, err := ac.positions.PositionSize(ctx, o.TraderWallet, o.ConditionID, o.Outcome)
	if err != nil {
		return fmt.Errorf("trader position lookup failed: %w", err)
	}

	return ac.verifyFill(ctx, o, retry, traderSize, o.RemainingSize, 0, o.AutoCloseOrderID, 0, question, sent)
}

// fail records a retryable failure and escalates to the user at the
// notification thresholds.
func (ac *AutoCloser) fail(ctx context.Context, o *models.FollowedOrder, retryBefore int, message, exchangeOrderID, question string, sent *int) {
	count := retryBefore + 1
	if err := ac.store.RecordAutoCloseFailure(ctx, o.ID, count, message, exchangeOrderID, ac.now()); err != nil {
		log.Printf("[AutoCloser] Order %d: failed to record failure state: %v", o.ID, err)
	}

	if ac.notifier.NotifyAutoCloseFailure(ctx, o, question, message, count) {
		*sent++
	}
}

func (ac *AutoCloser) closeEvent(ctx context.Context, eventID int64, status, errorCode, message string) {
	if err := ac.store.CloseOrderEvent(ctx, eventID, status, errorCode, message); err != nil {
		log.Printf("[AutoCloser] Failed to close order event %d: %v", eventID, err)
	}
}

func (ac *AutoCloser) setEventFill(ctx context.Context, eventID int64, ratio float64) {
	if err := ac.store.SetOrderEventFill(ctx, eventID, ratio); err != nil {
		log.Printf("[AutoCloser] Failed to set fill ratio on event %d: %v", eventID, err)
	}
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
