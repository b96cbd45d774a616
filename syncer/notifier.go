package syncer

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hiiliketocode/polycopy-sub006/api"
	"github.com/hiiliketocode/polycopy-sub006/models"
	"github.com/hiiliketocode/polycopy-sub006/storage"
)

// EmailSender is the notification surface the job depends on. Satisfied
// by api.EmailClient; tests use a fake.
type EmailSender interface {
	SendMarketResolved(ctx context.Context, to string, p api.MarketResolvedEmail) error
	SendTraderExit(ctx context.Context, to string, p api.TraderExitEmail) error
	SendAutoCloseSuccess(ctx context.Context, to string, p api.AutoCloseSuccessEmail) error
	SendAutoCloseFailure(ctx context.Context, to string, p api.AutoCloseFailureEmail) error
}

// MarketFetcher provides market state lookups.
type MarketFetcher interface {
	GetMarket(ctx context.Context, conditionID string) (*api.MarketInfo, error)
}

// PositionReader provides wallet position lookups.
type PositionReader interface {
	PositionSize(ctx context.Context, wallet, conditionID, outcome string) (float64, bool, error)
}

// Notifier emails followers on life-cycle events: market resolution,
// trader exit, and auto-close outcomes. Each event is gated by its own
// sent-flag so a user is never double-notified, and all sends are
// best-effort.
type Notifier struct {
	store     storage.Store
	email     EmailSender
	markets   MarketFetcher
	positions PositionReader
	batchSize int
}

// NewNotifier creates a Notifier.
func NewNotifier(store storage.Store, email EmailSender, markets MarketFetcher, positions PositionReader, batchSize int) *Notifier {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Notifier{
		store:     store,
		email:     email,
		markets:   markets,
		positions: positions,
		batchSize: batchSize,
	}
}

// Run processes notification candidates in bounded-concurrency batches.
// Each batch's items run concurrently and the whole batch completes
// before the next starts; one item's failure never fails the batch.
// Returns the number of emails sent.
func (n *Notifier) Run(ctx context.Context, orders []models.FollowedOrder) int {
	var sent atomic.Int64

	for start := 0; start < len(orders); start += n.batchSize {
		end := start + n.batchSize
		if end > len(orders) {
			end = len(orders)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(o models.FollowedOrder) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						log.Printf("[Notifier] Panic processing order %d: %v", o.ID, r)
					}
				}()
				sent.Add(int64(n.processOrder(ctx, &o)))
			}(orders[i])
		}
		wg.Wait()
	}

	return int(sent.Load())
}

// processOrder checks one followed order for resolution and trader-exit
// events. Returns the number of emails sent for it (0 or 1).
func (n *Notifier) processOrder(ctx context.Context, o *models.FollowedOrder) int {
	market, err := n.markets.GetMarket(ctx, o.ConditionID)
	if err != nil {
		log.Printf("[Notifier] Order %d: market lookup failed: %v", o.ID, err)
		return 0
	}

	if winner := market.WinnerToken(); market.Closed && winner != nil {
		return n.handleResolved(ctx, o, market, winner)
	}

	return n.handleTraderExit(ctx, o, market)
}

// handleResolved fires the market-resolved email once, and marks the
// trader-exit notification sent without emailing: resolution takes
// priority, so the exit email is suppressed rather than queued.
func (n *Notifier) handleResolved(ctx context.Context, o *models.FollowedOrder, market *api.MarketInfo, winner *api.ClobTokenInfo) int {
	sent := 0

	if !o.ResolvedNotified {
		if n.emailAllowed(ctx, o.UserID) {
			won := strings.EqualFold(winner.Outcome, o.Outcome)
			err := n.email.SendMarketResolved(ctx, o.UserEmail, api.MarketResolvedEmail{
				Question: market.Question,
				Outcome:  winner.Outcome,
				HeldSide: o.Outcome,
				Won:      won,
				Size:     o.RemainingSize,
			})
			if err != nil {
				log.Printf("[Notifier] Order %d: resolved email failed: %v", o.ID, err)
			} else {
				sent++
			}
		}
		if err := n.store.MarkResolvedNotified(ctx, o.ID); err != nil {
			log.Printf("[Notifier] Order %d: mark resolved failed: %v", o.ID, err)
		}
	}

	if !o.TraderExitNotified {
		if err := n.store.MarkTraderExitNotified(ctx, o.ID); err != nil {
			log.Printf("[Notifier] Order %d: mark trader exit failed: %v", o.ID, err)
		}
	}

	return sent
}

// handleTraderExit fires the informational trader-exit email when the
// copied trader's position disappears before resolution.
func (n *Notifier) handleTraderExit(ctx context.Context, o *models.FollowedOrder, market *api.MarketInfo) int {
	if o.TraderExitNotified {
		return 0
	}

	size, _, err := n.positions.PositionSize(ctx, o.TraderWallet, o.ConditionID, o.Outcome)
	if err != nil {
		log.Printf("[Notifier] Order %d: trader position lookup failed: %v", o.ID, err)
		return 0
	}
	if size > 0 {
		return 0
	}

	sent := 0
	if n.emailAllowed(ctx, o.UserID) {
		err := n.email.SendTraderExit(ctx, o.UserEmail, api.TraderExitEmail{
			Question:     market.Question,
			TraderWallet: o.TraderWallet,
			Outcome:      o.Outcome,
		})
		if err != nil {
			log.Printf("[Notifier] Order %d: trader exit email failed: %v", o.ID, err)
		} else {
			sent++
		}
	}
	if err := n.store.MarkTraderExitNotified(ctx, o.ID); err != nil {
		log.Printf("[Notifier] Order %d: mark trader exit failed: %v", o.ID, err)
	}

	return sent
}

// NotifyAutoCloseSuccess reports a completed auto-close. Returns true if
// an email went out.
func (n *Notifier) NotifyAutoCloseSuccess(ctx context.Context, o *models.FollowedOrder, question string, filledSize, price float64) bool {
	if !n.emailAllowed(ctx, o.UserID) {
		return false
	}
	err := n.email.SendAutoCloseSuccess(ctx, o.UserEmail, api.AutoCloseSuccessEmail{
		Question:   question,
		Outcome:    o.Outcome,
		FilledSize: filledSize,
		Price:      price,
		Proceeds:   filledSize * price,
	})
	if err != nil {
		log.Printf("[Notifier] Order %d: auto-close success email failed: %v", o.ID, err)
		return false
	}
	return true
}

// NotifyAutoCloseFailure reports a failing auto-close at escalation
// thresholds only. Returns true if an email went out.
func (n *Notifier) NotifyAutoCloseFailure(ctx context.Context, o *models.FollowedOrder, question, reason string, retryCount int) bool {
	if !ShouldEmailFailure(retryCount) {
		return false
	}
	if !n.emailAllowed(ctx, o.UserID) {
		return false
	}
	err := n.email.SendAutoCloseFailure(ctx, o.UserEmail, api.AutoCloseFailureEmail{
		Question:   question,
		Outcome:    o.Outcome,
		Reason:     reason,
		RetryCount: retryCount,
		Final:      AtCeiling(retryCount),
	})
	if err != nil {
		log.Printf("[Notifier] Order %d: auto-close failure email failed: %v", o.ID, err)
		return false
	}
	return true
}

// emailAllowed checks the user's notification preference. An absent row
// means enabled.
func (n *Notifier) emailAllowed(ctx context.Context, userID string) bool {
	pref, err := n.store.GetNotificationPref(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return true
	}
	if err != nil {
		log.Printf("[Notifier] Pref lookup failed for %s (defaulting to enabled): %v", userID, err)
		return true
	}
	return pref.EmailEnabled
}
