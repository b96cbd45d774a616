package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hiiliketocode/polycopy-sub006/api"
	"github.com/hiiliketocode/polycopy-sub006/config"
	"github.com/hiiliketocode/polycopy-sub006/models"
	"github.com/hiiliketocode/polycopy-sub006/storage"
)

type fakeExchange struct {
	market    *api.MarketInfo
	marketErr error

	order    *api.OpenOrder
	orderErr error

	submit    api.SubmitResult
	submitted []api.CloseOrderRequest
}

func (f *fakeExchange) GetMarket(ctx context.Context, conditionID string) (*api.MarketInfo, error) {
	if f.marketErr != nil {
		return nil, f.marketErr
	}
	return f.market, nil
}

func (f *fakeExchange) GetOrder(ctx context.Context, orderID string) (*api.OpenOrder, error) {
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	return f.order, nil
}

func (f *fakeExchange) SubmitOrder(ctx context.Context, req api.CloseOrderRequest) api.SubmitResult {
	f.submitted = append(f.submitted, req)
	return f.submit
}

type fakePositions struct {
	sizes map[string]float64 // keyed by wallet
	err   error
}

func (f *fakePositions) PositionSize(ctx context.Context, wallet, conditionID, outcome string) (float64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	size, ok := f.sizes[wallet]
	return size, ok, nil
}

type fakeGate struct {
	err error
}

func (f *fakeGate) Check(ctx context.Context) error {
	return f.err
}

type fakeEmail struct {
	resolved  []api.MarketResolvedEmail
	exits     []api.TraderExitEmail
	successes []api.AutoCloseSuccessEmail
	failures  []api.AutoCloseFailureEmail
	err       error
}

func (f *fakeEmail) SendMarketResolved(ctx context.Context, to string, p api.MarketResolvedEmail) error {
	if f.err != nil {
		return f.err
	}
	f.resolved = append(f.resolved, p)
	return nil
}

func (f *fakeEmail) SendTraderExit(ctx context.Context, to string, p api.TraderExitEmail) error {
	if f.err != nil {
		return f.err
	}
	f.exits = append(f.exits, p)
	return nil
}

func (f *fakeEmail) SendAutoCloseSuccess(ctx context.Context, to string, p api.AutoCloseSuccessEmail) error {
	if f.err != nil {
		return f.err
	}
	f.successes = append(f.successes, p)
	return nil
}

func (f *fakeEmail) SendAutoCloseFailure(ctx context.Context, to string, p api.AutoCloseFailureEmail) error {
	if f.err != nil {
		return f.err
	}
	f.failures = append(f.failures, p)
	return nil
}

const (
	testTrader = "0x1111111111111111111111111111111111111111"
	testUser   = "0x2222222222222222222222222222222222222222"
	testCond   = "0xcondition"
)

func testMarket() *api.MarketInfo {
	return &api.MarketInfo{
		ConditionID:     testCond,
		Question:        "Will it rain tomorrow?",
		MinimumTickSize: "0.01",
		Active:          true,
		Tokens: []api.ClobTokenInfo{
			{TokenID: "token-yes", Outcome: "Yes", Price: "0.70"},
			{TokenID: "token-no", Outcome: "No", Price: "0.30"},
		},
	}
}

func testOrder(id int64) models.FollowedOrder {
	baseline := 1000.0
	return models.FollowedOrder{
		ID:                 id,
		UserID:             "user-1",
		UserEmail:          "user@example.com",
		UserWallet:         testUser,
		TraderWallet:       testTrader,
		ConditionID:        testCond,
		Outcome:            "Yes",
		Side:               models.SideBuy,
		Status:             models.OrderStatusOpen,
		RemainingSize:      50,
		TraderPositionSize: &baseline,
		AutoCloseEnabled:   true,
		SlippagePercent:    2.0,
	}
}

type closerFixture struct {
	store     *storage.MockStore
	exchange  *fakeExchange
	positions *fakePositions
	gate      *fakeGate
	email     *fakeEmail
	closer    *AutoCloser
	now       time.Time
}

func newCloserFixture() *closerFixture {
	f := &closerFixture{
		store:    storage.NewMockStore(),
		exchange: &fakeExchange{market: testMarket()},
		positions: &fakePositions{sizes: map[string]float64{
			testTrader: 600,
			testUser:   50,
		}},
		gate:  &fakeGate{},
		email: &fakeEmail{},
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	cfg := config.AutoCloseConfig{
		MaxCandidates:      100,
		SettleDelaySec:     5,
		DefaultSlippagePct: 2.0,
		SizeStep:           0.01,
		LockTTLSec:         300,
	}

	notifier := NewNotifier(f.store, f.email, f.exchange, f.positions, 10)
	f.closer = NewAutoCloser(f.store, f.exchange, f.positions, f.gate, notifier, cfg)
	f.closer.sleep = func(time.Duration) {}
	f.closer.now = func() time.Time { return f.now }
	return f
}

func TestAutoClosePartialReduction(t *testing.T) {
	f := newCloserFixture()
	f.store.AddOrder(testOrder(1))
	f.exchange.submit = api.SubmitResult{Kind: api.SubmitSubmitted, OrderID: "ord-1", Status: "matched"}
	f.exchange.order = &api.OpenOrder{ID: "ord-1", SizeMatched: "20"}

	result, err := f.closer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.TradesChecked != 1 {
		t.Errorf("TradesChecked = %d, want 1", result.TradesChecked)
	}

	// Trader 1000 -> 600 is a 40% cut; 40% of the follower's 50 shares,
	// sold 2% below the 0.70 market.
	if len(f.exchange.submitted) != 1 {
		t.Fatalf("submitted %d orders, want 1", len(f.exchange.submitted))
	}
	req := f.exchange.submitted[0]
	if req.Side != string(models.SideSell) {
		t.Errorf("side = %s, want SELL", req.Side)
	}
	if !floatEquals(req.Size, 20.00, 1e-9) {
		t.Errorf("size = %v, want 20.00", req.Size)
	}
	if !floatEquals(req.Price, 0.69, 1e-9) {
		t.Errorf("price = %v, want 0.69", req.Price)
	}
	if req.TokenID != "token-yes" {
		t.Errorf("tokenID = %s, want token-yes", req.TokenID)
	}

	o := f.store.GetOrder(1)
	if o.TraderPositionSize == nil || !floatEquals(*o.TraderPositionSize, 600, 1e-9) {
		t.Errorf("baseline = %v, want 600", o.TraderPositionSize)
	}
	if !floatEquals(o.RemainingSize, 30, 1e-9) {
		t.Errorf("remaining = %v, want 30", o.RemainingSize)
	}
	if o.Status != models.OrderStatusPartial {
		t.Errorf("status = %s, want %s", o.Status, models.OrderStatusPartial)
	}
	if o.AutoCloseTriggeredAt != nil {
		t.Errorf("partial close must not be terminal")
	}
	if o.AutoCloseRetryCount != 0 {
		t.Errorf("retry count = %d, want 0", o.AutoCloseRetryCount)
	}

	events := f.store.EventList()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Status != models.EventStatusSubmitted {
		t.Errorf("event status = %s, want submitted", events[0].Status)
	}
	if events[0].FillRatio == nil || !floatEquals(*events[0].FillRatio, 1, 1e-9) {
		t.Errorf("fill ratio = %v, want 1", events[0].FillRatio)
	}

	if len(f.email.successes) != 1 {
		t.Errorf("got %d success emails, want 1", len(f.email.successes))
	}
}

func TestAutoCloseFullExit(t *testing.T) {
	f := newCloserFixture()
	f.store.AddOrder(testOrder(1))
	f.positions.sizes[testTrader] = 0
	f.exchange.submit = api.SubmitResult{Kind: api.SubmitSubmitted, OrderID: "ord-2", Status: "matched"}
	f.exchange.order = &api.OpenOrder{ID: "ord-2", SizeMatched: "50"}

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(f.exchange.submitted) != 1 {
		t.Fatalf("submitted %d orders, want 1", len(f.exchange.submitted))
	}
	if !floatEquals(f.exchange.submitted[0].Size, 50, 1e-9) {
		t.Errorf("size = %v, want 50", f.exchange.submitted[0].Size)
	}

	o := f.store.GetOrder(1)
	if o.AutoCloseTriggeredAt == nil {
		t.Errorf("full exit must be terminal")
	}
	if o.Status != models.OrderStatusClosed {
		t.Errorf("status = %s, want %s", o.Status, models.OrderStatusClosed)
	}
	if !floatEquals(o.RemainingSize, 0, 1e-9) {
		t.Errorf("remaining = %v, want 0", o.RemainingSize)
	}
}

func TestAutoCloseGrowthUpdatesBaselineOnly(t *testing.T) {
	f := newCloserFixture()
	f.store.AddOrder(testOrder(1))
	f.positions.sizes[testTrader] = 1500

	result, err := f.closer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.TradesChecked != 1 {
		t.Errorf("TradesChecked = %d, want 1", result.TradesChecked)
	}

	if len(f.exchange.submitted) != 0 {
		t.Errorf("submitted %d orders, want 0", len(f.exchange.submitted))
	}
	o := f.store.GetOrder(1)
	if o.TraderPositionSize == nil || !floatEquals(*o.TraderPositionSize, 1500, 1e-9) {
		t.Errorf("baseline = %v, want 1500", o.TraderPositionSize)
	}
	if len(f.store.EventList()) != 0 {
		t.Errorf("baseline update must not create audit rows")
	}
}

func TestAutoCloseFirstObservation(t *testing.T) {
	f := newCloserFixture()
	o := testOrder(1)
	o.TraderPositionSize = nil
	f.store.AddOrder(o)
	f.positions.sizes[testTrader] = 400

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(f.exchange.submitted) != 0 {
		t.Errorf("first observation must not submit")
	}
	got := f.store.GetOrder(1)
	if got.TraderPositionSize == nil || !floatEquals(*got.TraderPositionSize, 400, 1e-9) {
		t.Errorf("baseline = %v, want 400", got.TraderPositionSize)
	}
}

func TestAutoCloseNeverReattemptsTriggeredOrder(t *testing.T) {
	f := newCloserFixture()
	o := testOrder(1)
	triggeredAt := f.now.Add(-time.Hour)
	o.AutoCloseTriggeredAt = &triggeredAt
	o.Status = models.OrderStatusClosed
	f.store.AddOrder(o)
	f.positions.sizes[testTrader] = 0 // even a trader exit changes nothing

	result, err := f.closer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.TradesChecked != 0 {
		t.Errorf("TradesChecked = %d, want 0 for terminal order", result.TradesChecked)
	}
	if len(f.exchange.submitted) != 0 {
		t.Errorf("terminal order must never resubmit")
	}
}

func TestAutoCloseSkipsAtRetryCeiling(t *testing.T) {
	f := newCloserFixture()
	o := testOrder(1)
	o.AutoCloseRetryCount = RetryCeiling
	f.store.AddOrder(o)

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(f.exchange.submitted) != 0 {
		t.Errorf("ceiling-capped order must not submit")
	}
	got := f.store.GetOrder(1)
	if got.AutoCloseRetryCount != RetryCeiling {
		t.Errorf("retry count = %d, want %d", got.AutoCloseRetryCount, RetryCeiling)
	}
}

func TestAutoCloseLegacyRetryEncodingRespected(t *testing.T) {
	f := newCloserFixture()
	o := testOrder(1)
	o.AutoCloseError = "RETRY_COUNT:10|order rejected"
	f.store.AddOrder(o)

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(f.exchange.submitted) != 0 {
		t.Errorf("legacy-encoded ceiling must not submit")
	}
}

func TestAutoCloseCooldown(t *testing.T) {
	f := newCloserFixture()
	o := testOrder(1)
	o.AutoCloseRetryCount = 2
	lastAttempt := f.now.Add(-2 * time.Minute)
	o.AutoCloseAttemptedAt = &lastAttempt
	f.store.AddOrder(o)

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(f.exchange.submitted) != 0 {
		t.Errorf("order inside cooldown must not submit")
	}

	// Same order after the cooldown elapses
	f.now = f.now.Add(5 * time.Minute)
	f.exchange.submit = api.SubmitResult{Kind: api.SubmitSubmitted, OrderID: "ord-3", Status: "matched"}
	f.exchange.order = &api.OpenOrder{ID: "ord-3", SizeMatched: "20"}

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(f.exchange.submitted) != 1 {
		t.Errorf("submitted %d orders after cooldown, want 1", len(f.exchange.submitted))
	}
}

func TestAutoCloseEgressGateBlocksSubmission(t *testing.T) {
	f := newCloserFixture()
	f.store.AddOrder(testOrder(1))
	f.gate.err = errors.New("egress proxy unreachable: connection refused")

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// The exchange must never see an order when the egress path is down.
	if len(f.exchange.submitted) != 0 {
		t.Fatalf("submitted %d orders, want 0", len(f.exchange.submitted))
	}

	events := f.store.EventList()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Status != models.EventStatusRejected {
		t.Errorf("event status = %s, want rejected", events[0].Status)
	}
	if events[0].ErrorCode != api.ErrorCodeEgressUnavailable {
		t.Errorf("event error code = %s, want %s", events[0].ErrorCode, api.ErrorCodeEgressUnavailable)
	}

	o := f.store.GetOrder(1)
	if o.AutoCloseRetryCount != 1 {
		t.Errorf("retry count = %d, want 1", o.AutoCloseRetryCount)
	}
	if o.AutoCloseError == "" {
		t.Errorf("failure message not recorded")
	}
	if len(f.email.failures) != 0 {
		t.Errorf("first failure must not email")
	}
}

func TestAutoCloseRejectedOrder(t *testing.T) {
	f := newCloserFixture()
	f.store.AddOrder(testOrder(1))
	f.exchange.submit = api.SubmitResult{
		Kind:      api.SubmitRejected,
		ErrorType: "ORDER_REJECTED",
		Message:   "not enough balance / allowance",
	}

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	events := f.store.EventList()
	if len(events) != 1 || events[0].Status != models.EventStatusRejected {
		t.Fatalf("want one rejected event, got %+v", events)
	}

	o := f.store.GetOrder(1)
	if o.AutoCloseRetryCount != 1 {
		t.Errorf("retry count = %d, want 1", o.AutoCloseRetryCount)
	}
	if o.AutoCloseError != "not enough balance / allowance" {
		t.Errorf("error = %q, want exchange message", o.AutoCloseError)
	}
}

func TestAutoCloseNoFill(t *testing.T) {
	f := newCloserFixture()
	f.store.AddOrder(testOrder(1))
	f.exchange.submit = api.SubmitResult{Kind: api.SubmitSubmitted, OrderID: "ord-4", Status: "live"}
	f.exchange.order = &api.OpenOrder{ID: "ord-4", SizeMatched: "0"}

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	o := f.store.GetOrder(1)
	if o.AutoCloseRetryCount != 1 {
		t.Errorf("retry count = %d, want 1", o.AutoCloseRetryCount)
	}
	if !floatEquals(o.RemainingSize, 50, 1e-9) {
		t.Errorf("remaining = %v, want unchanged 50", o.RemainingSize)
	}
	if o.AutoCloseOrderID != "ord-4" {
		t.Errorf("exchange order id = %q, want ord-4", o.AutoCloseOrderID)
	}

	events := f.store.EventList()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].FillRatio == nil || !floatEquals(*events[0].FillRatio, 0, 1e-9) {
		t.Errorf("fill ratio = %v, want 0", events[0].FillRatio)
	}
}

func TestAutoCloseVerificationPendingThenResumed(t *testing.T) {
	f := newCloserFixture()
	f.store.AddOrder(testOrder(1))
	f.exchange.submit = api.SubmitResult{Kind: api.SubmitSubmitted, OrderID: "ord-5", Status: "matched"}
	f.exchange.orderErr = errors.New("lookup timed out")

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// The fill is unknown, not assumed: the attempt is parked, not booked.
	o := f.store.GetOrder(1)
	if o.AutoCloseRetryCount != 1 {
		t.Errorf("retry count = %d, want 1", o.AutoCloseRetryCount)
	}
	if o.AutoCloseOrderID != "ord-5" {
		t.Errorf("exchange order id = %q, want ord-5", o.AutoCloseOrderID)
	}
	if o.AutoCloseError != "fill verification pending" {
		t.Errorf("error = %q, want pending marker", o.AutoCloseError)
	}
	if !floatEquals(o.RemainingSize, 50, 1e-9) {
		t.Errorf("remaining = %v, want unchanged 50", o.RemainingSize)
	}

	// Next eligible pass re-verifies the stored order id instead of
	// submitting again.
	f.now = f.now.Add(6 * time.Minute)
	f.exchange.orderErr = nil
	f.exchange.order = &api.OpenOrder{ID: "ord-5", SizeMatched: "20", Price: "0.69"}

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(f.exchange.submitted) != 1 {
		t.Errorf("submitted %d orders total, want 1 (no resubmission)", len(f.exchange.submitted))
	}

	o = f.store.GetOrder(1)
	if !floatEquals(o.RemainingSize, 30, 1e-9) {
		t.Errorf("remaining = %v, want 30", o.RemainingSize)
	}
	if o.AutoCloseError != "" {
		t.Errorf("error = %q, want cleared", o.AutoCloseError)
	}
	if o.AutoCloseRetryCount != 0 {
		t.Errorf("retry count = %d, want reset to 0", o.AutoCloseRetryCount)
	}

	// The success email is priced off the exchange's fill, not the limit
	// price of the original submission (which the resumed pass no longer has).
	if len(f.email.successes) != 1 {
		t.Fatalf("got %d success emails, want 1", len(f.email.successes))
	}
	mail := f.email.successes[0]
	if !floatEquals(mail.FilledSize, 20, 1e-9) {
		t.Errorf("email filled size = %v, want 20", mail.FilledSize)
	}
	if !floatEquals(mail.Price, 0.69, 1e-9) {
		t.Errorf("email price = %v, want 0.69", mail.Price)
	}
	if !floatEquals(mail.Proceeds, 13.8, 1e-9) {
		t.Errorf("email proceeds = %v, want 13.80", mail.Proceeds)
	}
}

func TestAutoCloseResumeRequiresClaim(t *testing.T) {
	f := newCloserFixture()
	o := testOrder(1)
	o.AutoCloseRetryCount = 1
	o.AutoCloseError = "fill verification pending"
	o.AutoCloseOrderID = "ord-5"
	attempted := f.now.Add(-6 * time.Minute)
	o.AutoCloseAttemptedAt = &attempted
	f.store.AddOrder(o)
	f.exchange.order = &api.OpenOrder{ID: "ord-5", SizeMatched: "20", Price: "0.69"}

	// Another invocation claimed the row after we read it: our stale copy
	// must lose the claim and not book the parked fill a second time.
	stale := f.now.Add(-7 * time.Minute)
	read := o
	read.AutoCloseAttemptedAt = &stale
	var sent int
	if err := f.closer.reconcileSafe(context.Background(), &read, &sent); err != nil {
		t.Fatalf("reconcileSafe returned error: %v", err)
	}

	if got := f.store.Calls["RecordAutoCloseFill"]; got != 0 {
		t.Errorf("RecordAutoCloseFill called %d times, want 0", got)
	}
	after := f.store.GetOrder(1)
	if !floatEquals(after.RemainingSize, 50, 1e-9) {
		t.Errorf("remaining = %v, want unchanged 50", after.RemainingSize)
	}
	if len(f.email.successes) != 0 {
		t.Errorf("got %d success emails, want 0", len(f.email.successes))
	}
}

func TestAutoCloseFollowerAlreadyFlat(t *testing.T) {
	f := newCloserFixture()
	f.store.AddOrder(testOrder(1))
	f.positions.sizes[testUser] = 0

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(f.exchange.submitted) != 0 {
		t.Errorf("flat follower must not submit")
	}
	o := f.store.GetOrder(1)
	if o.TraderPositionSize == nil || !floatEquals(*o.TraderPositionSize, 600, 1e-9) {
		t.Errorf("baseline = %v, want advanced to 600", o.TraderPositionSize)
	}
}

func TestAutoCloseFailureEmailThresholds(t *testing.T) {
	f := newCloserFixture()
	o := testOrder(1)
	o.AutoCloseRetryCount = 2
	lastAttempt := f.now.Add(-10 * time.Minute)
	o.AutoCloseAttemptedAt = &lastAttempt
	f.store.AddOrder(o)
	f.gate.err = errors.New("egress proxy unreachable")

	if _, err := f.closer.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// Third failure is the first escalation point
	if len(f.email.failures) != 1 {
		t.Fatalf("got %d failure emails, want 1", len(f.email.failures))
	}
	if f.email.failures[0].RetryCount != 3 {
		t.Errorf("email retry count = %d, want 3", f.email.failures[0].RetryCount)
	}
	if f.email.failures[0].Final {
		t.Errorf("attempt 3 must not be flagged final")
	}
}

func TestAutoCloseJobLockBlocksOverlap(t *testing.T) {
	f := newCloserFixture()
	f.store.AddOrder(testOrder(1))
	f.store.Locks[jobLockKey] = true

	result, err := f.closer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.TradesChecked != 0 {
		t.Errorf("TradesChecked = %d, want 0 when lock is held", result.TradesChecked)
	}
	if f.store.Calls["ListAutoCloseCandidates"] != 0 {
		t.Errorf("candidates listed despite held lock")
	}
}

func TestAutoClosePerOrderIsolation(t *testing.T) {
	f := newCloserFixture()

	broken := testOrder(1)
	broken.ConditionID = "" // permanently unprocessable
	f.store.AddOrder(broken)
	f.store.AddOrder(testOrder(2))

	f.exchange.submit = api.SubmitResult{Kind: api.SubmitSubmitted, OrderID: "ord-6", Status: "matched"}
	f.exchange.order = &api.OpenOrder{ID: "ord-6", SizeMatched: "20"}

	result, err := f.closer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.TradesChecked != 2 {
		t.Errorf("TradesChecked = %d, want 2", result.TradesChecked)
	}

	// The broken row is skipped without a retry increment; the healthy
	// row still closes.
	if got := f.store.GetOrder(1).AutoCloseRetryCount; got != 0 {
		t.Errorf("broken order retry count = %d, want 0", got)
	}
	if len(f.exchange.submitted) != 1 {
		t.Errorf("submitted %d orders, want 1", len(f.exchange.submitted))
	}
}
