package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hiiliketocode/polycopy-sub006/models"
)

// MockStore is an in-memory implementation of Store for testing
type MockStore struct {
	mu sync.RWMutex

	Orders map[int64]*models.FollowedOrder
	Events map[int64]*models.OrderEvent
	Prefs  map[string]*models.NotificationPref
	Locks  map[string]bool
	Cache  map[string]string

	nextEventID int64

	// Call tracking for assertions
	Calls map[string]int

	// Error injection for testing error paths
	ErrorOnNext map[string]error
}

// NewMockStore creates a new mock store
func NewMockStore() *MockStore {
	return &MockStore{
		Orders:      make(map[int64]*models.FollowedOrder),
		Events:      make(map[int64]*models.OrderEvent),
		Prefs:       make(map[string]*models.NotificationPref),
		Locks:       make(map[string]bool),
		Cache:       make(map[string]string),
		nextEventID: 1,
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockStore) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// AddOrder seeds a followed order.
func (m *MockStore) AddOrder(o models.FollowedOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := o
	m.Orders[o.ID] = &cp
}

// GetOrder returns a copy of a seeded order for assertions.
func (m *MockStore) GetOrder(id int64) models.FollowedOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.Orders[id]; ok {
		return *o
	}
	return models.FollowedOrder{}
}

// EventList returns all audit rows in insertion order.
func (m *MockStore) EventList() []models.OrderEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]models.OrderEvent, 0, len(m.Events))
	for id := int64(1); id < m.nextEventID; id++ {
		if ev, ok := m.Events[id]; ok {
			events = append(events, *ev)
		}
	}
	return events
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) ListAutoCloseCandidates(ctx context.Context, limit int) ([]models.FollowedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("ListAutoCloseCandidates"); err != nil {
		return nil, err
	}

	var orders []models.FollowedOrder
	for _, id := range m.sortedOrderIDs() {
		if len(orders) >= limit {
			break
		}
		o := m.Orders[id]
		if !o.AutoCloseEnabled || o.AutoCloseTriggeredAt != nil || o.RemainingSize <= 0 {
			continue
		}
		if o.Status != models.OrderStatusOpen && o.Status != models.OrderStatusPartial {
			continue
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

func (m *MockStore) sortedOrderIDs() []int64 {
	ids := make([]int64, 0, len(m.Orders))
	for id := range m.Orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *MockStore) ListNotificationCandidates(ctx context.Context, limit int) ([]models.FollowedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("ListNotificationCandidates"); err != nil {
		return nil, err
	}

	var orders []models.FollowedOrder
	for _, id := range m.sortedOrderIDs() {
		if len(orders) >= limit {
			break
		}
		o := m.Orders[id]
		if o.RemainingSize <= 0 || (o.ResolvedNotified && o.TraderExitNotified) {
			continue
		}
		if o.Status != models.OrderStatusOpen && o.Status != models.OrderStatusPartial {
			continue
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

func (m *MockStore) ClaimAutoCloseAttempt(ctx context.Context, orderID int64, prevAttemptedAt *time.Time, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("ClaimAutoCloseAttempt"); err != nil {
		return false, err
	}

	o, ok := m.Orders[orderID]
	if !ok || o.AutoCloseTriggeredAt != nil {
		return false, nil
	}
	if !timePtrEqual(o.AutoCloseAttemptedAt, prevAttemptedAt) {
		return false, nil
	}
	t := at
	o.AutoCloseAttemptedAt = &t
	return true, nil
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (m *MockStore) UpdateTraderBaseline(ctx context.Context, orderID int64, size float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("UpdateTraderBaseline"); err != nil {
		return err
	}
	if o, ok := m.Orders[orderID]; ok {
		s := size
		o.TraderPositionSize = &s
	}
	return nil
}

func (m *MockStore) RecordAutoCloseFailure(ctx context.Context, orderID int64, retryCount int, message, exchangeOrderID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("RecordAutoCloseFailure"); err != nil {
		return err
	}
	if o, ok := m.Orders[orderID]; ok {
		o.AutoCloseRetryCount = retryCount
		o.AutoCloseError = message
		o.AutoCloseOrderID = exchangeOrderID
		t := at
		o.AutoCloseAttemptedAt = &t
	}
	return nil
}

func (m *MockStore) RecordAutoCloseFill(ctx context.Context, orderID int64, newBaseline, filledSize float64, terminal bool, exchangeOrderID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("RecordAutoCloseFill"); err != nil {
		return err
	}
	if o, ok := m.Orders[orderID]; ok {
		b := newBaseline
		o.TraderPositionSize = &b
		o.RemainingSize -= filledSize
		if o.RemainingSize < 0 {
			o.RemainingSize = 0
		}
		o.AutoCloseRetryCount = 0
		o.AutoCloseError = ""
		o.AutoCloseOrderID = exchangeOrderID
		t := at
		o.AutoCloseAttemptedAt = &t
		if terminal {
			tt := at
			o.AutoCloseTriggeredAt = &tt
			o.Status = models.OrderStatusClosed
		} else {
			o.Status = models.OrderStatusPartial
		}
	}
	return nil
}

func (m *MockStore) InsertOrderEvent(ctx context.Context, ev *models.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("InsertOrderEvent"); err != nil {
		return err
	}
	ev.ID = m.nextEventID
	m.nextEventID++
	ev.CreatedAt = time.Now()
	ev.UpdatedAt = ev.CreatedAt
	cp := *ev
	m.Events[ev.ID] = &cp
	return nil
}

func (m *MockStore) CloseOrderEvent(ctx context.Context, eventID int64, status, errorCode, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("CloseOrderEvent"); err != nil {
		return err
	}
	if ev, ok := m.Events[eventID]; ok {
		ev.Status = status
		ev.ErrorCode = errorCode
		ev.Message = message
		ev.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MockStore) SetOrderEventFill(ctx context.Context, eventID int64, fillRatio float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SetOrderEventFill"); err != nil {
		return err
	}
	if ev, ok := m.Events[eventID]; ok {
		r := fillRatio
		ev.FillRatio = &r
		ev.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MockStore) MarkResolvedNotified(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("MarkResolvedNotified"); err != nil {
		return err
	}
	if o, ok := m.Orders[orderID]; ok {
		o.ResolvedNotified = true
	}
	return nil
}

func (m *MockStore) MarkTraderExitNotified(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("MarkTraderExitNotified"); err != nil {
		return err
	}
	if o, ok := m.Orders[orderID]; ok {
		o.TraderExitNotified = true
	}
	return nil
}

func (m *MockStore) GetNotificationPref(ctx context.Context, userID string) (*models.NotificationPref, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pref, ok := m.Prefs[userID]; ok {
		cp := *pref
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MockStore) AcquireJobLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("AcquireJobLock"); err != nil {
		return false, err
	}
	if m.Locks[key] {
		return false, nil
	}
	m.Locks[key] = true
	return true, nil
}

func (m *MockStore) ReleaseJobLock(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Locks, key)
	return nil
}

func (m *MockStore) CacheGet(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.Cache[key]; ok {
		return v, nil
	}
	return "", ErrNotFound
}

func (m *MockStore) CacheSet(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cache[key] = value
	return nil
}
