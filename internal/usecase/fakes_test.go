package usecase

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/gateway"
	"github.com/shopspring/decimal"
)

type fakeAdapter struct {
	id        gateway.ProviderID
	available bool
	customer  func(domain.CustomerInfo) error

	mu          sync.Mutex
	creates     []gateway.CreatePaymentInput
	confirms    []gateway.ConfirmInput
	cancels     []string
	createFn    func(in gateway.CreatePaymentInput) (domain.PaymentIntent, error)
	confirmFn   func(in gateway.ConfirmInput) (domain.PaymentResult, error)
	fetchStatus domain.IntentStatus
	fetchErr    error
}

func newFakeAdapter(id gateway.ProviderID) *fakeAdapter {
	a := &fakeAdapter{id: id, available: true}
	a.createFn = func(in gateway.CreatePaymentInput) (domain.PaymentIntent, error) {
		return domain.PaymentIntent{
			ID:          "pi_" + in.IdempotencyKey,
			Provider:    string(id),
			OrderID:     in.OrderID,
			Amount:      in.Amount,
			Currency:    in.Currency,
			RedirectURL: "https://provider.example/pay/" + in.IdempotencyKey,
			Status:      domain.IntentRequiresAction,
		}, nil
	}
	a.confirmFn = func(in gateway.ConfirmInput) (domain.PaymentResult, error) {
		return domain.PaymentResult{Success: true, PaymentIntentID: in.IntentID}, nil
	}
	return a
}

func (a *fakeAdapter) ID() gateway.ProviderID        { return a.id }
func (a *fakeAdapter) Initialize(gateway.Config) error { return nil }
func (a *fakeAdapter) IsAvailable() bool             { return a.available }

func (a *fakeAdapter) CreatePayment(_ context.Context, in gateway.CreatePaymentInput) (domain.PaymentIntent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creates = append(a.creates, in)
	return a.createFn(in)
}

func (a *fakeAdapter) ConfirmPayment(_ context.Context, in gateway.ConfirmInput) (domain.PaymentResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirms = append(a.confirms, in)
	return a.confirmFn(in)
}

func (a *fakeAdapter) ValidatePaymentData(c domain.CustomerInfo) bool { return a.ValidateCustomer(c) == nil }

func (a *fakeAdapter) ValidateCustomer(c domain.CustomerInfo) error {
	if a.customer == nil {
		return gateway.RequireName(c)
	}
	return a.customer(c)
}

func (a *fakeAdapter) FetchStatus(context.Context, string) (domain.IntentStatus, error) {
	return a.fetchStatus, a.fetchErr
}

func (a *fakeAdapter) CancelPayment(_ context.Context, intentID, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancels = append(a.cancels, intentID)
	return nil
}

func (a *fakeAdapter) createCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.creates)
}

func (a *fakeAdapter) confirmCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.confirms)
}

type fakeDevice struct {
	*fakeAdapter
	validateErr error
	validations int
}

func (d *fakeDevice) ValidateMerchant(_ context.Context, _ string, _ string) (json.RawMessage, error) {
	d.validations++
	if d.validateErr != nil {
		return nil, d.validateErr
	}
	return json.RawMessage(`{"merchantSessionIdentifier":"s1"}`), nil
}

type fakeProviders map[string]gateway.Adapter

func (p fakeProviders) Lookup(id string) (gateway.Adapter, bool) {
	a, ok := p[id]
	return a, ok
}

type memSessions struct {
	mu    sync.Mutex
	items map[string]domain.CheckoutSession
}

func newMemSessions() *memSessions { return &memSessions{items: map[string]domain.CheckoutSession{}} }

func (m *memSessions) Create(_ context.Context, s *domain.CheckoutSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[s.IntentID]; ok {
		return apperr.Conflict("session exists")
	}
	s.Version = 1
	m.items[s.IntentID] = *s.Clone()
	return nil
}

func (m *memSessions) Get(_ context.Context, id string) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("session " + id)
	}
	return s.Clone(), nil
}

func (m *memSessions) Update(_ context.Context, s *domain.CheckoutSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[s.IntentID]
	if !ok {
		return apperr.NotFound("session " + s.IntentID)
	}
	if cur.Version != s.Version {
		return apperr.Conflict("version mismatch")
	}
	s.Version++
	m.items[s.IntentID] = *s.Clone()
	return nil
}

func (m *memSessions) ListUnresolved(_ context.Context, before time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.items {
		if s.Unresolved() && s.UpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memSessions) get(id string) domain.CheckoutSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

type memOrders struct {
	mu        sync.Mutex
	items     map[string]domain.Order
	createErr error
}

func newMemOrders() *memOrders { return &memOrders{items: map[string]domain.Order{}} }

func (m *memOrders) Create(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.items[o.ID]; !ok {
		m.items[o.ID] = *o
	}
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("order " + id)
	}
	return &o, nil
}

func (m *memOrders) GetPaymentStatus(_ context.Context, intentID string) (domain.PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.items {
		if o.PaymentIntentID == intentID {
			return o.PaymentStatus, nil
		}
	}
	return "", apperr.NotFound("payment " + intentID)
}

func (m *memOrders) UpdateOrderStatusIf(_ context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.items[id]
	if !ok || o.OrderStatus != from {
		return false, nil
	}
	o.OrderStatus = to
	m.items[id] = o
	return true, nil
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type memOutbox struct {
	mu     sync.Mutex
	msgs   []OutboxMessage
	sent   map[int64]bool
	retry  map[int64]time.Time
	nextID int64
}

func newMemOutbox() *memOutbox {
	return &memOutbox{sent: map[int64]bool{}, retry: map[int64]time.Time{}}
}

func (m *memOutbox) Enqueue(_ context.Context, topic, aggregateID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.Topic == topic && msg.AggregateID == aggregateID {
			return nil
		}
	}
	m.nextID++
	m.msgs = append(m.msgs, OutboxMessage{ID: m.nextID, Topic: topic, AggregateID: aggregateID, Payload: payload})
	return nil
}

func (m *memOutbox) FetchDue(_ context.Context, limit int) ([]OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxMessage
	for _, msg := range m.msgs {
		if !m.sent[msg.ID] && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memOutbox) MarkSent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[id] = true
	return nil
}

func (m *memOutbox) MarkRetry(_ context.Context, id int64, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retry[id] = next
	for i := range m.msgs {
		if m.msgs[i].ID == id {
			m.msgs[i].Attempts++
		}
	}
	return nil
}

func (m *memOutbox) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.msgs {
		out = append(out, msg.Topic)
	}
	return out
}

type memIdem struct {
	mu     sync.Mutex
	locks  map[string]bool
	values map[string]string
}

func newMemIdem() *memIdem {
	return &memIdem{locks: map[string]bool{}, values: map[string]string{}}
}

func (m *memIdem) TryLock(_ context.Context, scope, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := scope + ":" + key
	if m.locks[k] {
		return false, nil
	}
	m.locks[k] = true
	return true, nil
}

func (m *memIdem) Release(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, scope+":"+key)
	return nil
}

func (m *memIdem) Remember(_ context.Context, scope, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[scope+":"+key] = value
	return nil
}

func (m *memIdem) Recall(_ context.Context, scope, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[scope+":"+key]
	return v, ok, nil
}

func (m *memIdem) Claim(_ context.Context, scope, key, owner string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := "claim:" + scope + ":" + key
	if cur, ok := m.values[k]; ok {
		return cur, nil
	}
	m.values[k] = owner
	return owner, nil
}

type memCache struct {
	mu    sync.Mutex
	items map[string]PaymentStatusView
}

func (m *memCache) Get(_ context.Context, id string) (*PaymentStatusView, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[id]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (m *memCache) Put(_ context.Context, v *PaymentStatusView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[v.IntentID] = *v
	return nil
}

type recMetrics struct {
	mu          sync.Mutex
	transitions []string
}

func (r *recMetrics) CheckoutTransition(_ string, from, to domain.CheckoutState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, string(from)+">"+string(to))
}

type harness struct {
	uc        *Checkout
	providers fakeProviders
	sessions  *memSessions
	orders    *memOrders
	outbox    *memOutbox
	idem      *memIdem
	cache     *memCache
	metrics   *recMetrics
	now       time.Time
}

func newHarness(t *testing.T, adapters ...gateway.Adapter) *harness {
	t.Helper()
	h := &harness{
		providers: fakeProviders{},
		sessions:  newMemSessions(),
		orders:    newMemOrders(),
		outbox:    newMemOutbox(),
		idem:      newMemIdem(),
		cache:     &memCache{items: map[string]PaymentStatusView{}},
		metrics:   &recMetrics{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, a := range adapters {
		h.providers[a.ID().String()] = a
	}
	h.uc = NewCheckout(h.providers, h.sessions, h.orders, h.outbox, h.idem,
		WithStatusCache(h.cache),
		WithMetrics(h.metrics),
		WithClock(func() time.Time { return h.now }),
		WithTimeouts(Timeouts{Intent: time.Second, Confirm: time.Second, Reconcile: time.Second}),
	)
	return h
}

func sampleCart() domain.CartSnapshot {
	// subtotal 100.50, tax 15.08, total 115.58
	return domain.NewCartSnapshot("SAR", []domain.LineItem{
		{ProductID: "p-1", Title: "Dates box", UnitPrice: decimal.RequireFromString("40.25"), Quantity: 2},
		{ProductID: "p-2", Title: "Arabic coffee", UnitPrice: decimal.RequireFromString("20.00"), Quantity: 1},
	})
}

var validCustomer = domain.CustomerInfo{Name: "Noura", Email: "noura@example.com", Phone: "+966501234567"}

func startInput(provider gateway.ProviderID, key string) StartCheckoutInput {
	return StartCheckoutInput{
		IdempotencyKey: key,
		Provider:       provider.String(),
		Cart:           sampleCart(),
		Customer:       validCustomer,
		Locale:         "ar-SA",
	}
}
