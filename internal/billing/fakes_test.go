package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// memSubscriptions хранилище подписок в памяти с проверкой version, как в postgres.
type memSubscriptions struct {
	mu   sync.Mutex
	rows map[string]*domain.Subscription
	// conflicts сколько следующих Update вернут ErrVersionConflict.
	conflicts int
	updates   int
}

func newMemSubscriptions() *memSubscriptions {
	return &memSubscriptions{rows: make(map[string]*domain.Subscription)}
}

func (m *memSubscriptions) put(sub *domain.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	m.rows[sub.TenantID] = sub.Clone()
}

func (m *memSubscriptions) get(tenantID string) *domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[tenantID].Clone()
}

func (m *memSubscriptions) Create(_ context.Context, sub *domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[sub.TenantID]; ok {
		return fmt.Errorf("%w: tenant %s", domain.ErrDuplicate, sub.TenantID)
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.Version = 1
	m.rows[sub.TenantID] = sub.Clone()
	return nil
}

func (m *memSubscriptions) Upsert(_ context.Context, sub *domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[sub.TenantID]; ok {
		sub.ID = existing.ID
		sub.Version = existing.Version + 1
	} else {
		if sub.ID == uuid.Nil {
			sub.ID = uuid.New()
		}
		sub.Version = 1
	}
	m.rows[sub.TenantID] = sub.Clone()
	return nil
}

func (m *memSubscriptions) Update(_ context.Context, sub *domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rows[sub.TenantID]
	if !ok {
		return domain.ErrNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		existing.Version++
		return fmt.Errorf("%w: tenant %s", domain.ErrVersionConflict, sub.TenantID)
	}
	if existing.Version != sub.Version {
		return fmt.Errorf("%w: tenant %s", domain.ErrVersionConflict, sub.TenantID)
	}
	sub.Version++
	m.updates++
	m.rows[sub.TenantID] = sub.Clone()
	return nil
}

func (m *memSubscriptions) GetByTenantID(_ context.Context, tenantID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.rows[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sub.Clone(), nil
}

func (m *memSubscriptions) GetByStripeSubscriptionID(_ context.Context, id string) (*domain.Subscription, error) {
	return m.find(func(s *domain.Subscription) bool { return id != "" && s.StripeSubscriptionID == id })
}

func (m *memSubscriptions) GetByStripeCustomerID(_ context.Context, id string) (*domain.Subscription, error) {
	return m.find(func(s *domain.Subscription) bool { return id != "" && s.StripeCustomerID == id })
}

func (m *memSubscriptions) find(match func(*domain.Subscription) bool) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.rows {
		if match(sub) {
			return sub.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

type memPlans struct {
	plans map[string]*domain.Plan
}

func newMemPlans(plans ...*domain.Plan) *memPlans {
	m := &memPlans{plans: make(map[string]*domain.Plan)}
	for _, p := range plans {
		m.plans[p.ID] = p
	}
	return m
}

func (m *memPlans) Create(_ context.Context, plan *domain.Plan) error {
	m.plans[plan.ID] = plan
	return nil
}

func (m *memPlans) GetByID(_ context.Context, id string) (*domain.Plan, error) {
	if p, ok := m.plans[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memPlans) GetByStripePriceID(_ context.Context, priceID string) (*domain.Plan, error) {
	for _, p := range m.plans {
		if p.StripePriceID == priceID {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPlans) List(_ context.Context) ([]domain.Plan, error) {
	out := make([]domain.Plan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, *p)
	}
	return out, nil
}

// memTenants тенанты и счетчики использования.
type memTenants struct {
	mu        sync.Mutex
	tenants   map[string]*domain.Tenant
	bookings  map[string]int64
	employees map[string]int64
	suspends  int
	resets    int
}

func newMemTenants(ids ...string) *memTenants {
	m := &memTenants{
		tenants:   make(map[string]*domain.Tenant),
		bookings:  make(map[string]int64),
		employees: make(map[string]int64),
	}
	for _, id := range ids {
		m.tenants[id] = &domain.Tenant{ID: id, Name: id}
	}
	return m
}

func (m *memTenants) tenant(id string) domain.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tenants[id]
}

func (m *memTenants) GetByID(_ context.Context, id string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *memTenants) Suspend(_ context.Context, id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if t.IsSuspended {
		return false, nil
	}
	t.IsSuspended = true
	t.SuspendedReason = reason
	m.suspends++
	return true, nil
}

func (m *memTenants) Unsuspend(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !t.IsSuspended {
		return false, nil
	}
	t.IsSuspended = false
	t.SuspendedReason = ""
	return true, nil
}

func (m *memTenants) SetSmsLimit(_ context.Context, id string, limit domain.Limit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.SmsUsage.Limit = &limit
	return nil
}

func (m *memTenants) ResetSmsUsage(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.SmsUsage.Used = 0
	t.SmsUsage.LastReset = domain.TimePtr(at)
	m.resets++
	return nil
}

func (m *memTenants) CountBookingsSince(_ context.Context, id string, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id], nil
}

func (m *memTenants) CountActiveEmployees(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.employees[id], nil
}

// fakeGateway подменяет Stripe. Подписки хранятся по id, ошибки задаются полями.
type fakeGateway struct {
	mu             sync.Mutex
	subs           map[string]*domain.GatewaySubscription
	createErr      error
	updateErr      error
	cancelErr      error
	payErr         error
	getErr         error
	creates        []domain.CreateGatewaySubscriptionParams
	priceUpdates   []string
	checkouts      []domain.CheckoutParams
	paidInvoices   []string
	nextSubID      int
	newSubTemplate domain.GatewaySubscription
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{subs: make(map[string]*domain.GatewaySubscription)}
}

func (g *fakeGateway) set(gs *domain.GatewaySubscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := *gs
	g.subs[gs.ID] = &c
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*domain.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	gs, ok := g.subs[id]
	if !ok {
		return nil, &domain.GatewayError{Operation: "GetSubscription", Code: "resource_missing", StatusCode: 404}
	}
	c := *gs
	return &c, nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, p domain.CreateGatewaySubscriptionParams) (*domain.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, p)
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextSubID++
	gs := g.newSubTemplate
	gs.ID = fmt.Sprintf("sub_new_%d", g.nextSubID)
	gs.CustomerID = p.CustomerID
	gs.PriceID = p.PriceID
	gs.DefaultPaymentMethodID = p.PaymentMethodID
	if gs.Status == "" {
		gs.Status = "active"
	}
	gs.Metadata = p.Metadata
	g.subs[gs.ID] = &gs
	c := gs
	return &c, nil
}

func (g *fakeGateway) UpdateSubscriptionPrice(_ context.Context, id, priceID string) (*domain.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.priceUpdates = append(g.priceUpdates, priceID)
	if g.updateErr != nil {
		return nil, g.updateErr
	}
	gs, ok := g.subs[id]
	if !ok {
		return nil, &domain.GatewayError{Operation: "UpdateSubscriptionPrice", Code: "resource_missing", StatusCode: 404}
	}
	gs.PriceID = priceID
	c := *gs
	return &c, nil
}

func (g *fakeGateway) SetCancelAtPeriodEnd(_ context.Context, id string, cancel bool) (*domain.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	gs, ok := g.subs[id]
	if !ok {
		return nil, &domain.GatewayError{Operation: "SetCancelAtPeriodEnd", Code: "resource_missing", StatusCode: 404}
	}
	gs.CancelAtPeriodEnd = cancel
	c := *gs
	return &c, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, p domain.CheckoutParams) (*domain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, p)
	return &domain.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (g *fakeGateway) PayInvoice(_ context.Context, invoiceID string) (*domain.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.payErr != nil {
		return nil, g.payErr
	}
	g.paidInvoices = append(g.paidInvoices, invoiceID)
	return &domain.PaymentResult{InvoiceID: invoiceID, Status: "paid", Paid: true}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) count(kind domain.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Kind == kind {
			c++
		}
	}
	return c
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.BillingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.BillingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(t domain.BillingEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := 0
	for _, e := range p.events {
		if e.Type == t {
			c++
		}
	}
	return c
}

// testEnv собранный движок с фейками и фиксированным временем.
type testEnv struct {
	now       time.Time
	subs      *memSubscriptions
	plans     *memPlans
	tenants   *memTenants
	gateway   *fakeGateway
	notifier  *recordingNotifier
	publisher *recordingPublisher
	deps      Dependencies
}

var (
	planBasic = &domain.Plan{
		ID:            "basic",
		Slug:          "basic",
		Name:          "Basic",
		PriceMonthly:  1900,
		Currency:      "usd",
		StripePriceID: "price_basic",
		Features:      domain.PlanFeatures{Bookings: domain.LimitOf(100), Employees: domain.LimitOf(2), SMS: domain.LimitOf(50), Tier: 1},
	}
	planPro = &domain.Plan{
		ID:            "pro",
		Slug:          "pro",
		Name:          "Pro",
		PriceMonthly:  4900,
		Currency:      "usd",
		TrialDays:     14,
		StripePriceID: "price_pro",
		Features:      domain.PlanFeatures{Bookings: domain.Unlimited, Employees: domain.LimitOf(10), SMS: domain.LimitOf(500), Tier: 2},
	}
)

func newTestEnv(t *testing.T, tenantIDs ...string) *testEnv {
	t.Helper()
	env := &testEnv{
		now:       time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC),
		subs:      newMemSubscriptions(),
		plans:     newMemPlans(planBasic, planPro),
		tenants:   newMemTenants(tenantIDs...),
		gateway:   newFakeGateway(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	env.deps = Dependencies{
		Subscriptions: env.subs,
		Plans:         env.plans,
		Tenants:       env.tenants,
		Usage:         env.tenants,
		Gateway:       env.gateway,
		Notifier:      env.notifier,
		Publisher:     env.publisher,
		Now:           func() time.Time { return env.now },
		Log:           logger.NewNop(),
	}
	return env
}

func (e *testEnv) at(offset time.Duration) *time.Time {
	return domain.TimePtr(e.now.Add(offset))
}

// waitForNotification ждет фоновую отправку уведомления.
func (e *testEnv) waitForNotification(t *testing.T, kind domain.NotificationKind, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.notifier.count(kind) == want }, time.Second, 5*time.Millisecond,
		"expected %d %s notifications", want, kind)
}

// waitForEvent ждет фоновую публикацию события.
func (e *testEnv) waitForEvent(t *testing.T, eventType domain.BillingEventType, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.publisher.count(eventType) == want }, time.Second, 5*time.Millisecond,
		"expected %d %s events", want, eventType)
}
