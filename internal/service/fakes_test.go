package service

import (
	"context"
	"sync"
	"time"

	"bookmygas/internal/config"
	"bookmygas/internal/gateway"
	"bookmygas/internal/model"
	"bookmygas/internal/repository"

	"gorm.io/gorm"
)

// 内存假实现，行为对齐 repository 包里的 GORM 仓储：
// 配额扣减/返还是带条件的原子操作，状态更新走状态机校验

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[int64]*model.Account
}

func newFakeAccountStore(accounts ...*model.Account) *fakeAccountStore {
	s := &fakeAccountStore{accounts: make(map[int64]*model.Account)}
	for _, a := range accounts {
		s.accounts[a.UserID] = a
	}
	return s
}

func (s *fakeAccountStore) GetByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *fakeAccountStore) DebitQuota(ctx context.Context, tx *gorm.DB, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	if a.QuotaRemaining <= 0 {
		return repository.ErrQuotaExhausted
	}
	a.QuotaRemaining--
	a.Version++
	return nil
}

func (s *fakeAccountStore) CreditQuota(ctx context.Context, tx *gorm.DB, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	if a.QuotaRemaining >= model.AnnualAllotment {
		return repository.ErrQuotaAtCap
	}
	a.QuotaRemaining++
	a.Version++
	return nil
}

func (s *fakeAccountStore) quota(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[userID].QuotaRemaining
}

type fakeBookingStore struct {
	mu          sync.Mutex
	byBookingNo map[string]*model.Booking
	byRequestID map[string]*model.Booking
}

func newFakeBookingStore(bookings ...*model.Booking) *fakeBookingStore {
	s := &fakeBookingStore{
		byBookingNo: make(map[string]*model.Booking),
		byRequestID: make(map[string]*model.Booking),
	}
	for _, b := range bookings {
		s.byBookingNo[b.BookingNo] = b
		s.byRequestID[b.RequestID] = b
	}
	return s
}

func (s *fakeBookingStore) Create(ctx context.Context, tx *gorm.DB, booking *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *booking
	s.byBookingNo[booking.BookingNo] = &copied
	s.byRequestID[booking.RequestID] = &copied
	return nil
}

func (s *fakeBookingStore) GetByBookingNo(ctx context.Context, bookingNo string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byBookingNo[bookingNo]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	copied := *b
	return &copied, nil
}

func (s *fakeBookingStore) GetByRequestID(ctx context.Context, requestID string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byRequestID[requestID]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (s *fakeBookingStore) UpdateStatus(ctx context.Context, tx *gorm.DB, bookingNo string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return repository.ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byBookingNo[bookingNo]
	if !ok || b.Status != fromStatus {
		return repository.ErrInvalidTransition
	}
	b.Status = toStatus
	switch toStatus {
	case model.BookingStatusApproved:
		now := time.Now()
		b.DeliveryDate = &now
	case model.BookingStatusRejected:
		b.DeliveryDate = nil
	}
	return nil
}

func (s *fakeBookingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byBookingNo)
}

type fakeQuotaJournal struct {
	mu      sync.Mutex
	entries []*model.QuotaEntry
}

func (j *fakeQuotaJournal) Create(ctx context.Context, tx *gorm.DB, entry *model.QuotaEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	copied := *entry
	j.entries = append(j.entries, &copied)
	return nil
}

func (j *fakeQuotaJournal) GetByBookingNoAndType(ctx context.Context, bookingNo, entryType string) (*model.QuotaEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.entries {
		if e.BookingNo == bookingNo && e.Type == entryType {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (j *fakeQuotaJournal) countByType(entryType string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, e := range j.entries {
		if e.Type == entryType {
			n++
		}
	}
	return n
}

type fakeOutboxStore struct {
	mu       sync.Mutex
	messages []*model.OutboxMessage
}

func (o *fakeOutboxStore) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	copied := *msg
	o.messages = append(o.messages, &copied)
	return nil
}

func (o *fakeOutboxStore) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

type fakePriceSource struct {
	price int64
}

func (p fakePriceSource) GetCylinderPrice(ctx context.Context, defaultPrice int64) (int64, error) {
	if p.price > 0 {
		return p.price, nil
	}
	return defaultPrice, nil
}

// fakeLockFactory 用进程内互斥量模拟分布式锁，同一个 key 串行
type fakeLockFactory struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFakeLockFactory() *fakeLockFactory {
	return &fakeLockFactory{locks: make(map[string]*sync.Mutex)}
}

func (f *fakeLockFactory) get(key string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	f.locks[key] = l
	return l
}

type fakeLock struct {
	mu *sync.Mutex
}

func (l fakeLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	l.mu.Lock()
	return nil
}

func (l fakeLock) Unlock(ctx context.Context) error {
	l.mu.Unlock()
	return nil
}

func (f *fakeLockFactory) BookingLock(userID int64, requestID string) Lock {
	return fakeLock{mu: f.get("booking:" + requestID)}
}

func (f *fakeLockFactory) DecisionLock(bookingNo, holder string) Lock {
	return fakeLock{mu: f.get("decision:" + bookingNo)}
}

// fakeTxRunner 直接执行事务函数，原子性由各个假存储自身保证
type fakeTxRunner struct{}

func (fakeTxRunner) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeGateway struct {
	mu           sync.Mutex
	authorizeErr error
	orderID      string
	authCalls    int
}

func (g *fakeGateway) CreateOrder(ctx context.Context, amount int64, receipt string) (string, error) {
	if g.orderID != "" {
		return g.orderID, nil
	}
	return "order_fake_001", nil
}

func (g *fakeGateway) Authorize(ctx context.Context, req gateway.AuthorizeRequest) (*gateway.ConfirmationToken, error) {
	g.mu.Lock()
	g.authCalls++
	g.mu.Unlock()
	if g.authorizeErr != nil {
		return nil, g.authorizeErr
	}
	return &gateway.ConfirmationToken{PaymentRef: req.PaymentID, OrderID: req.OrderID}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.BookingEvents = "booking_events"
	cfg.Business.DefaultCylinderPrice = 90000
	cfg.Business.MaxRetryCount = 3
	return cfg
}

type testEnv struct {
	accounts *fakeAccountStore
	bookings *fakeBookingStore
	journal  *fakeQuotaJournal
	outbox   *fakeOutboxStore
	gateway  *fakeGateway
	svc      *BookingService
	admin    *AdminService
}

func newTestEnv(accounts ...*model.Account) *testEnv {
	env := &testEnv{
		accounts: newFakeAccountStore(accounts...),
		bookings: newFakeBookingStore(),
		journal:  &fakeQuotaJournal{},
		outbox:   &fakeOutboxStore{},
		gateway:  &fakeGateway{},
	}
	locks := newFakeLockFactory()
	cfg := testConfig()
	env.svc = &BookingService{
		txRunner: fakeTxRunner{},
		accounts: env.accounts,
		bookings: env.bookings,
		journal:  env.journal,
		outbox:   env.outbox,
		price:    fakePriceSource{},
		locks:    locks,
		gateway:  env.gateway,
		cfg:      cfg,
	}
	env.admin = &AdminService{
		txRunner: fakeTxRunner{},
		accounts: env.accounts,
		bookings: env.bookings,
		journal:  env.journal,
		outbox:   env.outbox,
		locks:    locks,
		cfg:      cfg,
	}
	return env
}

func strPtr(s string) *string {
	return &s
}

func activeAccount(userID int64, quota int) *model.Account {
	return &model.Account{
		UserID:           userID,
		QuotaRemaining:   quota,
		ConnectionStatus: model.ConnectionActive,
		Role:             model.RoleConsumer,
		Mobile:           strPtr("9876543210"),
		Address:          strPtr("12 Gandhi Road, Pune"),
	}
}
