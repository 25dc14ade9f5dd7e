package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"swiftpay/internal/cache"
	"swiftpay/internal/domain"
	"swiftpay/internal/provider"
)

type fakeTxRepo struct {
	createFn         func(ctx context.Context, tx *domain.Transaction) error
	getByCheckoutFn  func(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error)
	getByReferenceFn func(ctx context.Context, reference string) (*domain.Transaction, error)
	getForUserFn     func(ctx context.Context, userID, transactionID string) (*domain.Transaction, error)
	settleFn         func(ctx context.Context, s domain.Settlement) (*domain.SettleOutcome, error)

	created []*domain.Transaction
	settled []domain.Settlement
}

func (f *fakeTxRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	f.created = append(f.created, tx)
	if f.createFn != nil {
		return f.createFn(ctx, tx)
	}
	return nil
}

func (f *fakeTxRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error) {
	if f.getByCheckoutFn != nil {
		return f.getByCheckoutFn(ctx, checkoutRequestID)
	}
	return nil, domain.ErrTransactionNotFound
}

func (f *fakeTxRepo) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	if f.getByReferenceFn != nil {
		return f.getByReferenceFn(ctx, reference)
	}
	return nil, domain.ErrTransactionNotFound
}

func (f *fakeTxRepo) GetForUser(ctx context.Context, userID, transactionID string) (*domain.Transaction, error) {
	if f.getForUserFn != nil {
		return f.getForUserFn(ctx, userID, transactionID)
	}
	return nil, domain.ErrTransactionNotFound
}

func (f *fakeTxRepo) Settle(ctx context.Context, s domain.Settlement) (*domain.SettleOutcome, error) {
	f.settled = append(f.settled, s)
	if f.settleFn != nil {
		return f.settleFn(ctx, s)
	}
	return nil, domain.ErrTransactionNotFound
}

type fakeCredRepo struct {
	getAPIKeyFn func(ctx context.Context, key string) (*domain.APIKey, error)
	getTillFn   func(ctx context.Context, userID string) (*domain.Till, error)
	touched     []string
}

func (f *fakeCredRepo) GetActiveAPIKey(ctx context.Context, key string) (*domain.APIKey, error) {
	if f.getAPIKeyFn != nil {
		return f.getAPIKeyFn(ctx, key)
	}
	return nil, domain.ErrInvalidAPIKey
}

func (f *fakeCredRepo) TouchAPIKey(_ context.Context, id string) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeCredRepo) GetDefaultTill(ctx context.Context, userID string) (*domain.Till, error) {
	if f.getTillFn != nil {
		return f.getTillFn(ctx, userID)
	}
	return nil, nil
}

type fakeGateway struct {
	pushFn  func(ctx context.Context, creds provider.Credentials, params provider.STKPushParams) (*provider.STKPushResult, error)
	queryFn func(ctx context.Context, creds provider.Credentials, checkoutRequestID string) (*provider.STKQueryResult, error)

	pushes  int
	queries int
}

func (f *fakeGateway) InitiateSTKPush(ctx context.Context, creds provider.Credentials, params provider.STKPushParams) (*provider.STKPushResult, error) {
	f.pushes++
	return f.pushFn(ctx, creds, params)
}

func (f *fakeGateway) QuerySTKStatus(ctx context.Context, creds provider.Credentials, checkoutRequestID string) (*provider.STKQueryResult, error) {
	f.queries++
	return f.queryFn(ctx, creds, checkoutRequestID)
}

// memCache is an in-memory StatusCache and IdempotencyStore.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deleted []string
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

const memInflight = "inflight"

func (m *memCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *memCache) SetJSON(_ context.Context, key string, v interface{}, _ time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *memCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}

func (m *memCache) Begin(_ context.Context, key string, _ time.Duration, dest interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		m.data[key] = []byte(memInflight)
		return false, nil
	}
	if string(raw) == memInflight {
		return false, cache.ErrInFlight
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *memCache) Complete(ctx context.Context, key string, result interface{}, ttl time.Duration) error {
	return m.SetJSON(ctx, key, result, ttl)
}

func (m *memCache) Release(ctx context.Context, key string) error {
	return m.Delete(ctx, key)
}

type fakePublisher struct {
	events []domain.PaymentEvent
	err    error
}

func (f *fakePublisher) PublishPayment(_ context.Context, event domain.PaymentEvent) error {
	f.events = append(f.events, event)
	return f.err
}

func (f *fakePublisher) Close() error { return nil }

type paidCall struct {
	reference string
	amount    int64
}

type fakeMarker struct {
	calls []paidCall
}

func (f *fakeMarker) MarkPaid(_ context.Context, reference string, amount int64) error {
	f.calls = append(f.calls, paidCall{reference: reference, amount: amount})
	return nil
}

type fakeAppRepo struct {
	createFn   func(ctx context.Context, app *domain.Application) error
	markPaidFn func(ctx context.Context, reference string, amount int64) (int64, error)
	created    []*domain.Application
}

func (f *fakeAppRepo) Create(ctx context.Context, app *domain.Application) error {
	f.created = append(f.created, app)
	if f.createFn != nil {
		return f.createFn(ctx, app)
	}
	return nil
}

func (f *fakeAppRepo) MarkPaid(ctx context.Context, reference string, amount int64) (int64, error) {
	if f.markPaidFn != nil {
		return f.markPaidFn(ctx, reference, amount)
	}
	return 0, nil
}

func pendingTx(checkoutID, reference string) *domain.Transaction {
	return &domain.Transaction{
		ID:                1,
		CheckoutRequestID: checkoutID,
		MerchantRequestID: "m-1",
		Reference:         reference,
		Phone:             "254712345678",
		Amount:            130,
		Status:            domain.StatusPending,
		CreatedAt:         time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:         time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// settled returns a copy of tx moved to the settlement's outcome.
func settled(tx *domain.Transaction, s domain.Settlement) *domain.Transaction {
	out := *tx
	out.Status = s.Status
	code := s.ResultCode
	out.ResultCode = &code
	out.ResultDesc = domain.StringPtr(s.ResultDesc)
	if s.MpesaReceipt != "" {
		out.MpesaReceipt = domain.StringPtr(s.MpesaReceipt)
	}
	out.CompletedAt = s.CompletedAt()
	return &out
}
