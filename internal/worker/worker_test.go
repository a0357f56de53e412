package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wafaqih/rekbernexo/internal/fee"
	"github.com/Wafaqih/rekbernexo/internal/models"
	"github.com/Wafaqih/rekbernexo/internal/service"
	"github.com/Wafaqih/rekbernexo/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	sellerID int64 = 1
	buyerID  int64 = 2
	adminID  int64 = 900
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string]int
}

func (n *recordingNotifier) Notify(ctx context.Context, recipient int64, kind, dealID string, data map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = map[string]int{}
	}
	n.sent[kind]++
	return nil
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[kind]
}

type memoryLocks struct {
	mu       sync.Mutex
	keys     map[string]bool
	acquired int
	held     bool
}

func newMemoryLocks() *memoryLocks {
	return &memoryLocks{keys: map[string]bool{}}
}

func (l *memoryLocks) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held || l.keys["lock:"+lockKey] {
		return false, nil
	}
	l.keys["lock:"+lockKey] = true
	l.acquired++
	return true, nil
}

func (l *memoryLocks) ReleaseLock(ctx context.Context, lockKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, "lock:"+lockKey)
	return nil
}

func (l *memoryLocks) SetOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys["once:"+key] {
		return false, nil
	}
	l.keys["once:"+key] = true
	return true, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sweeperFixture struct {
	svc      *service.DealService
	store    *store.Store
	sweeper  *Sweeper
	locks    *memoryLocks
	notifier *recordingNotifier
	clock    *clock
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()
	st, err := store.NewStore(store.Config{Driver: store.DriverSQLite, URL: ":memory:", OperationTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c := &clock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	svc := service.NewDealService(st, notifier, fee.DefaultSchedule(), service.Options{
		AdminIDs:     []int64{adminID},
		UnpaidExpiry: 24 * time.Hour,
		Now:          c.Now,
	})

	locks := newMemoryLocks()
	sw, err := NewSweeper(svc, locks, SweeperConfig{
		Interval:          time.Hour,
		UnpaidExpiry:      24 * time.Hour,
		AutoCompleteAfter: 72 * time.Hour,
		ReminderAfter:     12 * time.Hour,
		Workers:           2,
		BatchSize:         50,
		Now:               c.Now,
	})
	require.NoError(t, err)
	t.Cleanup(sw.Stop)

	return &sweeperFixture{svc: svc, store: st, sweeper: sw, locks: locks, notifier: notifier, clock: c}
}

func (f *sweeperFixture) createDeal(t *testing.T) string {
	t.Helper()
	res, err := f.svc.CreateDeal(context.Background(), &service.CreateDealRequest{
		CreatorID: sellerID, Role: models.RoleSeller, Title: "Item X", Price: 100_000, FeePayer: models.FeePayerBuyer,
	})
	require.NoError(t, err)
	return res.DealID
}

func (f *sweeperFixture) joinedDeal(t *testing.T) string {
	t.Helper()
	id := f.createDeal(t)
	_, err := f.svc.Join(context.Background(), id, buyerID, models.RoleBuyer)
	require.NoError(t, err)
	return id
}

func (f *sweeperFixture) shippedDeal(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	id := f.joinedDeal(t)
	_, err := f.svc.MarkTransferred(ctx, id, buyerID)
	require.NoError(t, err)
	_, err = f.svc.SubmitProof(ctx, id, buyerID, "proofs/a.jpg")
	require.NoError(t, err)
	_, err = f.svc.AdminVerify(ctx, id, adminID, true)
	require.NoError(t, err)
	_, err = f.svc.MarkShipped(ctx, id, sellerID, service.ShipmentDetails{})
	require.NoError(t, err)
	return id
}

func (f *sweeperFixture) status(t *testing.T, id string) string {
	t.Helper()
	d, err := f.store.GetDeal(context.Background(), id)
	require.NoError(t, err)
	return d.Status
}

func TestSweeperExpiresUnfundedDeals(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	stale := f.createDeal(t)
	staleJoined := f.joinedDeal(t)
	f.clock.Advance(20 * time.Hour)
	fresh := f.createDeal(t)
	f.clock.Advance(5 * time.Hour)

	report, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, report.Locked)
	assert.Equal(t, 2, report.Expired)

	assert.Equal(t, models.StatusCancelled, f.status(t, stale))
	assert.Equal(t, models.StatusCancelled, f.status(t, staleJoined))
	assert.Equal(t, models.StatusPendingJoin, f.status(t, fresh))
	assert.Equal(t, 3, f.notifier.count(models.NotifyDealExpired))

	report, err = f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Expired)
	assert.Equal(t, 0, report.Failed)
}

func TestSweeperAutoCompletesShippedDeals(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	id := f.shippedDeal(t)
	f.clock.Advance(71 * time.Hour)
	report, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.AutoCompleted)
	assert.Equal(t, models.StatusAwaitingConfirm, f.status(t, id))

	f.clock.Advance(2 * time.Hour)
	report, err = f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AutoCompleted)
	assert.Equal(t, models.StatusCompleted, f.status(t, id))

	// a deal that was confirmed by the buyer in the meantime is left alone
	other := f.shippedDeal(t)
	f.clock.Advance(73 * time.Hour)
	_, err = f.svc.ConfirmReceipt(ctx, other, buyerID)
	require.NoError(t, err)
	report, err = f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.AutoCompleted)
	assert.Equal(t, models.StatusReleased, f.status(t, other))
}

func TestSweeperRemindsOncePerWindow(t *testing.T) {
	f := newSweeperFixture(t)
	ctx := context.Background()

	id := f.joinedDeal(t)
	f.clock.Advance(13 * time.Hour)

	report, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminded)
	assert.Equal(t, 1, f.notifier.count(models.NotifyPaymentReminder))

	f.clock.Advance(time.Hour)
	report, err = f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Reminded)
	assert.Equal(t, 1, f.notifier.count(models.NotifyPaymentReminder))
	assert.Equal(t, models.StatusPendingFunding, f.status(t, id))
}

func TestSweeperSkipsWhenLockHeld(t *testing.T) {
	f := newSweeperFixture(t)
	id := f.createDeal(t)
	f.clock.Advance(25 * time.Hour)
	f.locks.held = true

	report, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Locked)
	assert.Equal(t, models.StatusPendingJoin, f.status(t, id))
}

func TestSweeperReleasesLockAfterRun(t *testing.T) {
	f := newSweeperFixture(t)

	_, err := f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	_, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.locks.acquired)
}

func TestSweeperStartStopsOnCancel(t *testing.T) {
	f := newSweeperFixture(t)
	id := f.createDeal(t)
	f.clock.Advance(25 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sweeper.Start(ctx) }()

	require.Eventually(t, func() bool {
		d, err := f.store.GetDeal(context.Background(), id)
		return err == nil && d.Status == models.StatusCancelled
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

// flakyDeals fails the expiry of one deal to check the others still go through
type flakyDeals struct {
	DealSweeper
	failID string
}

func (d *flakyDeals) ExpireDeal(ctx context.Context, dealID string, cutoff time.Time) (*service.DealResult, error) {
	if dealID == d.failID {
		return nil, &service.CommandError{Kind: service.KindTransient, Message: "boom", Cause: errors.New("disk full")}
	}
	return d.DealSweeper.ExpireDeal(ctx, dealID, cutoff)
}

func TestSweeperIsolatesPerDealFailures(t *testing.T) {
	f := newSweeperFixture(t)
	bad := f.createDeal(t)
	good := f.createDeal(t)
	f.clock.Advance(25 * time.Hour)

	sw, err := NewSweeper(&flakyDeals{DealSweeper: f.svc, failID: bad}, f.locks, SweeperConfig{
		Interval: time.Hour, UnpaidExpiry: 24 * time.Hour, Workers: 2, Now: f.clock.Now,
	})
	require.NoError(t, err)
	defer sw.Stop()

	report, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, models.StatusPendingJoin, f.status(t, bad))
	assert.Equal(t, models.StatusCancelled, f.status(t, good))
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, cmd *models.DealCommand) (*service.DealResult, error) {
	args := m.Called(ctx, cmd)
	res, _ := args.Get(0).(*service.DealResult)
	return res, args.Error(1)
}

type MockIdempotency struct {
	mock.Mock
}

func (m *MockIdempotency) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotency) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

type MockResults struct {
	mock.Mock
}

func (m *MockResults) PublishCommandResult(ctx context.Context, result *models.CommandResultEvent) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func newCommand(id string) *models.DealCommand {
	return &models.DealCommand{CommandID: id, Command: "confirm_receipt", DealID: "RB-1", ActorID: buyerID}
}

func TestCommandWorkerPublishesSuccess(t *testing.T) {
	dispatcher, idem, results := new(MockDispatcher), new(MockIdempotency), new(MockResults)
	w := NewCommandWorker(nil, dispatcher, idem, results)
	cmd := newCommand("c1")

	idem.On("CheckIdempotencyKey", mock.Anything, "c1").Return(false, nil)
	dispatcher.On("Dispatch", mock.Anything, cmd).Return(&service.DealResult{DealID: "RB-1", Status: models.StatusReleased}, nil)
	idem.On("SetIdempotencyKey", mock.Anything, "c1", "done", commandIdempotencyTTL).Return(nil)
	results.On("PublishCommandResult", mock.Anything, mock.MatchedBy(func(r *models.CommandResultEvent) bool {
		return r.CommandID == "c1" && r.Status == models.StatusReleased && r.ErrorKind == ""
	})).Return(nil)

	require.NoError(t, w.HandleCommand(context.Background(), cmd))
	dispatcher.AssertExpectations(t)
	idem.AssertExpectations(t)
	results.AssertExpectations(t)
}

func TestCommandWorkerReportsRejections(t *testing.T) {
	dispatcher, idem, results := new(MockDispatcher), new(MockIdempotency), new(MockResults)
	w := NewCommandWorker(nil, dispatcher, idem, results)
	cmd := newCommand("c2")

	idem.On("CheckIdempotencyKey", mock.Anything, "c2").Return(false, nil)
	dispatcher.On("Dispatch", mock.Anything, cmd).Return(nil,
		&service.CommandError{Kind: service.KindAlreadyDone, Message: "already", Status: models.StatusReleased})
	idem.On("SetIdempotencyKey", mock.Anything, "c2", "done", commandIdempotencyTTL).Return(nil)
	results.On("PublishCommandResult", mock.Anything, mock.MatchedBy(func(r *models.CommandResultEvent) bool {
		return r.ErrorKind == "ALREADY_DONE" && r.AlreadyDone && r.Status == models.StatusReleased
	})).Return(errors.New("broker down"))

	assert.NoError(t, w.HandleCommand(context.Background(), cmd))
	results.AssertExpectations(t)
}

func TestCommandWorkerSkipsDuplicates(t *testing.T) {
	dispatcher, idem, results := new(MockDispatcher), new(MockIdempotency), new(MockResults)
	w := NewCommandWorker(nil, dispatcher, idem, results)

	idem.On("CheckIdempotencyKey", mock.Anything, "c3").Return(true, nil)

	require.NoError(t, w.HandleCommand(context.Background(), newCommand("c3")))
	dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	results.AssertNotCalled(t, "PublishCommandResult", mock.Anything, mock.Anything)
}

func TestCommandWorkerRetriesTransientFailures(t *testing.T) {
	dispatcher, idem, results := new(MockDispatcher), new(MockIdempotency), new(MockResults)
	w := NewCommandWorker(nil, dispatcher, idem, results)
	cmd := newCommand("c4")

	idem.On("CheckIdempotencyKey", mock.Anything, "c4").Return(false, nil)
	dispatcher.On("Dispatch", mock.Anything, cmd).Return(nil,
		&service.CommandError{Kind: service.KindTransient, Message: "try again"})

	assert.Error(t, w.HandleCommand(context.Background(), cmd))
	idem.AssertNotCalled(t, "SetIdempotencyKey", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	results.AssertNotCalled(t, "PublishCommandResult", mock.Anything, mock.Anything)
}
