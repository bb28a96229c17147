package voucher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifi-voucher/pkg/errutil"
	"wifi-voucher/services/testutil"
	"wifi-voucher/services/transaction"
)

type stubNotifier struct {
	mu      sync.Mutex
	notices []VoucherKeyNotice
}

func (n *stubNotifier) VoucherKey(_ context.Context, notice VoucherKeyNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *stubNotifier) sent() []VoucherKeyNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]VoucherKeyNotice(nil), n.notices...)
}

func newTestService(t *testing.T) (*Service, *stubNotifier) {
	t.Helper()
	db := testutil.NewTestDB(t, &Transaction{}, &Voucher{})
	notifier := &stubNotifier{}
	return &Service{db: db, notifier: notifier}, notifier
}

// Transaction aliases the ledger model so the migration list reads naturally.
type Transaction = transaction.Transaction

func seedTransaction(t *testing.T, svc *Service, id string, status transaction.Status) {
	t.Helper()
	err := svc.db.Create(&Transaction{
		TransactionID: id,
		Class:         1,
		UniqueAmount:  10021,
		Email:         "buyer@example.com",
		Status:        status,
		ExpiresAt:     time.Now().Add(time.Hour),
	}).Error
	require.NoError(t, err)
}

func seedVouchers(t *testing.T, svc *Service, class int64, keys ...string) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, svc.db.Create(&Voucher{Key: key, Class: class}).Error)
	}
}

func TestClaimBindsAnUnusedVoucher(t *testing.T) {
	svc, notifier := newTestService(t)
	ctx := context.Background()

	seedTransaction(t, svc, "trx-1", transaction.StatusPaid)
	seedVouchers(t, svc, 1, "WIFI-AAA")

	res, err := svc.Claim(ctx, "trx-1")
	require.NoError(t, err)

	assert.Equal(t, "WIFI-AAA", res.Key)
	assert.False(t, res.AlreadyIssued)
	assert.True(t, res.EmailQueued)

	var v Voucher
	require.NoError(t, svc.db.First(&v, "voucher_key = ?", "WIFI-AAA").Error)
	assert.True(t, v.Used)
	require.NotNil(t, v.UsedAt)

	var trx Transaction
	require.NoError(t, svc.db.First(&trx, "transaction_id = ?", "trx-1").Error)
	require.NotNil(t, trx.VoucherKey)
	assert.Equal(t, "WIFI-AAA", *trx.VoucherKey)

	require.Len(t, notifier.notices, 1)
	assert.Equal(t, "WIFI-AAA", notifier.notices[0].Key)
	assert.Equal(t, "buyer@example.com", notifier.notices[0].Email)
}

func TestClaimIsIdempotent(t *testing.T) {
	svc, notifier := newTestService(t)
	ctx := context.Background()

	seedTransaction(t, svc, "trx-1", transaction.StatusPaid)
	seedVouchers(t, svc, 1, "WIFI-AAA", "WIFI-BBB")

	first, err := svc.Claim(ctx, "trx-1")
	require.NoError(t, err)

	second, err := svc.Claim(ctx, "trx-1")
	require.NoError(t, err)

	assert.Equal(t, first.Key, second.Key)
	assert.True(t, second.AlreadyIssued)
	assert.False(t, second.EmailQueued)

	// Only one credential was consumed; the second stays available.
	var available int64
	require.NoError(t, svc.db.Model(&Voucher{}).Where("used = ?", false).Count(&available).Error)
	assert.Equal(t, int64(1), available)

	// Only the first claim queued an email.
	assert.Len(t, notifier.notices, 1)
}

func TestClaimRequiresConfirmedPayment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seedVouchers(t, svc, 1, "WIFI-AAA")

	for _, status := range []transaction.Status{transaction.StatusPending, transaction.StatusExpired} {
		id := "trx-" + string(status)
		seedTransaction(t, svc, id, status)

		_, err := svc.Claim(ctx, id)
		require.Error(t, err)
		assert.True(t, errutil.HasStatus(err, errutil.StatusConflict))
	}

	// Stock is untouched by rejected claims.
	var v Voucher
	require.NoError(t, svc.db.First(&v, "voucher_key = ?", "WIFI-AAA").Error)
	assert.False(t, v.Used)
}

func TestClaimUnknownTransaction(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Claim(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestClaimOutOfStockLeavesEverythingUnchanged(t *testing.T) {
	svc, notifier := newTestService(t)
	ctx := context.Background()

	seedTransaction(t, svc, "trx-1", transaction.StatusPaid)
	// Stock exists only for a different class.
	seedVouchers(t, svc, 2, "WIFI-OTHER")

	_, err := svc.Claim(ctx, "trx-1")
	require.Error(t, err)
	assert.True(t, errutil.HasStatus(err, errutil.StatusConflict))

	var trx Transaction
	require.NoError(t, svc.db.First(&trx, "transaction_id = ?", "trx-1").Error)
	assert.Nil(t, trx.VoucherKey)

	var v Voucher
	require.NoError(t, svc.db.First(&v, "voucher_key = ?", "WIFI-OTHER").Error)
	assert.False(t, v.Used)

	assert.Empty(t, notifier.notices)
}

func TestConcurrentClaimsIssueExactlyOneCredential(t *testing.T) {
	svc, notifier := newTestService(t)
	ctx := context.Background()

	seedTransaction(t, svc, "trx-1", transaction.StatusPaid)
	seedVouchers(t, svc, 1, "WIFI-AAA", "WIFI-BBB", "WIFI-CCC")

	const n = 8
	results := make(chan *ClaimResult, n)
	errs := make(chan error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Claim(ctx, "trx-1")
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// Every racer got the same key; exactly one call did the issuing.
	keys := make(map[string]bool)
	issued := 0
	for res := range results {
		keys[res.Key] = true
		if !res.AlreadyIssued {
			issued++
		}
	}
	require.Len(t, keys, 1)
	assert.Equal(t, 1, issued)

	var used int64
	require.NoError(t, svc.db.Model(&Voucher{}).Where("used = ?", true).Count(&used).Error)
	assert.Equal(t, int64(1), used)

	assert.Len(t, notifier.sent(), 1)
}

func TestClaimsAcrossTransactionsGetDistinctKeys(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seedTransaction(t, svc, "trx-1", transaction.StatusPaid)
	seedTransaction(t, svc, "trx-2", transaction.StatusPaid)
	seedVouchers(t, svc, 1, "WIFI-AAA", "WIFI-BBB")

	first, err := svc.Claim(ctx, "trx-1")
	require.NoError(t, err)
	second, err := svc.Claim(ctx, "trx-2")
	require.NoError(t, err)

	assert.NotEqual(t, first.Key, second.Key)
}

func TestAddRejectsDuplicateKeys(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	added, err := svc.Add(ctx, 1, []string{"WIFI-AAA", "WIFI-BBB"})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	_, err = svc.Add(ctx, 1, []string{"WIFI-CCC", "WIFI-AAA"})
	require.Error(t, err)
	assert.True(t, errutil.HasStatus(err, errutil.StatusConflict))

	// The rejected batch inserted nothing.
	var count int64
	require.NoError(t, svc.db.Model(&Voucher{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestAddValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, 42, []string{"WIFI-AAA"})
	require.Error(t, err)
	assert.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	_, err = svc.Add(ctx, 1, nil)
	require.Error(t, err)

	_, err = svc.Add(ctx, 1, []string{""})
	require.Error(t, err)
}

func TestRemove(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seedVouchers(t, svc, 1, "WIFI-AAA")

	require.NoError(t, svc.Remove(ctx, "WIFI-AAA"))

	err := svc.Remove(ctx, "WIFI-AAA")
	require.Error(t, err)
	assert.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestStockGroupsByClass(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seedTransaction(t, svc, "trx-1", transaction.StatusPaid)
	seedVouchers(t, svc, 1, "WIFI-AAA", "WIFI-BBB")
	seedVouchers(t, svc, 5, "WIFI-EEE")

	_, err := svc.Claim(ctx, "trx-1")
	require.NoError(t, err)

	stock, err := svc.Stock(ctx)
	require.NoError(t, err)
	require.Len(t, stock, 5)

	assert.Equal(t, int64(2), stock[0].Total)
	assert.Equal(t, int64(1), stock[0].Available)
	assert.Equal(t, "6 Jam", stock[0].Label)

	// Classes without stock still show up with zero counts.
	assert.Equal(t, int64(0), stock[2].Total)

	assert.Equal(t, int64(1), stock[4].Total)
	assert.Equal(t, int64(1), stock[4].Available)
}

func TestResendRequiresIssuedVoucher(t *testing.T) {
	svc, notifier := newTestService(t)
	ctx := context.Background()

	seedTransaction(t, svc, "trx-1", transaction.StatusPaid)
	seedVouchers(t, svc, 1, "WIFI-AAA")

	err := svc.Resend(ctx, "trx-1")
	require.Error(t, err)
	assert.True(t, errutil.HasStatus(err, errutil.StatusConflict))

	_, err = svc.Claim(ctx, "trx-1")
	require.NoError(t, err)

	require.NoError(t, svc.Resend(ctx, "trx-1"))
	assert.Len(t, notifier.notices, 2)
}
