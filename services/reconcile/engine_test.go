package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifi-voucher/pkg/errutil"
	"wifi-voucher/services/settlement"
	"wifi-voucher/services/transaction"
)

// memLedger is an in-memory Ledger with the same transition rules as the
// database-backed one: pending goes to paid or expired, payment wins.
type memLedger struct {
	trxs map[string]*transaction.Transaction

	markPaidErr map[string]error
}

func newMemLedger(trxs ...*transaction.Transaction) *memLedger {
	l := &memLedger{
		trxs:        make(map[string]*transaction.Transaction),
		markPaidErr: make(map[string]error),
	}
	for _, trx := range trxs {
		copied := *trx
		l.trxs[trx.TransactionID] = &copied
	}
	return l
}

func (l *memLedger) Pending(_ context.Context) ([]*transaction.Transaction, error) {
	var out []*transaction.Transaction
	for _, trx := range l.trxs {
		if trx.Status == transaction.StatusPending {
			copied := *trx
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (l *memLedger) Get(_ context.Context, trxID string) (*transaction.Transaction, error) {
	trx, ok := l.trxs[trxID]
	if !ok {
		return nil, errutil.NotFound("transaction not found")
	}
	copied := *trx
	return &copied, nil
}

func (l *memLedger) MarkPaid(_ context.Context, trxID string, rec settlement.Record) (*transaction.Transaction, error) {
	if err := l.markPaidErr[trxID]; err != nil {
		return nil, err
	}
	trx, ok := l.trxs[trxID]
	if !ok {
		return nil, errutil.NotFound("transaction not found")
	}
	switch trx.Status {
	case transaction.StatusExpired:
		return nil, errutil.Conflict("transaction already expired")
	case transaction.StatusPending:
		trx.Status = transaction.StatusPaid
		paidAt := rec.Date
		if paidAt.IsZero() {
			paidAt = time.Now()
		}
		trx.PaidAt = &paidAt
		if rec.Reference != "" {
			trx.SettlementRef = &rec.Reference
		}
	}
	copied := *trx
	return &copied, nil
}

func (l *memLedger) MarkExpired(_ context.Context, trxID string) (*transaction.Transaction, error) {
	trx, ok := l.trxs[trxID]
	if !ok {
		return nil, errutil.NotFound("transaction not found")
	}
	if trx.Status == transaction.StatusPaid {
		return nil, errutil.Conflict("transaction already paid")
	}
	trx.Status = transaction.StatusExpired
	copied := *trx
	return &copied, nil
}

type stubFeed struct {
	records []settlement.Record
	err     error
}

func (f *stubFeed) Mutations(_ context.Context) ([]settlement.Record, error) {
	return f.records, f.err
}

func newEngine(ledger Ledger, feed settlement.Feed, now time.Time) *Engine {
	return &Engine{
		ledger: ledger,
		feed:   feed,
		now:    func() time.Time { return now },
	}
}

func pendingTrx(id string, amount int64, expiresAt time.Time) *transaction.Transaction {
	return &transaction.Transaction{
		TransactionID: id,
		Class:         1,
		UniqueAmount:  amount,
		Email:         "buyer@example.com",
		Status:        transaction.StatusPending,
		ExpiresAt:     expiresAt,
	}
}

func TestSweepMarksMatchedTransactionPaid(t *testing.T) {
	now := time.Now()
	ledger := newMemLedger(pendingTrx("trx-1", 10021, now.Add(time.Hour)))
	feed := &stubFeed{records: []settlement.Record{
		{Amount: 10021, Direction: settlement.Credit, Reference: "REF-1"},
	}}

	stats := newEngine(ledger, feed, now).Sweep(context.Background())

	assert.Equal(t, Stats{Pending: 1, Paid: 1}, stats)

	trx, err := ledger.Get(context.Background(), "trx-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPaid, trx.Status)
	require.NotNil(t, trx.SettlementRef)
	assert.Equal(t, "REF-1", *trx.SettlementRef)
}

func TestSweepIgnoresDebitAndMismatchedRecords(t *testing.T) {
	now := time.Now()
	ledger := newMemLedger(pendingTrx("trx-1", 10021, now.Add(time.Hour)))
	feed := &stubFeed{records: []settlement.Record{
		{Amount: 10021, Direction: settlement.Debit},
		{Amount: 10022, Direction: settlement.Credit},
	}}

	stats := newEngine(ledger, feed, now).Sweep(context.Background())

	assert.Equal(t, Stats{Pending: 1}, stats)

	trx, err := ledger.Get(context.Background(), "trx-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, trx.Status)
}

func TestSweepExpiresOverdueTransactions(t *testing.T) {
	now := time.Now()
	ledger := newMemLedger(
		pendingTrx("overdue", 10021, now.Add(-time.Minute)),
		pendingTrx("fresh", 10022, now.Add(time.Hour)),
	)
	feed := &stubFeed{}

	stats := newEngine(ledger, feed, now).Sweep(context.Background())

	assert.Equal(t, Stats{Pending: 2, Expired: 1}, stats)

	overdue, _ := ledger.Get(context.Background(), "overdue")
	assert.Equal(t, transaction.StatusExpired, overdue.Status)
	fresh, _ := ledger.Get(context.Background(), "fresh")
	assert.Equal(t, transaction.StatusPending, fresh.Status)
}

func TestSweepPaymentWinsOverExpiry(t *testing.T) {
	// The transaction is past its deadline, but a matching credit exists.
	now := time.Now()
	ledger := newMemLedger(pendingTrx("trx-1", 10021, now.Add(-time.Minute)))
	feed := &stubFeed{records: []settlement.Record{
		{Amount: 10021, Direction: settlement.Credit},
	}}

	stats := newEngine(ledger, feed, now).Sweep(context.Background())

	assert.Equal(t, Stats{Pending: 1, Paid: 1}, stats)
}

func TestSweepFeedFailureDegradesToExpiryOnly(t *testing.T) {
	now := time.Now()
	ledger := newMemLedger(
		pendingTrx("overdue", 10021, now.Add(-time.Minute)),
		pendingTrx("fresh", 10022, now.Add(time.Hour)),
	)
	feed := &stubFeed{err: errutil.BadGateway("feed down")}

	stats := newEngine(ledger, feed, now).Sweep(context.Background())

	// Expiry still runs; nothing is marked paid.
	assert.Equal(t, Stats{Pending: 2, Expired: 1}, stats)
}

func TestSweepIsolatesPerTransactionFailures(t *testing.T) {
	now := time.Now()
	ledger := newMemLedger(
		pendingTrx("broken", 10021, now.Add(time.Hour)),
		pendingTrx("fine", 10022, now.Add(time.Hour)),
	)
	ledger.markPaidErr["broken"] = fmt.Errorf("storage hiccup")
	feed := &stubFeed{records: []settlement.Record{
		{Amount: 10021, Direction: settlement.Credit},
		{Amount: 10022, Direction: settlement.Credit},
	}}

	stats := newEngine(ledger, feed, now).Sweep(context.Background())

	assert.Equal(t, Stats{Pending: 2, Paid: 1, Failed: 1}, stats)

	fine, _ := ledger.Get(context.Background(), "fine")
	assert.Equal(t, transaction.StatusPaid, fine.Status)
}

func TestCheckStatusReconcilesOnDemand(t *testing.T) {
	now := time.Now()
	ledger := newMemLedger(pendingTrx("trx-1", 10021, now.Add(time.Hour)))
	feed := &stubFeed{records: []settlement.Record{
		{Amount: 10021, Direction: settlement.Credit},
	}}

	trx, err := newEngine(ledger, feed, now).CheckStatus(context.Background(), "trx-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPaid, trx.Status)
}

func TestCheckStatusLeavesTerminalEntriesAlone(t *testing.T) {
	now := time.Now()
	paid := pendingTrx("trx-1", 10021, now.Add(time.Hour))
	paid.Status = transaction.StatusPaid
	ledger := newMemLedger(paid)
	feed := &stubFeed{err: errutil.BadGateway("feed down")}

	trx, err := newEngine(ledger, feed, now).CheckStatus(context.Background(), "trx-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPaid, trx.Status)
}

func TestCheckStatusUnknownTransaction(t *testing.T) {
	ledger := newMemLedger()
	feed := &stubFeed{}

	_, err := newEngine(ledger, feed, time.Now()).CheckStatus(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}
