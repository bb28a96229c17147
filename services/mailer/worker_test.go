package mailer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifi-voucher/services/testutil"
	"wifi-voucher/services/transaction"
	"wifi-voucher/services/voucher"
)

type capturingSender struct {
	to      []string
	subject []string
	fail    bool
}

func (s *capturingSender) Send(to, subject, _ string) error {
	if s.fail {
		return assert.AnError
	}
	s.to = append(s.to, to)
	s.subject = append(s.subject, subject)
	return nil
}

type capturingEnqueuer struct {
	tasks []*asynq.Task
}

func (e *capturingEnqueuer) Enqueue(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func TestDispatcherQueuesTypedTasks(t *testing.T) {
	enq := &capturingEnqueuer{}
	d := NewDispatcher(enq)
	ctx := context.Background()

	require.NoError(t, d.PaymentCode(ctx, transaction.PaymentCodeNotice{TransactionID: "trx-1", Email: "a@b.co"}))
	require.NoError(t, d.VoucherKey(ctx, voucher.VoucherKeyNotice{TransactionID: "trx-1", Key: "WIFI-AAA"}))

	require.Len(t, enq.tasks, 2)
	assert.Equal(t, TypePaymentCodeEmail, enq.tasks[0].Type())
	assert.Equal(t, TypeVoucherKeyEmail, enq.tasks[1].Type())

	var n voucher.VoucherKeyNotice
	require.NoError(t, json.Unmarshal(enq.tasks[1].Payload(), &n))
	assert.Equal(t, "WIFI-AAA", n.Key)
}

func TestWorkerSendsAndMarksDelivery(t *testing.T) {
	db := testutil.NewTestDB(t, &transaction.Transaction{})
	require.NoError(t, db.Create(&transaction.Transaction{
		TransactionID: "trx-1",
		Class:         1,
		UniqueAmount:  20001,
		Email:         "buyer@example.com",
		Status:        transaction.StatusPending,
		ExpiresAt:     time.Now().Add(time.Hour),
	}).Error)

	sender := &capturingSender{}
	w := &Worker{sender: sender, db: db, brand: "WiFi Corner"}

	payload, err := json.Marshal(transaction.PaymentCodeNotice{
		TransactionID: "trx-1",
		Email:         "buyer@example.com",
		QRURL:         "https://cdn.example.com/qr/trx-1.png",
		Amount:        20001,
		ExpiresAt:     time.Now().Add(time.Hour),
		Class:         1,
	})
	require.NoError(t, err)

	err = w.handlePaymentCode(context.Background(), asynq.NewTask(TypePaymentCodeEmail, payload))
	require.NoError(t, err)

	require.Len(t, sender.to, 1)
	assert.Equal(t, "buyer@example.com", sender.to[0])

	var trx transaction.Transaction
	require.NoError(t, db.First(&trx, "transaction_id = ?", "trx-1").Error)
	assert.True(t, trx.QREmailSent)
	assert.False(t, trx.VoucherEmailSent)
}

func TestWorkerSendFailurePropagatesForRetry(t *testing.T) {
	db := testutil.NewTestDB(t, &transaction.Transaction{})
	w := &Worker{sender: &capturingSender{fail: true}, db: db, brand: "WiFi Corner"}

	payload, err := json.Marshal(voucher.VoucherKeyNotice{
		TransactionID: "trx-1",
		Email:         "buyer@example.com",
		Key:           "WIFI-AAA",
		ClassLabel:    "6 Jam",
	})
	require.NoError(t, err)

	err = w.handleVoucherKey(context.Background(), asynq.NewTask(TypeVoucherKeyEmail, payload))
	require.Error(t, err)
}
