package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"wifi-voucher/pkg/task"
	"wifi-voucher/services/transaction"
	"wifi-voucher/services/voucher"
)

const (
	TypePaymentCodeEmail = "email:payment_code"
	TypeVoucherKeyEmail  = "email:voucher_key"
)

// Dispatcher turns notification requests into queued email tasks. Callers
// get an answer as soon as the task is accepted by the queue; actual SMTP
// delivery happens in the worker.
type Dispatcher struct {
	enqueuer task.Enqueuer
}

func NewDispatcher(enqueuer task.Enqueuer) *Dispatcher {
	return &Dispatcher{enqueuer: enqueuer}
}

func (d *Dispatcher) PaymentCode(ctx context.Context, n transaction.PaymentCodeNotice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal payment code notice: %w", err)
	}
	_, err = d.enqueuer.Enqueue(ctx, asynq.NewTask(TypePaymentCodeEmail, payload), asynq.Queue("critical"))
	return err
}

func (d *Dispatcher) VoucherKey(ctx context.Context, n voucher.VoucherKeyNotice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal voucher key notice: %w", err)
	}
	_, err = d.enqueuer.Enqueue(ctx, asynq.NewTask(TypeVoucherKeyEmail, payload), asynq.Queue("critical"))
	return err
}
