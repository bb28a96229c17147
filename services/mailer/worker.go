package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"wifi-voucher/pkg/catalog"
	"wifi-voucher/pkg/config"
	"wifi-voucher/services/transaction"
	"wifi-voucher/services/voucher"
)

// Worker consumes queued email tasks, renders the message, sends it, and
// records delivery on the transaction row. Errors bubble up so asynq retries
// with backoff.
type Worker struct {
	sender Sender
	db     *gorm.DB
	brand  string
}

func NewWorker(sender Sender, db *gorm.DB, cfg *config.Config) *Worker {
	return &Worker{sender: sender, db: db, brand: cfg.SMTP.Brand}
}

// RegisterHandlers attaches the email handlers to the task mux.
func RegisterHandlers(mux *asynq.ServeMux, w *Worker) {
	mux.HandleFunc(TypePaymentCodeEmail, w.handlePaymentCode)
	mux.HandleFunc(TypeVoucherKeyEmail, w.handleVoucherKey)
}

func (w *Worker) handlePaymentCode(ctx context.Context, t *asynq.Task) error {
	var n transaction.PaymentCodeNotice
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("failed to decode payment code notice: %w", err)
	}

	body, err := renderPaymentCode(w.brand, n.TransactionID, classLabel(n.Class), n.Amount, n.QRURL, n.ExpiresAt)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Kode pembayaran QRIS - %s", w.brand)
	if err := w.sender.Send(n.Email, subject, body); err != nil {
		return err
	}

	w.markSent(ctx, n.TransactionID, "qr_email_sent")
	zap.L().Info("payment code email sent",
		zap.String("transaction_id", n.TransactionID),
		zap.String("email", n.Email),
	)
	return nil
}

func (w *Worker) handleVoucherKey(ctx context.Context, t *asynq.Task) error {
	var n voucher.VoucherKeyNotice
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("failed to decode voucher key notice: %w", err)
	}

	body, err := renderVoucherKey(w.brand, n.TransactionID, n.ClassLabel, n.Key)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Voucher WiFi kamu - %s", w.brand)
	if err := w.sender.Send(n.Email, subject, body); err != nil {
		return err
	}

	w.markSent(ctx, n.TransactionID, "voucher_email_sent")
	zap.L().Info("voucher email sent",
		zap.String("transaction_id", n.TransactionID),
		zap.String("email", n.Email),
	)
	return nil
}

// markSent flips a delivery flag on the transaction row. The email already
// went out, so a failure here is logged and the task still succeeds.
func (w *Worker) markSent(ctx context.Context, trxID, column string) {
	err := w.db.WithContext(ctx).
		Model(&transaction.Transaction{}).
		Where("transaction_id = ?", trxID).
		Update(column, true).Error
	if err != nil {
		zap.L().Warn("failed to record email delivery",
			zap.String("transaction_id", trxID),
			zap.String("column", column),
			zap.Error(err),
		)
	}
}

func classLabel(class int64) string {
	if info, ok := catalog.Lookup(catalog.Class(class)); ok {
		return info.Label
	}
	return fmt.Sprintf("class %d", class)
}
