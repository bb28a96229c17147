package transaction

import (
	"context"
	"errors"
	"regexp"
	"time"

	"wifi-voucher/pkg/catalog"
	"wifi-voucher/pkg/config"
	"wifi-voucher/pkg/errutil"
	"wifi-voucher/pkg/qris"
	"wifi-voucher/pkg/sequence"
	"wifi-voucher/services/settlement"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// QRPublisher renders a payment payload into a hosted image.
type QRPublisher interface {
	Publish(ctx context.Context, name, payload string) (string, error)
}

// Notifier dispatches the payment-code message to the buyer. Delivery is
// asynchronous; an enqueue failure never fails the sale.
type Notifier interface {
	PaymentCode(ctx context.Context, n PaymentCodeNotice) error
}

type PaymentCodeNotice struct {
	TransactionID string    `json:"transaction_id"`
	Email         string    `json:"email"`
	QRURL         string    `json:"qr_url"`
	Amount        int64     `json:"amount"`
	ExpiresAt     time.Time `json:"expires_at"`
	Class         int64     `json:"class"`
}

// PaymentOrder is the outcome of opening a sale: the pending ledger entry
// plus the hosted payment code the buyer scans.
type PaymentOrder struct {
	Transaction *Transaction
	QRURL       string
	EmailQueued bool
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	alloc     sequence.Allocator
	publisher QRPublisher
	notifier  Notifier

	baseTemplate string
	paymentTTL   time.Duration
}

type ServiceParams struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Alloc     sequence.Allocator
	Publisher QRPublisher
	Notifier  Notifier `optional:"true"`
	Config    *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		alloc:        p.Alloc,
		publisher:    p.Publisher,
		notifier:     p.Notifier,
		baseTemplate: p.Config.QRIS.BasePayload,
		paymentTTL:   p.Config.QRIS.PaymentTTL,
	}
}

// =========================================================
// CreatePayment
// =========================================================

// CreatePayment allocates a unique amount, builds and publishes the payment
// code, and opens a pending ledger entry.
func (s *Service) CreatePayment(ctx context.Context, class catalog.Class, email string) (*PaymentOrder, error) {
	if !catalog.Valid(class) {
		return nil, errutil.ValidationFailed("invalid voucher class")
	}
	if !emailPattern.MatchString(email) {
		return nil, errutil.ValidationFailed("valid email address is required")
	}

	amount, err := s.alloc.Allocate(ctx, class)
	if err != nil {
		return nil, err
	}

	payload, err := qris.BuildPayload(s.baseTemplate, amount)
	if err != nil {
		return nil, err
	}

	trxID := s.node.Generate().String()

	qrURL, err := s.publisher.Publish(ctx, trxID, payload)
	if err != nil {
		return nil, errutil.BadGateway("failed to publish payment code", errutil.WithErr(err))
	}

	trx, err := s.Open(ctx, OpenParams{
		TransactionID: trxID,
		Class:         class,
		Amount:        amount,
		Email:         email,
		TTL:           s.paymentTTL,
	})
	if err != nil {
		return nil, err
	}

	queued := s.notifyPaymentCode(ctx, trx, qrURL)

	return &PaymentOrder{Transaction: trx, QRURL: qrURL, EmailQueued: queued}, nil
}

func (s *Service) notifyPaymentCode(ctx context.Context, trx *Transaction, qrURL string) bool {
	if s.notifier == nil {
		return false
	}

	err := s.notifier.PaymentCode(ctx, PaymentCodeNotice{
		TransactionID: trx.TransactionID,
		Email:         trx.Email,
		QRURL:         qrURL,
		Amount:        trx.UniqueAmount,
		ExpiresAt:     trx.ExpiresAt,
		Class:         trx.Class,
	})
	if err != nil {
		zap.L().Warn("failed to queue payment code email",
			zap.String("transaction_id", trx.TransactionID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// =========================================================
// Ledger operations
// =========================================================

type OpenParams struct {
	TransactionID string
	Class         catalog.Class
	Amount        int64
	Email         string
	TTL           time.Duration
}

// Open creates a new pending entry. A still-pending entry with the same
// amount means the uniqueness scheme has been broken (typically by a counter
// set) and the open is rejected rather than creating an ambiguous sale.
func (s *Service) Open(ctx context.Context, p OpenParams) (*Transaction, error) {
	trx := &Transaction{
		TransactionID: p.TransactionID,
		Class:         int64(p.Class),
		UniqueAmount:  p.Amount,
		Email:         p.Email,
		Status:        StatusPending,
		ExpiresAt:     time.Now().Add(p.TTL),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&Transaction{}).
			Where("unique_amount = ? AND status = ?", p.Amount, StatusPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return errutil.Conflict("duplicate unique amount among pending transactions")
		}
		return tx.Create(trx).Error
	})
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		return nil, errutil.Internal("failed to open transaction", errutil.WithErr(err))
	}

	return trx, nil
}

func (s *Service) Get(ctx context.Context, trxID string) (*Transaction, error) {
	var trx Transaction
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", trxID).
		First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("transaction not found")
	}
	if err != nil {
		return nil, errutil.Internal("failed to load transaction", errutil.WithErr(err))
	}
	return &trx, nil
}

// Pending returns every transaction still awaiting settlement.
func (s *Service) Pending(ctx context.Context) ([]*Transaction, error) {
	var list []*Transaction
	if err := s.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Find(&list).Error; err != nil {
		return nil, errutil.Internal("failed to list pending transactions", errutil.WithErr(err))
	}
	return list, nil
}

// CountPendingByClass counts pending sales of one class. The admin counter
// set uses it to warn about amount-collision hazards.
func (s *Service) CountPendingByClass(ctx context.Context, class catalog.Class) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Transaction{}).
		Where("class = ? AND status = ?", int64(class), StatusPending).
		Count(&n).Error; err != nil {
		return 0, errutil.Internal("failed to count pending transactions", errutil.WithErr(err))
	}
	return n, nil
}

// MarkPaid transitions a pending entry to paid, recording the settlement
// record. Idempotent on an already-paid entry; an expired entry is terminal
// and the call fails.
func (s *Service) MarkPaid(ctx context.Context, trxID string, rec settlement.Record) (*Transaction, error) {
	paidAt := rec.Date
	if paidAt.IsZero() {
		paidAt = time.Now()
	}

	updates := map[string]interface{}{
		"status":  StatusPaid,
		"paid_at": paidAt,
	}
	if rec.Reference != "" {
		updates["settlement_ref"] = rec.Reference
	}
	if !rec.Date.IsZero() {
		updates["settlement_at"] = rec.Date
	}

	res := s.db.WithContext(ctx).Model(&Transaction{}).
		Where("transaction_id = ? AND status = ?", trxID, StatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, errutil.Internal("failed to mark transaction paid", errutil.WithErr(res.Error))
	}

	trx, err := s.Get(ctx, trxID)
	if err != nil {
		return nil, err
	}

	if res.RowsAffected == 0 {
		switch trx.Status {
		case StatusPaid:
			return trx, nil
		case StatusExpired:
			return nil, errutil.Conflict("transaction already expired")
		}
	}
	return trx, nil
}

// MarkExpired transitions a pending entry to expired. Idempotent on an
// already-expired entry. A recorded payment always wins: marking a paid
// entry expired fails instead of overriding it.
func (s *Service) MarkExpired(ctx context.Context, trxID string) (*Transaction, error) {
	res := s.db.WithContext(ctx).Model(&Transaction{}).
		Where("transaction_id = ? AND status = ?", trxID, StatusPending).
		Update("status", StatusExpired)
	if res.Error != nil {
		return nil, errutil.Internal("failed to mark transaction expired", errutil.WithErr(res.Error))
	}

	trx, err := s.Get(ctx, trxID)
	if err != nil {
		return nil, err
	}

	if res.RowsAffected == 0 {
		switch trx.Status {
		case StatusExpired:
			return trx, nil
		case StatusPaid:
			return nil, errutil.Conflict("transaction already paid")
		}
	}
	return trx, nil
}

// =========================================================
// Resend
// =========================================================

// ResendPaymentCode re-renders the payment code for a still-pending sale and
// queues another email.
func (s *Service) ResendPaymentCode(ctx context.Context, trxID string) (bool, error) {
	trx, err := s.Get(ctx, trxID)
	if err != nil {
		return false, err
	}
	if trx.Status != StatusPending {
		return false, errutil.Conflict("transaction is no longer pending")
	}

	payload, err := qris.BuildPayload(s.baseTemplate, trx.UniqueAmount)
	if err != nil {
		return false, err
	}

	qrURL, err := s.publisher.Publish(ctx, trx.TransactionID, payload)
	if err != nil {
		return false, errutil.BadGateway("failed to publish payment code", errutil.WithErr(err))
	}

	if !s.notifyPaymentCode(ctx, trx, qrURL) {
		return false, errutil.BadGateway("failed to queue payment code email")
	}
	return true, nil
}

// =========================================================
// Admin
// =========================================================

func (s *Service) List(ctx context.Context) ([]*Transaction, error) {
	var list []*Transaction
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&list).Error; err != nil {
		return nil, errutil.Internal("failed to list transactions", errutil.WithErr(err))
	}
	return list, nil
}

func (s *Service) Delete(ctx context.Context, trxID string) (*Transaction, error) {
	trx, err := s.Get(ctx, trxID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Where("transaction_id = ?", trxID).
		Delete(&Transaction{}).Error; err != nil {
		return nil, errutil.Internal("failed to delete transaction", errutil.WithErr(err))
	}
	return trx, nil
}

func (s *Service) DeleteAll(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&Transaction{})
	if res.Error != nil {
		return 0, errutil.Internal("failed to delete transactions", errutil.WithErr(res.Error))
	}
	return res.RowsAffected, nil
}
