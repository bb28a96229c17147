package transaction

import (
	"time"

	"wifi-voucher/pkg/catalog"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusExpired
}

// Transaction records one sale attempt from creation to settlement or
// expiry. Transitions are monotonic: pending goes to paid or expired, both
// terminal, and the voucher key never changes once set.
type Transaction struct {
	TransactionID    string     `gorm:"column:transaction_id;primaryKey"`
	Class            int64      `gorm:"column:class;not null;index"`
	UniqueAmount     int64      `gorm:"column:unique_amount;not null;index"`
	Email            string     `gorm:"column:email;not null"`
	Status           Status     `gorm:"column:status;not null;default:'pending';index"`
	ExpiresAt        time.Time  `gorm:"column:expires_at;not null"`
	PaidAt           *time.Time `gorm:"column:paid_at"`
	SettlementRef    *string    `gorm:"column:settlement_ref"`
	SettlementAt     *time.Time `gorm:"column:settlement_at"`
	VoucherKey       *string    `gorm:"column:voucher_key"`
	QREmailSent      bool       `gorm:"column:qr_email_sent;not null;default:false"`
	VoucherEmailSent bool       `gorm:"column:voucher_email_sent;not null;default:false"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// ClassLabel resolves the human label of the transaction's voucher class.
func (t *Transaction) ClassLabel() string {
	if info, ok := catalog.Lookup(catalog.Class(t.Class)); ok {
		return info.Label
	}
	return ""
}
