package voucher

import (
	"time"
)

// Voucher is one pre-loaded network-access credential. Loaded by the stock
// admin, consumed exactly once by a claim, never reused once used.
type Voucher struct {
	Key       string     `gorm:"column:voucher_key;primaryKey"`
	Class     int64      `gorm:"column:class;not null;index"`
	Used      bool       `gorm:"column:used;not null;default:false;index"`
	UsedAt    *time.Time `gorm:"column:used_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Voucher) TableName() string { return "vouchers" }
