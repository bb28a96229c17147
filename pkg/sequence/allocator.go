// Package sequence hands out unique payable amounts. The payment rail has no
// per-transaction reference field, so the amount itself is the correlation
// key: every sale adds a freshly incremented per-class sequence on top of the
// class base price.
package sequence

import (
	"context"
	"time"

	"wifi-voucher/pkg/catalog"
	"wifi-voucher/pkg/errutil"

	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("sequence",
	fx.Provide(NewAllocator),
)

// Counter is the persisted per-class monotonic sequence.
type Counter struct {
	Class     int64     `gorm:"column:class;primaryKey"`
	Seq       int64     `gorm:"column:seq;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Counter) TableName() string { return "amount_counters" }

type Allocator interface {
	// Allocate atomically increments the class counter and returns the
	// payable amount basePrice(class) + sequence.
	Allocate(ctx context.Context, class catalog.Class) (int64, error)
	// Set forces the counter to an arbitrary non-negative value. Escape
	// hatch only: amounts handed out before the set may collide with
	// amounts handed out after it.
	Set(ctx context.Context, class catalog.Class, value int64) error
	// Current returns every class counter currently persisted.
	Current(ctx context.Context) (map[catalog.Class]int64, error)
}

type gormAllocator struct {
	db *gorm.DB
}

type Params struct {
	fx.In

	DB *gorm.DB
}

func NewAllocator(p Params) Allocator {
	return &gormAllocator{db: p.DB}
}

func (a *gormAllocator) Allocate(ctx context.Context, class catalog.Class) (int64, error) {
	info, ok := catalog.Lookup(class)
	if !ok {
		return 0, errutil.ValidationFailed("invalid voucher class")
	}

	seq, err := a.next(ctx, class)
	if err != nil {
		return 0, err
	}

	return info.BasePrice + seq, nil
}

// next advances the counter with a single upsert and reads the row back
// inside the same transaction. The upsert takes the row lock, so the read
// cannot observe another caller's increment. One statement matters here: a
// failed insert inside an open transaction aborts the whole transaction on
// Postgres, so first-use races must not be recovered with a second statement.
func (a *gormAllocator) next(ctx context.Context, class catalog.Class) (int64, error) {
	var seq int64
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "class"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"seq": gorm.Expr("amount_counters.seq + 1")}),
		}).Create(&Counter{Class: int64(class), Seq: 1})
		if res.Error != nil {
			return res.Error
		}

		var c Counter
		if err := tx.Where("class = ?", int64(class)).First(&c).Error; err != nil {
			return err
		}
		seq = c.Seq
		return nil
	})
	if err != nil {
		return 0, errutil.Internal("failed to advance amount counter", errutil.WithErr(err))
	}
	return seq, nil
}

func (a *gormAllocator) Set(ctx context.Context, class catalog.Class, value int64) error {
	if !catalog.Valid(class) {
		return errutil.ValidationFailed("invalid voucher class")
	}
	if value < 0 {
		return errutil.ValidationFailed("sequence value must be non-negative")
	}

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Counter{}).
			Where("class = ?", int64(class)).
			Update("seq", value)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Create(&Counter{Class: int64(class), Seq: value}).Error
		}
		return nil
	})
	if err != nil {
		return errutil.Internal("failed to set amount counter", errutil.WithErr(err))
	}
	return nil
}

func (a *gormAllocator) Current(ctx context.Context) (map[catalog.Class]int64, error) {
	var counters []Counter
	if err := a.db.WithContext(ctx).Find(&counters).Error; err != nil {
		return nil, errutil.Internal("failed to read amount counters", errutil.WithErr(err))
	}

	out := make(map[catalog.Class]int64, len(counters))
	for _, c := range counters {
		out[catalog.Class(c.Class)] = c.Seq
	}
	return out, nil
}
