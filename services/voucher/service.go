package voucher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"wifi-voucher/pkg/catalog"
	"wifi-voucher/pkg/errutil"
	"wifi-voucher/services/transaction"
)

// Notifier delivers the claimed credential to the buyer. Implementations
// queue work rather than block; delivery failure never undoes a claim.
type Notifier interface {
	VoucherKey(ctx context.Context, notice VoucherKeyNotice) error
}

// VoucherKeyNotice carries everything the voucher delivery email needs.
type VoucherKeyNotice struct {
	TransactionID string `json:"transactionId"`
	Email         string `json:"email"`
	Key           string `json:"voucherKey"`
	Class         int64  `json:"class"`
	ClassLabel    string `json:"classLabel"`
}

// ClaimResult reports the outcome of a claim. AlreadyIssued is true when the
// transaction had a credential bound before this call; such calls are
// idempotent reads and queue no email.
type ClaimResult struct {
	Key           string
	Class         int64
	AlreadyIssued bool
	EmailQueued   bool
}

// ClassStock summarizes inventory for one voucher class.
type ClassStock struct {
	Class     int64        `json:"class"`
	Label     string       `json:"label"`
	Total     int64        `json:"total"`
	Available int64        `json:"available"`
	Vouchers  []StockEntry `json:"vouchers"`
}

// StockEntry is one credential row as shown to the admin.
type StockEntry struct {
	Key       string    `json:"key"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"createdAt"`
}

// errClaimRace signals that a concurrent claim consumed the candidate row
// between the select and the conditional update. The attempt is rolled back
// and retried once against fresh state.
var errClaimRace = errors.New("voucher claim lost race")

type Service struct {
	db       *gorm.DB
	notifier Notifier
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Notifier Notifier `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, notifier: p.Notifier}
}

// Claim binds an unused credential of the transaction's class to the
// transaction and returns its key. The whole claim runs in one database
// transaction: the credential flips used=false->true and the bind fills
// voucher_key only while it is still NULL, both guarded by affected-row
// counts, so two concurrent claims for the same transaction (or the same
// credential) can never both win. Re-claiming a transaction that already
// holds a credential returns the same key without touching inventory.
func (s *Service) Claim(ctx context.Context, trxID string) (*ClaimResult, error) {
	var res *ClaimResult
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		res, err = s.claimOnce(ctx, trxID)
		if !errors.Is(err, errClaimRace) {
			break
		}
	}
	if errors.Is(err, errClaimRace) {
		return nil, errutil.Conflict("voucher claim contention, retry")
	}
	if err != nil {
		return nil, err
	}

	if !res.AlreadyIssued && s.notifier != nil {
		var trx transaction.Transaction
		if lookupErr := s.db.WithContext(ctx).First(&trx, "transaction_id = ?", trxID).Error; lookupErr == nil {
			notice := VoucherKeyNotice{
				TransactionID: trx.TransactionID,
				Email:         trx.Email,
				Key:           res.Key,
				Class:         trx.Class,
				ClassLabel:    trx.ClassLabel(),
			}
			if notifyErr := s.notifier.VoucherKey(ctx, notice); notifyErr != nil {
				zap.L().Error("failed to queue voucher email",
					zap.String("transaction_id", trxID),
					zap.Error(notifyErr),
				)
			} else {
				res.EmailQueued = true
			}
		}
	}
	return res, nil
}

func (s *Service) claimOnce(ctx context.Context, trxID string) (*ClaimResult, error) {
	var res *ClaimResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trx transaction.Transaction
		if err := tx.First(&trx, "transaction_id = ?", trxID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.NotFound("transaction not found")
			}
			return errutil.Internal("failed to load transaction", errutil.WithErr(err))
		}

		if trx.VoucherKey != nil {
			res = &ClaimResult{Key: *trx.VoucherKey, Class: trx.Class, AlreadyIssued: true}
			return nil
		}

		if trx.Status != transaction.StatusPaid {
			return errutil.Conflict("payment not confirmed for this transaction")
		}

		var candidate Voucher
		err := tx.Where("class = ? AND used = ?", trx.Class, false).
			Order("created_at ASC").
			First(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.Conflict("no voucher stock available for this class")
			}
			return errutil.Internal("failed to select voucher", errutil.WithErr(err))
		}

		now := time.Now()
		consume := tx.Model(&Voucher{}).
			Where("voucher_key = ? AND used = ?", candidate.Key, false).
			Updates(map[string]interface{}{"used": true, "used_at": now})
		if consume.Error != nil {
			return errutil.Internal("failed to consume voucher", errutil.WithErr(consume.Error))
		}
		if consume.RowsAffected == 0 {
			return errClaimRace
		}

		bind := tx.Model(&transaction.Transaction{}).
			Where("transaction_id = ? AND voucher_key IS NULL", trxID).
			Update("voucher_key", candidate.Key)
		if bind.Error != nil {
			return errutil.Internal("failed to bind voucher", errutil.WithErr(bind.Error))
		}
		if bind.RowsAffected == 0 {
			return errClaimRace
		}

		res = &ClaimResult{Key: candidate.Key, Class: trx.Class}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Resend re-queues the voucher email for a transaction that already holds a
// credential. It never allocates new stock.
func (s *Service) Resend(ctx context.Context, trxID string) error {
	var trx transaction.Transaction
	if err := s.db.WithContext(ctx).First(&trx, "transaction_id = ?", trxID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("transaction not found")
		}
		return errutil.Internal("failed to load transaction", errutil.WithErr(err))
	}
	if trx.VoucherKey == nil {
		return errutil.Conflict("no voucher issued for this transaction")
	}
	if s.notifier == nil {
		return errutil.Internal("voucher notifier not configured")
	}
	notice := VoucherKeyNotice{
		TransactionID: trx.TransactionID,
		Email:         trx.Email,
		Key:           *trx.VoucherKey,
		Class:         trx.Class,
		ClassLabel:    trx.ClassLabel(),
	}
	if err := s.notifier.VoucherKey(ctx, notice); err != nil {
		return errutil.Internal("failed to queue voucher email", errutil.WithErr(err))
	}
	return nil
}

// Add loads new credentials into the pool. Keys already present are rejected
// so a double-submitted stock file cannot create claimable duplicates.
func (s *Service) Add(ctx context.Context, class int64, keys []string) (int, error) {
	if !catalog.Valid(catalog.Class(class)) {
		return 0, errutil.ValidationFailed("unknown voucher class")
	}
	if len(keys) == 0 {
		return 0, errutil.ValidationFailed("no voucher keys provided")
	}

	added := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			if key == "" {
				return errutil.ValidationFailed("empty voucher key")
			}
			var count int64
			if err := tx.Model(&Voucher{}).Where("voucher_key = ?", key).Count(&count).Error; err != nil {
				return errutil.Internal("failed to check voucher key", errutil.WithErr(err))
			}
			if count > 0 {
				return errutil.Conflict("voucher key already exists: " + key)
			}
			if err := tx.Create(&Voucher{Key: key, Class: class}).Error; err != nil {
				return errutil.Internal("failed to insert voucher", errutil.WithErr(err))
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// Remove deletes a credential from the pool by key.
func (s *Service) Remove(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).Where("voucher_key = ?", key).Delete(&Voucher{})
	if res.Error != nil {
		return errutil.Internal("failed to delete voucher", errutil.WithErr(res.Error))
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("voucher not found")
	}
	return nil
}

// Stock reports inventory grouped by class, including classes with no rows.
func (s *Service) Stock(ctx context.Context) ([]ClassStock, error) {
	var rows []Voucher
	if err := s.db.WithContext(ctx).Order("class ASC, created_at ASC").Find(&rows).Error; err != nil {
		return nil, errutil.Internal("failed to list vouchers", errutil.WithErr(err))
	}

	byClass := make(map[int64][]Voucher)
	for _, v := range rows {
		byClass[v.Class] = append(byClass[v.Class], v)
	}

	var out []ClassStock
	for _, info := range catalog.All() {
		vs := byClass[int64(info.Class)]
		stock := ClassStock{
			Class:    int64(info.Class),
			Label:    info.Label,
			Total:    int64(len(vs)),
			Vouchers: make([]StockEntry, 0, len(vs)),
		}
		for _, v := range vs {
			if !v.Used {
				stock.Available++
			}
			stock.Vouchers = append(stock.Vouchers, StockEntry{
				Key:       v.Key,
				Used:      v.Used,
				CreatedAt: v.CreatedAt,
			})
		}
		out = append(out, stock)
	}
	return out, nil
}
