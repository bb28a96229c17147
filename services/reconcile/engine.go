// Package reconcile matches settlement records against pending sales. One
// routine serves both triggers: the periodic sweep over all pending
// transactions and the on-demand check behind the status endpoint. The
// ledger's compare-and-set transitions make concurrent double-processing
// harmless.
package reconcile

import (
	"context"
	"time"

	"wifi-voucher/services/settlement"
	"wifi-voucher/services/transaction"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Ledger is the slice of the transaction service the engine drives.
type Ledger interface {
	Pending(ctx context.Context) ([]*transaction.Transaction, error)
	Get(ctx context.Context, trxID string) (*transaction.Transaction, error)
	MarkPaid(ctx context.Context, trxID string, rec settlement.Record) (*transaction.Transaction, error)
	MarkExpired(ctx context.Context, trxID string) (*transaction.Transaction, error)
}

// Stats summarises one reconciliation pass.
type Stats struct {
	Pending int
	Paid    int
	Expired int
	Failed  int
}

type Engine struct {
	ledger Ledger
	feed   settlement.Feed
	now    func() time.Time
}

type EngineParams struct {
	fx.In

	Ledger Ledger
	Feed   settlement.Feed
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		ledger: p.Ledger,
		feed:   p.Feed,
		now:    time.Now,
	}
}

// Sweep reconciles every pending transaction against the current settlement
// feed. A feed failure degrades to expiry-only processing; one transaction's
// error never aborts the rest of the pass.
func (e *Engine) Sweep(ctx context.Context) Stats {
	var stats Stats

	pending, err := e.ledger.Pending(ctx)
	if err != nil {
		zap.L().Error("sweep failed to list pending transactions", zap.Error(err))
		stats.Failed++
		return stats
	}
	stats.Pending = len(pending)
	if len(pending) == 0 {
		return stats
	}

	records := e.fetchRecords(ctx)

	now := e.now()
	for _, trx := range pending {
		switch e.processOne(ctx, trx, records, now) {
		case outcomePaid:
			stats.Paid++
		case outcomeExpired:
			stats.Expired++
		case outcomeFailed:
			stats.Failed++
		}
	}

	zap.L().Info("reconciliation sweep completed",
		zap.Int("pending", stats.Pending),
		zap.Int("paid", stats.Paid),
		zap.Int("expired", stats.Expired),
		zap.Int("failed", stats.Failed),
	)
	return stats
}

// CheckStatus runs a single-transaction reconciliation pass before reporting
// the entry's state.
func (e *Engine) CheckStatus(ctx context.Context, trxID string) (*transaction.Transaction, error) {
	trx, err := e.ledger.Get(ctx, trxID)
	if err != nil {
		return nil, err
	}
	if trx.Status != transaction.StatusPending {
		return trx, nil
	}

	records := e.fetchRecords(ctx)
	e.processOne(ctx, trx, records, e.now())

	return e.ledger.Get(ctx, trxID)
}

// fetchRecords pulls the settlement feed, returning nil when it is
// unavailable so expiry evaluation can proceed on the clock alone.
func (e *Engine) fetchRecords(ctx context.Context) []settlement.Record {
	records, err := e.feed.Mutations(ctx)
	if err != nil {
		zap.L().Warn("settlement feed unavailable, evaluating expiry only", zap.Error(err))
		return nil
	}
	return records
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomePaid
	outcomeExpired
	outcomeFailed
)

// processOne applies the matching rule to one pending transaction: the first
// credit record with the exact unique amount wins; otherwise a passed
// deadline expires the entry.
func (e *Engine) processOne(ctx context.Context, trx *transaction.Transaction, records []settlement.Record, now time.Time) outcome {
	if rec, ok := match(trx, records); ok {
		if _, err := e.ledger.MarkPaid(ctx, trx.TransactionID, rec); err != nil {
			zap.L().Error("failed to mark transaction paid",
				zap.String("transaction_id", trx.TransactionID),
				zap.Error(err),
			)
			return outcomeFailed
		}
		return outcomePaid
	}

	if now.After(trx.ExpiresAt) {
		if _, err := e.ledger.MarkExpired(ctx, trx.TransactionID); err != nil {
			zap.L().Error("failed to mark transaction expired",
				zap.String("transaction_id", trx.TransactionID),
				zap.Error(err),
			)
			return outcomeFailed
		}
		return outcomeExpired
	}

	return outcomeUnchanged
}

// match finds the first credit record whose amount equals the transaction's
// unique amount. Records are not marked consumed: two equal-amount pending
// entries can in principle match the same record, an ambiguity inherited
// from the amount-as-reference scheme.
func match(trx *transaction.Transaction, records []settlement.Record) (settlement.Record, bool) {
	for _, rec := range records {
		if rec.Direction == settlement.Credit && rec.Amount == trx.UniqueAmount {
			return rec, true
		}
	}
	return settlement.Record{}, false
}
