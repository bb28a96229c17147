// Package settlement reads the payment rail's mutation history. The feed is
// the only source of payment confirmation: there are no push notifications,
// so callers poll and match records against pending sales by exact amount.
package settlement

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"wifi-voucher/pkg/config"
	"wifi-voucher/pkg/errutil"

	"github.com/go-resty/resty/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("settlement",
	fx.Provide(NewClient),
)

type Direction string

const (
	Credit Direction = "CR"
	Debit  Direction = "DR"
)

// Record is one settled mutation, read-only to this system.
type Record struct {
	Amount    int64
	Direction Direction
	Date      time.Time
	Reference string
	Issuer    string
}

// Feed lists recent mutations for the merchant identity.
type Feed interface {
	Mutations(ctx context.Context) ([]Record, error)
}

type feedEnvelope struct {
	Status string       `json:"status"`
	Data   []feedRecord `json:"data"`
}

type feedRecord struct {
	Date       string `json:"date"`
	Amount     string `json:"amount"`
	Type       string `json:"type"`
	BrandName  string `json:"brand_name"`
	IssuerReff string `json:"issuer_reff"`
	BuyerReff  string `json:"buyer_reff"`
}

const feedDateLayout = "2006-01-02 15:04:05"

type Client struct {
	http         *resty.Client
	feedURL      string
	merchantCode string
	apiKey       string
}

type Params struct {
	fx.In

	Config *config.Config
}

func NewClient(p Params) Feed {
	httpClient := resty.New().
		SetTimeout(p.Config.QRIS.FeedTimeout).
		SetRetryCount(1)

	return &Client{
		http:         httpClient,
		feedURL:      p.Config.QRIS.FeedURL,
		merchantCode: p.Config.QRIS.MerchantCode,
		apiKey:       p.Config.QRIS.APIKey,
	}
}

func (c *Client) Mutations(ctx context.Context) ([]Record, error) {
	var envelope feedEnvelope

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&envelope).
		Get(fmt.Sprintf("%s/%s/%s", c.feedURL, c.merchantCode, c.apiKey))
	if err != nil {
		return nil, errutil.BadGateway("settlement feed unavailable", errutil.WithErr(err))
	}
	if resp.IsError() {
		return nil, errutil.BadGateway(fmt.Sprintf("settlement feed returned %s", resp.Status()))
	}

	records := make([]Record, 0, len(envelope.Data))
	skipped := 0
	for _, raw := range envelope.Data {
		rec, err := parseRecord(raw)
		if err != nil {
			skipped++
			zap.L().Warn("skipping unparseable settlement record",
				zap.String("amount", raw.Amount),
				zap.String("type", raw.Type),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}

	if skipped > 0 {
		zap.L().Warn("settlement feed contained unparseable records", zap.Int("skipped", skipped))
	}

	return records, nil
}

func parseRecord(raw feedRecord) (Record, error) {
	amount, err := strconv.ParseInt(raw.Amount, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid amount %q: %w", raw.Amount, err)
	}

	direction := Direction(raw.Type)
	if direction != Credit && direction != Debit {
		return Record{}, fmt.Errorf("unknown direction %q", raw.Type)
	}

	// The feed date is informational only: matching uses the amount, so a
	// malformed date does not disqualify the record.
	date, _ := time.Parse(feedDateLayout, raw.Date)

	reference := raw.IssuerReff
	if reference == "" {
		reference = raw.BuyerReff
	}

	return Record{
		Amount:    amount,
		Direction: direction,
		Date:      date,
		Reference: reference,
		Issuer:    raw.BrandName,
	}, nil
}
