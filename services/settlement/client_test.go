package settlement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifi-voucher/pkg/errutil"
)

func newTestClient(url string) *Client {
	return &Client{
		http:         resty.New().SetTimeout(2 * time.Second),
		feedURL:      url,
		merchantCode: "OK123456",
		apiKey:       "test-key",
	}
}

func TestMutationsParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/OK123456/test-key", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"data": [
				{"date": "2026-03-14 10:30:00", "amount": "20001", "type": "CR", "brand_name": "GOPAY", "issuer_reff": "REF-1"},
				{"date": "2026-03-14 10:31:00", "amount": "5000", "type": "DR", "brand_name": "BANK", "buyer_reff": "REF-2"}
			]
		}`))
	}))
	defer srv.Close()

	records, err := newTestClient(srv.URL).Mutations(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, int64(20001), records[0].Amount)
	assert.Equal(t, Credit, records[0].Direction)
	assert.Equal(t, "REF-1", records[0].Reference)
	assert.Equal(t, "GOPAY", records[0].Issuer)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC), records[0].Date)

	assert.Equal(t, Debit, records[1].Direction)
	assert.Equal(t, "REF-2", records[1].Reference)
}

func TestMutationsSkipsUnparseableRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"data": [
				{"date": "2026-03-14 10:30:00", "amount": "not-a-number", "type": "CR"},
				{"date": "2026-03-14 10:31:00", "amount": "20001", "type": "XX"},
				{"date": "garbage", "amount": "20002", "type": "CR"}
			]
		}`))
	}))
	defer srv.Close()

	records, err := newTestClient(srv.URL).Mutations(context.Background())
	require.NoError(t, err)

	// Bad amount and unknown direction are dropped; a bad date is tolerated.
	require.Len(t, records, 1)
	assert.Equal(t, int64(20002), records[0].Amount)
	assert.True(t, records[0].Date.IsZero())
}

func TestMutationsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Mutations(context.Background())
	require.Error(t, err)
	assert.True(t, errutil.HasStatus(err, errutil.StatusBadGateway))
}

func TestMutationsConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := newTestClient(srv.URL).Mutations(context.Background())
	require.Error(t, err)
	assert.True(t, errutil.HasStatus(err, errutil.StatusBadGateway))
}
