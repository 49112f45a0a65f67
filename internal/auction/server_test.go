package auction

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dedenruslan19/bidload/internal/bid"
	"github.com/Dedenruslan19/bidload/internal/loadtest"
)

func postBid(t *testing.T, url string, body string, token string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestServer_Bids(t *testing.T) {
	srv := NewServer(Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := ts.URL + "/auction/sessions/1/items/9/bid"

	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{name: "below starting price", body: `{"amount":50000}`, status: http.StatusConflict, message: "bid too low"},
		{name: "at starting price", body: `{"amount":100000}`, status: http.StatusConflict, message: "duplicate bid"},
		{name: "accepted", body: `{"amount":150000}`, status: http.StatusCreated, message: "bid accepted"},
		{name: "duplicate", body: `{"amount":150000}`, status: http.StatusConflict, message: "duplicate bid"},
		{name: "outbid", body: `{"amount":140000}`, status: http.StatusConflict, message: "bid too low"},
		{name: "raise", body: `{"amount":200000}`, status: http.StatusCreated, message: "bid accepted"},
		{name: "negative", body: `{"amount":-1}`, status: http.StatusBadRequest},
		{name: "not json", body: `amount=1`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := postBid(t, url, tt.body, "")
			assert.Equal(t, tt.status, status)
			if tt.message != "" {
				assert.Equal(t, tt.message, body["message"])
			}
		})
	}

	highest, bids := srv.Highest("1", "9")
	assert.Equal(t, int64(200000), highest)
	assert.Equal(t, int64(2), bids)

	highest, bids = srv.Highest("1", "10")
	assert.Equal(t, int64(DefaultStartingPrice), highest)
	assert.Zero(t, bids)
}

func TestServer_RequireAuth(t *testing.T) {
	ts := httptest.NewServer(NewServer(Config{RequireAuth: true}).Handler())
	defer ts.Close()

	url := ts.URL + "/auction/sessions/1/items/1/bid"
	status, body := postBid(t, url, `{"amount":200000}`, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing bearer token", body["error"])

	status, _ = postBid(t, url, `{"amount":200000}`, "secret")
	assert.Equal(t, http.StatusCreated, status)
}

func TestServer_ItemAndHealth(t *testing.T) {
	ts := httptest.NewServer(NewServer(Config{StartingPrice: 5000}).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/auction/sessions/3/items/4")
	require.NoError(t, err)
	defer resp.Body.Close()
	var item map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&item))
	assert.Equal(t, int64(5000), item["highest"])
}

func TestServer_Latency(t *testing.T) {
	ts := httptest.NewServer(NewServer(Config{MinLatency: 20 * time.Millisecond, MaxLatency: 30 * time.Millisecond}).Handler())
	defer ts.Close()

	start := time.Now()
	postBid(t, ts.URL+"/auction/sessions/1/items/1/bid", `{"amount":200000}`, "")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestServer_WithBidClient(t *testing.T) {
	srv := NewServer(Config{RequireAuth: true})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := bid.NewClient(bid.ClientConfig{
		BaseURL:   ts.URL,
		SessionID: "1",
		ItemID:    "2",
		AuthToken: "token",
		Timeout:   2 * time.Second,
	})
	defer client.Close()

	var wg sync.WaitGroup
	results := make(chan bid.Classification, 20)
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			resp := client.PlaceBid(context.Background(), amount)
			results <- bid.Classify(resp.Status, resp.Body, resp.Err)
		}(int64(100000 + i*1000))
	}
	wg.Wait()
	close(results)

	var accepted, rejected int
	for c := range results {
		switch c.Result {
		case loadtest.ResultSuccess:
			accepted++
		case loadtest.ResultRejected:
			rejected++
			assert.Equal(t, bid.ReasonTooLow, c.Reason)
		default:
			t.Errorf("unexpected classification %+v", c)
		}
	}
	assert.Equal(t, 20, accepted+rejected)
	assert.GreaterOrEqual(t, accepted, 1)

	highest, bids := srv.Highest("1", "2")
	assert.Equal(t, int64(120000), highest)
	assert.Equal(t, int64(accepted), bids)
}
