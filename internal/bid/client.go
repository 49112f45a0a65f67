// Package bid simulates auction bidders placing bids over HTTP.
package bid

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	lhttp "github.com/Dedenruslan19/bidload/internal/http"
)

var (
	// ErrTransport wraps connection-level failures.
	ErrTransport = errors.New("bid transport error")

	// ErrTimeout wraps requests that exceeded the per-call timeout.
	ErrTimeout = errors.New("bid request timed out")
)

// ClientConfig identifies the auction item and tunes the shared transport.
type ClientConfig struct {
	BaseURL             string
	SessionID           string
	ItemID              string
	AuthToken           string
	Timeout             time.Duration
	MaxIdleConnsPerHost int
	InsecureSkipVerify  bool
}

// Response is the result of one bid call. Status is 0 when Err is set.
type Response struct {
	Status   int
	Body     []byte
	Duration time.Duration
	Err      error
}

// Bidder places a bid. *Client is the HTTP implementation.
type Bidder interface {
	PlaceBid(ctx context.Context, amount int64) Response
}

// Client posts bids for one auction item.
type Client struct {
	http *lhttp.Client
	path string
}

// NewClient creates a bid client sharing one tuned transport across all
// callers.
func NewClient(cfg ClientConfig, options ...lhttp.ClientOption) *Client {
	httpCfg := lhttp.DefaultConfig()
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		httpCfg.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	httpCfg.InsecureSkipVerify = cfg.InsecureSkipVerify

	opts := []lhttp.ClientOption{lhttp.WithBaseURL(cfg.BaseURL)}
	if cfg.AuthToken != "" {
		opts = append(opts, lhttp.WithHeader("Authorization", "Bearer "+cfg.AuthToken))
	}
	opts = append(opts, options...)

	return &Client{
		http: lhttp.NewClient(httpCfg, opts...),
		path: Path(cfg.SessionID, cfg.ItemID),
	}
}

// Path returns the bid endpoint path for an auction item.
func Path(sessionID, itemID string) string {
	return fmt.Sprintf("/auction/sessions/%s/items/%s/bid", url.PathEscape(sessionID), url.PathEscape(itemID))
}

// Endpoint returns the full bid URL.
func (c *Client) Endpoint() string {
	return c.http.BaseURL() + c.path
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

type bidRequest struct {
	Amount int64 `json:"amount"`
}

// PlaceBid posts {"amount": amount}. Non-2xx responses are returned with
// their status; only transport failures and timeouts set Err.
func (c *Client) PlaceBid(ctx context.Context, amount int64) Response {
	req := lhttp.NewRequest("POST", c.path).
		WithHeader("Content-Type", "application/json").
		WithBody(bidRequest{Amount: amount})

	resp, err := c.http.Do(ctx, req)

	var out Response
	if resp != nil {
		out.Status = resp.StatusCode
		out.Body = resp.Body
		out.Duration = resp.Timing.TotalTime
	}
	if err != nil {
		out.Status = 0
		if lhttp.IsTimeout(err) {
			out.Err = fmt.Errorf("%w: %v", ErrTimeout, err)
		} else {
			out.Err = fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}
	return out
}
