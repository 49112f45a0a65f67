package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected method POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/auction/sessions/1/items/2/bid" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tkn" {
			t.Errorf("Expected client header, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"amount":100}` {
			t.Errorf("Unexpected body %s", body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"message":"bid placed"}`))
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(),
		WithBaseURL(server.URL+"/api/"),
		WithHeader("Authorization", "Bearer tkn"),
	)

	req := NewRequest("POST", "/auction/sessions/1/items/2/bid").
		WithBody(map[string]int64{"amount": 100})

	resp, err := client.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Error executing request: %v", err)
	}

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected status code %d, got %d", http.StatusCreated, resp.StatusCode)
	}
	if !resp.IsSuccess() {
		t.Error("Expected IsSuccess")
	}
	if resp.GetHeader("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type: application/json, got %s", resp.GetHeader("Content-Type"))
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := resp.JSON(&payload); err != nil || payload.Message != "bid placed" {
		t.Errorf("Unexpected body %q (err %v)", resp.BodyString(), err)
	}

	if resp.Timing.TotalTime <= 0 {
		t.Error("Expected total time to be recorded")
	}
	if resp.Timing.TimeToFirstByte <= 0 || resp.Timing.TimeToFirstByte > resp.Timing.TotalTime {
		t.Errorf("Unexpected TTFB %v (total %v)", resp.Timing.TimeToFirstByte, resp.Timing.TotalTime)
	}
}

func TestClient_RequestHeaderWins(t *testing.T) {
	got := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Test")
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), WithBaseURL(server.URL), WithHeader("X-Test", "client"))
	_, err := client.Do(context.Background(), NewRequest("GET", "/").WithHeader("X-Test", "request"))
	if err != nil {
		t.Fatal(err)
	}
	if h := <-got; h != "request" {
		t.Errorf("Expected request header to win, got %q", h)
	}
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	client := NewClient(cfg, WithBaseURL(server.URL))

	start := time.Now()
	resp, err := client.Do(context.Background(), NewRequest("GET", "/slow"))
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !IsTimeout(err) {
		t.Errorf("Expected IsTimeout for %v", err)
	}
	if resp == nil || resp.StatusCode != 0 {
		t.Errorf("Expected empty response with timing, got %+v", resp)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Timeout not enforced: %v", time.Since(start))
	}
}

func TestClient_BodyIsBounded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", MaxBodySize+1024)))
	}))
	defer server.Close()

	client := NewClient(DefaultConfig(), WithBaseURL(server.URL))
	resp, err := client.Do(context.Background(), NewRequest("GET", "/"))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Body) != MaxBodySize {
		t.Errorf("Expected body truncated to %d, got %d", MaxBodySize, len(resp.Body))
	}
}

func TestClient_WithOptions(t *testing.T) {
	hc := &http.Client{}
	client := NewClient(Config{Timeout: 3 * time.Second},
		WithBaseURL("https://example.com"),
		WithHeader("X-Test", "v"),
		WithHTTPClient(hc),
	)

	if client.Timeout() != 3*time.Second {
		t.Errorf("Expected timeout 3s, got %v", client.Timeout())
	}
	if client.BaseURL() != "https://example.com" {
		t.Errorf("Unexpected base URL %s", client.BaseURL())
	}
	if client.headers["X-Test"] != "v" {
		t.Errorf("Expected header X-Test")
	}
	if client.httpClient != hc {
		t.Error("Expected custom http client")
	}
}

func TestIsTimeout(t *testing.T) {
	if IsTimeout(nil) {
		t.Error("nil is not a timeout")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("DeadlineExceeded is a timeout")
	}
	if IsTimeout(context.Canceled) {
		t.Error("Canceled is not a timeout")
	}
}
