package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/scrip/internal/database"
	"github.com/dukerupert/scrip/internal/issue"
	"github.com/dukerupert/scrip/internal/model"
	"github.com/dukerupert/scrip/internal/redeem"
	"github.com/dukerupert/scrip/internal/report"
	"github.com/dukerupert/scrip/internal/store"
	"github.com/dukerupert/scrip/internal/websocket"
)

func setupHandler(t *testing.T) (*TokenHandler, *http.ServeMux) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.Default()
	ts := store.NewTokenStore(db)
	h := NewTokenHandler(
		issue.NewIssuer(ts, logger),
		redeem.NewEngine(ts, redeem.FixedReward(100), logger),
		report.NewReporter(ts),
		ts,
		websocket.NewHub(logger),
		logger,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/batches", h.IssueBatch)
	mux.HandleFunc("GET /api/batches", h.Batches)
	mux.HandleFunc("POST /api/redeem/{id}", h.Redeem)
	mux.HandleFunc("GET /api/tokens/{id}", h.Get)
	mux.HandleFunc("GET /api/stats/dashboard", h.Dashboard)
	mux.HandleFunc("GET /api/stats/products", h.Products)
	return h, mux
}

func issueViaAPI(t *testing.T, mux *http.ServeMux, product string, count int, expiresAt string) issueBatchResponse {
	t.Helper()
	body := fmt.Sprintf(`{"product_name":%q,"count":%d`, product, count)
	if expiresAt != "" {
		body += fmt.Sprintf(`,"expires_at":%q`, expiresAt)
	}
	body += `}`

	req := httptest.NewRequest("POST", "/api/batches", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue batch: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp issueBatchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode issue response: %v", err)
	}
	return resp
}

func TestIssueBatchAPI(t *testing.T) {
	_, mux := setupHandler(t)

	resp := issueViaAPI(t, mux, "Cola 500ml", 3, "")
	if resp.BatchID == "" {
		t.Error("expected generated batch_id")
	}
	if len(resp.TokenIDs) != 3 {
		t.Fatalf("expected 3 token ids, got %d", len(resp.TokenIDs))
	}
	for _, id := range resp.TokenIDs {
		if len(id) != 32 {
			t.Errorf("token id %q is not 32 chars", id)
		}
	}
}

func TestIssueBatchValidation(t *testing.T) {
	_, mux := setupHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing product", `{"count":5}`},
		{"zero count", `{"product_name":"P","count":0}`},
		{"oversized count", `{"product_name":"P","count":10001}`},
		{"bad expiry", `{"product_name":"P","count":1,"expires_at":"tomorrow"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/batches", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestRedeemAPI(t *testing.T) {
	_, mux := setupHandler(t)

	resp := issueViaAPI(t, mux, "Cola 500ml", 1, "")
	id := resp.TokenIDs[0]

	req := httptest.NewRequest("POST", "/api/redeem/"+id, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var receipt struct {
		TokenID    string    `json:"token_id"`
		Amount     int64     `json:"amount"`
		RedeemedAt time.Time `json:"redeemed_at"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Amount != 100 {
		t.Errorf("amount = %d, want 100", receipt.Amount)
	}
	if receipt.TokenID != id {
		t.Errorf("token_id = %q, want %q", receipt.TokenID, id)
	}

	// Second scan conflicts.
	req = httptest.NewRequest("POST", "/api/redeem/"+id, nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("second redeem status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestRedeemAPINotFound(t *testing.T) {
	_, mux := setupHandler(t)

	req := httptest.NewRequest("POST", "/api/redeem/deadbeefdeadbeefdeadbeefdeadbeef", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRedeemAPIExpired(t *testing.T) {
	_, mux := setupHandler(t)

	past := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	resp := issueViaAPI(t, mux, "Cola 500ml", 1, past)

	req := httptest.NewRequest("POST", "/api/redeem/"+resp.TokenIDs[0], nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusGone {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusGone)
	}
}

func TestGetTokenAPI(t *testing.T) {
	_, mux := setupHandler(t)

	resp := issueViaAPI(t, mux, "Cola 500ml", 1, "")

	req := httptest.NewRequest("GET", "/api/tokens/"+resp.TokenIDs[0], nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var tok model.Token
	if err := json.NewDecoder(rec.Body).Decode(&tok); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if tok.State != model.StateUnredeemed {
		t.Errorf("state = %q, want %q", tok.State, model.StateUnredeemed)
	}
	if tok.ProductName != "Cola 500ml" {
		t.Errorf("product_name = %q", tok.ProductName)
	}
}

func TestDashboardAPI(t *testing.T) {
	_, mux := setupHandler(t)

	resp := issueViaAPI(t, mux, "Cola 500ml", 4, "")

	// Redeem two.
	for _, id := range resp.TokenIDs[:2] {
		req := httptest.NewRequest("POST", "/api/redeem/"+id, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("redeem status = %d", rec.Code)
		}
	}

	req := httptest.NewRequest("GET", "/api/stats/dashboard", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var stats model.DashboardStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalIssued != 4 || stats.RedeemedCount != 2 || stats.RemainingCount != 2 {
		t.Errorf("stats = %+v, want 4/2/2", stats)
	}
	if stats.TotalRewardPaid != 200 {
		t.Errorf("total_reward_paid = %d, want 200", stats.TotalRewardPaid)
	}
}

func TestProductStatsAPI(t *testing.T) {
	_, mux := setupHandler(t)

	resp := issueViaAPI(t, mux, "P", 3, "")

	req := httptest.NewRequest("POST", "/api/redeem/"+resp.TokenIDs[0], nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("redeem status = %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/stats/products", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var stats []model.ProductStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 product, got %d", len(stats))
	}
	if stats[0].ProductName != "P" || stats[0].Total != 3 || stats[0].Redeemed != 1 {
		t.Errorf("stats[0] = %+v, want P total=3 redeemed=1", stats[0])
	}
}

func TestProductStatsAPIEmpty(t *testing.T) {
	_, mux := setupHandler(t)

	req := httptest.NewRequest("GET", "/api/stats/products", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}
