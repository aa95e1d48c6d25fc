package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/scrip/internal/backup"
	"github.com/dukerupert/scrip/internal/database"
	"github.com/dukerupert/scrip/internal/middleware"
	"github.com/dukerupert/scrip/internal/redeem"
)

const testAdminKey = "test-admin-key"

func setupServer(t *testing.T) http.Handler {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	srv := New(db, Config{
		AdminKey: middleware.AdminKey{Plain: testAdminKey},
		Policy:   redeem.FixedReward(100),
		Backup:   backup.Config{},
	}, slog.Default())
	return srv.Router()
}

func TestHealthIsPublic(t *testing.T) {
	router := setupServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAdminRoutesRequireKey(t *testing.T) {
	router := setupServer(t)

	paths := []struct {
		method string
		path   string
	}{
		{"POST", "/api/batches"},
		{"GET", "/api/batches"},
		{"GET", "/api/tokens/abc"},
		{"GET", "/api/stats/dashboard"},
		{"GET", "/api/stats/products"},
		{"GET", "/api/backup/status"},
	}

	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without key: status = %d, want %d", p.method, p.path, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestIssueAndRedeemFlow(t *testing.T) {
	router := setupServer(t)

	body := `{"product_name":"Cola 500ml","count":2}`
	req := httptest.NewRequest("POST", "/api/batches", strings.NewReader(body))
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("issue status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var issued struct {
		BatchID  string   `json:"batch_id"`
		TokenIDs []string `json:"token_ids"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&issued); err != nil {
		t.Fatalf("decode issue response: %v", err)
	}
	if len(issued.TokenIDs) != 2 {
		t.Fatalf("expected 2 token ids, got %d", len(issued.TokenIDs))
	}

	// Redemption needs no credential.
	req = httptest.NewRequest("POST", "/api/redeem/"+issued.TokenIDs[0], nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("redeem status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Dashboard reflects the redemption.
	req = httptest.NewRequest("GET", "/api/stats/dashboard", nil)
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", rec.Code)
	}
	var stats struct {
		TotalIssued   int64 `json:"total_issued"`
		RedeemedCount int64 `json:"redeemed_count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalIssued != 2 || stats.RedeemedCount != 1 {
		t.Errorf("stats = %+v, want issued=2 redeemed=1", stats)
	}
}

func TestNoAdminKeyConfiguredFailsClosed(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	srv := New(db, Config{Policy: redeem.FixedReward(100)}, slog.Default())
	router := srv.Router()

	req := httptest.NewRequest("GET", "/api/stats/dashboard", nil)
	req.Header.Set("X-Admin-Key", "anything")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestBackupStatusDisabled(t *testing.T) {
	router := setupServer(t)

	req := httptest.NewRequest("GET", "/api/backup/status", nil)
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var status struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != string(backup.StateDisabled) {
		t.Errorf("state = %q, want %q", status.State, backup.StateDisabled)
	}

	// Triggering a manual run without config conflicts.
	req = httptest.NewRequest("POST", "/api/backup/run", nil)
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("run status = %d, want %d", rec.Code, http.StatusConflict)
	}
}
