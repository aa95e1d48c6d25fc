package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/scrip/internal/backup"
	"github.com/dukerupert/scrip/internal/handler"
	"github.com/dukerupert/scrip/internal/issue"
	"github.com/dukerupert/scrip/internal/middleware"
	"github.com/dukerupert/scrip/internal/redeem"
	"github.com/dukerupert/scrip/internal/report"
	"github.com/dukerupert/scrip/internal/store"
	ws "github.com/dukerupert/scrip/internal/websocket"
)

type Config struct {
	AdminKey middleware.AdminKey
	Policy   redeem.RewardPolicy
	Backup   backup.Config

	// RedeemLimit caps redemption attempts per client IP per window.
	RedeemLimit  int
	RedeemWindow time.Duration
}

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	tokenH        *handler.TokenHandler
	backupH       *handler.BackupHandler
	adminKey      middleware.AdminKey
	rateLimiter   *middleware.RateLimiter
	redeemLimit   int
	redeemWindow  time.Duration
	backupManager *backup.Manager
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	tokenStore := store.NewTokenStore(db)
	issuer := issue.NewIssuer(tokenStore, logger.With("component", "issue"))
	engine := redeem.NewEngine(tokenStore, cfg.Policy, logger.With("component", "redeem"))
	reporter := report.NewReporter(tokenStore)

	backupMgr := backup.NewManager(cfg.Backup, db, logger.With("component", "backup"))

	if cfg.RedeemLimit <= 0 {
		cfg.RedeemLimit = 30
	}
	if cfg.RedeemWindow <= 0 {
		cfg.RedeemWindow = time.Minute
	}

	return &Server{
		db:            db,
		hub:           hub,
		tokenH:        handler.NewTokenHandler(issuer, engine, reporter, tokenStore, hub, logger.With("component", "token")),
		backupH:       handler.NewBackupHandler(backupMgr, logger.With("component", "backup_handler")),
		adminKey:      cfg.AdminKey,
		rateLimiter:   middleware.NewRateLimiter(),
		redeemLimit:   cfg.RedeemLimit,
		redeemWindow:  cfg.RedeemWindow,
		backupManager: backupMgr,
		logger:        logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes: anyone holding a printed code can redeem it.
	outerMux.HandleFunc("POST /api/redeem/{id}", s.rateLimitedHandler(s.tokenH.Redeem))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Admin routes — issuance, reporting, backups, live feed.
	adminMux := http.NewServeMux()
	s.registerAdminRoutes(adminMux)

	adminMiddleware := middleware.RequireAdmin(s.adminKey)
	outerMux.Handle("/", adminMiddleware(adminMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, s.redeemLimit, s.redeemWindow)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	// Issuance
	mux.HandleFunc("POST /api/batches", s.tokenH.IssueBatch)
	mux.HandleFunc("GET /api/batches", s.tokenH.Batches)

	// Token inspection
	mux.HandleFunc("GET /api/tokens/{id}", s.tokenH.Get)

	// Reporting
	mux.HandleFunc("GET /api/stats/dashboard", s.tokenH.Dashboard)
	mux.HandleFunc("GET /api/stats/products", s.tokenH.Products)

	// Backups
	mux.HandleFunc("GET /api/backup/status", s.backupH.Status)
	mux.HandleFunc("POST /api/backup/run", s.backupH.RunNow)

	// WebSocket live redemption feed
	mux.HandleFunc("GET /ws", ws.Handle(s.hub, s.logger.With("component", "websocket")))
}
