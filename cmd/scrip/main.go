package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukerupert/scrip/internal/backup"
	"github.com/dukerupert/scrip/internal/database"
	"github.com/dukerupert/scrip/internal/logging"
	"github.com/dukerupert/scrip/internal/middleware"
	"github.com/dukerupert/scrip/internal/redeem"
	"github.com/dukerupert/scrip/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("SCRIP_LOG_LEVEL"), os.Getenv("SCRIP_LOG_FORMAT"))

	port := os.Getenv("SCRIP_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("SCRIP_DB_PATH")
	if dbPath == "" {
		dbPath = "scrip.db"
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rewardAmount := int64(100)
	if v := os.Getenv("SCRIP_REWARD_AMOUNT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			slog.Error("invalid SCRIP_REWARD_AMOUNT", "value", v)
			os.Exit(1)
		}
		rewardAmount = n
	}

	backupInterval := 6 * time.Hour
	if v := os.Getenv("SCRIP_BACKUP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			slog.Error("invalid SCRIP_BACKUP_INTERVAL", "value", v)
			os.Exit(1)
		}
		backupInterval = d
	}

	cfg := server.Config{
		AdminKey: middleware.AdminKey{
			Plain:      os.Getenv("SCRIP_ADMIN_KEY"),
			BcryptHash: os.Getenv("SCRIP_ADMIN_KEY_HASH"),
		},
		Policy: redeem.FixedReward(rewardAmount),
		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  os.Getenv("SCRIP_BACKUP_S3_ENDPOINT"),
				Bucket:    os.Getenv("SCRIP_BACKUP_S3_BUCKET"),
				Region:    os.Getenv("SCRIP_BACKUP_S3_REGION"),
				AccessKey: os.Getenv("SCRIP_BACKUP_S3_ACCESS_KEY"),
				SecretKey: os.Getenv("SCRIP_BACKUP_S3_SECRET_KEY"),
			},
			DBPath:     dbPath,
			Passphrase: os.Getenv("SCRIP_BACKUP_PASSPHRASE"),
			Interval:   backupInterval,
		},
	}

	if !cfg.AdminKey.Configured() {
		slog.Warn("no admin key configured, issuance and reporting routes are disabled")
	}

	srv := server.New(db, cfg, logger)

	if srv.BackupManager().Enabled() {
		srv.BackupManager().Start(context.Background())
		defer srv.BackupManager().Stop()
	}

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("scrip starting", "addr", ":"+port, "db", dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
