// Package backup periodically snapshots the token database and uploads an
// encrypted copy to S3-compatible storage. Token records carry customer
// phone numbers, so snapshots never leave the host unencrypted.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds backup manager configuration.
type Config struct {
	S3         S3Config
	DBPath     string
	Passphrase string
	Interval   time.Duration
	Prefix     string
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	LastKey    string     `json:"last_key,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Manager uploads encrypted database snapshots on a fixed interval.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	status Status
	client s3Client
	logger *slog.Logger

	db     *sql.DB
	cancel context.CancelFunc
	done   chan struct{}

	// base delay for upload retries, overridable in tests
	backoffBase time.Duration
}

// NewManager creates a backup manager. It stays disabled unless bucket,
// credentials, and passphrase are all configured.
func NewManager(cfg Config, db *sql.DB, logger *slog.Logger) *Manager {
	if cfg.Interval == 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "scrip"
	}

	m := &Manager{
		cfg:         cfg,
		db:          db,
		logger:      logger,
		status:      Status{State: StateDisabled},
		backoffBase: time.Second,
	}

	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}

	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether the manager will actually upload snapshots.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Start begins the scheduled backup loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval := m.cfg.Interval
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RunNow(ctx); err != nil {
					m.logger.Error("scheduled backup failed", "error", err)
				}
			}
		}
	}()
}

// Stop gracefully stops the backup loop.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if s.LastBackup == nil {
		s.LastBackup = m.status.LastBackup
	}
	if s.LastKey == "" {
		s.LastKey = m.status.LastKey
	}
	m.status = s
	m.mu.Unlock()
}

// RunNow snapshots the database and uploads it immediately.
func (m *Manager) RunNow(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	cfg := m.cfg
	base := m.backoffBase
	m.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("backup not configured")
	}

	m.setStatus(Status{State: StateRunning})

	sealed, err := m.snapshot(ctx, cfg)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return err
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/backup-%s.db.enc", cfg.Prefix, now.Format("2006-01-02T150405Z"))

	// Object storage hiccups are common enough to deserve a few retries
	// before declaring the run failed.
	backoff := retry.WithMaxRetries(3, retry.NewExponential(base))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(cfg.S3.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(sealed),
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return fmt.Errorf("upload backup: %w", err)
	}

	m.logger.Info("backup uploaded", "key", key, "size_bytes", len(sealed))
	m.setStatus(Status{State: StateIdle, LastBackup: &now, LastKey: key})
	return nil
}

// snapshot produces an encrypted, consistent copy of the database using
// VACUUM INTO, which works safely while redemptions keep committing.
func (m *Manager) snapshot(ctx context.Context, cfg Config) ([]byte, error) {
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("scrip-snapshot-%d.db", time.Now().UnixNano()))
	defer os.Remove(tmp)

	if _, err := m.db.ExecContext(ctx, fmt.Sprintf(`VACUUM INTO '%s'`, tmp)); err != nil {
		return nil, fmt.Errorf("vacuum into snapshot: %w", err)
	}

	plain, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	sealed, err := Encrypt(plain, cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypt snapshot: %w", err)
	}
	return sealed, nil
}
