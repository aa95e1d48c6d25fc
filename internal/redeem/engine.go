// Package redeem enforces the single-use, pre-expiry redemption contract.
package redeem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/scrip/internal/model"
	"github.com/dukerupert/scrip/internal/store"
)

var (
	// ErrNotFound means the presented id was never issued.
	ErrNotFound = errors.New("token not found")
	// ErrExpired means the token's expiry deadline has passed. Expiry is
	// checked before the used-state, so an expired token reports expired
	// even when it was also already redeemed.
	ErrExpired = errors.New("token expired")
	// ErrAlreadyUsed means the token was redeemed before, or this attempt
	// lost the race against a concurrent redeemer.
	ErrAlreadyUsed = errors.New("token already used")
)

// TransientError wraps a store failure that is safe to retry: the
// at-most-one-winner guarantee holds across retries, so a retried attempt
// either wins normally or reports ErrAlreadyUsed.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Receipt is what a winning redemption hands back to the redeemer. The
// product and batch fields are for internal consumers (event feed, logs)
// and stay out of the redeemer-facing JSON.
type Receipt struct {
	TokenID     string    `json:"token_id"`
	Amount      int64     `json:"amount"`
	RedeemedAt  time.Time `json:"redeemed_at"`
	ProductName string    `json:"-"`
	BatchID     string    `json:"-"`
}

// storeTimeout bounds every store call an engine operation makes. A call
// that exceeds it surfaces as a TransientError.
const storeTimeout = 5 * time.Second

// Engine drives the unredeemed → redeemed transition. The actual atomicity
// lives in the store's conditional update; the engine orders the checks and
// maps outcomes to typed errors.
type Engine struct {
	tokens *store.TokenStore
	policy RewardPolicy
	now    func() time.Time
	logger *slog.Logger
}

func NewEngine(tokens *store.TokenStore, policy RewardPolicy, logger *slog.Logger) *Engine {
	return &Engine{
		tokens: tokens,
		policy: policy,
		now:    time.Now,
		logger: logger,
	}
}

// Redeem attempts to redeem the token with the given id. Exactly one of any
// set of concurrent calls for the same id succeeds; the rest get
// ErrAlreadyUsed. The reward amount is fixed by the policy at the moment of
// the winning transition and never changes afterward.
func (e *Engine) Redeem(ctx context.Context, id string) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	t, err := e.tokens.GetByID(ctx, id)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if t == nil {
		return nil, ErrNotFound
	}

	now := e.now().UTC()
	if t.Expired(now) {
		return nil, ErrExpired
	}
	if t.State == model.StateRedeemed {
		return nil, ErrAlreadyUsed
	}

	amount, err := e.policy(t)
	if err != nil {
		return nil, fmt.Errorf("reward policy: %w", err)
	}

	ok, err := e.tokens.Transition(ctx, id, model.StateUnredeemed, model.StateRedeemed, amount, now)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if !ok {
		// Lost the race: someone else won between our read and the
		// conditional write.
		return nil, ErrAlreadyUsed
	}

	e.logger.Info("token redeemed",
		"token_id", id,
		"product", t.ProductName,
		"batch", t.BatchID,
		"amount", amount,
	)

	return &Receipt{
		TokenID:     id,
		Amount:      amount,
		RedeemedAt:  now,
		ProductName: t.ProductName,
		BatchID:     t.BatchID,
	}, nil
}
