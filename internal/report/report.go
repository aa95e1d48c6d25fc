// Package report computes the admin-facing aggregate views over the token
// store. Reports are pure reads: each token row is observed as an atomic
// snapshot, but the aggregate as a whole is only eventually consistent with
// redemptions committing concurrently.
package report

import (
	"context"
	"fmt"

	"github.com/dukerupert/scrip/internal/model"
	"github.com/dukerupert/scrip/internal/store"
)

type Reporter struct {
	tokens *store.TokenStore
}

func NewReporter(tokens *store.TokenStore) *Reporter {
	return &Reporter{tokens: tokens}
}

// Dashboard returns the top-line issuance and redemption totals.
func (r *Reporter) Dashboard(ctx context.Context) (*model.DashboardStats, error) {
	total, err := r.tokens.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard total: %w", err)
	}

	redeemed, err := r.tokens.CountByState(ctx, model.StateRedeemed)
	if err != nil {
		return nil, fmt.Errorf("dashboard redeemed: %w", err)
	}

	paid, err := r.tokens.SumRedeemedAmount(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard paid: %w", err)
	}

	return &model.DashboardStats{
		TotalIssued:     total,
		RedeemedCount:   redeemed,
		RemainingCount:  total - redeemed,
		TotalRewardPaid: paid,
	}, nil
}

// Products returns per-product issuance and redemption counts.
func (r *Reporter) Products(ctx context.Context) ([]model.ProductStats, error) {
	stats, err := r.tokens.ProductStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("product stats: %w", err)
	}
	return stats, nil
}

// Batches returns per-batch issuance and redemption counts.
func (r *Reporter) Batches(ctx context.Context) ([]model.BatchStats, error) {
	stats, err := r.tokens.BatchStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch stats: %w", err)
	}
	return stats, nil
}
