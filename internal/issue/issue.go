// Package issue creates batches of printable tokens.
package issue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/scrip/internal/model"
	"github.com/dukerupert/scrip/internal/store"
	"github.com/dukerupert/scrip/internal/token"
)

// MaxBatchSize caps a single issuance request. Larger print runs are split
// into multiple batches by the caller.
const MaxBatchSize = 10000

type Issuer struct {
	tokens *store.TokenStore
	logger *slog.Logger
}

func NewIssuer(tokens *store.TokenStore, logger *slog.Logger) *Issuer {
	return &Issuer{tokens: tokens, logger: logger}
}

// Batch issues count tokens for the product, all sharing one batch id and
// optional expiry. An empty batchID gets a generated UUID. The returned ids
// are what the print pipeline encodes into QR codes.
func (i *Issuer) Batch(ctx context.Context, productName, batchID string, count int, expiresAt *time.Time) (string, []string, error) {
	if productName == "" {
		return "", nil, fmt.Errorf("product name is required")
	}
	if count < 1 || count > MaxBatchSize {
		return "", nil, fmt.Errorf("count %d outside 1..%d", count, MaxBatchSize)
	}
	if batchID == "" {
		batchID = uuid.NewString()
	}

	ids, err := token.NewIDs(count)
	if err != nil {
		return "", nil, fmt.Errorf("generate ids: %w", err)
	}

	now := time.Now().UTC()
	tokens := make([]*model.Token, count)
	for j, id := range ids {
		tokens[j] = &model.Token{
			ID:          id,
			ProductName: productName,
			BatchID:     batchID,
			State:       model.StateUnredeemed,
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
		}
	}

	if err := i.tokens.InsertBatch(ctx, tokens); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			// With 128-bit ids this indicates a broken RNG or a store
			// integrity problem, not bad luck.
			i.logger.Error("token id collision during issuance",
				"batch", batchID,
				"product", productName,
				"error", err,
			)
		}
		return "", nil, fmt.Errorf("insert batch: %w", err)
	}

	i.logger.Info("batch issued",
		"batch", batchID,
		"product", productName,
		"count", count,
	)
	return batchID, ids, nil
}
