package redeem

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/dukerupert/scrip/internal/model"
)

// RewardPolicy decides the reward amount for a token at the moment it is
// redeemed. The engine records whatever the policy yields for the winning
// attempt; losing attempts never reach the policy's result.
type RewardPolicy func(t *model.Token) (int64, error)

// FixedReward pays the same amount for every token.
func FixedReward(amount int64) RewardPolicy {
	return func(*model.Token) (int64, error) {
		return amount, nil
	}
}

// TieredReward pays per-batch amounts, falling back to a default for
// batches without an explicit tier.
func TieredReward(tiers map[string]int64, fallback int64) RewardPolicy {
	return func(t *model.Token) (int64, error) {
		if amount, ok := tiers[t.BatchID]; ok {
			return amount, nil
		}
		return fallback, nil
	}
}

// RandomReward pays a uniformly random amount in [min, max], drawn from
// crypto/rand so printed campaigns can't be gamed by predicting payouts.
func RandomReward(min, max int64) RewardPolicy {
	return func(*model.Token) (int64, error) {
		if min > max {
			return 0, fmt.Errorf("random reward: min %d > max %d", min, max)
		}
		n, err := rand.Int(rand.Reader, big.NewInt(max-min+1))
		if err != nil {
			return 0, fmt.Errorf("random reward: %w", err)
		}
		return min + n.Int64(), nil
	}
}
