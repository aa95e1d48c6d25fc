package model

import "time"

type TokenState string

const (
	StateUnredeemed TokenState = "unredeemed"
	StateRedeemed   TokenState = "redeemed"
)

// Token is a single printable reward credential. The ID is the value encoded
// into the QR code, so it must stay unguessable.
type Token struct {
	ID            string     `json:"id"`
	ProductName   string     `json:"product_name"`
	BatchID       string     `json:"batch_id"`
	Amount        int64      `json:"amount"`
	State         TokenState `json:"state"`
	RedeemedAt    *time.Time `json:"redeemed_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Expired reports whether the token's expiry deadline has strictly passed.
// Tokens with no expiry never expire.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

type DashboardStats struct {
	TotalIssued     int64 `json:"total_issued"`
	RedeemedCount   int64 `json:"redeemed_count"`
	RemainingCount  int64 `json:"remaining_count"`
	TotalRewardPaid int64 `json:"total_reward_paid"`
}

type ProductStats struct {
	ProductName string `json:"product_name"`
	Total       int64  `json:"total"`
	Redeemed    int64  `json:"redeemed"`
}

type BatchStats struct {
	BatchID     string     `json:"batch_id"`
	ProductName string     `json:"product_name"`
	Total       int64      `json:"total"`
	Redeemed    int64      `json:"redeemed"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
