package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PledgeStatus string

const (
	PledgePending   PledgeStatus = "pending"
	PledgeCompleted PledgeStatus = "completed"
	PledgeFailed    PledgeStatus = "failed"
	PledgeRefunded  PledgeStatus = "refunded"
)

type Provider string

const (
	ProviderCardCheckout  Provider = "card_checkout"
	ProviderWalletNetwork Provider = "wallet_network"
	ProviderCrypto        Provider = "crypto"
)

// KnownProvider reports whether p names one of the supported providers.
func KnownProvider(p Provider) bool {
	switch p {
	case ProviderCardCheckout, ProviderWalletNetwork, ProviderCrypto:
		return true
	}
	return false
}

// Pledge tracks a single backer's contribution through its settlement
// lifecycle. Amount is immutable after creation; only the Reconciliation
// Engine and the Refund Coordinator move Status.
type Pledge struct {
	ID                string          `json:"id"`
	CampaignID        string          `json:"campaign_id"`
	UserID            string          `json:"user_id"`
	Amount            decimal.Decimal `json:"amount"`
	Provider          Provider        `json:"provider"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	RewardTier        string          `json:"reward_tier,omitempty"`
	Anonymous         bool            `json:"anonymous"`
	Status            PledgeStatus    `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Terminal reports whether no further transition is permitted out of the
// pledge's current status. Completed is not terminal: it may still move to
// Refunded.
func (p *Pledge) Terminal() bool {
	return p.Status == PledgeFailed || p.Status == PledgeRefunded
}
