package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SettlementOutcome string

const (
	OutcomeSuccess SettlementOutcome = "success"
	OutcomeFailure SettlementOutcome = "failure"
	// OutcomeRefund marks a settlement-style reversal fed back through the
	// apply path by the Refund Coordinator or an out-of-band crypto
	// confirmation.
	OutcomeRefund SettlementOutcome = "refund"
)

// SettlementEvent is the canonical shape every provider-native notification
// is normalized into before it reaches the Reconciliation Engine. It is not
// persisted as a first-class entity; only its idempotency record survives.
type SettlementEvent struct {
	ProviderEventID string            `json:"provider_event_id"`
	Provider        Provider          `json:"provider"`
	PledgeReference string            `json:"pledge_reference"`
	Outcome         SettlementOutcome `json:"outcome"`
	SettledAmount   decimal.Decimal   `json:"settled_amount"`
}

// AppliedEvent is the durable idempotency record for a settlement event,
// carrying enough of the original outcome that a duplicate delivery can be
// answered with the first result verbatim.
type AppliedEvent struct {
	ProviderEventID string            `json:"provider_event_id"`
	Provider        Provider          `json:"provider"`
	PledgeID        string            `json:"pledge_id"`
	CampaignID      string            `json:"campaign_id"`
	Outcome         SettlementOutcome `json:"outcome"`
	SettledAmount   decimal.Decimal   `json:"settled_amount"`
	PledgeStatus    PledgeStatus      `json:"pledge_status"`
	RaisedAfter     decimal.Decimal   `json:"raised_after"`
	AppliedAt       time.Time         `json:"applied_at"`
}
