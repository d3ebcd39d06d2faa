package domain

import "time"

// Outbound domain event types. Emitted after the ledger mutation commits;
// the core owes no delivery guarantee beyond that.
const (
	EventPledgeCompleted = "pledge.completed"
	EventPledgeFailed    = "pledge.failed"
	EventPledgeRefunded  = "pledge.refunded"
	EventCampaignClosed  = "campaign.closed"
)

// DomainEvent is the envelope handed to the notification subsystem.
type DomainEvent struct {
	Type       string    `json:"type"`
	PledgeID   string    `json:"pledge_id,omitempty"`
	CampaignID string    `json:"campaign_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
