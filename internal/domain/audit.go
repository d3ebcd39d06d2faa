package domain

import "time"

type AuditKind string

const (
	AuditAmountMismatch    AuditKind = "AMOUNT_MISMATCH"
	AuditInvalidTransition AuditKind = "INVALID_TRANSITION"
	AuditOrphanedEvent     AuditKind = "ORPHANED_EVENT"
	AuditRefundManual      AuditKind = "REFUND_MANUAL"
	AuditRefundRejected    AuditKind = "REFUND_REJECTED"
	AuditCampaignClosed    AuditKind = "CAMPAIGN_CLOSED"
	AuditGoalExceeded      AuditKind = "GOAL_EXCEEDED"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AuditEntry records a ledger anomaly or operator-visible decision: rejected
// settlement events, the crypto manual-refund window, campaign closures.
// End users never see these; operators query them through the audit API.
type AuditEntry struct {
	ID         string    `json:"id"`
	Kind       AuditKind `json:"kind"`
	PledgeID   string    `json:"pledge_id,omitempty"`
	CampaignID string    `json:"campaign_id,omitempty"`
	Provider   Provider  `json:"provider,omitempty"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	RecordedAt time.Time `json:"recorded_at"`
}
