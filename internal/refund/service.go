package refund

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inamkkkk/funding-inam/internal/domain"
	"github.com/inamkkkk/funding-inam/internal/keylock"
	"github.com/inamkkkk/funding-inam/internal/provider"
	"github.com/inamkkkk/funding-inam/internal/reconciliation"
	"github.com/inamkkkk/funding-inam/internal/repository"
)

type Status string

const (
	// StatusRefunded means the provider confirmed the refund and the
	// ledger reversal committed.
	StatusRefunded Status = "refunded"
	// StatusManualPending means the provider accepted the refund but
	// cannot confirm it synchronously (crypto). No ledger state changed;
	// the reversal waits for an out-of-band confirmation.
	StatusManualPending Status = "manual_pending"
	// StatusAlreadyRefunded means the pledge was refunded by an earlier
	// call; the request is a no-op.
	StatusAlreadyRefunded Status = "already_refunded"
)

type Result struct {
	Status            Status          `json:"status"`
	PledgeID          string          `json:"pledge_id"`
	CampaignID        string          `json:"campaign_id"`
	Amount            decimal.Decimal `json:"amount"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	RaisedAmount      decimal.Decimal `json:"raised_amount"`
}

// Coordinator reverses a completed pledge's ledger effect and instructs the
// correct provider adapter to issue the refund. The provider goes first: a
// refund that did not settle must never mutate the ledger. Refund flows
// serialize per pledge, so the Completed-status check, the provider call and
// the ledger reversal form one unit; two concurrent requests for the same
// pledge can never both reach the provider.
type Coordinator struct {
	pledges   *repository.PledgeRepo
	campaigns *repository.CampaignRepo
	audit     *repository.AuditRepo
	providers *provider.Registry
	recon     *reconciliation.Service
	locks     *keylock.Locks

	storageTimeout time.Duration
	now            func() time.Time
}

func NewCoordinator(
	pledges *repository.PledgeRepo,
	campaigns *repository.CampaignRepo,
	audit *repository.AuditRepo,
	providers *provider.Registry,
	recon *reconciliation.Service,
	storageTimeout time.Duration,
) *Coordinator {
	if storageTimeout <= 0 {
		storageTimeout = 5 * time.Second
	}
	return &Coordinator{
		pledges:        pledges,
		campaigns:      campaigns,
		audit:          audit,
		providers:      providers,
		recon:          recon,
		locks:          keylock.New(),
		storageTimeout: storageTimeout,
		now:            time.Now,
	}
}

// Refund reverses a completed pledge. Re-invoking on an already-refunded
// pledge is a no-op returning the prior outcome.
func (c *Coordinator) Refund(ctx context.Context, pledgeID string, amount decimal.Decimal, reason string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.storageTimeout)
	defer cancel()

	// The status is only trustworthy inside the pledge's serialization
	// scope; a concurrent refund that wins the lock flips it to Refunded
	// before we read it.
	unlock := c.locks.Lock(pledgeID)
	defer unlock()

	pledge, err := c.pledges.GetByID(ctx, pledgeID)
	if err != nil {
		return nil, err
	}

	if pledge.Status == domain.PledgeRefunded {
		raised, err := c.currentRaised(ctx, pledge.CampaignID)
		if err != nil {
			return nil, err
		}
		return &Result{
			Status:       StatusAlreadyRefunded,
			PledgeID:     pledge.ID,
			CampaignID:   pledge.CampaignID,
			Amount:       pledge.Amount,
			RaisedAmount: raised,
		}, nil
	}
	if pledge.Status != domain.PledgeCompleted {
		return nil, fmt.Errorf("refund of pledge %s in status %s: %w",
			pledge.ID, pledge.Status, domain.ErrInvalidTransition)
	}
	if !amount.IsPositive() || amount.GreaterThan(pledge.Amount) {
		return nil, fmt.Errorf("refund amount %s out of range for pledge %s (%s): %w",
			amount, pledge.ID, pledge.Amount, domain.ErrAmountMismatch)
	}

	adapter, err := c.providers.Get(pledge.Provider)
	if err != nil {
		return nil, err
	}

	// Provider first. Until the adapter confirms, no ledger mutation.
	refund, err := adapter.IssueRefund(ctx, pledge.ProviderReference, amount)
	if err != nil {
		return nil, fmt.Errorf("issue refund for pledge %s: %w", pledge.ID, err)
	}

	switch refund.Outcome {
	case provider.RefundRejected:
		c.auditEntry(ctx, domain.AuditRefundRejected, domain.SeverityHigh, pledge,
			fmt.Sprintf("provider rejected refund of %s for pledge %s: %s", amount, pledge.ID, reason))
		return nil, fmt.Errorf("provider rejected refund for pledge %s: %w",
			pledge.ID, domain.ErrInvalidTransition)

	case provider.RefundPending:
		// Deliberate inconsistency window: the refund is accepted but the
		// ledger holds until the out-of-band confirmation arrives through
		// the reversal path. Operators see it in the audit log.
		c.auditEntry(ctx, domain.AuditRefundManual, domain.SeverityHigh, pledge,
			fmt.Sprintf("refund of %s for pledge %s accepted but awaiting manual confirmation (ref=%s): %s",
				amount, pledge.ID, refund.Reference, reason))
		log.Printf("[refund] Pledge %s refund pending manual confirmation (ref=%s)",
			pledge.ID, refund.Reference)
		raised, err := c.currentRaised(ctx, pledge.CampaignID)
		if err != nil {
			return nil, err
		}
		return &Result{
			Status:            StatusManualPending,
			PledgeID:          pledge.ID,
			CampaignID:        pledge.CampaignID,
			Amount:            amount,
			ProviderReference: refund.Reference,
			RaisedAmount:      raised,
		}, nil

	case provider.RefundConfirmed:
		res, err := c.recon.Reverse(ctx, reconciliation.Reversal{
			ProviderEventID: refund.Reference,
			Provider:        pledge.Provider,
			PledgeID:        pledge.ID,
			Amount:          amount,
			Reason:          reason,
		})
		if err != nil {
			return nil, err
		}
		return &Result{
			Status:            StatusRefunded,
			PledgeID:          res.PledgeID,
			CampaignID:        res.CampaignID,
			Amount:            amount,
			ProviderReference: refund.Reference,
			RaisedAmount:      res.RaisedAmount,
		}, nil
	}

	return nil, fmt.Errorf("unexpected refund outcome %q for pledge %s", refund.Outcome, pledge.ID)
}

// ConfirmManual completes a refund that the provider could only accept
// asynchronously. The confirmation reference is the idempotency key, so
// re-delivery of the same confirmation is a no-op.
func (c *Coordinator) ConfirmManual(ctx context.Context, pledgeID, confirmationRef string, amount decimal.Decimal) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.storageTimeout)
	defer cancel()

	unlock := c.locks.Lock(pledgeID)
	defer unlock()

	pledge, err := c.pledges.GetByID(ctx, pledgeID)
	if err != nil {
		return nil, err
	}

	res, err := c.recon.Reverse(ctx, reconciliation.Reversal{
		ProviderEventID: confirmationRef,
		Provider:        pledge.Provider,
		PledgeID:        pledge.ID,
		Amount:          amount,
		Reason:          "manual refund confirmation",
	})
	if err != nil {
		return nil, err
	}

	status := StatusRefunded
	if res.Duplicate {
		status = StatusAlreadyRefunded
	}
	return &Result{
		Status:            status,
		PledgeID:          res.PledgeID,
		CampaignID:        res.CampaignID,
		Amount:            amount,
		ProviderReference: confirmationRef,
		RaisedAmount:      res.RaisedAmount,
	}, nil
}

func (c *Coordinator) currentRaised(ctx context.Context, campaignID string) (decimal.Decimal, error) {
	campaign, err := c.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return decimal.Zero, err
	}
	return campaign.RaisedAmount, nil
}

func (c *Coordinator) auditEntry(ctx context.Context, kind domain.AuditKind, sev domain.Severity, pledge *domain.Pledge, msg string) {
	entry := &domain.AuditEntry{
		ID:         "AUD-" + uuid.NewString(),
		Kind:       kind,
		PledgeID:   pledge.ID,
		CampaignID: pledge.CampaignID,
		Provider:   pledge.Provider,
		Severity:   sev,
		Message:    msg,
		RecordedAt: c.now().UTC(),
	}
	if err := c.audit.Insert(ctx, entry); err != nil {
		log.Printf("[refund] WARNING: failed to record audit entry: %v", err)
	}
}
