package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inamkkkk/funding-inam/internal/domain"
	"github.com/inamkkkk/funding-inam/internal/events"
	"github.com/inamkkkk/funding-inam/internal/keylock"
	"github.com/inamkkkk/funding-inam/internal/repository"
)

// Result reports what a settlement event did to the ledger. A duplicate
// delivery returns the first result verbatim with Duplicate set.
type Result struct {
	ProviderEventID string                   `json:"provider_event_id"`
	PledgeID        string                   `json:"pledge_id"`
	CampaignID      string                   `json:"campaign_id"`
	Outcome         domain.SettlementOutcome `json:"outcome"`
	PledgeStatus    domain.PledgeStatus      `json:"pledge_status"`
	RaisedAmount    decimal.Decimal          `json:"raised_amount"`
	Duplicate       bool                     `json:"duplicate"`
	AppliedAt       time.Time                `json:"applied_at"`
}

// Reversal is a settlement-style request to undo a completed pledge's ledger
// effect. The Refund Coordinator feeds confirmed refunds through here, and
// the out-of-band crypto confirmation path does the same.
type Reversal struct {
	ProviderEventID string
	Provider        domain.Provider
	PledgeID        string
	Amount          decimal.Decimal
	Reason          string
}

// Service applies canonical settlement events to a pledge and its campaign
// with idempotency and atomicity guarantees. All mutations for one campaign
// serialize around that campaign's keyed lock and run in a single SQL
// transaction.
type Service struct {
	db        *sql.DB
	pledges   *repository.PledgeRepo
	campaigns *repository.CampaignRepo
	applied   *repository.EventRepo
	audit     *repository.AuditRepo
	emitter   events.Emitter
	locks     *keylock.Locks

	storageTimeout time.Duration
	warnOnOverfund bool
	now            func() time.Time
}

// Config carries the service's tunables.
type Config struct {
	// StorageTimeout bounds every storage operation; a timeout surfaces as
	// a transient, retryable failure.
	StorageTimeout time.Duration
	// WarnOnOverfund logs and audits when a success event pushes a
	// campaign past its goal. The event is applied either way; overfunding
	// is allowed by design.
	WarnOnOverfund bool
}

func NewService(
	db *sql.DB,
	pledges *repository.PledgeRepo,
	campaigns *repository.CampaignRepo,
	applied *repository.EventRepo,
	audit *repository.AuditRepo,
	emitter events.Emitter,
	cfg Config,
) *Service {
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 5 * time.Second
	}
	if emitter == nil {
		emitter = events.LogEmitter{}
	}
	return &Service{
		db:             db,
		pledges:        pledges,
		campaigns:      campaigns,
		applied:        applied,
		audit:          audit,
		emitter:        emitter,
		locks:          keylock.New(),
		storageTimeout: cfg.StorageTimeout,
		warnOnOverfund: cfg.WarnOnOverfund,
		now:            time.Now,
	}
}

// Apply reconciles one canonical settlement event against the ledger.
//
// The pledge-status transition and the campaign raised-amount update commit
// as a single unit. A duplicate provider event id is a no-op that returns
// the previously recorded result. Resolution failures, amount mismatches
// and invalid transitions are rejected with distinct error kinds and an
// audit entry; none of them consume the idempotency slot.
func (s *Service) Apply(ctx context.Context, ev domain.SettlementEvent) (*Result, error) {
	if ev.ProviderEventID == "" || ev.PledgeReference == "" {
		return nil, fmt.Errorf("event missing provider_event_id or pledge_reference")
	}
	if ev.Outcome != domain.OutcomeSuccess && ev.Outcome != domain.OutcomeFailure {
		return nil, fmt.Errorf("unsupported settlement outcome %q", ev.Outcome)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()

	// Resolve the pledge first to learn which campaign's serialization
	// scope to enter. Status and idempotency are re-checked inside it.
	pledge, err := s.pledges.GetByReference(ctx, ev.Provider, ev.PledgeReference)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.auditReject(ctx, domain.AuditOrphanedEvent, "", "", ev.Provider,
				fmt.Sprintf("settlement event %s references unknown pledge %s",
					ev.ProviderEventID, ev.PledgeReference))
		}
		return nil, err
	}

	unlock := s.locks.Lock(pledge.CampaignID)
	defer unlock()

	var res *Result
	var overfunded bool

	err = repository.InTx(ctx, s.db, func(tx *sql.Tx) error {
		txPledges := s.pledges.WithTx(tx)
		txCampaigns := s.campaigns.WithTx(tx)
		txApplied := s.applied.WithTx(tx)

		prior, err := txApplied.GetApplied(ctx, ev.ProviderEventID)
		if err != nil {
			return err
		}
		if prior != nil {
			res = resultFromApplied(prior, true)
			return nil
		}

		// Re-read inside the serialized scope; the snapshot taken before
		// the lock may be stale.
		pledge, err = txPledges.GetByID(ctx, pledge.ID)
		if err != nil {
			return err
		}

		if !ev.SettledAmount.Equal(pledge.Amount) {
			return fmt.Errorf("event %s settled %s but pledge %s is %s: %w",
				ev.ProviderEventID, ev.SettledAmount, pledge.ID, pledge.Amount,
				domain.ErrAmountMismatch)
		}

		if pledge.Status != domain.PledgePending {
			return fmt.Errorf("event %s targets pledge %s in status %s: %w",
				ev.ProviderEventID, pledge.ID, pledge.Status, domain.ErrInvalidTransition)
		}

		campaign, err := txCampaigns.GetByID(ctx, pledge.CampaignID)
		if err != nil {
			return err
		}

		var newStatus domain.PledgeStatus
		raised := campaign.RaisedAmount

		switch ev.Outcome {
		case domain.OutcomeSuccess:
			newStatus = domain.PledgeCompleted
			if err := txPledges.CompareAndTransitionStatus(ctx, pledge.ID, domain.PledgePending, newStatus); err != nil {
				return err
			}
			raised, err = txCampaigns.AdjustRaisedAmount(ctx, campaign.ID, pledge.Amount)
			if err != nil {
				return err
			}
			overfunded = raised.GreaterThan(campaign.GoalAmount)
		case domain.OutcomeFailure:
			newStatus = domain.PledgeFailed
			if err := txPledges.CompareAndTransitionStatus(ctx, pledge.ID, domain.PledgePending, newStatus); err != nil {
				return err
			}
		}

		applied := &domain.AppliedEvent{
			ProviderEventID: ev.ProviderEventID,
			Provider:        ev.Provider,
			PledgeID:        pledge.ID,
			CampaignID:      campaign.ID,
			Outcome:         ev.Outcome,
			SettledAmount:   ev.SettledAmount,
			PledgeStatus:    newStatus,
			RaisedAfter:     raised,
			AppliedAt:       s.now().UTC(),
		}
		if err := txApplied.Record(ctx, applied); err != nil {
			return err
		}

		res = resultFromApplied(applied, false)
		return nil
	})
	if err != nil {
		s.auditApplyFailure(ctx, ev, pledge, err)
		return nil, err
	}

	if res.Duplicate {
		log.Printf("[reconciliation] Duplicate event %s for pledge %s, returning recorded result",
			ev.ProviderEventID, res.PledgeID)
		return res, nil
	}

	log.Printf("[reconciliation] Applied %s event %s: pledge %s -> %s, campaign %s raised=%s",
		ev.Outcome, ev.ProviderEventID, res.PledgeID, res.PledgeStatus,
		res.CampaignID, res.RaisedAmount)

	if overfunded && s.warnOnOverfund {
		log.Printf("[reconciliation] WARNING: campaign %s raised %s exceeds goal",
			res.CampaignID, res.RaisedAmount)
		s.auditReject(ctx, domain.AuditGoalExceeded, res.PledgeID, res.CampaignID, ev.Provider,
			fmt.Sprintf("campaign %s overfunded: raised %s", res.CampaignID, res.RaisedAmount))
	}

	eventType := domain.EventPledgeCompleted
	if res.Outcome == domain.OutcomeFailure {
		eventType = domain.EventPledgeFailed
	}
	s.emitter.Emit(domain.DomainEvent{
		Type:       eventType,
		PledgeID:   res.PledgeID,
		CampaignID: res.CampaignID,
		OccurredAt: res.AppliedAt,
	})

	return res, nil
}

// Reverse undoes a completed pledge's ledger effect: pledge
// Completed -> Refunded and the refund amount subtracted from the campaign,
// as one unit under the same serialization discipline as Apply. The
// reversal's provider event id makes re-delivery a no-op.
func (s *Service) Reverse(ctx context.Context, rev Reversal) (*Result, error) {
	if rev.ProviderEventID == "" || rev.PledgeID == "" {
		return nil, fmt.Errorf("reversal missing provider_event_id or pledge_id")
	}
	if !rev.Amount.IsPositive() {
		return nil, fmt.Errorf("reversal amount %s not positive: %w", rev.Amount, domain.ErrAmountMismatch)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()

	pledge, err := s.pledges.GetByID(ctx, rev.PledgeID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(pledge.CampaignID)
	defer unlock()

	var res *Result

	err = repository.InTx(ctx, s.db, func(tx *sql.Tx) error {
		txPledges := s.pledges.WithTx(tx)
		txCampaigns := s.campaigns.WithTx(tx)
		txApplied := s.applied.WithTx(tx)

		prior, err := txApplied.GetApplied(ctx, rev.ProviderEventID)
		if err != nil {
			return err
		}
		if prior != nil {
			res = resultFromApplied(prior, true)
			return nil
		}

		pledge, err = txPledges.GetByID(ctx, pledge.ID)
		if err != nil {
			return err
		}

		if pledge.Status != domain.PledgeCompleted {
			return fmt.Errorf("reversal %s targets pledge %s in status %s: %w",
				rev.ProviderEventID, pledge.ID, pledge.Status, domain.ErrInvalidTransition)
		}
		if rev.Amount.GreaterThan(pledge.Amount) {
			return fmt.Errorf("reversal %s amount %s exceeds pledge amount %s: %w",
				rev.ProviderEventID, rev.Amount, pledge.Amount, domain.ErrAmountMismatch)
		}

		if err := txPledges.CompareAndTransitionStatus(ctx, pledge.ID, domain.PledgeCompleted, domain.PledgeRefunded); err != nil {
			return err
		}
		raised, err := txCampaigns.AdjustRaisedAmount(ctx, pledge.CampaignID, rev.Amount.Neg())
		if err != nil {
			return err
		}

		applied := &domain.AppliedEvent{
			ProviderEventID: rev.ProviderEventID,
			Provider:        rev.Provider,
			PledgeID:        pledge.ID,
			CampaignID:      pledge.CampaignID,
			Outcome:         domain.OutcomeRefund,
			SettledAmount:   rev.Amount,
			PledgeStatus:    domain.PledgeRefunded,
			RaisedAfter:     raised,
			AppliedAt:       s.now().UTC(),
		}
		if err := txApplied.Record(ctx, applied); err != nil {
			return err
		}

		res = resultFromApplied(applied, false)
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrAmountMismatch) {
			s.auditReject(ctx, kindForError(err), pledge.ID, pledge.CampaignID, rev.Provider, err.Error())
		}
		return nil, err
	}

	if res.Duplicate {
		log.Printf("[reconciliation] Duplicate reversal %s for pledge %s, returning recorded result",
			rev.ProviderEventID, res.PledgeID)
		return res, nil
	}

	log.Printf("[reconciliation] Reversed pledge %s (%s), campaign %s raised=%s",
		res.PledgeID, rev.Reason, res.CampaignID, res.RaisedAmount)

	s.emitter.Emit(domain.DomainEvent{
		Type:       domain.EventPledgeRefunded,
		PledgeID:   res.PledgeID,
		CampaignID: res.CampaignID,
		OccurredAt: res.AppliedAt,
	})

	return res, nil
}

// --- helpers ---

func resultFromApplied(ev *domain.AppliedEvent, duplicate bool) *Result {
	return &Result{
		ProviderEventID: ev.ProviderEventID,
		PledgeID:        ev.PledgeID,
		CampaignID:      ev.CampaignID,
		Outcome:         ev.Outcome,
		PledgeStatus:    ev.PledgeStatus,
		RaisedAmount:    ev.RaisedAfter,
		Duplicate:       duplicate,
		AppliedAt:       ev.AppliedAt,
	}
}

func kindForError(err error) domain.AuditKind {
	switch {
	case errors.Is(err, domain.ErrAmountMismatch):
		return domain.AuditAmountMismatch
	case errors.Is(err, domain.ErrInvalidTransition):
		return domain.AuditInvalidTransition
	default:
		return domain.AuditOrphanedEvent
	}
}

func (s *Service) auditApplyFailure(ctx context.Context, ev domain.SettlementEvent, pledge *domain.Pledge, err error) {
	if !errors.Is(err, domain.ErrAmountMismatch) && !errors.Is(err, domain.ErrInvalidTransition) {
		return
	}
	var pledgeID, campaignID string
	if pledge != nil {
		pledgeID = pledge.ID
		campaignID = pledge.CampaignID
	}
	s.auditReject(ctx, kindForError(err), pledgeID, campaignID, ev.Provider, err.Error())
}

func (s *Service) auditReject(ctx context.Context, kind domain.AuditKind, pledgeID, campaignID string, provider domain.Provider, msg string) {
	severity := domain.SeverityHigh
	if kind == domain.AuditGoalExceeded {
		severity = domain.SeverityMedium
	}
	entry := &domain.AuditEntry{
		ID:         "AUD-" + uuid.NewString(),
		Kind:       kind,
		PledgeID:   pledgeID,
		CampaignID: campaignID,
		Provider:   provider,
		Severity:   severity,
		Message:    msg,
		RecordedAt: s.now().UTC(),
	}
	if err := s.audit.Insert(ctx, entry); err != nil {
		log.Printf("[reconciliation] WARNING: failed to record audit entry: %v", err)
	}
}
