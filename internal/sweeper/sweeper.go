package sweeper

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/inamkkkk/funding-inam/internal/domain"
	"github.com/inamkkkk/funding-inam/internal/events"
	"github.com/inamkkkk/funding-inam/internal/repository"
)

// SweepResult summarises one sweep over due campaigns.
type SweepResult struct {
	Scanned    int `json:"scanned"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Sweeper closes out campaigns whose funding window has elapsed. The sweep
// is stateless and idempotent: the Active precondition guards each
// transition, so repeated sweeps fire at most once per campaign, and the
// raised-vs-goal comparison re-reads the campaign inside the transition
// transaction rather than trusting the scan.
type Sweeper struct {
	db        *sql.DB
	campaigns *repository.CampaignRepo
	audit     *repository.AuditRepo
	emitter   events.Emitter

	interval       time.Duration
	storageTimeout time.Duration
	now            func() time.Time
}

func New(
	db *sql.DB,
	campaigns *repository.CampaignRepo,
	audit *repository.AuditRepo,
	emitter events.Emitter,
	interval, storageTimeout time.Duration,
) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if storageTimeout <= 0 {
		storageTimeout = 5 * time.Second
	}
	if emitter == nil {
		emitter = events.LogEmitter{}
	}
	return &Sweeper{
		db:             db,
		campaigns:      campaigns,
		audit:          audit,
		emitter:        emitter,
		interval:       interval,
		storageTimeout: storageTimeout,
		now:            time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("[sweeper] Running every %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sweeper] Stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				log.Printf("[sweeper] WARNING: sweep failed: %v", err)
			}
		}
	}
}

// SweepOnce scans for active campaigns past their deadline and closes each
// one independently. Safe to invoke on any schedule or on demand.
func (s *Sweeper) SweepOnce(ctx context.Context) (*SweepResult, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	ids, err := s.campaigns.ListActivePastDeadline(scanCtx, s.now())
	cancel()
	if err != nil {
		return nil, fmt.Errorf("scan due campaigns: %w", err)
	}

	result := &SweepResult{Scanned: len(ids)}
	for _, id := range ids {
		status, err := s.closeCampaign(ctx, id)
		if err != nil {
			log.Printf("[sweeper] WARNING: failed to close campaign %s: %v", id, err)
			result.Skipped++
			continue
		}
		switch status {
		case domain.CampaignSuccessful:
			result.Successful++
		case domain.CampaignFailed:
			result.Failed++
		default:
			// Another sweep or a concurrent closure got there first.
			result.Skipped++
		}
	}

	if result.Successful+result.Failed > 0 {
		log.Printf("[sweeper] Closed %d campaigns (%d successful, %d failed)",
			result.Successful+result.Failed, result.Successful, result.Failed)
	}
	return result, nil
}

// closeCampaign transitions one due campaign. The returned status is empty
// when the transition did not fire (already closed).
func (s *Sweeper) closeCampaign(ctx context.Context, id string) (domain.CampaignStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()

	var closed domain.CampaignStatus

	err := repository.InTx(ctx, s.db, func(tx *sql.Tx) error {
		txCampaigns := s.campaigns.WithTx(tx)

		// Re-read inside the transaction: raised may have moved since the
		// scan, and the campaign may already be closed.
		c, err := txCampaigns.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if c.Status != domain.CampaignActive || c.Deadline.After(s.now()) {
			return nil
		}

		target := domain.CampaignFailed
		if c.GoalReached() {
			target = domain.CampaignSuccessful
		}

		fired, err := txCampaigns.CompareAndTransitionStatus(ctx, id, domain.CampaignActive, target)
		if err != nil {
			return err
		}
		if fired {
			closed = target
		}
		return nil
	})
	if err != nil || closed == "" {
		return "", err
	}

	s.auditClosure(ctx, id, closed)
	s.emitter.Emit(domain.DomainEvent{
		Type:       domain.EventCampaignClosed,
		CampaignID: id,
		OccurredAt: s.now().UTC(),
	})

	return closed, nil
}

func (s *Sweeper) auditClosure(ctx context.Context, campaignID string, status domain.CampaignStatus) {
	entry := &domain.AuditEntry{
		ID:         "AUD-" + uuid.NewString(),
		Kind:       domain.AuditCampaignClosed,
		CampaignID: campaignID,
		Severity:   domain.SeverityLow,
		Message:    fmt.Sprintf("campaign %s closed as %s", campaignID, status),
		RecordedAt: s.now().UTC(),
	}
	if err := s.audit.Insert(ctx, entry); err != nil {
		log.Printf("[sweeper] WARNING: failed to record audit entry: %v", err)
	}
}
