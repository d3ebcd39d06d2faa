package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/inamkkkk/funding-inam/internal/domain"
)

// EventRepo persists settlement-event idempotency records. A provider event
// id is recorded exactly once; duplicate deliveries are answered with the
// first recorded result.
type EventRepo struct {
	q Querier
}

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{q: db}
}

// WithTx returns a copy of the repo bound to the given transaction.
func (r *EventRepo) WithTx(tx *sql.Tx) *EventRepo {
	return &EventRepo{q: tx}
}

// Record inserts the idempotency row for an applied event. It must run in
// the same transaction as the pledge transition and campaign adjustment it
// guards; the primary key rejects a second insert for the same event id.
func (r *EventRepo) Record(ctx context.Context, ev *domain.AppliedEvent) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO settlement_events
		(provider_event_id, provider, pledge_id, campaign_id, outcome,
		 settled_amount, pledge_status, raised_after, applied_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		ev.ProviderEventID, string(ev.Provider), ev.PledgeID, ev.CampaignID,
		string(ev.Outcome), ev.SettledAmount.String(), string(ev.PledgeStatus),
		ev.RaisedAfter.String(), ev.AppliedAt.Format(time.RFC3339),
	)
	if err != nil {
		return wrap("record applied event", err)
	}
	return nil
}

// GetApplied returns the recorded result for a provider event id, or nil
// when the event has not been applied.
func (r *EventRepo) GetApplied(ctx context.Context, providerEventID string) (*domain.AppliedEvent, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT * FROM settlement_events WHERE provider_event_id = ?", providerEventID)

	var ev domain.AppliedEvent
	var provider, outcome, settled, pledgeStatus, raisedAfter, appliedAt string
	err := row.Scan(
		&ev.ProviderEventID, &provider, &ev.PledgeID, &ev.CampaignID,
		&outcome, &settled, &pledgeStatus, &raisedAfter, &appliedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get applied event", err)
	}

	ev.Provider = domain.Provider(provider)
	ev.Outcome = domain.SettlementOutcome(outcome)
	ev.SettledAmount, err = decimal.NewFromString(settled)
	if err != nil {
		return nil, fmt.Errorf("parse settled amount %q: %w", settled, err)
	}
	ev.PledgeStatus = domain.PledgeStatus(pledgeStatus)
	ev.RaisedAfter, err = decimal.NewFromString(raisedAfter)
	if err != nil {
		return nil, fmt.Errorf("parse raised after %q: %w", raisedAfter, err)
	}
	ev.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt)

	return &ev, nil
}
