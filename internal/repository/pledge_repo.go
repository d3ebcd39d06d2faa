package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/inamkkkk/funding-inam/internal/domain"
)

type PledgeRepo struct {
	q Querier
}

func NewPledgeRepo(db *sql.DB) *PledgeRepo {
	return &PledgeRepo{q: db}
}

// WithTx returns a copy of the repo bound to the given transaction.
func (r *PledgeRepo) WithTx(tx *sql.Tx) *PledgeRepo {
	return &PledgeRepo{q: tx}
}

func (r *PledgeRepo) Create(ctx context.Context, p *domain.Pledge) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO pledges
		(id, campaign_id, user_id, amount, provider, provider_reference,
		 reward_tier, anonymous, status, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.CampaignID, p.UserID, p.Amount.String(), string(p.Provider),
		nullableString(p.ProviderReference), nullableString(p.RewardTier),
		boolToInt(p.Anonymous), string(p.Status), p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return wrap("insert pledge", err)
	}
	return nil
}

func (r *PledgeRepo) GetByID(ctx context.Context, id string) (*domain.Pledge, error) {
	row := r.q.QueryRowContext(ctx, "SELECT * FROM pledges WHERE id = ?", id)
	p, err := scanPledgeRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pledge %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get pledge", err)
	}
	return p, nil
}

// GetByReference resolves a settlement event's correlation key: either the
// provider-assigned reference or an application-supplied pledge id embedded
// at intent-creation time. The key must identify exactly one pledge; a key
// matching two different pledges is a provider-data integrity fault, not a
// pick-one situation.
func (r *PledgeRepo) GetByReference(ctx context.Context, provider domain.Provider, ref string) (*domain.Pledge, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT * FROM pledges WHERE provider = ? AND (provider_reference = ? OR id = ?) LIMIT 2",
		string(provider), ref, ref,
	)
	if err != nil {
		return nil, wrap("get pledge by reference", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrap("get pledge by reference", err)
		}
		return nil, fmt.Errorf("pledge reference %s/%s: %w", provider, ref, domain.ErrNotFound)
	}
	p, err := scanPledgeRow(rows.Scan)
	if err != nil {
		return nil, wrap("scan pledge by reference", err)
	}
	if rows.Next() {
		return nil, fmt.Errorf("pledge reference %s/%s is ambiguous: matches more than one pledge", provider, ref)
	}
	return p, rows.Err()
}

// SetProviderReference records the provider-assigned reference once the
// payment intent has been created.
func (r *PledgeRepo) SetProviderReference(ctx context.Context, id, ref string) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE pledges SET provider_reference = ? WHERE id = ?", ref, id)
	if err != nil {
		return wrap("set provider reference", err)
	}
	return nil
}

// CompareAndTransitionStatus moves a pledge from expected to next in one
// guarded update. Returns ErrInvalidTransition when the pledge is no longer
// in the expected status, ErrNotFound when it does not exist.
func (r *PledgeRepo) CompareAndTransitionStatus(ctx context.Context, id string, expected, next domain.PledgeStatus) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE pledges SET status = ? WHERE id = ? AND status = ?",
		string(next), id, string(expected),
	)
	if err != nil {
		return wrap("transition pledge status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("rows affected", err)
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("pledge %s not in status %s: %w", id, expected, domain.ErrInvalidTransition)
	}
	return nil
}

type PledgeFilter struct {
	CampaignID string
	UserID     string
	Status     string
	Provider   string
	Page       int
	Limit      int
}

func (r *PledgeRepo) List(ctx context.Context, f PledgeFilter) ([]domain.Pledge, int, error) {
	where, args := buildPledgeWhere(f)

	var total int
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM pledges"+where, args...).Scan(&total); err != nil {
		return nil, 0, wrap("count pledges", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	rows, err := r.q.QueryContext(ctx,
		"SELECT * FROM pledges"+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		append(args, f.Limit, offset)...,
	)
	if err != nil {
		return nil, 0, wrap("query pledges", err)
	}
	defer rows.Close()

	var pledges []domain.Pledge
	for rows.Next() {
		p, err := scanPledgeRow(rows.Scan)
		if err != nil {
			return nil, 0, wrap("scan pledge", err)
		}
		pledges = append(pledges, *p)
	}
	return pledges, total, rows.Err()
}

// SumCompletedByCampaign adds up the amounts of all Completed pledges of a
// campaign. Amounts are stored as decimal strings, so the sum is computed
// here rather than in SQL.
func (r *PledgeRepo) SumCompletedByCampaign(ctx context.Context, campaignID string) (decimal.Decimal, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT amount FROM pledges WHERE campaign_id = ? AND status = ?",
		campaignID, string(domain.PledgeCompleted),
	)
	if err != nil {
		return decimal.Zero, wrap("query completed pledges", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, wrap("scan amount", err)
		}
		amt, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
		}
		sum = sum.Add(amt)
	}
	return sum, rows.Err()
}

// --- helpers ---

func buildPledgeWhere(f PledgeFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.CampaignID != "" {
		clauses = append(clauses, "campaign_id = ?")
		args = append(args, f.CampaignID)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, f.Provider)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanPledgeRow(scan func(dest ...any) error) (*domain.Pledge, error) {
	var p domain.Pledge
	var amount, provider, status, createdAt string
	var providerRef, rewardTier sql.NullString
	var anonymous int

	err := scan(
		&p.ID, &p.CampaignID, &p.UserID, &amount, &provider, &providerRef,
		&rewardTier, &anonymous, &status, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	p.Provider = domain.Provider(provider)
	p.Status = domain.PledgeStatus(status)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if providerRef.Valid {
		p.ProviderReference = providerRef.String
	}
	if rewardTier.Valid {
		p.RewardTier = rewardTier.String
	}
	p.Anonymous = anonymous != 0

	return &p, nil
}
