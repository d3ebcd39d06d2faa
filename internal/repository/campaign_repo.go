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

type CampaignRepo struct {
	q Querier
}

func NewCampaignRepo(db *sql.DB) *CampaignRepo {
	return &CampaignRepo{q: db}
}

// WithTx returns a copy of the repo bound to the given transaction.
func (r *CampaignRepo) WithTx(tx *sql.Tx) *CampaignRepo {
	return &CampaignRepo{q: tx}
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO campaigns
		(id, title, description, category, creator_id, goal_amount,
		 raised_amount, deadline, status, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Title, c.Description, string(c.Category), c.CreatorID,
		c.GoalAmount.String(), c.RaisedAmount.String(),
		c.Deadline.Format(time.RFC3339), string(c.Status),
		c.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return wrap("insert campaign", err)
	}
	return nil
}

func (r *CampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	row := r.q.QueryRowContext(ctx, "SELECT * FROM campaigns WHERE id = ?", id)
	c, err := scanCampaignRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get campaign", err)
	}
	return c, nil
}

// AdjustRaisedAmount applies a signed delta to the campaign's raised amount.
// Amounts are stored as decimal strings, so the adjustment is a guarded
// read-modify-write; callers must hold the campaign's serialization scope.
func (r *CampaignRepo) AdjustRaisedAmount(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	var raw string
	err := r.q.QueryRowContext(ctx, "SELECT raised_amount FROM campaigns WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("campaign %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, wrap("read raised amount", err)
	}

	current, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse raised amount %q: %w", raw, err)
	}

	next := current.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("raised amount would go negative for campaign %s: %w",
			id, domain.ErrInvalidTransition)
	}

	if _, err := r.q.ExecContext(ctx,
		"UPDATE campaigns SET raised_amount = ? WHERE id = ?", next.String(), id); err != nil {
		return decimal.Zero, wrap("update raised amount", err)
	}
	return next, nil
}

// CompareAndTransitionStatus moves a campaign from expected to next in one
// guarded update. A zero-row update means the campaign was not in the
// expected status (or does not exist): the transition did not fire.
func (r *CampaignRepo) CompareAndTransitionStatus(ctx context.Context, id string, expected, next domain.CampaignStatus) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		"UPDATE campaigns SET status = ? WHERE id = ? AND status = ?",
		string(next), id, string(expected),
	)
	if err != nil {
		return false, wrap("transition campaign status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("rows affected", err)
	}
	return n > 0, nil
}

// ListActivePastDeadline returns the ids of active campaigns whose funding
// window has elapsed at the given instant. The sweeper re-reads each
// campaign at transition time; this is only the scan.
func (r *CampaignRepo) ListActivePastDeadline(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT id FROM campaigns WHERE status = ? AND deadline < ?",
		string(domain.CampaignActive), now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, wrap("query due campaigns", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("scan campaign id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type CampaignFilter struct {
	Status   string
	Category string
	Page     int
	Limit    int
}

func (r *CampaignRepo) List(ctx context.Context, f CampaignFilter) ([]domain.Campaign, int, error) {
	where, args := buildCampaignWhere(f)

	var total int
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns"+where, args...).Scan(&total); err != nil {
		return nil, 0, wrap("count campaigns", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	rows, err := r.q.QueryContext(ctx,
		"SELECT * FROM campaigns"+where+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		append(args, f.Limit, offset)...,
	)
	if err != nil {
		return nil, 0, wrap("query campaigns", err)
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		c, err := scanCampaignRow(rows.Scan)
		if err != nil {
			return nil, 0, wrap("scan campaign", err)
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, total, rows.Err()
}

func (r *CampaignRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM campaigns").Scan(&count)
	return count, err
}

// FundingStats holds aggregate funding statistics for the dashboard.
type FundingStats struct {
	Campaigns  int `json:"campaigns"`
	Active     int `json:"active"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

func (r *CampaignRepo) GetFundingStats(ctx context.Context) (*FundingStats, error) {
	s := &FundingStats{}
	err := r.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status='active' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status='successful' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END), 0)
		FROM campaigns
	`).Scan(&s.Campaigns, &s.Active, &s.Successful, &s.Failed)
	if err != nil {
		return nil, wrap("funding stats", err)
	}
	return s, nil
}

// --- helpers ---

func buildCampaignWhere(f CampaignFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanCampaignRow(scan func(dest ...any) error) (*domain.Campaign, error) {
	var c domain.Campaign
	var category, goal, raised, deadline, status, createdAt string

	err := scan(
		&c.ID, &c.Title, &c.Description, &category, &c.CreatorID,
		&goal, &raised, &deadline, &status, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	c.Category = domain.CampaignCategory(category)
	c.GoalAmount, err = decimal.NewFromString(goal)
	if err != nil {
		return nil, fmt.Errorf("parse goal amount %q: %w", goal, err)
	}
	c.RaisedAmount, err = decimal.NewFromString(raised)
	if err != nil {
		return nil, fmt.Errorf("parse raised amount %q: %w", raised, err)
	}
	c.Deadline, _ = time.Parse(time.RFC3339, deadline)
	c.Status = domain.CampaignStatus(status)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &c, nil
}
