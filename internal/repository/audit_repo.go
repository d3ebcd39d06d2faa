package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/inamkkkk/funding-inam/internal/domain"
)

// AuditRepo stores operator-visible audit entries: rejected settlement
// events, manual refund windows, campaign closures.
type AuditRepo struct {
	q Querier
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{q: db}
}

func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	var pledgeID, campaignID, provider any
	if e.PledgeID != "" {
		pledgeID = e.PledgeID
	}
	if e.CampaignID != "" {
		campaignID = e.CampaignID
	}
	if e.Provider != "" {
		provider = string(e.Provider)
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO audit_entries
		(id, kind, pledge_id, campaign_id, provider, severity, message, recorded_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, string(e.Kind), pledgeID, campaignID, provider,
		string(e.Severity), e.Message, e.RecordedAt.Format(time.RFC3339),
	)
	if err != nil {
		return wrap("insert audit entry", err)
	}
	return nil
}

type AuditFilter struct {
	Kind       string
	Severity   string
	CampaignID string
	Provider   string
	From       *time.Time
	To         *time.Time
	Page       int
	Limit      int
}

func (r *AuditRepo) List(ctx context.Context, f AuditFilter) ([]domain.AuditEntry, int, error) {
	where, args := buildAuditWhere(f)

	var total int
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries"+where, args...).Scan(&total); err != nil {
		return nil, 0, wrap("count audit entries", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	rows, err := r.q.QueryContext(ctx,
		"SELECT * FROM audit_entries"+where+" ORDER BY recorded_at DESC LIMIT ? OFFSET ?",
		append(args, f.Limit, offset)...,
	)
	if err != nil {
		return nil, 0, wrap("query audit entries", err)
	}
	defer rows.Close()

	entries, err := scanAuditEntries(rows)
	if err != nil {
		return nil, 0, wrap("scan audit entries", err)
	}
	return entries, total, nil
}

type AuditSummary struct {
	TotalCount int            `json:"total_count"`
	ByKind     map[string]int `json:"by_kind"`
	BySeverity map[string]int `json:"by_severity"`
	ByProvider map[string]int `json:"by_provider"`
}

func (r *AuditRepo) GetSummary(ctx context.Context) (*AuditSummary, error) {
	s := &AuditSummary{
		ByKind:     make(map[string]int),
		BySeverity: make(map[string]int),
		ByProvider: make(map[string]int),
	}

	if err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_entries",
	).Scan(&s.TotalCount); err != nil {
		return nil, wrap("count audit entries", err)
	}

	if err := r.scanGroupCount(ctx, "kind", s.ByKind); err != nil {
		return nil, err
	}
	if err := r.scanGroupCount(ctx, "severity", s.BySeverity); err != nil {
		return nil, err
	}
	if err := r.scanGroupCount(ctx, "provider", s.ByProvider); err != nil {
		return nil, err
	}

	return s, nil
}

// --- helpers ---

func buildAuditWhere(f AuditFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.CampaignID != "" {
		clauses = append(clauses, "campaign_id = ?")
		args = append(args, f.CampaignID)
	}
	if f.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.From != nil {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, f.From.Format(time.RFC3339))
	}
	if f.To != nil {
		clauses = append(clauses, "recorded_at <= ?")
		args = append(args, f.To.Format(time.RFC3339))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *AuditRepo) scanGroupCount(ctx context.Context, col string, m map[string]int) error {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+col+", COUNT(*) FROM audit_entries WHERE "+col+" IS NOT NULL GROUP BY "+col,
	)
	if err != nil {
		return wrap("group count", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v int
		if err := rows.Scan(&k, &v); err != nil {
			return wrap("scan group count", err)
		}
		m[k] = v
	}
	return rows.Err()
}

func scanAuditEntries(rows *sql.Rows) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var kind, sev, recordedAt string
		var pledgeID, campaignID, provider sql.NullString

		err := rows.Scan(
			&e.ID, &kind, &pledgeID, &campaignID, &provider,
			&sev, &e.Message, &recordedAt,
		)
		if err != nil {
			return nil, err
		}

		e.Kind = domain.AuditKind(kind)
		e.Severity = domain.Severity(sev)
		e.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		if pledgeID.Valid {
			e.PledgeID = pledgeID.String
		}
		if campaignID.Valid {
			e.CampaignID = campaignID.String
		}
		if provider.Valid {
			e.Provider = domain.Provider(provider.String)
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
