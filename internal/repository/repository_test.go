package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inamkkkk/funding-inam/internal/domain"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testCampaign(id string) *domain.Campaign {
	return &domain.Campaign{
		ID:           id,
		Title:        "Solar Kits for Schools",
		Description:  "d",
		Category:     domain.CategoryEducation,
		CreatorID:    "USR-owner",
		GoalAmount:   decimal.RequireFromString("5000"),
		RaisedAmount: decimal.Zero,
		Deadline:     time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Status:       domain.CampaignActive,
		CreatedAt:    time.Now().UTC(),
	}
}

func testPledge(id, campaignID string, amount string) *domain.Pledge {
	return &domain.Pledge{
		ID:                id,
		CampaignID:        campaignID,
		UserID:            "USR-backer",
		Amount:            decimal.RequireFromString(amount),
		Provider:          domain.ProviderCardCheckout,
		ProviderReference: "cs_" + id,
		RewardTier:        "early-bird",
		Anonymous:         true,
		Status:            domain.PledgePending,
		CreatedAt:         time.Now().UTC(),
	}
}

func TestPledgeRoundTrip(t *testing.T) {
	db := setupDB(t)
	campaigns := NewCampaignRepo(db)
	pledges := NewPledgeRepo(db)
	ctx := context.Background()

	require.NoError(t, campaigns.Create(ctx, testCampaign("C1")))
	want := testPledge("P1", "C1", "49.99")
	require.NoError(t, pledges.Create(ctx, want))

	got, err := pledges.GetByID(ctx, "P1")
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.CampaignID, got.CampaignID)
	assert.True(t, want.Amount.Equal(got.Amount))
	assert.Equal(t, want.Provider, got.Provider)
	assert.Equal(t, want.ProviderReference, got.ProviderReference)
	assert.Equal(t, want.RewardTier, got.RewardTier)
	assert.True(t, got.Anonymous)
	assert.Equal(t, domain.PledgePending, got.Status)
}

func TestPledgeGetByIDNotFound(t *testing.T) {
	db := setupDB(t)
	_, err := NewPledgeRepo(db).GetByID(context.Background(), "P-missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPledgeGetByReferenceMatchesBothKeys(t *testing.T) {
	db := setupDB(t)
	campaigns := NewCampaignRepo(db)
	pledges := NewPledgeRepo(db)
	ctx := context.Background()

	require.NoError(t, campaigns.Create(ctx, testCampaign("C1")))
	require.NoError(t, pledges.Create(ctx, testPledge("P1", "C1", "10")))

	byRef, err := pledges.GetByReference(ctx, domain.ProviderCardCheckout, "cs_P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", byRef.ID)

	byID, err := pledges.GetByReference(ctx, domain.ProviderCardCheckout, "P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", byID.ID)

	// The provider scopes the lookup.
	_, err = pledges.GetByReference(ctx, domain.ProviderCrypto, "cs_P1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPledgeGetByReferenceRejectsAmbiguousKey(t *testing.T) {
	db := setupDB(t)
	campaigns := NewCampaignRepo(db)
	pledges := NewPledgeRepo(db)
	ctx := context.Background()

	require.NoError(t, campaigns.Create(ctx, testCampaign("C1")))

	// One pledge whose id collides with another pledge's provider
	// reference: the correlation key no longer identifies a single pledge.
	collider := testPledge("REF-dup", "C1", "10")
	collider.ProviderReference = "cs_other"
	require.NoError(t, pledges.Create(ctx, collider))

	victim := testPledge("P2", "C1", "20")
	victim.ProviderReference = "REF-dup"
	require.NoError(t, pledges.Create(ctx, victim))

	_, err := pledges.GetByReference(ctx, domain.ProviderCardCheckout, "REF-dup")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestPledgeCompareAndTransitionStatus(t *testing.T) {
	db := setupDB(t)
	campaigns := NewCampaignRepo(db)
	pledges := NewPledgeRepo(db)
	ctx := context.Background()

	require.NoError(t, campaigns.Create(ctx, testCampaign("C1")))
	require.NoError(t, pledges.Create(ctx, testPledge("P1", "C1", "10")))

	require.NoError(t, pledges.CompareAndTransitionStatus(ctx, "P1", domain.PledgePending, domain.PledgeCompleted))

	// Guard fails once the pledge has left the expected status.
	err := pledges.CompareAndTransitionStatus(ctx, "P1", domain.PledgePending, domain.PledgeFailed)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	// Missing pledges surface as not-found, not as a failed guard.
	err = pledges.CompareAndTransitionStatus(ctx, "P-missing", domain.PledgePending, domain.PledgeCompleted)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPledgeListFiltersAndPaginates(t *testing.T) {
	db := setupDB(t)
	campaigns := NewCampaignRepo(db)
	pledges := NewPledgeRepo(db)
	ctx := context.Background()

	require.NoError(t, campaigns.Create(ctx, testCampaign("C1")))
	require.NoError(t, campaigns.Create(ctx, testCampaign("C2")))
	for i, campaignID := range []string{"C1", "C1", "C1", "C2"} {
		p := testPledge("P"+string(rune('1'+i)), campaignID, "10")
		if i == 2 {
			p.Status = domain.PledgeCompleted
		}
		require.NoError(t, pledges.Create(ctx, p))
	}

	all, total, err := pledges.List(ctx, PledgeFilter{CampaignID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	completed, total, err := pledges.List(ctx, PledgeFilter{CampaignID: "C1", Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, completed, 1)
	assert.Equal(t, "P3", completed[0].ID)

	page, total, err := pledges.List(ctx, PledgeFilter{CampaignID: "C1", Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 1)
}

func TestSumCompletedByCampaign(t *testing.T) {
	db := setupDB(t)
	campaigns := NewCampaignRepo(db)
	pledges := NewPledgeRepo(db)
	ctx := context.Background()

	require.NoError(t, campaigns.Create(ctx, testCampaign("C1")))

	a := testPledge("P1", "C1", "10.50")
	a.Status = domain.PledgeCompleted
	b := testPledge("P2", "C1", "0.25")
	b.Status = domain.PledgeCompleted
	c := testPledge("P3", "C1", "99")
	require.NoError(t, pledges.Create(ctx, a))
	require.NoError(t, pledges.Create(ctx, b))
	require.NoError(t, pledges.Create(ctx, c))

	sum, err := pledges.SumCompletedByCampaign(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("10.75")))
}

func TestAdjustRaisedAmount(t *testing.T) {
	db := setupDB(t)
	campaigns := NewCampaignRepo(db)
	ctx := context.Background()

	require.NoError(t, campaigns.Create(ctx, testCampaign("C1")))

	raised, err := campaigns.AdjustRaisedAmount(ctx, "C1", decimal.RequireFromString("49.99"))
	require.NoError(t, err)
	assert.True(t, raised.Equal(decimal.RequireFromString("49.99")))

	raised, err = campaigns.AdjustRaisedAmount(ctx, "C1", decimal.RequireFromString("-49.99"))
	require.NoError(t, err)
	assert.True(t, raised.IsZero())

	// A reversal may never drive the total below zero.
	_, err = campaigns.AdjustRaisedAmount(ctx, "C1", decimal.RequireFromString("-0.01"))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = campaigns.AdjustRaisedAmount(ctx, "C-missing", decimal.RequireFromString("1"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCampaignCompareAndTransitionStatus(t *testing.T) {
	db := setupDB(t)
	campaigns := NewCampaignRepo(db)
	ctx := context.Background()

	require.NoError(t, campaigns.Create(ctx, testCampaign("C1")))

	fired, err := campaigns.CompareAndTransitionStatus(ctx, "C1", domain.CampaignActive, domain.CampaignSuccessful)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = campaigns.CompareAndTransitionStatus(ctx, "C1", domain.CampaignActive, domain.CampaignFailed)
	require.NoError(t, err)
	assert.False(t, fired)

	c, err := campaigns.GetByID(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSuccessful, c.Status)
}

func TestListActivePastDeadline(t *testing.T) {
	db := setupDB(t)
	campaigns := NewCampaignRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	due := testCampaign("C-due")
	due.Deadline = now.Add(-time.Hour)
	future := testCampaign("C-future")
	future.Deadline = now.Add(time.Hour)
	closed := testCampaign("C-closed")
	closed.Deadline = now.Add(-time.Hour)
	closed.Status = domain.CampaignFailed

	for _, c := range []*domain.Campaign{due, future, closed} {
		require.NoError(t, campaigns.Create(ctx, c))
	}

	ids, err := campaigns.ListActivePastDeadline(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"C-due"}, ids)
}

func TestEventRepoRejectsDuplicateID(t *testing.T) {
	db := setupDB(t)
	events := NewEventRepo(db)
	ctx := context.Background()

	ev := &domain.AppliedEvent{
		ProviderEventID: "EV1",
		Provider:        domain.ProviderCardCheckout,
		PledgeID:        "P1",
		CampaignID:      "C1",
		Outcome:         domain.OutcomeSuccess,
		SettledAmount:   decimal.RequireFromString("10"),
		PledgeStatus:    domain.PledgeCompleted,
		RaisedAfter:     decimal.RequireFromString("10"),
		AppliedAt:       time.Now().UTC(),
	}
	require.NoError(t, events.Record(ctx, ev))
	require.Error(t, events.Record(ctx, ev))
}

func TestEventRepoGetApplied(t *testing.T) {
	db := setupDB(t)
	events := NewEventRepo(db)
	ctx := context.Background()

	missing, err := events.GetApplied(ctx, "EV-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	want := &domain.AppliedEvent{
		ProviderEventID: "EV1",
		Provider:        domain.ProviderCrypto,
		PledgeID:        "P1",
		CampaignID:      "C1",
		Outcome:         domain.OutcomeRefund,
		SettledAmount:   decimal.RequireFromString("0.5"),
		PledgeStatus:    domain.PledgeRefunded,
		RaisedAfter:     decimal.Zero,
		AppliedAt:       time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, events.Record(ctx, want))

	got, err := events.GetApplied(ctx, "EV1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.PledgeID, got.PledgeID)
	assert.Equal(t, want.Outcome, got.Outcome)
	assert.Equal(t, want.PledgeStatus, got.PledgeStatus)
	assert.True(t, want.SettledAmount.Equal(got.SettledAmount))
	assert.True(t, want.RaisedAfter.Equal(got.RaisedAfter))
}

func TestAuditRepoListFilters(t *testing.T) {
	db := setupDB(t)
	audit := NewAuditRepo(db)
	ctx := context.Background()

	entries := []*domain.AuditEntry{
		{ID: "A1", Kind: domain.AuditAmountMismatch, PledgeID: "P1", CampaignID: "C1",
			Provider: domain.ProviderCardCheckout, Severity: domain.SeverityHigh,
			Message: "m1", RecordedAt: time.Now().UTC()},
		{ID: "A2", Kind: domain.AuditOrphanedEvent, Provider: domain.ProviderCrypto,
			Severity: domain.SeverityHigh, Message: "m2", RecordedAt: time.Now().UTC()},
		{ID: "A3", Kind: domain.AuditCampaignClosed, CampaignID: "C1",
			Severity: domain.SeverityLow, Message: "m3", RecordedAt: time.Now().UTC()},
	}
	for _, e := range entries {
		require.NoError(t, audit.Insert(ctx, e))
	}

	byKind, total, err := audit.List(ctx, AuditFilter{Kind: string(domain.AuditAmountMismatch)})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, byKind, 1)
	assert.Equal(t, "A1", byKind[0].ID)

	bySeverity, total, err := audit.List(ctx, AuditFilter{Severity: string(domain.SeverityHigh)})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, bySeverity, 2)

	byCampaign, total, err := audit.List(ctx, AuditFilter{CampaignID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, byCampaign, 2)
}

func TestAuditRepoSummary(t *testing.T) {
	db := setupDB(t)
	audit := NewAuditRepo(db)
	ctx := context.Background()

	for i, kind := range []domain.AuditKind{
		domain.AuditAmountMismatch, domain.AuditAmountMismatch, domain.AuditOrphanedEvent,
	} {
		require.NoError(t, audit.Insert(ctx, &domain.AuditEntry{
			ID:         "A" + string(rune('1'+i)),
			Kind:       kind,
			Provider:   domain.ProviderWalletNetwork,
			Severity:   domain.SeverityHigh,
			Message:    "m",
			RecordedAt: time.Now().UTC(),
		}))
	}

	summary, err := audit.GetSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ByKind[string(domain.AuditAmountMismatch)])
	assert.Equal(t, 1, summary.ByKind[string(domain.AuditOrphanedEvent)])
	assert.Equal(t, 3, summary.BySeverity[string(domain.SeverityHigh)])
	assert.Equal(t, 3, summary.ByProvider[string(domain.ProviderWalletNetwork)])
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := setupDB(t)
	campaigns := NewCampaignRepo(db)
	ctx := context.Background()

	require.NoError(t, campaigns.Create(ctx, testCampaign("C1")))

	wantErr := assert.AnError
	err := InTx(ctx, db, func(tx *sql.Tx) error {
		txCampaigns := campaigns.WithTx(tx)
		if _, err := txCampaigns.AdjustRaisedAmount(ctx, "C1", decimal.RequireFromString("100")); err != nil {
			return err
		}
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	c, err := campaigns.GetByID(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, c.RaisedAmount.IsZero(), "rolled-back adjustment must not stick")
}
