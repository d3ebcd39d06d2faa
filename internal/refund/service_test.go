package refund

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inamkkkk/funding-inam/internal/domain"
	"github.com/inamkkkk/funding-inam/internal/events"
	"github.com/inamkkkk/funding-inam/internal/provider"
	"github.com/inamkkkk/funding-inam/internal/reconciliation"
	"github.com/inamkkkk/funding-inam/internal/repository"
)

type fixture struct {
	db        *sql.DB
	pledges   *repository.PledgeRepo
	campaigns *repository.CampaignRepo
	audit     *repository.AuditRepo
	coord     *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t,
		provider.NewCardCheckoutAdapter("whsec_test"),
		provider.NewWalletNetworkAdapter("wallet_test"),
		provider.NewCryptoAdapter("chain_test", 6),
	)
}

func newFixtureWith(t *testing.T, adapters ...provider.Adapter) *fixture {
	t.Helper()

	db, err := repository.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pledges := repository.NewPledgeRepo(db)
	campaigns := repository.NewCampaignRepo(db)
	audit := repository.NewAuditRepo(db)

	recon := reconciliation.NewService(db, pledges, campaigns,
		repository.NewEventRepo(db), audit, events.LogEmitter{},
		reconciliation.Config{StorageTimeout: 5 * time.Second})

	return &fixture{
		db:        db,
		pledges:   pledges,
		campaigns: campaigns,
		audit:     audit,
		coord:     NewCoordinator(pledges, campaigns, audit, provider.NewRegistry(adapters...), recon, 5*time.Second),
	}
}

// seedCompletedPledge creates a campaign and a pledge already settled against
// it, the state a refund starts from.
func (f *fixture) seedCompletedPledge(t *testing.T, prov domain.Provider, amount string) *domain.Pledge {
	t.Helper()
	ctx := context.Background()
	amt := decimal.RequireFromString(amount)

	campaign := &domain.Campaign{
		ID:           "CMP-" + string(prov),
		Title:        "Test Campaign",
		Description:  "d",
		Category:     domain.CategoryTechnology,
		CreatorID:    "USR-owner",
		GoalAmount:   decimal.RequireFromString("100000"),
		RaisedAmount: amt,
		Deadline:     time.Now().Add(24 * time.Hour),
		Status:       domain.CampaignActive,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, f.campaigns.Create(ctx, campaign))

	pledge := &domain.Pledge{
		ID:                "PLG-" + string(prov),
		CampaignID:        campaign.ID,
		UserID:            "USR-backer",
		Amount:            amt,
		Provider:          prov,
		ProviderReference: "ref_" + string(prov),
		Status:            domain.PledgeCompleted,
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, f.pledges.Create(ctx, pledge))
	return pledge
}

func (f *fixture) raised(t *testing.T, campaignID string) decimal.Decimal {
	t.Helper()
	c, err := f.campaigns.GetByID(context.Background(), campaignID)
	require.NoError(t, err)
	return c.RaisedAmount
}

func TestRefundCardPledgeReversesLedger(t *testing.T) {
	f := newFixture(t)
	pledge := f.seedCompletedPledge(t, domain.ProviderCardCheckout, "120")

	res, err := f.coord.Refund(context.Background(), pledge.ID, pledge.Amount, "backer request")
	require.NoError(t, err)

	assert.Equal(t, StatusRefunded, res.Status)
	assert.NotEmpty(t, res.ProviderReference)
	assert.True(t, res.RaisedAmount.IsZero())

	got, err := f.pledges.GetByID(context.Background(), pledge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PledgeRefunded, got.Status)
}

func TestRefundTwiceIsNoOp(t *testing.T) {
	f := newFixture(t)
	pledge := f.seedCompletedPledge(t, domain.ProviderCardCheckout, "120")

	_, err := f.coord.Refund(context.Background(), pledge.ID, pledge.Amount, "first")
	require.NoError(t, err)

	res, err := f.coord.Refund(context.Background(), pledge.ID, pledge.Amount, "second")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRefunded, res.Status)
	assert.True(t, f.raised(t, pledge.CampaignID).IsZero())
}

func TestRefundPartialAmountSubtractsOnlyThatAmount(t *testing.T) {
	f := newFixture(t)
	pledge := f.seedCompletedPledge(t, domain.ProviderWalletNetwork, "200")

	res, err := f.coord.Refund(context.Background(), pledge.ID, decimal.RequireFromString("50"), "partial")
	require.NoError(t, err)

	assert.Equal(t, StatusRefunded, res.Status)
	assert.True(t, res.RaisedAmount.Equal(decimal.RequireFromString("150")))
}

func TestRefundRejectsPendingPledge(t *testing.T) {
	f := newFixture(t)
	pledge := f.seedCompletedPledge(t, domain.ProviderCardCheckout, "120")
	require.NoError(t, f.pledges.Create(context.Background(), &domain.Pledge{
		ID:         "PLG-pending",
		CampaignID: pledge.CampaignID,
		UserID:     "USR-backer",
		Amount:     decimal.RequireFromString("10"),
		Provider:   domain.ProviderCardCheckout,
		Status:     domain.PledgePending,
		CreatedAt:  time.Now().UTC(),
	}))

	_, err := f.coord.Refund(context.Background(), "PLG-pending", decimal.RequireFromString("10"), "r")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRefundRejectsExcessiveAmount(t *testing.T) {
	f := newFixture(t)
	pledge := f.seedCompletedPledge(t, domain.ProviderCardCheckout, "120")

	_, err := f.coord.Refund(context.Background(), pledge.ID, decimal.RequireFromString("120.01"), "r")
	require.ErrorIs(t, err, domain.ErrAmountMismatch)
	assert.True(t, f.raised(t, pledge.CampaignID).Equal(decimal.RequireFromString("120")))
}

func TestRefundUnknownPledge(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Refund(context.Background(), "PLG-missing", decimal.RequireFromString("1"), "r")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

// countingAdapter wraps the card adapter and counts IssueRefund calls, each
// returning a distinct reference.
type countingAdapter struct {
	*provider.CardCheckoutAdapter

	mu     sync.Mutex
	issued int
}

func (a *countingAdapter) IssueRefund(ctx context.Context, ref string, amount decimal.Decimal) (*provider.RefundResult, error) {
	a.mu.Lock()
	a.issued++
	n := a.issued
	a.mu.Unlock()
	return &provider.RefundResult{
		Outcome:   provider.RefundConfirmed,
		Reference: fmt.Sprintf("re_count_%d", n),
	}, nil
}

func (a *countingAdapter) issuedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.issued
}

func TestConcurrentRefundsInstructProviderOnce(t *testing.T) {
	adapter := &countingAdapter{CardCheckoutAdapter: provider.NewCardCheckoutAdapter("whsec_test")}
	f := newFixtureWith(t, adapter)
	pledge := f.seedCompletedPledge(t, domain.ProviderCardCheckout, "120")

	const callers = 8
	results := make([]*Result, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.coord.Refund(context.Background(), pledge.ID, pledge.Amount, "race")
		}(i)
	}
	wg.Wait()

	// Exactly one caller reaches the provider; the rest observe the pledge
	// already refunded. Money leaves the provider once.
	assert.Equal(t, 1, adapter.issuedCount())

	refunded, alreadyRefunded := 0, 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		switch results[i].Status {
		case StatusRefunded:
			refunded++
		case StatusAlreadyRefunded:
			alreadyRefunded++
		}
	}
	assert.Equal(t, 1, refunded)
	assert.Equal(t, callers-1, alreadyRefunded)
	assert.True(t, f.raised(t, pledge.CampaignID).IsZero())
}

func TestCryptoRefundGoesManualThenConfirms(t *testing.T) {
	f := newFixture(t)
	pledge := f.seedCompletedPledge(t, domain.ProviderCrypto, "0.5")
	ctx := context.Background()

	res, err := f.coord.Refund(ctx, pledge.ID, pledge.Amount, "backer request")
	require.NoError(t, err)

	// Accepted but not settled: the ledger must not have moved.
	assert.Equal(t, StatusManualPending, res.Status)
	assert.NotEmpty(t, res.ProviderReference)
	assert.True(t, f.raised(t, pledge.CampaignID).Equal(pledge.Amount))

	got, err := f.pledges.GetByID(ctx, pledge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PledgeCompleted, got.Status)

	// The pending window is operator-visible.
	entries, _, err := f.audit.List(ctx, repository.AuditFilter{
		Kind: string(domain.AuditRefundManual),
	})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	confirmed, err := f.coord.ConfirmManual(ctx, pledge.ID, res.ProviderReference, pledge.Amount)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, confirmed.Status)
	assert.True(t, f.raised(t, pledge.CampaignID).IsZero())

	got, err = f.pledges.GetByID(ctx, pledge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PledgeRefunded, got.Status)

	// Re-delivered confirmation with the same reference is a no-op.
	again, err := f.coord.ConfirmManual(ctx, pledge.ID, res.ProviderReference, pledge.Amount)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyRefunded, again.Status)
	assert.True(t, f.raised(t, pledge.CampaignID).IsZero())
}
