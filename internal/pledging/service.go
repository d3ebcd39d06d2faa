package pledging

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inamkkkk/funding-inam/internal/domain"
	"github.com/inamkkkk/funding-inam/internal/provider"
	"github.com/inamkkkk/funding-inam/internal/repository"
)

// Service is the pledge-creation flow: it validates the request, asks the
// provider adapter for a payment intent and persists the pledge at Pending.
// Settlement happens later, through the reconciliation path.
type Service struct {
	pledges   *repository.PledgeRepo
	campaigns *repository.CampaignRepo
	providers *provider.Registry

	storageTimeout time.Duration
	// enforceGoalCap rejects pledges that would push a campaign past its
	// goal. Off by default: overfunding is allowed by design and the cap
	// is an upstream policy, not a ledger invariant.
	enforceGoalCap bool
	now            func() time.Time
}

func NewService(
	pledges *repository.PledgeRepo,
	campaigns *repository.CampaignRepo,
	providers *provider.Registry,
	storageTimeout time.Duration,
	enforceGoalCap bool,
) *Service {
	if storageTimeout <= 0 {
		storageTimeout = 5 * time.Second
	}
	return &Service{
		pledges:        pledges,
		campaigns:      campaigns,
		providers:      providers,
		storageTimeout: storageTimeout,
		enforceGoalCap: enforceGoalCap,
		now:            time.Now,
	}
}

type CreateRequest struct {
	CampaignID string          `json:"campaign_id"`
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Provider   domain.Provider `json:"provider"`
	RewardTier string          `json:"reward_tier,omitempty"`
	Anonymous  bool            `json:"anonymous"`
}

func (r *CreateRequest) validate() error {
	if r.CampaignID == "" || r.UserID == "" {
		return fmt.Errorf("campaign_id and user_id are required")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if !domain.KnownProvider(r.Provider) {
		return fmt.Errorf("unknown provider %q", r.Provider)
	}
	return nil
}

// CreatePledge runs the full creation flow and returns the pending pledge
// together with the provider intent (checkout URL or deposit address).
func (s *Service) CreatePledge(ctx context.Context, req CreateRequest) (*domain.Pledge, *provider.Intent, error) {
	if err := req.validate(); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()

	campaign, err := s.campaigns.GetByID(ctx, req.CampaignID)
	if err != nil {
		return nil, nil, err
	}
	if campaign.Closed() {
		return nil, nil, fmt.Errorf("campaign %s is %s: %w",
			campaign.ID, campaign.Status, domain.ErrInvalidTransition)
	}
	if campaign.Deadline.Before(s.now()) {
		return nil, nil, fmt.Errorf("campaign %s deadline has passed: %w",
			campaign.ID, domain.ErrInvalidTransition)
	}
	if campaign.CreatorID == req.UserID {
		return nil, nil, fmt.Errorf("campaign creator cannot pledge to their own campaign")
	}

	if projected := campaign.RaisedAmount.Add(req.Amount); projected.GreaterThan(campaign.GoalAmount) {
		if s.enforceGoalCap {
			return nil, nil, fmt.Errorf("pledge of %s would exceed campaign %s goal: %w",
				req.Amount, campaign.ID, domain.ErrInvalidTransition)
		}
		log.Printf("[pledging] WARNING: pledge of %s pushes campaign %s past its goal",
			req.Amount, campaign.ID)
	}

	adapter, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, nil, err
	}

	pledge := &domain.Pledge{
		ID:         "PLG-" + uuid.NewString(),
		CampaignID: req.CampaignID,
		UserID:     req.UserID,
		Amount:     req.Amount,
		Provider:   req.Provider,
		RewardTier: req.RewardTier,
		Anonymous:  req.Anonymous,
		Status:     domain.PledgePending,
		CreatedAt:  s.now().UTC(),
	}

	intent, err := adapter.CreateIntent(ctx, req.CampaignID, req.UserID, req.Amount,
		map[string]string{"pledge_id": pledge.ID})
	if err != nil {
		return nil, nil, fmt.Errorf("create intent: %w", err)
	}
	pledge.ProviderReference = intent.Reference

	if err := s.pledges.Create(ctx, pledge); err != nil {
		return nil, nil, err
	}

	log.Printf("[pledging] Created pledge %s for campaign %s via %s (ref=%s)",
		pledge.ID, pledge.CampaignID, pledge.Provider, pledge.ProviderReference)

	return pledge, intent, nil
}
