package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/inamkkkk/funding-inam/internal/pledging"
	"github.com/inamkkkk/funding-inam/internal/provider"
	"github.com/inamkkkk/funding-inam/internal/reconciliation"
	"github.com/inamkkkk/funding-inam/internal/refund"
	"github.com/inamkkkk/funding-inam/internal/repository"
	"github.com/inamkkkk/funding-inam/internal/sweeper"
)

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(
	pledgeRepo *repository.PledgeRepo,
	campaignRepo *repository.CampaignRepo,
	auditRepo *repository.AuditRepo,
	providers *provider.Registry,
	pledgingSvc *pledging.Service,
	reconSvc *reconciliation.Service,
	refundSvc *refund.Coordinator,
	sweep *sweeper.Sweeper,
) http.Handler {
	h := &Handlers{
		pledgeRepo:   pledgeRepo,
		campaignRepo: campaignRepo,
		auditRepo:    auditRepo,
		providers:    providers,
		pledgingSvc:  pledgingSvc,
		reconSvc:     reconSvc,
		refundSvc:    refundSvc,
		sweep:        sweep,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		// Provider webhooks.
		r.Post("/webhooks/{provider}", h.HandleWebhook)

		// Pledges.
		r.Post("/pledges", h.CreatePledge)
		r.Get("/pledges", h.ListPledges)
		r.Get("/pledges/{id}", h.GetPledge)
		r.Post("/pledges/{id}/refund", h.RefundPledge)

		// Out-of-band refund confirmations (crypto manual window).
		r.Post("/refunds/confirmations", h.ConfirmRefund)

		// Campaigns.
		r.Post("/campaigns", h.CreateCampaign)
		r.Get("/campaigns", h.ListCampaigns)
		r.Get("/campaigns/{id}", h.GetCampaign)
		r.Get("/campaigns/{id}/funding-status", h.GetCampaignFundingStatus)

		// Deadline sweep, on demand.
		r.Post("/sweep", h.TriggerSweep)

		// Audit.
		r.Get("/audit", h.ListAudit)
		r.Get("/audit/summary", h.GetAuditSummary)

		// Dashboard.
		r.Get("/dashboard", h.GetDashboard)
	})

	return r
}
