package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inamkkkk/funding-inam/internal/domain"
	"github.com/inamkkkk/funding-inam/internal/pledging"
	"github.com/inamkkkk/funding-inam/internal/provider"
	"github.com/inamkkkk/funding-inam/internal/reconciliation"
	"github.com/inamkkkk/funding-inam/internal/refund"
	"github.com/inamkkkk/funding-inam/internal/repository"
	"github.com/inamkkkk/funding-inam/internal/sweeper"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	pledgeRepo   *repository.PledgeRepo
	campaignRepo *repository.CampaignRepo
	auditRepo    *repository.AuditRepo
	providers    *provider.Registry
	pledgingSvc  *pledging.Service
	reconSvc     *reconciliation.Service
	refundSvc    *refund.Coordinator
	sweep        *sweeper.Sweeper
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Transient
// failures invite a retry; everything else tells the caller not to bother.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrTransient):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": err.Error(), "retryable": true,
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAmountMismatch), errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrAuthenticationFailed):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// --- webhooks ---

func signatureHeader(p domain.Provider, r *http.Request) string {
	switch p {
	case domain.ProviderCardCheckout:
		return r.Header.Get("Checkout-Signature")
	case domain.ProviderWalletNetwork:
		return r.Header.Get("X-Wallet-Signature")
	case domain.ProviderCrypto:
		return r.Header.Get("X-Chain-Token")
	}
	return ""
}

// HandleWebhook receives a raw provider notification, authenticates and
// normalizes it, and feeds it through the reconciliation engine.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	p := domain.Provider(chi.URLParam(r, "provider"))
	adapter, err := h.providers.Get(p)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown provider: "+string(p))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	ev, err := adapter.VerifyAndParse(body, signatureHeader(p, r))
	if err != nil {
		if errors.Is(err, domain.ErrAuthenticationFailed) {
			log.Printf("[api] %s webhook rejected: %v", p, err)
			writeError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.reconSvc.Apply(r.Context(), *ev)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- pledges ---

func (h *Handlers) CreatePledge(w http.ResponseWriter, r *http.Request) {
	var req pledging.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pledge, intent, err := h.pledgingSvc.CreatePledge(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"pledge": pledge,
		"intent": intent,
	})
}

func (h *Handlers) GetPledge(w http.ResponseWriter, r *http.Request) {
	pledge, err := h.pledgeRepo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pledge)
}

func (h *Handlers) ListPledges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.PledgeFilter{
		CampaignID: q.Get("campaign_id"),
		UserID:     q.Get("user_id"),
		Status:     q.Get("status"),
		Provider:   q.Get("provider"),
		Page:       parseIntDefault(q.Get("page"), 1),
		Limit:      parseIntDefault(q.Get("limit"), 50),
	}

	pledges, total, err := h.pledgeRepo.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pledges": pledges,
		"total":   total,
		"page":    f.Page,
		"limit":   f.Limit,
	})
}

// --- refunds ---

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (h *Handlers) RefundPledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	// Default to a full refund when no amount is given.
	if req.Amount.IsZero() {
		pledge, err := h.pledgeRepo.GetByID(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		req.Amount = pledge.Amount
	}

	res, err := h.refundSvc.Refund(r.Context(), id, req.Amount, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if res.Status == refund.StatusManualPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

type refundConfirmation struct {
	PledgeID        string          `json:"pledge_id"`
	ConfirmationRef string          `json:"confirmation_ref"`
	Amount          decimal.Decimal `json:"amount"`
}

// ConfirmRefund completes a refund the provider could only accept
// asynchronously (the crypto manual window).
func (h *Handlers) ConfirmRefund(w http.ResponseWriter, r *http.Request) {
	var req refundConfirmation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.PledgeID == "" || req.ConfirmationRef == "" {
		writeError(w, http.StatusBadRequest, "pledge_id and confirmation_ref are required")
		return
	}

	res, err := h.refundSvc.ConfirmManual(r.Context(), req.PledgeID, req.ConfirmationRef, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- campaigns ---

type createCampaignRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	CreatorID   string          `json:"creator_id"`
	GoalAmount  decimal.Decimal `json:"goal_amount"`
	Deadline    time.Time       `json:"deadline"`
}

func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Title == "" || req.CreatorID == "" {
		writeError(w, http.StatusBadRequest, "title and creator_id are required")
		return
	}
	if !req.GoalAmount.IsPositive() {
		writeError(w, http.StatusBadRequest, "goal_amount must be positive")
		return
	}
	if !req.Deadline.After(time.Now()) {
		writeError(w, http.StatusBadRequest, "deadline must be in the future")
		return
	}

	c := &domain.Campaign{
		ID:           "CMP-" + uuid.NewString(),
		Title:        req.Title,
		Description:  req.Description,
		Category:     domain.CampaignCategory(req.Category),
		CreatorID:    req.CreatorID,
		GoalAmount:   req.GoalAmount,
		RaisedAmount: decimal.Zero,
		Deadline:     req.Deadline,
		Status:       domain.CampaignActive,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.campaignRepo.Create(r.Context(), c); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaignRepo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.CampaignFilter{
		Status:   q.Get("status"),
		Category: q.Get("category"),
		Page:     parseIntDefault(q.Get("page"), 1),
		Limit:    parseIntDefault(q.Get("limit"), 50),
	}

	campaigns, total, err := h.campaignRepo.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaigns": campaigns,
		"total":     total,
		"page":      f.Page,
		"limit":     f.Limit,
	})
}

// GetCampaignFundingStatus reports the campaign alongside the sum of its
// completed pledges, so operators can eyeball ledger consistency.
func (h *Handlers) GetCampaignFundingStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.campaignRepo.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	completed, err := h.pledgeRepo.SumCompletedByCampaign(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"campaign":          c,
		"completed_pledges": completed,
		"consistent":        c.RaisedAmount.Equal(completed),
	})
}

// --- sweeper ---

func (h *Handlers) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweep.SweepOnce(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- audit ---

func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.AuditFilter{
		Kind:       q.Get("kind"),
		Severity:   q.Get("severity"),
		CampaignID: q.Get("campaign_id"),
		Provider:   q.Get("provider"),
		From:       parseTime(q.Get("from")),
		To:         parseTime(q.Get("to")),
		Page:       parseIntDefault(q.Get("page"), 1),
		Limit:      parseIntDefault(q.Get("limit"), 50),
	}

	entries, total, err := h.auditRepo.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"page":    f.Page,
		"limit":   f.Limit,
	})
}

func (h *Handlers) GetAuditSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.auditRepo.GetSummary(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// --- dashboard ---

func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.campaignRepo.GetFundingStats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	audit, err := h.auditRepo.GetSummary(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaigns": stats,
		"audit":     audit,
	})
}
