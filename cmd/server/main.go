package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/inamkkkk/funding-inam/internal/api"
	"github.com/inamkkkk/funding-inam/internal/config"
	"github.com/inamkkkk/funding-inam/internal/domain"
	"github.com/inamkkkk/funding-inam/internal/events"
	"github.com/inamkkkk/funding-inam/internal/pledging"
	"github.com/inamkkkk/funding-inam/internal/provider"
	"github.com/inamkkkk/funding-inam/internal/reconciliation"
	"github.com/inamkkkk/funding-inam/internal/refund"
	"github.com/inamkkkk/funding-inam/internal/repository"
	"github.com/inamkkkk/funding-inam/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Initializing database at %s", cfg.DBPath)
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	// Create repositories.
	pledgeRepo := repository.NewPledgeRepo(db)
	campaignRepo := repository.NewCampaignRepo(db)
	eventRepo := repository.NewEventRepo(db)
	auditRepo := repository.NewAuditRepo(db)

	// Provider adapters.
	providers := provider.NewRegistry(
		provider.NewCardCheckoutAdapter(cfg.CardWebhookSecret),
		provider.NewWalletNetworkAdapter(cfg.WalletWebhookSecret),
		provider.NewCryptoAdapter(cfg.ChainCallbackToken, cfg.ChainMinConfirmations),
	)

	// Create services.
	emitter := events.LogEmitter{}
	reconSvc := reconciliation.NewService(db, pledgeRepo, campaignRepo, eventRepo, auditRepo, emitter,
		reconciliation.Config{
			StorageTimeout: cfg.StorageTimeout,
			WarnOnOverfund: cfg.WarnOnOverfund,
		})
	refundSvc := refund.NewCoordinator(pledgeRepo, campaignRepo, auditRepo, providers, reconSvc, cfg.StorageTimeout)
	pledgingSvc := pledging.NewService(pledgeRepo, campaignRepo, providers, cfg.StorageTimeout, cfg.EnforceGoalCap)
	sweep := sweeper.New(db, campaignRepo, auditRepo, emitter, cfg.SweepInterval, cfg.StorageTimeout)

	// Seed campaigns if DB is empty.
	count, err := campaignRepo.Count(context.Background())
	if err != nil {
		log.Fatalf("Failed to count campaigns: %v", err)
	}
	if count == 0 {
		log.Println("Database is empty, seeding campaigns from testdata...")
		if err := seedCampaigns(campaignRepo); err != nil {
			log.Printf("WARNING: Failed to seed campaigns: %v", err)
		}
	} else {
		log.Printf("Database already has %d campaigns, skipping seed", count)
	}

	// Start the deadline sweeper.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweep.Run(ctx)

	// Create router.
	router := api.NewRouter(pledgeRepo, campaignRepo, auditRepo, providers,
		pledgingSvc, reconSvc, refundSvc, sweep)

	log.Printf("Funding Ledger & Reconciliation Engine")
	log.Printf("Listening on http://localhost:%s", cfg.Port)
	log.Printf("API base: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("")
	log.Printf("Endpoints:")
	log.Printf("  POST   /api/v1/webhooks/{provider}")
	log.Printf("  POST   /api/v1/pledges")
	log.Printf("  GET    /api/v1/pledges")
	log.Printf("  GET    /api/v1/pledges/{id}")
	log.Printf("  POST   /api/v1/pledges/{id}/refund")
	log.Printf("  POST   /api/v1/refunds/confirmations")
	log.Printf("  POST   /api/v1/campaigns")
	log.Printf("  GET    /api/v1/campaigns")
	log.Printf("  GET    /api/v1/campaigns/{id}")
	log.Printf("  GET    /api/v1/campaigns/{id}/funding-status")
	log.Printf("  POST   /api/v1/sweep")
	log.Printf("  GET    /api/v1/audit")
	log.Printf("  GET    /api/v1/audit/summary")
	log.Printf("  GET    /api/v1/dashboard")

	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func seedCampaigns(repo *repository.CampaignRepo) error {
	// Try multiple possible locations for testdata.
	candidates := []string{
		"testdata/campaigns.json",
		filepath.Join(".", "testdata", "campaigns.json"),
	}

	// Also try to find relative to the executable.
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "testdata", "campaigns.json"),
			filepath.Join(dir, "..", "..", "testdata", "campaigns.json"),
		)
	}

	var data []byte
	var loadErr error
	for _, path := range candidates {
		data, loadErr = os.ReadFile(path)
		if loadErr == nil {
			log.Printf("Loaded campaigns from %s", path)
			break
		}
	}
	if loadErr != nil {
		return fmt.Errorf("could not find campaigns.json in any candidate path: %w", loadErr)
	}

	var campaigns []domain.Campaign
	if err := json.Unmarshal(data, &campaigns); err != nil {
		return fmt.Errorf("unmarshal campaigns: %w", err)
	}

	seeded := 0
	for i := range campaigns {
		if err := repo.Create(context.Background(), &campaigns[i]); err != nil {
			log.Printf("WARNING: failed to seed campaign %s: %v", campaigns[i].ID, err)
			continue
		}
		seeded++
	}

	log.Printf("Seeded %d campaigns (out of %d in file)", seeded, len(campaigns))
	return nil
}
