// Command generate writes the campaign fixtures used for local development
// and seeding. The slate is fixed so repeated runs reproduce the committed
// file byte for byte. Run from the repo root:
//
//	go run ./testdata/generate
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/inamkkkk/funding-inam/internal/domain"
)

func main() {
	baseDir := findTestdataDir()

	campaigns := []domain.Campaign{
		{
			ID:          "CMP-solar-school",
			Title:       "Solar Panels for Riverside School",
			Description: "Install a rooftop solar array to cut the school's energy bill.",
			Category:    domain.CategoryEducation,
			CreatorID:   "USR-001",
			GoalAmount:  decimal.NewFromInt(12000),
			Deadline:    date(2026, 12, 31),
			CreatedAt:   time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		},
		{
			ID:          "CMP-clinic-van",
			Title:       "Mobile Clinic Van",
			Description: "A van equipped for rural health checkups.",
			Category:    domain.CategoryHealth,
			CreatorID:   "USR-002",
			GoalAmount:  decimal.NewFromInt(45000),
			Deadline:    date(2026, 11, 15),
			CreatedAt:   time.Date(2026, 7, 20, 14, 30, 0, 0, time.UTC),
		},
		{
			ID:          "CMP-open-synth",
			Title:       "Open Hardware Synthesizer",
			Description: "An open-source modular synth kit for makers.",
			Category:    domain.CategoryTechnology,
			CreatorID:   "USR-003",
			GoalAmount:  decimal.NewFromInt(8000),
			Deadline:    date(2026, 10, 1),
			CreatedAt:   time.Date(2026, 8, 10, 11, 15, 0, 0, time.UTC),
		},
		{
			ID:          "CMP-mural-row",
			Title:       "Murals on Cannery Row",
			Description: "Five local artists, five walls, one summer.",
			Category:    domain.CategoryArts,
			CreatorID:   "USR-004",
			GoalAmount:  decimal.NewFromInt(5500),
			Deadline:    date(2026, 9, 30),
			CreatedAt:   time.Date(2026, 8, 15, 8, 45, 0, 0, time.UTC),
		},
		{
			ID:          "CMP-food-coop",
			Title:       "Neighborhood Food Co-op",
			Description: "Seed funding for a community-owned grocery.",
			Category:    domain.CategoryCommunity,
			CreatorID:   "USR-005",
			GoalAmount:  decimal.NewFromInt(30000),
			Deadline:    date(2027, 1, 31),
			CreatedAt:   time.Date(2026, 8, 20, 16, 0, 0, 0, time.UTC),
		},
	}

	for i := range campaigns {
		campaigns[i].RaisedAmount = decimal.Zero
		campaigns[i].Status = domain.CampaignActive
	}

	writeJSON(filepath.Join(baseDir, "campaigns.json"), campaigns)
	fmt.Printf("Wrote %d campaigns to %s\n", len(campaigns), baseDir)
}

// date returns the end of the given day, the deadline convention the
// fixtures use.
func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 23, 59, 59, 0, time.UTC)
}

func findTestdataDir() string {
	candidates := []string{"testdata", filepath.Join("..", "testdata"), "."}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	return "."
}

func writeJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal %s: %v\n", path, err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
		os.Exit(1)
	}
}
