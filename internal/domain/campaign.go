package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CampaignStatus string

const (
	CampaignActive     CampaignStatus = "active"
	CampaignSuccessful CampaignStatus = "successful"
	CampaignFailed     CampaignStatus = "failed"
)

type CampaignCategory string

const (
	CategoryTechnology CampaignCategory = "technology"
	CategoryEducation  CampaignCategory = "education"
	CategoryHealth     CampaignCategory = "health"
	CategoryCommunity  CampaignCategory = "community"
	CategoryArts       CampaignCategory = "arts"
)

// Campaign is the aggregate side of the funding ledger. RaisedAmount must
// equal the sum of amounts of its Completed pledges at every point observable
// between reconciliation transactions.
type Campaign struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Category     CampaignCategory `json:"category"`
	CreatorID    string           `json:"creator_id"`
	GoalAmount   decimal.Decimal  `json:"goal_amount"`
	RaisedAmount decimal.Decimal  `json:"raised_amount"`
	Deadline     time.Time        `json:"deadline"`
	Status       CampaignStatus   `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Closed reports whether the campaign is in a terminal status.
func (c *Campaign) Closed() bool {
	return c.Status == CampaignSuccessful || c.Status == CampaignFailed
}

// GoalReached reports whether the raised amount covers the goal.
func (c *Campaign) GoalReached() bool {
	return c.RaisedAmount.GreaterThanOrEqual(c.GoalAmount)
}
