package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Project is a fundable research or compute project.
type Project struct {
	ID            string
	Title         string
	Author        string
	ORCID         string
	Description   string
	MediaURL      string
	HPCProvider   string
	GPUHours      decimal.Decimal
	GoalAmount    decimal.Decimal
	Currency      string
	WalletAddress string
	CreatorID     string
	CreatedAt     time.Time

	// Totals holds the confirmed amount per currency. It is owned by the
	// ledger and only moves through donation transitions.
	Totals map[string]decimal.Decimal
}

// RaisedAmount is the confirmed total in the project's goal currency.
func (p Project) RaisedAmount() decimal.Decimal {
	if p.Totals == nil {
		return decimal.Zero
	}
	return p.Totals[p.Currency]
}

// ProjectUpdate is a progress note posted by the project creator.
type ProjectUpdate struct {
	ID        string
	ProjectID string
	Body      string
	CreatedAt time.Time
}
