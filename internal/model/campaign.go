package model

import (
	"time"

	"github.com/google/uuid"
)

// Campaign is a mailing run that recipients are generated for.
type Campaign struct {
	ID        int64     `json:"campaign_id"`
	Name      string    `json:"name"`
	MailDate  time.Time `json:"mail_date"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is a property with its primary owner and consolidated loan, as
// selected for a campaign before suppression.
type Candidate struct {
	Property Property `json:"property"`
	Owner    Owner    `json:"owner"`
	Loan     *Loan    `json:"loan,omitempty"`
}

// Identifiers returns every identifier the suppression gate matches on.
func (c *Candidate) Identifiers() Identifiers {
	ids := Identifiers{PropertyID: &c.Property.ID}
	if c.Property.RadarID != "" {
		radarID := c.Property.RadarID
		ids.RadarID = &radarID
	}
	if c.Loan != nil {
		ids.LoanID = &c.Loan.ID
	}
	return ids
}

// CampaignRecipient is a mailable row generated for a campaign.
type CampaignRecipient struct {
	ID           int64     `json:"recipient_id"`
	CampaignID   int64     `json:"campaign_id"`
	GenerationID uuid.UUID `json:"generation_id"`
	PropertyID   int64     `json:"property_id"`
	OwnerID      int64     `json:"owner_id"`
	LoanID       *int64    `json:"loan_id,omitempty"`
	RadarID      string    `json:"radar_id"`
	OwnerName    string    `json:"owner_name"`
	MailAddress  string    `json:"mail_address"`
	MailCity     string    `json:"mail_city"`
	MailState    string    `json:"mail_state"`
	MailZip      string    `json:"mail_zip"`
	Address      string    `json:"address"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	Zip          string    `json:"zip"`
	LoanBalance  *float64  `json:"loan_balance,omitempty"`
	LoanRate     float64   `json:"loan_rate"`
	CloseMonth   string    `json:"close_month"`
	SkipMonth    string    `json:"skip_month"`
	NextPayMonth string    `json:"next_pay_month"`
	MailDate     time.Time `json:"mail_date"`
	CreatedAt    time.Time `json:"created_at"`
}

// PurgeCounts reports rows affected per table by a state purge.
type PurgeCounts struct {
	Properties int64 `json:"properties"`
	Owners     int64 `json:"owners"`
	Loans      int64 `json:"loans"`
	Recipients int64 `json:"recipients"`

	PropertyHistory int64 `json:"property_history"`
	OwnerHistory    int64 `json:"owner_history"`
	LoanHistory     int64 `json:"loan_history"`
}
