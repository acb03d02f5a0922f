// Package model defines the persisted entities of the ingestion pipeline.
package model

import "time"

// Visibility states whether a read includes soft-deleted rows.
type Visibility int

const (
	// ActiveOnly restricts a read to rows with is_active set.
	ActiveOnly Visibility = iota
	// IncludeInactive returns active and soft-deleted rows alike.
	IncludeInactive
)

// Admits reports whether a row with the given active flag is visible.
func (v Visibility) Admits(active bool) bool {
	return v == IncludeInactive || active
}

// OwnerType classifies an owner relative to the property record.
type OwnerType string

// Owner types produced by reconciliation.
const (
	OwnerTypePrimary OwnerType = "PRIMARY"
	OwnerTypeSpouse  OwnerType = "SPOUSE"
	OwnerTypeOther   OwnerType = "OTHER"
)

// Property is a parcel keyed by the provider's RadarID. Nil pointer fields are
// unknown values.
type Property struct {
	ID               int64      `json:"property_id"`
	RadarID          string     `json:"radar_id"`
	ProviderID       string     `json:"provider_id"`
	APN              *string    `json:"apn,omitempty"`
	Address          *string    `json:"address,omitempty"`
	City             *string    `json:"city,omitempty"`
	State            *string    `json:"state,omitempty"`
	Zip              *string    `json:"zip,omitempty"`
	County           *string    `json:"county,omitempty"`
	PropertyType     *string    `json:"property_type,omitempty"`
	YearBuilt        *int       `json:"year_built,omitempty"`
	Bedrooms         *int       `json:"bedrooms,omitempty"`
	Bathrooms        *float64   `json:"bathrooms,omitempty"`
	SquareFeet       *int       `json:"square_feet,omitempty"`
	EstimatedValue   *float64   `json:"estimated_value,omitempty"`
	AvailableEquity  *float64   `json:"available_equity,omitempty"`
	EquityPercent    *float64   `json:"equity_percent,omitempty"`
	TotalLoanBalance *float64   `json:"total_loan_balance,omitempty"`
	AnnualTaxes      *float64   `json:"annual_taxes,omitempty"`
	InForeclosure    *bool      `json:"in_foreclosure,omitempty"`
	ForeclosureStage *string    `json:"foreclosure_stage,omitempty"`
	IsListedForSale  *bool      `json:"is_listed_for_sale,omitempty"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// LoanVersion is a loan row as it stood before an update or deactivation.
type LoanVersion struct {
	Loan
	HistoryID  int64     `json:"history_id"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Owner is a person or entity holding title to a property.
type Owner struct {
	ID               int64     `json:"owner_id"`
	PropertyID       int64     `json:"property_id"`
	FirstName        *string   `json:"first_name,omitempty"`
	LastName         *string   `json:"last_name,omitempty"`
	FullName         *string   `json:"full_name,omitempty"`
	OwnerType        OwnerType `json:"owner_type"`
	IsPrimaryContact bool      `json:"is_primary_contact"`
	HasPhone         bool      `json:"has_phone"`
	HasEmail         bool      `json:"has_email"`
	MailAddress      *string   `json:"mail_address,omitempty"`
	MailCity         *string   `json:"mail_city,omitempty"`
	MailState        *string   `json:"mail_state,omitempty"`
	MailZip          *string   `json:"mail_zip,omitempty"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Loan is the consolidated lien state of a property: first and second
// mortgage details on one row.
type Loan struct {
	ID               int64      `json:"loan_id"`
	PropertyID       int64      `json:"property_id"`
	FirstAmount      *float64   `json:"first_amount,omitempty"`
	FirstRate        float64    `json:"first_rate"`
	FirstRateType    *string    `json:"first_rate_type,omitempty"`
	FirstLoanType    *string    `json:"first_loan_type,omitempty"`
	FirstDate        *time.Time `json:"first_date,omitempty"`
	FirstLender      *string    `json:"first_lender,omitempty"`
	SecondAmount     *float64   `json:"second_amount,omitempty"`
	SecondRate       float64    `json:"second_rate"`
	SecondRateType   *string    `json:"second_rate_type,omitempty"`
	SecondLoanType   *string    `json:"second_loan_type,omitempty"`
	SecondDate       *time.Time `json:"second_date,omitempty"`
	TotalBalance     *float64   `json:"total_balance,omitempty"`
	LTV              *float64   `json:"ltv,omitempty"`
	EstimatedPayment *float64   `json:"estimated_payment,omitempty"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
