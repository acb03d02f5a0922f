package model

import (
	"encoding/json"
	"time"
)

// UnitStatus is the lifecycle state of an ingestion unit.
type UnitStatus string

// Unit statuses.
const (
	UnitPending    UnitStatus = "PENDING"
	UnitProcessing UnitStatus = "PROCESSING"
	UnitCompleted  UnitStatus = "COMPLETED"
	UnitFailed     UnitStatus = "FAILED"
)

// Terminal reports whether no worker will move the unit further.
func (s UnitStatus) Terminal() bool {
	return s == UnitCompleted || s == UnitFailed
}

// Valid reports whether s is a known status.
func (s UnitStatus) Valid() bool {
	switch s {
	case UnitPending, UnitProcessing, UnitCompleted, UnitFailed:
		return true
	}
	return false
}

// UnitKind distinguishes file uploads from provider criteria jobs.
type UnitKind string

// Unit kinds.
const (
	UnitKindFile     UnitKind = "FILE"
	UnitKindCriteria UnitKind = "CRITERIA"
)

// IngestionUnit is one tracked batch of provider records. Parents group
// criteria children and carry only derived state.
type IngestionUnit struct {
	ID               int64           `json:"unit_id"`
	Kind             UnitKind        `json:"kind"`
	Name             string          `json:"name"`
	SourcePath       string          `json:"source_path,omitempty"`
	Criteria         json.RawMessage `json:"criteria,omitempty"`
	CampaignID       *int64          `json:"campaign_id,omitempty"`
	ProviderID       string          `json:"provider_id"`
	Status           UnitStatus      `json:"status"`
	Priority         int             `json:"priority"`
	ParentID         *int64          `json:"parent_id,omitempty"`
	IsParent         bool            `json:"is_parent"`
	BatchNumber      int             `json:"batch_number,omitempty"`
	Offset           int             `json:"offset,omitempty"`
	Size             int             `json:"size,omitempty"`
	PropertiesCount  int             `json:"properties_count"`
	ProcessedRecords int             `json:"processed_records"`
	SuccessCount     int             `json:"success_count"`
	ErrorCount       int             `json:"error_count"`
	ErrorDetails     string          `json:"error_details,omitempty"`
	ClaimedBy        string          `json:"claimed_by,omitempty"`
	ClaimToken       string          `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	RequeuedAt       *time.Time      `json:"requeued_at,omitempty"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// UnitCounts are the record tallies carried by a unit.
type UnitCounts struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Success   int `json:"success"`
	Errors    int `json:"errors"`
}

// Counts returns the unit's tallies.
func (u *IngestionUnit) Counts() UnitCounts {
	return UnitCounts{
		Total:     u.PropertiesCount,
		Processed: u.ProcessedRecords,
		Success:   u.SuccessCount,
		Errors:    u.ErrorCount,
	}
}

// Claim identifies one worker's hold on a PROCESSING unit. Reset clears the
// token, so a worker still running a reset unit can no longer write to it.
type Claim struct {
	UnitID int64
	Token  string
}

// Claim returns the hold taken when u was claimed.
func (u *IngestionUnit) Claim() Claim {
	return Claim{UnitID: u.ID, Token: u.ClaimToken}
}

// Progress is the polled view of a unit.
type Progress struct {
	UnitID    int64      `json:"unit_id"`
	Status    UnitStatus `json:"status"`
	Processed int        `json:"processed"`
	Total     int        `json:"total"`
	Success   int        `json:"success"`
	Errors    int        `json:"errors"`
	Percent   float64    `json:"percent"`
}

// LogLevel grades a unit log line.
type LogLevel string

// Log levels.
const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// UnitLog is one ordered log line attached to a unit.
type UnitLog struct {
	ID         int64     `json:"log_id"`
	UnitID     int64     `json:"unit_id"`
	Level      LogLevel  `json:"level"`
	RadarID    string    `json:"radar_id,omitempty"`
	ErrorClass string    `json:"error_class,omitempty"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}
