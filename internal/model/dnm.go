package model

import "time"

// Identifiers names a record for suppression checks. Any subset may be set.
type Identifiers struct {
	LoanID     *int64  `json:"loan_id,omitempty"`
	PropertyID *int64  `json:"property_id,omitempty"`
	RadarID    *string `json:"radar_id,omitempty"`
}

// Empty reports whether no identifier is set.
func (i Identifiers) Empty() bool {
	return i.LoanID == nil && i.PropertyID == nil && (i.RadarID == nil || *i.RadarID == "")
}

// DnmEntry is a Do-Not-Mail registry entry. Removal is a soft delete that
// records who lifted the block and when.
type DnmEntry struct {
	ID         int64      `json:"dnm_id"`
	LoanID     *int64     `json:"loan_id,omitempty"`
	PropertyID *int64     `json:"property_id,omitempty"`
	RadarID    *string    `json:"radar_id,omitempty"`
	Reason     string     `json:"reason"`
	Source     string     `json:"source"`
	BlockedBy  string     `json:"blocked_by"`
	BlockedAt  time.Time  `json:"blocked_at"`
	IsActive   bool       `json:"is_active"`
	RemovedBy  *string    `json:"removed_by,omitempty"`
	RemovedAt  *time.Time `json:"removed_at,omitempty"`
}

// Identifiers returns the identifiers the entry blocks.
func (e *DnmEntry) Identifiers() Identifiers {
	return Identifiers{LoanID: e.LoanID, PropertyID: e.PropertyID, RadarID: e.RadarID}
}
