package models

import "time"

// SequenceCounter stores the last issued reference sequence per prefix and day.
// Rows are only ever touched through an atomic upsert.
type SequenceCounter struct {
	Prefix    string    `gorm:"primaryKey;size:2" json:"prefix"`
	Day       string    `gorm:"primaryKey;size:6" json:"day"` // YYMMDD
	LastValue int       `gorm:"not null;default:0" json:"last_value"`
	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (SequenceCounter) TableName() string { return "sequence_counters" }
