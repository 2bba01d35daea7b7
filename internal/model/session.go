package model

import "time"

// Session is the catalog entry of one processed recording session.
type Session struct {
	ID              string `gorm:"primaryKey;size:64"` // <date>_<time>
	Name            string `gorm:"size:128;not null"`
	StartDate       string `gorm:"size:32;index;not null"`
	Dir             string `gorm:"size:1024;not null"`
	PreprocDir      string `gorm:"size:1024"`
	StartedAt       *time.Time
	StoppedAt       *time.Time
	DurationSeconds float64 `gorm:"not null;index"`
	RewardEvents    int     `gorm:"not null"`
	RewardVolume    float64 `gorm:"not null"`
	LickBouts       int     `gorm:"not null"`
	Notes           string
	ProcessedAt     time.Time `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Associations
	Artifacts []Artifact `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}
