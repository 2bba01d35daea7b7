package model

// Artifact records one persisted stream of a session. Absent streams are
// kept with Present=false so that gaps stay visible in the catalog.
type Artifact struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Stream    string `gorm:"primaryKey;size:64"`
	Path      string `gorm:"size:1024"`
	RowCount  int    `gorm:"not null"`
	Present   bool   `gorm:"not null"`
}
