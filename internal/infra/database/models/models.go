package models

import "time"

// SourceRecord stores one ingested protocol event as an opaque source row.
type SourceRecord struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	SourceName       string `gorm:"size:255;uniqueIndex:idx_source_identity"`
	SourceIdentifier string `gorm:"size:255;uniqueIndex:idx_source_identity"`
	SourceURI        string `gorm:"size:512"`
	SourceTimestamp  int64  `gorm:"index"`
	SourceRecordType string `gorm:"size:32;index"`
	Status           string `gorm:"size:16;index"`
	Payload          string `gorm:"type:text"`
	OERID            *uint  `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OER is the normalized catalog row. Metadata and Keywords are stored as JSON
// text; the repository layer owns the encoding.
type OER struct {
	ID                  uint   `gorm:"primaryKey;autoIncrement"`
	URL                 string `gorm:"size:2048;uniqueIndex:idx_oer_url_source"`
	SourceName          string `gorm:"size:255;uniqueIndex:idx_oer_url_source"`
	Name                string `gorm:"size:1024"`
	Description         *string
	Metadata            string `gorm:"type:text"`
	LicenseURI          string `gorm:"size:512"`
	FreeToUse           *bool
	Keywords            string `gorm:"type:text"`
	FileMimeType        *string `gorm:"size:255"`
	FileDim             *string `gorm:"size:64"`
	FileSize            *int64
	FileAlt             *string
	FileEventID         *string `gorm:"size:255;index"`
	AudienceURI         string `gorm:"size:512"`
	EducationalLevelURI string `gorm:"size:512"`
	Attribution         string `gorm:"size:1024"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
