package domain

import "time"

// SourceRecord is the raw, as-ingested representation of one protocol event.
// (source_name, source_identifier) is unique: re-ingesting the same event id
// is a no-op.
type SourceRecord struct {
	ID               uint
	SourceName       string
	SourceIdentifier string
	SourceURI        string
	SourceTimestamp  int64
	SourceRecordType string
	Status           string
	Payload          string
	OERID            *uint
}

// OER is the normalized catalog record merged from one or more source events.
// (url, source_name) is unique; the same URL may be asserted by independent
// sources.
type OER struct {
	ID                  uint
	URL                 string
	SourceName          string
	Name                string
	Description         *string
	Metadata            map[string]any
	LicenseURI          string
	FreeToUse           *bool
	Keywords            []string
	FileMimeType        *string
	FileDim             *string
	FileSize            *int64
	FileAlt             *string
	FileEventID         *string
	AudienceURI         string
	EducationalLevelURI string
	Attribution         string
}

// ResourceAttributes is the typed result of parsing a catalog event's tags.
type ResourceAttributes struct {
	URL           string
	Name          string
	Metadata      map[string]any
	LicenseURI    string
	FreeToUse     *bool
	Keywords      []string
	FileEventID   string
	Description   string
	DateCreated   *time.Time
	DatePublished *time.Time
	DateModified  *time.Time
	Latest        *time.Time
}

// FileAttributes holds the file-derived fields resolved from a linked
// file-metadata event.
type FileAttributes struct {
	MimeType    string
	Dim         string
	Size        *int64
	Alt         string
	Description string
}

// SaveOutcome discriminates the result of persisting an ingested event.
type SaveOutcome int

const (
	SaveOutcomeUnknown SaveOutcome = iota
	SaveOutcomeCreated
	SaveOutcomeDuplicate
)

func (o SaveOutcome) String() string {
	switch o {
	case SaveOutcomeCreated:
		return "created"
	case SaveOutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}
