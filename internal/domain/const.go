package domain

import "strconv"

// Event kinds consumed from the feed.
const (
	KindDeletionRequest = 5
	KindFileMetadata    = 1063
	KindCatalogRecord   = 30142
)

// FeedKinds is the kind set sent in every subscription filter.
var FeedKinds = []int{KindDeletionRequest, KindFileMetadata, KindCatalogRecord}

// Source record processing states.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// DefaultSourceName identifies rows owned by this ingestion source.
const DefaultSourceName = "edufeed"

// SourceIdentifier derives the stable source identifier for an event id.
func SourceIdentifier(eventID string) string {
	return "event:" + eventID
}

// RecordType is the stringified kind stored in source_record_type.
func RecordType(kind int) string {
	return strconv.Itoa(kind)
}

// FeedRecordTypes returns the record types covered by the subscription filter.
func FeedRecordTypes() []string {
	types := make([]string, len(FeedKinds))
	for i, k := range FeedKinds {
		types[i] = RecordType(k)
	}
	return types
}

// AllowedMetadataFields is the allow-list of top-level metadata fields kept
// during extraction. Tags whose first path segment is not in this set are
// dropped.
var AllowedMetadataFields = map[string]bool{
	"about":                true,
	"audience":             true,
	"conditionsOfAccess":   true,
	"creator":              true,
	"contributor":          true,
	"dateCreated":          true,
	"dateModified":         true,
	"datePublished":        true,
	"description":          true,
	"educationalLevel":     true,
	"image":                true,
	"inLanguage":           true,
	"interactivityType":    true,
	"isAccessibleForFree":  true,
	"keywords":             true,
	"learningResourceType": true,
	"license":              true,
	"name":                 true,
	"publisher":            true,
	"teaches":              true,
	"type":                 true,
}
