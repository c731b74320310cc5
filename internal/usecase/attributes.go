package usecase

import (
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/domain"
)

func firstTagValue(ev *nostr.Event, name string) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

func tagValues(ev *nostr.Event, name string) []string {
	var values []string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			values = append(values, tag[1])
		}
	}
	return values
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseFlexibleDate accepts ISO-8601 variants and Unix epoch seconds.
func parseFlexibleDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		if epoch <= 0 {
			return nil
		}
		t := time.Unix(epoch, 0).UTC()
		return &t
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func laterOf(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.After(*b) {
		return a
	}
	return b
}

// setMetadataPath writes value into the nested metadata map, interpreting
// colon-delimited path segments. Repeated leaves collect into a slice.
func setMetadataPath(metadata map[string]any, segments []string, value string) {
	current := metadata
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[seg] = next
		}
		current = next
	}
	leaf := segments[len(segments)-1]
	switch existing := current[leaf].(type) {
	case nil:
		current[leaf] = value
	case string:
		current[leaf] = []string{existing, value}
	case []string:
		current[leaf] = append(existing, value)
	default:
		current[leaf] = value
	}
}

// metadataString walks the nested metadata map and returns the string leaf at
// the given path, or the first element when the leaf collected into a slice.
func metadataString(metadata map[string]any, path ...string) string {
	var node any = metadata
	for _, seg := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return ""
		}
		node = m[seg]
	}
	switch v := node.(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// ExtractAttributes interprets a catalog event's tags into typed attributes:
// the resource URL from the d tag, colon-path tags into nested metadata
// filtered by the allow-list, keywords from repeated t tags, the linked file
// event from the e tag, and the three optional content dates.
func ExtractAttributes(ev *nostr.Event) domain.ResourceAttributes {
	attrs := domain.ResourceAttributes{
		Metadata: map[string]any{},
	}

	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] == "" || tag[1] == "" {
			continue
		}
		name, value := tag[0], tag[1]
		switch name {
		case "d":
			if attrs.URL == "" {
				attrs.URL = value
			}
			continue
		case "t":
			attrs.Keywords = append(attrs.Keywords, value)
			continue
		case "e":
			if attrs.FileEventID == "" {
				attrs.FileEventID = value
			}
			continue
		}
		segments := strings.Split(name, ":")
		if !domain.AllowedMetadataFields[segments[0]] {
			continue
		}
		setMetadataPath(attrs.Metadata, segments, value)
	}

	if len(attrs.Keywords) > 0 {
		attrs.Metadata["keywords"] = attrs.Keywords
	}

	attrs.Name = metadataString(attrs.Metadata, "name")
	attrs.Description = metadataString(attrs.Metadata, "description")
	attrs.LicenseURI = metadataString(attrs.Metadata, "license", "id")
	if attrs.LicenseURI == "" {
		attrs.LicenseURI = metadataString(attrs.Metadata, "license")
	}
	if v := metadataString(attrs.Metadata, "isAccessibleForFree"); v != "" {
		free := v == "true"
		attrs.FreeToUse = &free
	}

	attrs.DateCreated = parseFlexibleDate(metadataString(attrs.Metadata, "dateCreated"))
	attrs.DatePublished = parseFlexibleDate(metadataString(attrs.Metadata, "datePublished"))
	attrs.DateModified = parseFlexibleDate(metadataString(attrs.Metadata, "dateModified"))
	attrs.Latest = laterOf(laterOf(attrs.DateCreated, attrs.DatePublished), attrs.DateModified)

	return attrs
}

// latestMetadataDate recomputes the latest content date from a stored
// metadata object, mirroring ExtractAttributes.
func latestMetadataDate(metadata map[string]any) *time.Time {
	created := parseFlexibleDate(metadataString(metadata, "dateCreated"))
	published := parseFlexibleDate(metadataString(metadata, "datePublished"))
	modified := parseFlexibleDate(metadataString(metadata, "dateModified"))
	return laterOf(laterOf(created, published), modified)
}

// FileAttributesFromEvent reads the NIP-94 tags of a file-metadata event.
// The event content serves as a fallback description.
func FileAttributesFromEvent(ev *nostr.Event) domain.FileAttributes {
	fa := domain.FileAttributes{
		MimeType:    firstTagValue(ev, "m"),
		Dim:         firstTagValue(ev, "dim"),
		Alt:         firstTagValue(ev, "alt"),
		Description: strings.TrimSpace(ev.Content),
	}
	if raw := firstTagValue(ev, "size"); raw != "" {
		if size, err := strconv.ParseInt(raw, 10, 64); err == nil {
			fa.Size = &size
		}
	}
	return fa
}
