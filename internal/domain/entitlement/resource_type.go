package entitlement

import "fmt"

// ResourceType represents a metered resource gated by subscription entitlements
type ResourceType string

const (
	// ResourceTranscriptionMinutes tracks minutes of audio/video transcribed
	ResourceTranscriptionMinutes ResourceType = "TRANSCRIPTION_MINUTES"

	// ResourceDocumentPages tracks PDF/document pages processed through OCR
	ResourceDocumentPages ResourceType = "DOCUMENT_PAGES"

	// ResourceStorageGB tracks storage consumption in gigabytes
	ResourceStorageGB ResourceType = "STORAGE_GB"

	// ResourceAPICalls tracks the number of API requests made
	ResourceAPICalls ResourceType = "API_CALLS"
)

// String returns the string representation of ResourceType
func (r ResourceType) String() string {
	return string(r)
}

// IsValid returns true if the resource type is valid
func (r ResourceType) IsValid() bool {
	switch r {
	case ResourceTranscriptionMinutes,
		ResourceDocumentPages,
		ResourceStorageGB,
		ResourceAPICalls:
		return true
	}
	return false
}

// ParseResourceType parses a string into a ResourceType
func ParseResourceType(s string) (ResourceType, error) {
	r := ResourceType(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown resource type: %q", s)
	}
	return r, nil
}

// Unit returns the measurement unit for this resource type
func (r ResourceType) Unit() ResourceUnit {
	switch r {
	case ResourceTranscriptionMinutes:
		return UnitMinutes
	case ResourceDocumentPages:
		return UnitPages
	case ResourceStorageGB:
		return UnitGigabytes
	default:
		return UnitRequests
	}
}

// IsDeferred returns true if the true cost of this resource is only known
// after the gated work completes (transcription duration, page counts),
// which is why admission works on estimates that are settled later.
func (r ResourceType) IsDeferred() bool {
	switch r {
	case ResourceTranscriptionMinutes, ResourceDocumentPages:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the resource type
func (r ResourceType) DisplayName() string {
	switch r {
	case ResourceTranscriptionMinutes:
		return "Transcription Minutes"
	case ResourceDocumentPages:
		return "Document Pages"
	case ResourceStorageGB:
		return "Storage"
	case ResourceAPICalls:
		return "API Calls"
	default:
		return string(r)
	}
}

// AllResourceTypes returns all valid resource types
func AllResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceTranscriptionMinutes,
		ResourceDocumentPages,
		ResourceStorageGB,
		ResourceAPICalls,
	}
}

// ResourceUnit represents the unit of measurement for a resource
type ResourceUnit string

const (
	// UnitMinutes measures media duration in minutes
	UnitMinutes ResourceUnit = "minutes"

	// UnitPages measures documents in pages
	UnitPages ResourceUnit = "pages"

	// UnitGigabytes measures storage in gigabytes
	UnitGigabytes ResourceUnit = "gigabytes"

	// UnitRequests counts individual requests
	UnitRequests ResourceUnit = "requests"
)

// String returns the string representation of ResourceUnit
func (u ResourceUnit) String() string {
	return string(u)
}

// FormatValue formats an amount with its unit suffix
func (u ResourceUnit) FormatValue(v int64) string {
	switch u {
	case UnitMinutes:
		return fmt.Sprintf("%d min", v)
	case UnitPages:
		return fmt.Sprintf("%d pages", v)
	case UnitGigabytes:
		return fmt.Sprintf("%d GB", v)
	default:
		return fmt.Sprintf("%d requests", v)
	}
}
