package models

// EventType identifies the kind of event emitted during a crawl
type EventType string

const (
	EventUnset    EventType = ""         // Zero value = unset/unknown
	EventStatus   EventType = "status"   // Stream opened (API only)
	EventPage     EventType = "page"     // A page was dequeued for processing
	EventQRFound  EventType = "qr_found" // A QR code was decoded
	EventError    EventType = "error"    // A page failed, crawl continues
	EventSummary  EventType = "summary"  // Crawl finished, always last from the crawler
	EventComplete EventType = "complete" // Stream closed (API only)
)

// String implements fmt.Stringer for logging
func (t EventType) String() string {
	if t == "" {
		return "unset"
	}
	return string(t)
}

// IsValid returns true if the type is one the crawler emits
func (t EventType) IsValid() bool {
	switch t {
	case EventPage, EventQRFound, EventError, EventSummary:
		return true
	}
	return false
}

// IsTransport returns true for events only added by a streaming transport
func (t EventType) IsTransport() bool {
	return t == EventStatus || t == EventComplete
}

// Event is one item on the crawl event stream. Fields irrelevant to the
// type are left zero and omitted from JSON.
type Event struct {
	Type           EventType  `json:"type"`
	Message        string     `json:"message,omitempty"`
	URL            string     `json:"url,omitempty"`
	Depth          int        `json:"depth,omitempty"`
	ProcessedCount int        `json:"processedCount,omitempty"`
	TotalQRCodes   int        `json:"totalQRCodes"`
	Finding        *QrFinding `json:"qrData,omitempty"`
	Error          string     `json:"error,omitempty"`
	TotalPages     int        `json:"totalPages,omitempty"`
	VariantCount   int        `json:"wechatQRCodes,omitempty"`
}
