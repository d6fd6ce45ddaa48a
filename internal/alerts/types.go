// Package alerts classifies, throttles, and emits operator notifications.
// Dispatch never blocks the caller beyond the outbound call itself, and send
// failures are logged rather than escalated.
package alerts

import "time"

// Priority levels, matching the push provider's scale.
const (
	PriorityNormal    = 0
	PriorityHigh      = 1
	PriorityEmergency = 2
)

// Type identifies one alert variant.
type Type string

// Alert variants.
const (
	TypeScrapeTriggerFailed    Type = "scrape_trigger_failed"
	TypeScrapeTimeout          Type = "scrape_timeout"
	TypeScrapeProcessingFailed Type = "scrape_processing_failed"
	TypeEmptyScrapePayload     Type = "empty_scrape_payload"
	TypePipelineFailed         Type = "pipeline_failed"
	TypeLLMAnalysisFailed      Type = "llm_analysis_failed"
	TypePriceAnalysisFailed    Type = "price_analysis_failed"
	TypeMetadataScrapeFailed   Type = "metadata_scrape_failed"
	TypeSessionExpired         Type = "session_expired"
	TypeDatabaseError          Type = "database_error"
	TypeServicePanic           Type = "service_panic"
	TypeCleanupFailed          Type = "cleanup_failed"
)

// Meta is the fixed metadata of an alert variant.
type Meta struct {
	DisplayName string
	Priority    int
	Sound       string
	Throttled   bool
	Throttle    time.Duration
}

// catalog holds the metadata for every alert variant. Emergency variants are
// never throttled.
var catalog = map[Type]Meta{
	TypeScrapeTriggerFailed:    {DisplayName: "Scrape Trigger Failed", Priority: PriorityHigh, Sound: "falling", Throttled: true, Throttle: 15 * time.Minute},
	TypeScrapeTimeout:          {DisplayName: "Scrape Timed Out", Priority: PriorityHigh, Sound: "falling", Throttled: true, Throttle: 30 * time.Minute},
	TypeScrapeProcessingFailed: {DisplayName: "Scrape Processing Failed", Priority: PriorityHigh, Sound: "falling", Throttled: true, Throttle: 15 * time.Minute},
	TypeEmptyScrapePayload:     {DisplayName: "Empty Scrape Payload", Priority: PriorityNormal, Throttled: true, Throttle: time.Hour},
	TypePipelineFailed:         {DisplayName: "Analysis Pipeline Failed", Priority: PriorityHigh, Sound: "siren", Throttled: true, Throttle: 15 * time.Minute},
	TypeLLMAnalysisFailed:      {DisplayName: "LLM Analysis Failed", Priority: PriorityHigh, Sound: "falling", Throttled: true, Throttle: 30 * time.Minute},
	TypePriceAnalysisFailed:    {DisplayName: "Price Analysis Failed", Priority: PriorityNormal, Throttled: true, Throttle: time.Hour},
	TypeMetadataScrapeFailed:   {DisplayName: "Metadata Scrape Failed", Priority: PriorityNormal, Throttled: true, Throttle: 30 * time.Minute},
	TypeSessionExpired:         {DisplayName: "Session Expired", Priority: PriorityNormal, Throttled: true, Throttle: time.Hour},
	TypeDatabaseError:          {DisplayName: "Database Error", Priority: PriorityEmergency, Sound: "persistent"},
	TypeServicePanic:           {DisplayName: "Service Panic", Priority: PriorityEmergency, Sound: "persistent"},
	TypeCleanupFailed:          {DisplayName: "Session Cleanup Failed", Priority: PriorityNormal, Throttled: true, Throttle: 2 * time.Hour},
}

// Lookup returns the metadata for a Type. Unknown types get a generic
// normal-priority entry so a bad call still produces a visible alert.
func Lookup(t Type) Meta {
	if m, ok := catalog[t]; ok {
		return m
	}
	return Meta{DisplayName: string(t), Priority: PriorityNormal}
}
