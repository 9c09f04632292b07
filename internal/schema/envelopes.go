package schema

import "time"

// LLMProvider identifies which LLM backend produced an extraction
// (spec.md §3.2).
type LLMProvider string

const (
	ProviderGemini     LLMProvider = "gemini"
	ProviderOpenRouter LLMProvider = "openrouter"
)

// InvoiceUploaded is published by the (external) ingestion path when a
// TIFF lands in the landing bucket. Stage 1 consumes it.
type InvoiceUploaded struct {
	EventTime  time.Time `json:"event_time"`
	Bucket     string    `json:"bucket"`
	ObjectName string    `json:"object_name"`
}

// InvoiceConverted is published by Stage 1. Stage 2 consumes it.
type InvoiceConverted struct {
	EventTime     time.Time `json:"event_time"`
	SourceURI     string    `json:"source_uri"`
	ConvertedURIs []string  `json:"converted_uris"`
	PageCount     int       `json:"page_count"`
}

// InvoiceClassified is published by Stage 2. Stage 3 consumes it.
type InvoiceClassified struct {
	EventTime     time.Time  `json:"event_time"`
	SourceURI     string     `json:"source_uri"`
	ConvertedURIs []string   `json:"converted_uris"`
	PageCount     int        `json:"page_count"`
	VendorType    VendorType `json:"vendor_type"`
	QualityScore  float64    `json:"quality_score"`
	ArchivedURI   string     `json:"archived_uri"`
}

// InvoiceExtracted is published by Stage 3 on success. Stage 4 consumes it.
type InvoiceExtracted struct {
	EventTime     time.Time   `json:"event_time"`
	SourceURI     string      `json:"source_uri"`
	VendorType    VendorType  `json:"vendor_type"`
	Provider      LLMProvider `json:"provider"`
	LLMLatencyMs  int64       `json:"llm_latency_ms"`
	Confidence    float64     `json:"confidence"`
	Extracted     Invoice     `json:"extracted"`
	AttemptCount  int         `json:"attempt_count"`
	InputTokens   int64       `json:"input_tokens"`
	OutputTokens  int64       `json:"output_tokens"`
	TotalLatency  int64       `json:"total_latency_ms"`
	TraceID       string      `json:"trace_id"`
}

// DeadLetter wraps any of the four envelopes with failure-routing
// metadata (spec.md §6.1: "original envelope + {reason, attempts,
// last_error}").
type DeadLetter struct {
	EventTime  time.Time   `json:"event_time"`
	Stage      string      `json:"stage"`
	SourceURI  string      `json:"source_uri"`
	Reason     string      `json:"reason"`
	Attempts   int         `json:"attempts"`
	LastError  string      `json:"last_error"`
	Original   interface{} `json:"original,omitempty"`
}
