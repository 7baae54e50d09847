package reporting

import (
	"time"

	"callsense/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest asks for aggregates over one company's calls created in [From, To).
type CallsSummaryRequest struct {
	CompanyID string    `json:"company_id"`
	Range     TimeRange `json:"range"`
}

type CallsSummary struct {
	CompanyID string    `json:"company_id"`
	Range     TimeRange `json:"range"`

	TotalCalls        int `json:"total_calls"`
	PendingCalls      int `json:"pending_calls"`
	TranscribingCalls int `json:"transcribing_calls"`
	DoneCalls         int `json:"done_calls"`
	FailedCalls       int `json:"failed_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// Breakdowns cover done calls only.
	BySentiment map[calls.Sentiment]int `json:"by_sentiment"`
	ByUrgency   map[calls.Urgency]int   `json:"by_urgency"`
	TopTags     []TagCount              `json:"top_tags"`

	// OpenBusinessActions counts action items the business owns.
	OpenBusinessActions int `json:"open_business_actions"`
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}
