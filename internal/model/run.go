package model

import "time"

// RunSummary is the caller-visible report produced by every crawl run,
// whether or not individual items failed.
type RunSummary struct {
	ScrapedAt          time.Time         `json:"scraped_at"`
	ResortsStored      int               `json:"resorts_stored"`
	ResortsTotal       int               `json:"resorts_total"`
	RoomsStored        int               `json:"rooms_stored"`
	AvailabilityStored int               `json:"availability_stored"`
	ProcessedResorts   int               `json:"processed_resorts"`
	ExecutedStages     []string          `json:"executed_stages"`
	SkippedStages      []string          `json:"skipped_stages"`
	Errors             int               `json:"errors"`
	PlanReason         string            `json:"plan_reason"`
	NextEligible       map[string]string `json:"next_eligible"`
}
