package domain

import "time"

// Cycle outcomes.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
)

// CycleEvent summarizes one refresh cycle of a harbor.
type CycleEvent struct {
	ID              string    `json:"id"`
	Harbor          string    `json:"harbor"`
	Outcome         string    `json:"outcome"`
	RepairedDomains []Kind    `json:"repaired_domains,omitempty"`
	FailedDomains   []Kind    `json:"failed_domains,omitempty"`
	Error           string    `json:"error,omitempty"`
	At              time.Time `json:"at"`
}
