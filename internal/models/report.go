package models

import (
	"fmt"
	"time"
)

// RunState tracks a sync run through its lifecycle.
type RunState string

const (
	RunIdle              RunState = "idle"
	RunTokenCheck        RunState = "token_check"
	RunExtracting        RunState = "extracting"
	RunReconciling       RunState = "reconciling"
	RunUpserting         RunState = "upserting"
	RunReporting         RunState = "reporting"
	RunStoppedTokenError RunState = "stopped_token_invalid"
)

// Report summarizes one sync run for one entity type. Partial success is
// always explicit: Failed is never folded into Synced.
type Report struct {
	Entity     EntityType `json:"entity"`
	State      RunState   `json:"state"`
	Fetched    int        `json:"fetched"`
	Deduped    int        `json:"deduped"`
	Existing   int        `json:"existing"`
	Missing    int        `json:"missing"`
	Created    int        `json:"created"`
	Updated    int        `json:"updated"`
	Failed     int        `json:"failed"`
	Pages      int        `json:"pages"`
	Errors     []string   `json:"errors,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Synced is the number of records committed this run.
func (r *Report) Synced() int {
	return r.Created + r.Updated
}

// Summary renders a one-line human-readable result.
func (r *Report) Summary() string {
	return fmt.Sprintf("%s: fetched=%d synced=%d failed=%d (%s)",
		r.Entity, r.Fetched, r.Synced(), r.Failed, r.State)
}

// Succeeded reports whether the run completed without any failures.
func (r *Report) Succeeded() bool {
	return r.State == RunReporting && r.Failed == 0
}

// RunRecord is the persisted history row for one sync run.
type RunRecord struct {
	ID         string     `json:"id"`
	Entity     EntityType `json:"entity"`
	State      RunState   `json:"state"`
	Fetched    int        `json:"fetched"`
	Synced     int        `json:"synced"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}
