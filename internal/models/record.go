package models

import "time"

// Record is the platform-side row for a synced remote entity. It is keyed
// 1:1 to the provider's external ID via a uniqueness constraint; sync
// creates it when absent and overwrites it in place when present.
type Record struct {
	ID          int64      `json:"id"`
	Entity      EntityType `json:"entity"`
	ExternalID  string     `json:"external_id"`
	DisplayName string     `json:"display_name"`
	Status      string     `json:"status,omitempty"`
	Payload     string     `json:"payload"`
	SyncedAt    time.Time  `json:"synced_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// UpsertResult is the outcome of committing one batch of records.
type UpsertResult struct {
	Created int
	Updated int
	Failed  int
	Errors  []string
}

// Add folds another result into this one.
func (r *UpsertResult) Add(other UpsertResult) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}
