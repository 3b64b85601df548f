package models

import (
	"encoding/json"
	"time"
)

// EntityType names a synchronizable remote collection.
type EntityType string

const (
	EntityUsers     EntityType = "users"
	EntityContacts  EntityType = "contacts"
	EntityExchanges EntityType = "exchanges" // remote "matters"
	EntityTasks     EntityType = "tasks"
)

// AllEntityTypes lists entity types in sync order.
func AllEntityTypes() []EntityType {
	return []EntityType{EntityUsers, EntityContacts, EntityExchanges, EntityTasks}
}

// Valid reports whether the entity type is known.
func (e EntityType) Valid() bool {
	switch e {
	case EntityUsers, EntityContacts, EntityExchanges, EntityTasks:
		return true
	}
	return false
}

// ExternalEntity is the in-flight representation of one remote record.
// It is never persisted on its own; the sync engine maps it to a Record.
type ExternalEntity struct {
	ExternalID  string          `json:"external_id"`
	DisplayName string          `json:"display_name"`
	Status      string          `json:"status,omitempty"`
	Raw         json.RawMessage `json:"raw"`
	FetchedAt   time.Time       `json:"fetched_at"`
}
