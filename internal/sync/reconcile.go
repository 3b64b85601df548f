package sync

import (
	"fmt"
	"time"

	"github.com/firmsync/firmsync/internal/models"
)

// Reconciliation is the outcome of collapsing a fetched page set against
// itself and against the local store.
type Reconciliation struct {
	Unique     []models.ExternalEntity
	Duplicates int
	Invalid    int
	Existing   int
	Missing    int
	Errors     []string
}

// Dedup collapses repeated external IDs. The first occurrence wins;
// later duplicates are dropped. Items without an external ID (malformed
// provider payloads) are counted as invalid and excluded.
func Dedup(entities []models.ExternalEntity) ([]models.ExternalEntity, int, int) {
	seen := make(map[string]struct{}, len(entities))
	unique := make([]models.ExternalEntity, 0, len(entities))
	duplicates := 0
	invalid := 0

	for _, ent := range entities {
		if ent.ExternalID == "" {
			invalid++
			continue
		}
		if _, ok := seen[ent.ExternalID]; ok {
			duplicates++
			continue
		}
		seen[ent.ExternalID] = struct{}{}
		unique = append(unique, ent)
	}
	return unique, duplicates, invalid
}

// Reconcile dedups the fetched set and splits it against the known
// external IDs: entities already present locally versus entities the
// store has never seen. Both partitions are still upserted; the split
// exists for reporting.
func Reconcile(entities []models.ExternalEntity, known map[string]struct{}) Reconciliation {
	unique, duplicates, invalid := Dedup(entities)

	rec := Reconciliation{
		Unique:     unique,
		Duplicates: duplicates,
		Invalid:    invalid,
	}
	if invalid > 0 {
		rec.Errors = append(rec.Errors, fmt.Sprintf("%d items missing an external id", invalid))
	}

	for _, ent := range unique {
		if _, ok := known[ent.ExternalID]; ok {
			rec.Existing++
		} else {
			rec.Missing++
		}
	}
	return rec
}

// ToRecords converts fetched entities into store rows stamped with a
// single sync time for the whole run.
func ToRecords(entity models.EntityType, entities []models.ExternalEntity, syncedAt time.Time) []*models.Record {
	records := make([]*models.Record, 0, len(entities))
	for _, ent := range entities {
		records = append(records, &models.Record{
			Entity:      entity,
			ExternalID:  ent.ExternalID,
			DisplayName: ent.DisplayName,
			Status:      ent.Status,
			Payload:     string(ent.Raw),
			SyncedAt:    syncedAt,
		})
	}
	return records
}
