// Package counterpart reduces a one-to-one activity history (appointments,
// chat messages) to one summary row per counterpart, most recent first.
package counterpart

import (
	"sort"
	"time"
)

// Record is one timestamped entry between an owner and a counterpart.
type Record[P any] struct {
	ID            string
	OwnerID       string
	CounterpartID string
	At            time.Time
	Payload       P
}

// Row summarises the latest record exchanged with a counterpart.
type Row[P any] struct {
	CounterpartID string
	RecordID      string
	LatestAt      time.Time
	Payload       P
}

// Latest partitions records by counterpart, keeps the newest record of each
// partition and orders the partitions by that record's timestamp, descending.
//
// When viewerID is non-empty only records owned by the viewer are considered.
// Timestamp ties inside a partition go to the lexically greater record ID;
// ties between partitions are ordered by counterpart ID.
func Latest[P any](records []Record[P], viewerID string) []Row[P] {
	latest := make(map[string]Record[P])
	for _, rec := range records {
		if viewerID != "" && rec.OwnerID != viewerID {
			continue
		}
		if rec.CounterpartID == "" {
			continue
		}
		cur, ok := latest[rec.CounterpartID]
		if !ok || newer(rec, cur) {
			latest[rec.CounterpartID] = rec
		}
	}

	rows := make([]Row[P], 0, len(latest))
	for id, rec := range latest {
		rows = append(rows, Row[P]{
			CounterpartID: id,
			RecordID:      rec.ID,
			LatestAt:      rec.At,
			Payload:       rec.Payload,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].LatestAt.Equal(rows[j].LatestAt) {
			return rows[i].LatestAt.After(rows[j].LatestAt)
		}
		return rows[i].CounterpartID < rows[j].CounterpartID
	})
	return rows
}

func newer[P any](a, b Record[P]) bool {
	if !a.At.Equal(b.At) {
		return a.At.After(b.At)
	}
	return a.ID > b.ID
}
