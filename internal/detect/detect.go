// Package detect compares the entities from the latest poll with the last
// recorded snapshot.
package detect

import "github.com/nhle/taskwatch/internal/model"

// Diff classifies each current entity against previous and returns the
// events to notify plus the snapshot to record next.
//
// An entity missing from previous yields EventNewEntity. An entity whose
// Total grew yields EventCountIncreased with the delta. Unchanged or
// decreased totals yield nothing.
//
// next covers exactly the IDs in current. Entities that disappeared from
// the API are dropped from next without an event; disappearance is not a
// notifiable change.
func Diff(current []model.Entity, previous model.Snapshot) ([]model.Event, model.Snapshot) {
	var events []model.Event
	next := make(model.Snapshot, len(current))

	for _, e := range current {
		if _, seen := next[e.ID]; seen {
			// Duplicate IDs within one response: the first entry wins.
			continue
		}
		next[e.ID] = e.Total

		last, ok := previous[e.ID]
		switch {
		case !ok:
			events = append(events, model.Event{
				Kind:   model.EventNewEntity,
				Entity: e,
			})
		case e.Total > last:
			events = append(events, model.Event{
				Kind:   model.EventCountIncreased,
				Entity: e,
				Delta:  e.Total - last,
			})
		}
	}

	return events, next
}
