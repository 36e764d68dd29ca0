package model

// Entity is a project as reported by the tracker on the latest poll. It is
// rebuilt from every response; only its Total survives in a Snapshot.
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Total is the task count tracked between polls.
	Total int `json:"total"`

	// Draft is the number of tasks still available to pick up.
	Draft int `json:"draft"`
}

// Snapshot maps an entity ID to the Total seen on the last recorded poll.
type Snapshot map[string]int

// Equal reports whether both snapshots hold the same IDs and counts.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for id, count := range s {
		if c, ok := other[id]; !ok || c != count {
			return false
		}
	}
	return true
}

// EventKind distinguishes the notifiable changes between two polls.
type EventKind string

const (
	EventNewEntity      EventKind = "new_entity"
	EventCountIncreased EventKind = "count_increased"
)

// Event is a single change detected for one entity.
type Event struct {
	Kind   EventKind `json:"kind"`
	Entity Entity    `json:"entity"`

	// Delta is the increase in Total. Zero for EventNewEntity.
	Delta int `json:"delta"`
}
