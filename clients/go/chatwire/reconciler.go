package chatwire

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatwire/internal/models"
)

// ErrStaleContext marks a load result that arrived after its room
// context was replaced. Callers drop the result; nothing is surfaced.
var ErrStaleContext = errors.New("load result from a stale room context")

// ViewState is the lifecycle of a RoomView.
type ViewState int

const (
	// StateIdle: no room loaded.
	StateIdle ViewState = iota
	// StateLoading: initial history fetch in flight; live events buffer.
	StateLoading
	// StateSubscribed: history loaded, live events apply directly.
	StateSubscribed
	// StateStale: the stream dropped; state renders but may lag.
	StateStale
	// StateResyncing: re-fetch in flight after a drop; events buffer again.
	StateResyncing
)

func (s ViewState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSubscribed:
		return "subscribed"
	case StateStale:
		return "stale"
	case StateResyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// RoomView reconciles one room's state from two unordered sources: bulk
// history loads and the live event stream. Loads are tagged with a
// monotonically increasing token; a result whose token no longer
// matches the live context is discarded, so switching rooms mid-flight
// can never bleed one room's history into another.
//
// All methods are safe for concurrent use; loads and stream events
// typically arrive from different goroutines.
type RoomView struct {
	mu sync.Mutex

	state    ViewState
	roomID   uuid.UUID
	room     *models.Room
	presence *models.RoomPresence

	messages []models.Message
	seen     map[string]bool

	// Events arriving while a load is in flight. Merged and dropped as
	// duplicates once the load lands.
	pending []models.Message

	token int64
}

// NewRoomView creates an empty view.
func NewRoomView() *RoomView {
	return &RoomView{seen: make(map[string]bool)}
}

// BeginLoad switches the view to a new room and returns the token the
// load result must present. Any in-flight load for a previous call is
// invalidated.
func (v *RoomView) BeginLoad(roomID uuid.UUID) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.token++
	v.state = StateLoading
	v.roomID = roomID
	v.room = nil
	v.presence = nil
	v.messages = nil
	v.pending = nil
	v.seen = make(map[string]bool)

	return v.token
}

// CompleteLoad installs a history load. Events buffered while the load
// was in flight are merged in, duplicates dropped by message id, and
// the result re-sorted by (created_at, id). Returns ErrStaleContext if
// the token no longer matches the live context.
func (v *RoomView) CompleteLoad(token int64, room *models.Room, history []models.Message) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if token != v.token {
		return ErrStaleContext
	}

	v.room = room

	// A fresh load replaces the snapshot. A resync merges into it, so
	// pages scrolled in before the drop survive the reconnect.
	if v.state != StateResyncing {
		v.messages = nil
		v.seen = make(map[string]bool)
	}

	for _, m := range history {
		v.insertLocked(m)
	}
	for _, m := range v.pending {
		v.insertLocked(m)
	}
	v.pending = nil

	sort.Slice(v.messages, func(i, j int) bool {
		return v.messages[i].Before(&v.messages[j])
	})

	v.state = StateSubscribed
	return nil
}

// FailLoad abandons an in-flight load. Stale tokens are ignored.
func (v *RoomView) FailLoad(token int64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if token != v.token {
		return
	}
	v.pending = nil
	v.state = StateIdle
}

// Apply feeds one stream event into the view. Events for other rooms
// are discarded. Message events buffer during a load and append live
// when subscribed; room and presence events always update the snapshot.
func (v *RoomView) Apply(ev *models.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Type {
	case models.EventRoomCreated, models.EventRoomUpdated:
		if ev.Room == nil || ev.Room.ID != v.roomID {
			return
		}
		v.room = ev.Room

	case models.EventMessageInserted:
		if ev.Message == nil || ev.Message.RoomID != v.roomID {
			return
		}
		switch v.state {
		case StateLoading, StateResyncing:
			v.pending = append(v.pending, *ev.Message)
		case StateSubscribed, StateStale:
			v.insertLocked(*ev.Message)
			// Stream delivery is ordered per connection, but a resync
			// merge may have landed newer rows already.
			sort.Slice(v.messages, func(i, j int) bool {
				return v.messages[i].Before(&v.messages[j])
			})
		}

	case models.EventPresenceChanged:
		if ev.Presence == nil || ev.Presence.RoomID != v.roomID {
			return
		}
		v.presence = ev.Presence
	}
}

// MarkStale flags the view after a stream drop. The snapshot keeps
// rendering; the caller is expected to BeginResync once reconnected.
func (v *RoomView) MarkStale() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateSubscribed {
		v.state = StateStale
	}
}

// BeginResync starts a re-fetch after a drop, keeping the current
// snapshot visible. Returns the token for the refreshed load.
func (v *RoomView) BeginResync() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.token++
	v.state = StateResyncing
	v.pending = nil
	return v.token
}

// insertLocked appends a message unless its id was already seen.
func (v *RoomView) insertLocked(m models.Message) {
	if v.seen[m.ID] {
		return
	}
	v.seen[m.ID] = true
	v.messages = append(v.messages, m)
}

// State returns the current lifecycle state.
func (v *RoomView) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Room returns the last known room snapshot, or nil before any load.
func (v *RoomView) Room() *models.Room {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.room
}

// Presence returns the last known presence aggregate, or nil.
func (v *RoomView) Presence() *models.RoomPresence {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.presence
}

// Messages returns a copy of the reconciled, ordered message list.
func (v *RoomView) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]models.Message, len(v.messages))
	copy(out, v.messages)
	return out
}
