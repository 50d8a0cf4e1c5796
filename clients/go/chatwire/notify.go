package chatwire

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatwire/internal/models"
)

// CoalesceWindow is how long the inbox holds a room's updates before
// emitting one merged notification for them.
const CoalesceWindow = 100 * time.Millisecond

// Notification is one coalesced burst of new activity in a room.
type Notification struct {
	RoomID      uuid.UUID
	VisitorName string
	Preview     string
	UnreadCount int64
}

// Inbox is the dashboard's unread and notification engine. It consumes
// room events from the agent's aggregate stream and maintains per-room
// badges, total unread, most-recent-first ordering, and a coalesced
// notification feed.
//
// Classification: an update is new activity only when the room's
// last_message_at or preview changed against the previously known
// value. Unread-only decreases, which is what this client's own
// mark-read calls echo back as, update badges silently.
type Inbox struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*models.Room

	pending    map[uuid.UUID]bool
	timer      *time.Timer
	manualOnly bool // tests flush explicitly instead of via timer

	notify func([]Notification)
}

// NewInbox creates an inbox delivering coalesced notifications to
// notify. The callback runs on the coalescing timer's goroutine; a nil
// callback keeps badges without a feed.
func NewInbox(notify func([]Notification)) *Inbox {
	return &Inbox{
		rooms:   make(map[uuid.UUID]*models.Room),
		pending: make(map[uuid.UUID]bool),
		notify:  notify,
	}
}

// Seed installs the initial room list from a dashboard page without
// generating notifications.
func (in *Inbox) Seed(rooms []models.Room) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for i := range rooms {
		r := rooms[i]
		in.rooms[r.ID] = &r
	}
}

// Apply feeds one stream event into the inbox. Only room events matter
// here; message and presence events are the per-room view's concern.
func (in *Inbox) Apply(ev *models.Event) {
	if ev.Room == nil {
		return
	}
	if ev.Type != models.EventRoomCreated && ev.Type != models.EventRoomUpdated {
		return
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	room := ev.Room
	known := in.rooms[room.ID]
	in.rooms[room.ID] = room

	if !isNewActivity(known, room) {
		return
	}

	in.pending[room.ID] = true
	in.scheduleFlushLocked()
}

// isNewActivity reports whether the update carries visitor-visible
// activity rather than a badge-only change.
func isNewActivity(known, update *models.Room) bool {
	if update.LastMessageAt == nil {
		// A room with no messages yet; creation alone is not activity.
		return false
	}
	if known == nil || known.LastMessageAt == nil {
		return true
	}
	return !known.LastMessageAt.Equal(*update.LastMessageAt) ||
		known.LastMessagePreview != update.LastMessagePreview
}

func (in *Inbox) scheduleFlushLocked() {
	if in.manualOnly || in.timer != nil {
		return
	}
	in.timer = time.AfterFunc(CoalesceWindow, in.Flush)
}

// Flush emits one notification per room with pending activity. Called
// by the coalescing timer; tests call it directly.
func (in *Inbox) Flush() {
	in.mu.Lock()

	in.timer = nil
	var batch []Notification
	for roomID := range in.pending {
		room := in.rooms[roomID]
		if room == nil {
			continue
		}
		batch = append(batch, Notification{
			RoomID:      roomID,
			VisitorName: room.VisitorName,
			Preview:     room.LastMessagePreview,
			UnreadCount: room.UnreadCount,
		})
	}
	in.pending = make(map[uuid.UUID]bool)
	notify := in.notify

	in.mu.Unlock()

	if notify != nil && len(batch) > 0 {
		sort.Slice(batch, func(i, j int) bool {
			return batch[i].RoomID.String() < batch[j].RoomID.String()
		})
		notify(batch)
	}
}

// SetManualFlush disables the coalescing timer; pending notifications
// wait for an explicit Flush. For tests.
func (in *Inbox) SetManualFlush(manual bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.manualOnly = manual
}

// TotalUnread sums unread badges over all known rooms.
func (in *Inbox) TotalUnread() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()

	var total int64
	for _, room := range in.rooms {
		total += room.UnreadCount
	}
	return total
}

// Room returns the last known snapshot for a room, or nil.
func (in *Inbox) Room(roomID uuid.UUID) *models.Room {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.rooms[roomID]
}

// Rooms returns all known rooms, most recently active first. Rooms
// without messages sort last, newest created first.
func (in *Inbox) Rooms() []models.Room {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := make([]models.Room, 0, len(in.rooms))
	for _, room := range in.rooms {
		out = append(out, *room)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a != nil && b != nil:
			if !a.Equal(*b) {
				return a.After(*b)
			}
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
