package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatwire/internal/metrics"
	"github.com/eldtechnologies/chatwire/internal/models"
)

// PresenceStaleness bounds how long a record counts as live without a
// heartbeat. Clients heartbeat well inside this window; abrupt
// disconnects age out.
const PresenceStaleness = 45 * time.Second

// PresenceStore holds ephemeral per-room membership. Implemented by
// store.RedisStore in deployments and MemoryPresence in tests.
type PresenceStore interface {
	// PresenceJoin replaces any existing record for the participant.
	PresenceJoin(ctx context.Context, roomID uuid.UUID, participantKey string, now time.Time) error
	PresenceHeartbeat(ctx context.Context, roomID uuid.UUID, participantKey string, now time.Time) error
	PresenceLeave(ctx context.Context, roomID uuid.UUID, participantKey string) error
	// PresenceSnapshot evicts stale records and returns the live ones.
	PresenceSnapshot(ctx context.Context, roomID uuid.UUID, now time.Time, staleness time.Duration) ([]models.PresenceRecord, error)
}

// AggregatePresence folds live records into the room's online flags.
// Every trigger (join, leave, sync) recomputes from the full snapshot so
// no partial state can diverge.
func AggregatePresence(roomID uuid.UUID, records []models.PresenceRecord, now time.Time, staleness time.Duration) *models.RoomPresence {
	agg := &models.RoomPresence{RoomID: roomID}
	cutoff := now.Add(-staleness)

	for _, rec := range records {
		if rec.LastHeartbeat.Before(cutoff) {
			continue
		}
		agg.Participants = append(agg.Participants, rec.ParticipantKey)
		if rec.ParticipantKey == models.ParticipantVisitor {
			agg.VisitorOnline = true
		} else if models.IsAgentParticipant(rec.ParticipantKey) {
			agg.AgentOnline = true
		}
	}

	sort.Strings(agg.Participants)
	return agg
}

// MemoryPresence is an in-process PresenceStore for tests and
// single-node development.
type MemoryPresence struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]map[string]time.Time
}

// NewMemoryPresence creates an empty in-memory presence store.
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{rooms: make(map[uuid.UUID]map[string]time.Time)}
}

func (p *MemoryPresence) PresenceJoin(_ context.Context, roomID uuid.UUID, participantKey string, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	room := p.rooms[roomID]
	if room == nil {
		room = make(map[string]time.Time)
		p.rooms[roomID] = room
	}
	room[participantKey] = now
	return nil
}

func (p *MemoryPresence) PresenceHeartbeat(ctx context.Context, roomID uuid.UUID, participantKey string, now time.Time) error {
	return p.PresenceJoin(ctx, roomID, participantKey, now)
}

func (p *MemoryPresence) PresenceLeave(_ context.Context, roomID uuid.UUID, participantKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if room := p.rooms[roomID]; room != nil {
		delete(room, participantKey)
	}
	return nil
}

func (p *MemoryPresence) PresenceSnapshot(_ context.Context, roomID uuid.UUID, now time.Time, staleness time.Duration) ([]models.PresenceRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	room := p.rooms[roomID]
	cutoff := now.Add(-staleness)

	var records []models.PresenceRecord
	for key, beat := range room {
		if beat.Before(cutoff) {
			delete(room, key)
			continue
		}
		records = append(records, models.PresenceRecord{
			RoomID:         roomID,
			ParticipantKey: key,
			LastHeartbeat:  beat,
		})
	}
	return records, nil
}

// JoinRoom registers a participant and broadcasts the recomputed
// aggregate. A re-join for a participant with a live record replaces it;
// duplicate entries for one participant are never valid.
func (s *Service) JoinRoom(ctx context.Context, widgetID string, roomID uuid.UUID, participantKey string) (*models.RoomPresence, error) {
	now := s.clock()
	if err := s.presence.PresenceJoin(ctx, roomID, participantKey, now); err != nil {
		return nil, err
	}
	metrics.PresenceJoins.Inc()
	return s.broadcastPresence(ctx, widgetID, roomID)
}

// HeartbeatRoom refreshes a participant's liveness without broadcasting:
// nothing observable changed.
func (s *Service) HeartbeatRoom(ctx context.Context, roomID uuid.UUID, participantKey string) error {
	return s.presence.PresenceHeartbeat(ctx, roomID, participantKey, s.clock())
}

// LeaveRoom removes a participant and broadcasts the recomputed aggregate.
func (s *Service) LeaveRoom(ctx context.Context, widgetID string, roomID uuid.UUID, participantKey string) (*models.RoomPresence, error) {
	if err := s.presence.PresenceLeave(ctx, roomID, participantKey); err != nil {
		return nil, err
	}
	return s.broadcastPresence(ctx, widgetID, roomID)
}

// RoomPresence returns the current aggregate without broadcasting, used
// by subscribers syncing their initial state.
func (s *Service) RoomPresence(ctx context.Context, roomID uuid.UUID) (*models.RoomPresence, error) {
	now := s.clock()
	records, err := s.presence.PresenceSnapshot(ctx, roomID, now, PresenceStaleness)
	if err != nil {
		return nil, err
	}
	return AggregatePresence(roomID, records, now, PresenceStaleness), nil
}

func (s *Service) broadcastPresence(ctx context.Context, widgetID string, roomID uuid.UUID) (*models.RoomPresence, error) {
	agg, err := s.RoomPresence(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, widgetID, roomID, models.NewPresenceEvent(agg))
	return agg, nil
}
