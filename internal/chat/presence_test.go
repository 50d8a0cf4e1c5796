package chat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatwire/internal/models"
)

func TestAggregatePresence(t *testing.T) {
	roomID := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []models.PresenceRecord{
		{RoomID: roomID, ParticipantKey: models.ParticipantVisitor, LastHeartbeat: now.Add(-10 * time.Second)},
		{RoomID: roomID, ParticipantKey: models.AgentParticipant("a1"), LastHeartbeat: now.Add(-20 * time.Second)},
		// Stale record, must not count.
		{RoomID: roomID, ParticipantKey: models.AgentParticipant("a2"), LastHeartbeat: now.Add(-2 * time.Minute)},
	}

	agg := AggregatePresence(roomID, records, now, PresenceStaleness)
	assert.True(t, agg.VisitorOnline)
	assert.True(t, agg.AgentOnline)
	assert.Equal(t, []string{"agent:a1", "visitor"}, agg.Participants)
}

func TestAggregatePresenceEmpty(t *testing.T) {
	roomID := uuid.New()
	agg := AggregatePresence(roomID, nil, time.Now(), PresenceStaleness)
	assert.False(t, agg.VisitorOnline)
	assert.False(t, agg.AgentOnline)
	assert.Empty(t, agg.Participants)
}

func TestMemoryPresenceJoinReplaces(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()
	roomID := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, p.PresenceJoin(ctx, roomID, models.ParticipantVisitor, now.Add(-time.Minute)))
	// Re-join replaces the stale record instead of duplicating it.
	require.NoError(t, p.PresenceJoin(ctx, roomID, models.ParticipantVisitor, now))

	records, err := p.PresenceSnapshot(ctx, roomID, now, PresenceStaleness)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].LastHeartbeat.Equal(now))
}

func TestMemoryPresenceStaleEviction(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()
	roomID := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, p.PresenceJoin(ctx, roomID, models.ParticipantVisitor, now.Add(-2*time.Minute)))
	require.NoError(t, p.PresenceJoin(ctx, roomID, models.AgentParticipant("a1"), now))

	records, err := p.PresenceSnapshot(ctx, roomID, now, PresenceStaleness)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.AgentParticipant("a1"), records[0].ParticipantKey)
}

func TestMemoryPresenceLeave(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()
	roomID := uuid.New()
	now := time.Now()

	require.NoError(t, p.PresenceJoin(ctx, roomID, models.ParticipantVisitor, now))
	require.NoError(t, p.PresenceLeave(ctx, roomID, models.ParticipantVisitor))

	records, err := p.PresenceSnapshot(ctx, roomID, now, PresenceStaleness)
	require.NoError(t, err)
	assert.Empty(t, records)
}
