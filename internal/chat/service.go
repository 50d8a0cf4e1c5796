package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatwire/internal/models"
	"github.com/eldtechnologies/chatwire/internal/store"
)

// EventPublisher pushes one event into the change feed for a room (and
// its widget's aggregate channel). Implemented by store.RedisStore.
type EventPublisher interface {
	PublishEvent(ctx context.Context, widgetID string, roomID uuid.UUID, ev *models.Event) error
}

// Service is the synchronization engine: room lifecycle, message fan-out,
// mark-read, and presence, over the durable store and the change feed.
type Service struct {
	store      store.DataStore
	events     EventPublisher
	presence   PresenceStore
	limiter    Limiter
	moderation Moderation
	logger     zerolog.Logger
	clock      func() time.Time
}

// NewService wires the engine together.
func NewService(ds store.DataStore, events EventPublisher, presence PresenceStore, limiter Limiter, moderation Moderation, logger zerolog.Logger) *Service {
	return &Service{
		store:      ds,
		events:     events,
		presence:   presence,
		limiter:    limiter,
		moderation: moderation,
		logger:     logger,
		clock:      time.Now,
	}
}

// publish sends an event, logging rather than failing the caller: the
// durable write already happened and subscribers reconcile on resync.
func (s *Service) publish(ctx context.Context, widgetID string, roomID uuid.UUID, ev *models.Event) {
	if err := s.events.PublishEvent(ctx, widgetID, roomID, ev); err != nil {
		s.logger.Error().
			Err(err).
			Str("room_id", roomID.String()).
			Str("event", string(ev.Type)).
			Msg("event publish failed")
	}
}
