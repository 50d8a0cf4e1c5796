package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatwire/internal/metrics"
	"github.com/eldtechnologies/chatwire/internal/models"
	"github.com/eldtechnologies/chatwire/internal/store"
)

// closedMarker is the system message appended when an agent closes a room.
const closedMarker = "conversation closed"

// GetOrCreateOpenRoom returns the visitor's open room, creating one if
// none exists. Visitor name/email are patched onto an existing room when
// they changed. A create that loses to a concurrent create is retried as
// reuse of the winner's room.
func (s *Service) GetOrCreateOpenRoom(ctx context.Context, widgetID, visitorID, visitorName, visitorEmail string) (*models.Room, error) {
	room, err := s.store.GetOpenRoom(ctx, widgetID, visitorID)
	if err != nil {
		return nil, err
	}
	if room != nil {
		return s.patchVisitorInfo(ctx, room, visitorName, visitorEmail)
	}

	room, err = s.store.CreateRoom(ctx, widgetID, visitorID, visitorName, visitorEmail)
	if errors.Is(err, store.ErrOpenRoomExists) {
		// Lost the race to a concurrent tab. Reuse the winner.
		room, err = s.store.GetOpenRoom(ctx, widgetID, visitorID)
		if err != nil {
			return nil, err
		}
		if room == nil {
			return nil, ErrRoomNotFound
		}
		return s.patchVisitorInfo(ctx, room, visitorName, visitorEmail)
	}
	if err != nil {
		return nil, err
	}

	metrics.RoomsCreated.Inc()
	s.logger.Info().
		Str("room_id", room.ID.String()).
		Str("widget_id", widgetID).
		Str("visitor_id", visitorID).
		Msg("room created")

	s.publish(ctx, widgetID, room.ID, models.NewRoomEvent(models.EventRoomCreated, room))
	return room, nil
}

func (s *Service) patchVisitorInfo(ctx context.Context, room *models.Room, name, email string) (*models.Room, error) {
	if name == "" {
		name = room.VisitorName
	}
	if email == "" {
		email = room.VisitorEmail
	}
	if name == room.VisitorName && email == room.VisitorEmail {
		return room, nil
	}

	if err := s.store.UpdateVisitorInfo(ctx, room.ID, name, email); err != nil {
		return nil, err
	}
	room.VisitorName = name
	room.VisitorEmail = email

	s.publish(ctx, room.WidgetID, room.ID, models.NewRoomEvent(models.EventRoomUpdated, room))
	return room, nil
}

// CloseRoom transitions an open room to closed, appending the system
// marker message first. Closing an already-closed room is a no-op that
// returns the current state.
func (s *Service) CloseRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if !room.IsOpen() {
		return room, nil
	}

	if _, err := s.PostMessage(ctx, PostMessageParams{
		RoomID:     roomID,
		SenderType: models.SenderSystem,
		Content:    closedMarker,
	}); err != nil {
		return nil, err
	}

	if err := s.store.SetRoomStatus(ctx, roomID, models.RoomClosed); err != nil {
		return nil, err
	}

	room, err = s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	metrics.RoomsClosed.Inc()
	s.logger.Info().Str("room_id", roomID.String()).Msg("room closed")

	s.publish(ctx, room.WidgetID, roomID, models.NewRoomEvent(models.EventRoomUpdated, room))
	return room, nil
}

// ReopenRoom transitions a closed room back to open. Reopening an open
// room is a no-op returning the current state.
func (s *Service) ReopenRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if room.IsOpen() {
		return room, nil
	}

	if err := s.store.SetRoomStatus(ctx, roomID, models.RoomOpen); err != nil {
		return nil, err
	}

	room, err = s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	metrics.RoomsReopened.Inc()
	s.logger.Info().Str("room_id", roomID.String()).Msg("room reopened")

	s.publish(ctx, room.WidgetID, roomID, models.NewRoomEvent(models.EventRoomUpdated, room))
	return room, nil
}
