package chat

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/chatwire/internal/metrics"
	"github.com/eldtechnologies/chatwire/internal/models"
)

// previewMaxRunes bounds the room's last_message_preview.
const previewMaxRunes = 120

// imagePreview stands in for image-only messages in room previews.
const imagePreview = "[image]"

// PostMessageParams are the inputs to PostMessage.
type PostMessageParams struct {
	RoomID     uuid.UUID
	SenderType string
	SenderID   string
	SenderName string
	Content    string
	ImageURL   string
	ImageName  string
}

// PostMessage persists a message, folds it into the room's aggregate
// fields, and fans one room-update plus one message-insert event out to
// the room's subscribers. Preconditions are checked in order: room open
// (system messages exempt), visitor not banned, visitor under the rate
// limit. Delivery downstream is at-least-once; consumers dedupe by id.
func (s *Service) PostMessage(ctx context.Context, p PostMessageParams) (*models.Message, error) {
	if p.Content == "" && p.ImageURL == "" {
		return nil, ErrEmptyMessage
	}

	room, err := s.store.GetRoom(ctx, p.RoomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if !room.IsOpen() && p.SenderType != models.SenderSystem {
		return nil, ErrRoomClosed
	}

	if p.SenderType == models.SenderVisitor {
		banned, err := s.moderation.IsBanned(ctx, room.WidgetID, room.VisitorID)
		if err != nil {
			return nil, err
		}
		if banned {
			return nil, ErrVisitorBanned
		}

		decision, err := s.limiter.CheckAndRecord(ctx, room.VisitorID)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			metrics.RateLimitRejections.WithLabelValues("visitor").Inc()
			return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
		}
	}

	now := s.clock().UTC()
	msg := &models.Message{
		ID:         newMessageID(now),
		RoomID:     p.RoomID,
		SenderType: p.SenderType,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		Content:    p.Content,
		ImageURL:   p.ImageURL,
		ImageName:  p.ImageName,
		Type:       messageType(p),
		CreatedAt:  now,
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	fromVisitor := p.SenderType == models.SenderVisitor
	if err := s.store.ApplyMessage(ctx, p.RoomID, now, preview(p), fromVisitor); err != nil {
		return nil, err
	}

	room, err = s.store.GetRoom(ctx, p.RoomID)
	if err != nil {
		return nil, err
	}

	metrics.MessagesPosted.WithLabelValues(p.SenderType).Inc()

	s.publish(ctx, room.WidgetID, p.RoomID, models.NewRoomEvent(models.EventRoomUpdated, room))
	s.publish(ctx, room.WidgetID, p.RoomID, models.NewMessageEvent(msg))

	return msg, nil
}

// MarkRead flips all unread visitor messages in a room and resets its
// unread counter to zero. Idempotent: redundant calls change nothing and
// still emit the (suppressible) room-update event.
func (s *Service) MarkRead(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}

	if _, err := s.store.MarkMessagesRead(ctx, roomID, s.clock().UTC()); err != nil {
		return nil, err
	}

	room, err = s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	metrics.MarkReadCalls.Inc()
	s.publish(ctx, room.WidgetID, roomID, models.NewRoomEvent(models.EventRoomUpdated, room))
	return room, nil
}

func messageType(p PostMessageParams) string {
	switch {
	case p.SenderType == models.SenderSystem:
		return models.MessageSystem
	case p.ImageURL != "":
		return models.MessageImage
	default:
		return models.MessageText
	}
}

func preview(p PostMessageParams) string {
	text := p.Content
	if text == "" {
		text = imagePreview
	}
	runes := []rune(text)
	if len(runes) > previewMaxRunes {
		return string(runes[:previewMaxRunes])
	}
	return text
}

func newMessageID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}
