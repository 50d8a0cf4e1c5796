package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/chatwire/internal/models"
)

const (
	presenceTTL = 90 * time.Second
	banTTLNone  = 0 // bans persist until lifted
)

// RedisStore is the ephemeral side of the system: the change-feed pub/sub
// used for fan-out, presence heartbeats, rate-limit windows, and the
// visitor banlist. Nothing here is a source of truth for rooms/messages.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that shares the
// connection (HTTP rate limiting, IP blocking).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// --- change feed ---

func roomChannel(roomID uuid.UUID) string {
	return "chatwire:room:" + roomID.String()
}

func widgetChannel(widgetID string) string {
	return "chatwire:widget:" + widgetID
}

// PublishEvent publishes one event to the room's channel and, for room and
// message events, to the widget's aggregate channel. Delivery to any
// subscriber is at-least-once across resubscriptions; consumers dedupe.
func (s *RedisStore) PublishEvent(ctx context.Context, widgetID string, roomID uuid.UUID, ev *models.Event) error {
	data, err := models.EncodeEvent(ev)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Publish(ctx, roomChannel(roomID), data)
	if widgetID != "" && ev.Type != models.EventPresenceChanged {
		pipe.Publish(ctx, widgetChannel(widgetID), data)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// subscription adapts a redis PubSub to an EventStream, decoding each
// payload once at the boundary. Undecodable payloads are dropped.
type subscription struct {
	pubsub *redis.PubSub
	events chan *models.Event
	cancel context.CancelFunc
}

func (s *subscription) Events() <-chan *models.Event { return s.events }

func (s *subscription) Close() error {
	s.cancel()
	return s.pubsub.Close()
}

func (s *RedisStore) subscribe(ctx context.Context, channels ...string) (EventStream, error) {
	pubsub := s.client.Subscribe(ctx, channels...)

	// Force the SUBSCRIBE to complete so a failed connection surfaces here.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		pubsub: pubsub,
		events: make(chan *models.Event, 64),
		cancel: cancel,
	}

	go func() {
		defer close(sub.events)
		ch := pubsub.Channel()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := models.DecodeEvent([]byte(msg.Payload))
				if err != nil {
					continue
				}
				select {
				case sub.events <- ev:
				case <-runCtx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}

// SubscribeRoom opens a stream of one room's events.
func (s *RedisStore) SubscribeRoom(ctx context.Context, roomID uuid.UUID) (EventStream, error) {
	return s.subscribe(ctx, roomChannel(roomID))
}

// SubscribeWidgets opens an aggregate stream across widget channels, used
// by the dashboard's notification engine.
func (s *RedisStore) SubscribeWidgets(ctx context.Context, widgetIDs []string) (EventStream, error) {
	if len(widgetIDs) == 0 {
		return nil, fmt.Errorf("no widgets to subscribe")
	}
	channels := make([]string, len(widgetIDs))
	for i, id := range widgetIDs {
		channels[i] = widgetChannel(id)
	}
	return s.subscribe(ctx, channels...)
}

// --- presence ---

func presenceKey(roomID uuid.UUID) string {
	return fmt.Sprintf("chatwire:presence:%s", roomID)
}

// PresenceJoin registers a participant in a room. Any previous record for
// the same participant is replaced, never duplicated.
func (s *RedisStore) PresenceJoin(ctx context.Context, roomID uuid.UUID, participantKey string, now time.Time) error {
	key := presenceKey(roomID)
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, key, participantKey)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: participantKey})
	pipe.Expire(ctx, key, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// PresenceHeartbeat refreshes a participant's liveness.
func (s *RedisStore) PresenceHeartbeat(ctx context.Context, roomID uuid.UUID, participantKey string, now time.Time) error {
	key := presenceKey(roomID)
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: participantKey})
	pipe.Expire(ctx, key, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// PresenceLeave removes a participant's record.
func (s *RedisStore) PresenceLeave(ctx context.Context, roomID uuid.UUID, participantKey string) error {
	return s.client.ZRem(ctx, presenceKey(roomID), participantKey).Err()
}

// PresenceSnapshot evicts stale records and returns the live ones.
func (s *RedisStore) PresenceSnapshot(ctx context.Context, roomID uuid.UUID, now time.Time, staleness time.Duration) ([]models.PresenceRecord, error) {
	key := presenceKey(roomID)
	cutoff := now.Add(-staleness).UnixMilli()

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff))
	liveCmd := pipe.ZRangeWithScores(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	live := liveCmd.Val()
	records := make([]models.PresenceRecord, 0, len(live))
	for _, z := range live {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		records = append(records, models.PresenceRecord{
			RoomID:         roomID,
			ParticipantKey: member,
			LastHeartbeat:  time.UnixMilli(int64(z.Score)),
		})
	}
	return records, nil
}

// --- sliding-window rate limiting ---

// SlidingWindow checks and records one hit against a rolling window.
// When the limit is already reached the hit is not recorded and the
// returned retry-after is the time until the oldest hit leaves the window.
func (s *RedisStore) SlidingWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	windowStart := now.Add(-window)

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	if countCmd.Val() >= int64(limit) {
		retryAfter := window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			exitAt := time.UnixMilli(int64(oldest[0].Score)).Add(window)
			retryAfter = exitAt.Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return false, retryAfter, nil
	}

	pipe = s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	return true, 0, nil
}

// --- visitor banlist ---

func banKey(widgetID, visitorID string) string {
	return fmt.Sprintf("chatwire:banned:%s:%s", widgetID, visitorID)
}

// IsBanned checks whether a visitor is banned on a widget.
func (s *RedisStore) IsBanned(ctx context.Context, widgetID, visitorID string) (bool, error) {
	exists, err := s.client.Exists(ctx, banKey(widgetID, visitorID)).Result()
	return exists > 0, err
}

// SetBanned bans or unbans a visitor on a widget.
func (s *RedisStore) SetBanned(ctx context.Context, widgetID, visitorID string, banned bool, reason string) error {
	key := banKey(widgetID, visitorID)
	if !banned {
		return s.client.Del(ctx, key).Err()
	}
	if reason == "" {
		reason = "banned"
	}
	return s.client.Set(ctx, key, reason, banTTLNone).Err()
}
