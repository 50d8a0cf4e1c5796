package chat

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRoomNotFound is returned when the target room does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomClosed is returned for visitor/agent messages against a
	// closed room. System messages are exempt so closing can append its
	// own marker. Not retried automatically.
	ErrRoomClosed = errors.New("room is closed")

	// ErrVisitorBanned is terminal for the visitor's session.
	ErrVisitorBanned = errors.New("visitor is banned")

	// ErrEmptyMessage rejects messages with neither content nor image.
	ErrEmptyMessage = errors.New("message requires content or an image")
)

// RateLimitedError reports a rejected message and when to retry.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// RetryAfterSeconds rounds the retry interval up to whole seconds, the
// granularity surfaced to callers.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
