package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arenaoj/internal/common/cache"
	appErr "arenaoj/pkg/errors"
)

// EventType labels contest room events.
type EventType string

const (
	EventContestStarted    EventType = "contest_started"
	EventContestEnded      EventType = "contest_ended"
	EventLeaderboardUpdate EventType = "leaderboard_update"
	EventSubmissionResult  EventType = "submission_result"
	EventSolveNotification EventType = "solve_notification"
	EventAnnouncement      EventType = "announcement"
	EventPresence          EventType = "presence"
)

const contestChannelPrefix = "arena:events:"

// ContestChannel returns the pub/sub channel for one contest room.
func ContestChannel(contestID int64) string {
	return fmt.Sprintf("%s%d", contestChannelPrefix, contestID)
}

// Event is one contest room message. Events flow through Redis pub/sub so
// every server instance fans them out to its local websocket connections.
type Event struct {
	Type      EventType `json:"type"`
	ContestID int64     `json:"contest_id"`

	// TargetUserID routes the event to one user's connections instead of
	// the whole room. Zero broadcasts.
	TargetUserID int64 `json:"target_user_id,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// NewEvent builds an event with a JSON payload.
func NewEvent(eventType EventType, contestID int64, payload interface{}) (Event, error) {
	event := Event{Type: eventType, ContestID: contestID, At: time.Now()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, appErr.Wrapf(err, appErr.InternalServerError, "encode %s event payload failed", eventType)
		}
		event.Payload = raw
	}
	return event, nil
}

// Bus publishes and subscribes contest room events over Redis pub/sub.
// Event delivery is best effort: a missed leaderboard push is repaired by
// the next one, so publish failures degrade rather than fail the operation
// that produced them.
type Bus struct {
	pubsub cache.PubSubOps
}

// NewBus creates an event bus.
func NewBus(pubsub cache.PubSubOps) (*Bus, error) {
	if pubsub == nil {
		return nil, fmt.Errorf("pubsub is required")
	}
	return &Bus{pubsub: pubsub}, nil
}

// Publish sends one event to its contest channel.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event.ContestID <= 0 {
		return appErr.ValidationError("contest_id", "required")
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode event failed")
	}
	return b.pubsub.Publish(ctx, ContestChannel(event.ContestID), string(raw))
}

// Subscribe opens a subscription for one contest channel.
func (b *Bus) Subscribe(ctx context.Context, contestID int64) (cache.Subscription, error) {
	return b.pubsub.Subscribe(ctx, ContestChannel(contestID))
}
