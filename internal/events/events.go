package events

import "context"

// Streams
const (
	StreamChannels = "events:channels"
	StreamNotify   = "events:notify"
)

// Event types
const (
	EventChannelActivity = "channel_activity"
	EventChannelUpdated  = "channel_updated"
	EventNotification    = "notification"
)

// Notification levels
const (
	LevelSuccess = "success"
	LevelError   = "error"
	LevelInfo    = "info"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Notification builds the event a UI shows as a toast.
func Notification(level, title, message string) Event {
	return Event{
		Type: EventNotification,
		Payload: map[string]any{
			"level":   level,
			"title":   title,
			"message": message,
		},
	}
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
