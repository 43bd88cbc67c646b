package github

import (
	"context"

	"go.uber.org/zap"
)

// Event is the preprocessed Github Webhook event
type Event struct {
	// DeliveryID is the unique github ID of the event
	DeliveryID string
	// Type is the github webhook event type returned by github.WebHookType()
	Type string
	// JSON is the unmodified webhook payload
	JSON []byte
	// Event is the parsed JSON payload as struct type returned by github.ParseWebHook()
	Event     any
	LogFields []zap.Field
}

// EventHandler processes webhook events.
// HandleEvent is called synchronously while the webhook http request is
// served. When it returns an error, github is answered with a server error.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *Event) error
}

// EventHandlerFunc is an adapter to use a function as EventHandler.
type EventHandlerFunc func(ctx context.Context, event *Event) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}
