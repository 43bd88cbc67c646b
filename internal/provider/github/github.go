package github

import (
	"net/http"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/logfields"
)

const loggerName = "github-event-provider"

// Provider listens for github-webhook http-requests at a http-server handler,
// validates and converts the requests to Events and passes them to an
// EventHandler.
type Provider struct {
	logging       *zap.Logger
	webhookSecret []byte
	handler       EventHandler
}

type option func(*Provider)

func WithPayloadSecret(secret string) option {
	return func(p *Provider) {
		p.webhookSecret = []byte(secret)
	}
}

func New(handler EventHandler, opts ...option) *Provider {
	p := Provider{
		handler: handler,
	}

	for _, o := range opts {
		o(&p)
	}

	if p.logging == nil {
		p.logging = zap.L().Named(loggerName)
	}

	return &p
}

type actionGetter interface {
	GetAction() string
}

type repoGetter interface {
	GetRepo() *github.Repository
}

type installationGetter interface {
	GetInstallation() *github.Installation
}

func eventLogFields(event any) []zap.Field {
	var result []zap.Field

	if ev, ok := event.(actionGetter); ok && ev.GetAction() != "" {
		result = append(result, logfields.WebhookAction(ev.GetAction()))
	}

	if ev, ok := event.(repoGetter); ok && ev.GetRepo() != nil {
		result = append(
			result,
			logfields.RepositoryOwner(ev.GetRepo().GetOwner().GetLogin()),
			logfields.Repository(ev.GetRepo().GetName()),
		)
	}

	if ev, ok := event.(installationGetter); ok && ev.GetInstallation() != nil {
		result = append(result, logfields.Installation(ev.GetInstallation().GetID()))
	}

	return result
}

// HTTPHandler serves github webhook requests.
// Requests with an invalid signature or payload are answered with
// http.StatusBadRequest, requests for which the EventHandler failed with
// http.StatusInternalServerError.
func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	deliveryID := github.DeliveryID(req)
	hookType := github.WebHookType(req)

	logFields := []zap.Field{
		logfields.EventProvider("github"),
		logfields.DeliveryID(deliveryID),
		logfields.WebhookType(hookType),
	}

	logger := p.logging.With(logFields...)

	payload, err := github.ValidatePayload(req, p.webhookSecret)
	if err != nil {
		logger.Info(
			"received invalid http request, payload validation failed",
			logfields.Event("github_http_request_validation_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	logger.Debug(
		"received http request",
		logfields.Event("github_event_received"),
		zap.ByteString("http_body", payload),
	)

	event, err := github.ParseWebHook(hookType, payload)
	if err != nil {
		logger.Info(
			"received invalid http request, parsing failed",
			logfields.Event("github_event_parsing_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	logFields = append(logFields, eventLogFields(event)...)
	logger = p.logging.With(logFields...)

	ev := Event{
		DeliveryID: deliveryID,
		Type:       hookType,
		JSON:       payload,
		Event:      event,
		LogFields:  logFields,
	}

	if err := p.handler.HandleEvent(req.Context(), &ev); err != nil {
		logger.Error(
			"processing event failed",
			logfields.Event("github_event_processing_failed"),
			zap.Error(err),
		)
		http.Error(resp, "processing event failed", http.StatusInternalServerError)
		return
	}

	logger.Debug("event processed", logfields.Event("github_event_processed"))
	resp.WriteHeader(http.StatusOK)
}
