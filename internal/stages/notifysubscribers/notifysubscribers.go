// Package notifysubscribers implements the terminal notify-subscribers
// stage: it posts a completion notice to whichever Slack channel the
// submission's payer/request-type attributes route to, then terminalizes
// the pipeline successfully (spec §4.1 step 7).
package notifysubscribers

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/priorauth/pagw/internal/bus"
	"github.com/priorauth/pagw/internal/config"
	"github.com/priorauth/pagw/internal/stage"
	"github.com/priorauth/pagw/internal/tracker"
)

// webhookPoster is the subset of slack-go/slack the stage calls, narrowed so
// tests can substitute a fake without hitting a real webhook.
type webhookPoster interface {
	PostWebhookContext(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

type slackPoster struct{}

func (slackPoster) PostWebhookContext(ctx context.Context, url string, msg *slack.WebhookMessage) error {
	return slack.PostWebhookContext(ctx, url, msg)
}

// NewSlackPoster builds the production webhookPoster backed by the real
// slack-go/slack client.
func NewSlackPoster() webhookPoster { return slackPoster{} }

// Deps are the notify-subscribers stage's collaborators.
type Deps struct {
	Poster      webhookPoster
	WebhookURL  string
	Subscribers []config.SubscriberFilter
	// Attributes resolves the routing attributes (e.g. "payer", "requestType")
	// an envelope carries, so filters can match against them.
	Attributes func(envelope *bus.Envelope) map[string]string
}

// New builds the notify-subscribers stage's Handler.
func New(deps Deps) stage.Handler {
	return func(ctx context.Context, envelope *bus.Envelope) (stage.Result, error) {
		attrs := map[string]string{}
		if deps.Attributes != nil {
			attrs = deps.Attributes(envelope)
		}

		matched := matchingFilters(deps.Subscribers, attrs)
		for _, filter := range matched {
			msg := &slack.WebhookMessage{
				Text: notificationText(filter.Name, envelope),
			}
			if err := deps.Poster.PostWebhookContext(ctx, deps.WebhookURL, msg); err != nil {
				return stage.TransientFailure("subscriber_notification_failed", err.Error()), nil
			}
		}

		status := tracker.StatusCompleted
		if envelope.ErrorCode != "" {
			status = tracker.StatusCompletedWithError
		}
		return stage.TerminalSuccess(status, envelope.PayloadKey), nil
	}
}

func matchingFilters(filters []config.SubscriberFilter, attrs map[string]string) []config.SubscriberFilter {
	matched := make([]config.SubscriberFilter, 0, len(filters))
	for _, filter := range filters {
		if filterMatches(filter, attrs) {
			matched = append(matched, filter)
		}
	}
	return matched
}

func filterMatches(filter config.SubscriberFilter, attrs map[string]string) bool {
	for attrName, allowed := range filter.Conditions {
		value, ok := attrs[attrName]
		if !ok {
			return false
		}
		if !contains(allowed, value) {
			return false
		}
	}
	return true
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func notificationText(subscriberName string, envelope *bus.Envelope) string {
	return "prior authorization " + envelope.SubmissionID + " completed for tenant " + envelope.Tenant + " (" + subscriberName + ")"
}
