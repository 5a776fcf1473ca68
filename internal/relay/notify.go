package relay

import (
	"fmt"

	"assistnerd-mcp-server/internal/engine"
	"assistnerd-mcp-server/internal/observer"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts help offers and anomalies to a Slack channel.
type SlackNotifier struct {
	api     *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackNotifier creates a notifier posting to the given channel ID.
func NewSlackNotifier(token, channel string, logger *zap.Logger) *SlackNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlackNotifier{
		api:     slack.New(token),
		channel: channel,
		logger:  logger,
	}
}

// NotifyOffer posts one help offer.
func (n *SlackNotifier) NotifyOffer(offer engine.HelpOffer) error {
	text := fmt.Sprintf("*Help offer* (score %.2f) on `%s`\n> %s\n%s",
		offer.Score, offer.PageContext, offer.SuggestedHelp, offer.URL)

	_, _, err := n.api.PostMessage(n.channel,
		slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post offer message: %w", err)
	}
	n.logger.Debug("offer posted to slack", zap.String("offer_id", offer.ID))
	return nil
}

// NotifyAnomaly posts one page anomaly.
func (n *SlackNotifier) NotifyAnomaly(a observer.Anomaly) error {
	text := fmt.Sprintf("*Page anomaly* `%s` (%s)\n> %s\n%s",
		a.Kind, a.Classification, a.Message, a.URL)

	_, _, err := n.api.PostMessage(n.channel,
		slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post anomaly message: %w", err)
	}
	return nil
}
