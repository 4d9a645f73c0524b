package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/switchboard/internal/config"
	"github.com/nugget/switchboard/internal/httpkit"
)

const defaultSlackURL = "https://slack.com"

// SlackNotifier posts tickets to a Slack channel through chat.postMessage.
type SlackNotifier struct {
	client  *http.Client
	token   string
	channel string
	baseURL string
	logger  *slog.Logger
}

// NewSlackNotifier creates a SlackNotifier from cfg.
func NewSlackNotifier(cfg config.SlackConfig, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultSlackURL
	}
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	return &SlackNotifier{
		client: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		token:   cfg.Token,
		channel: channel,
		baseURL: baseURL,
		logger:  logger.With("notifier", "slack"),
	}
}

type slackMessage struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
	Mrkdwn  bool   `json:"mrkdwn"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// Notify implements Notifier.
func (s *SlackNotifier) Notify(ctx context.Context, t Ticket) error {
	req, err := httpkit.NewJSONRequest(ctx, http.MethodPost, s.baseURL+"/api/chat.postMessage", slackMessage{
		Channel: s.channel,
		Text:    FormatNotice(t),
		Mrkdwn:  true,
	})
	if err != nil {
		return fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}

	var out slackResponse
	if err := httpkit.DecodeJSON(resp, &out); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("slack: %s", out.Error)
	}

	s.logger.Info("escalation posted", "ticket_id", t.ID, "channel", s.channel, "ts", out.TS)
	return nil
}
