package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/triage"
)

// SlackChannel posts notifications to a Slack incoming webhook. The
// address overrides the webhook's default channel.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel creates a Slack webhook channel.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Deliver(ctx context.Context, address, text string) error {
	tier := TierOf(text)
	color := "#36a64f" // green
	switch tier {
	case model.TierSerious:
		color = "#ff9900" // orange
	case model.TierUrgent:
		color = "#ff0000" // red
	}

	payload := slackPayload{
		Channel: address,
		Attachments: []slackAttachment{
			{
				Color:    color,
				Title:    "Resource Sentinel: " + triage.Label(tier),
				Text:     PlainText(text),
				Fallback: PlainText(text),
				Footer:   "Resource Sentinel",
				Ts:       time.Now().Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color    string `json:"color"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Fallback string `json:"fallback"`
	Footer   string `json:"footer"`
	Ts       int64  `json:"ts"`
}
