package alert

import (
	"encoding/json"
	"fmt"

	"github.com/ppiankov/hallpass/internal/redact"
)

// FormatPayload builds the webhook body for the given format. Secrets in
// the URL are masked.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	event.URL = redact.URL(event.URL)
	switch format {
	case "slack":
		return formatSlack(event)
	default:
		return json.Marshal(event)
	}
}

func formatSlack(event AlertEvent) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*URL:* %s", event.URL)},
	}
	switch event.Type {
	case EventRedirect:
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Rule:* %s", event.Rule)})
	case EventPassGranted:
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Pass until:* %s", event.ExpiresAt)})
	}
	if event.Reason != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("hallpass: %s", event.Type),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}
