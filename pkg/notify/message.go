package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/merlya/merlya/pkg/sentinel"
)

// maxBlockTextLength stays under Slack's 3000-character section limit.
const maxBlockTextLength = 2900

var severityEmoji = map[sentinel.Severity]string{
	sentinel.SeverityInfo:     ":information_source:",
	sentinel.SeverityWarning:  ":warning:",
	sentinel.SeverityCritical: ":rotating_light:",
}

var severityLabel = map[sentinel.Severity]string{
	sentinel.SeverityInfo:     "Info",
	sentinel.SeverityWarning:  "Warning",
	sentinel.SeverityCritical: "Critical",
}

// BuildAlertMessage creates Block Kit blocks for an alert notification.
func BuildAlertMessage(alert sentinel.Alert) []goslack.Block {
	emoji := severityEmoji[alert.Severity]
	if emoji == "" {
		emoji = ":question:"
	}
	label := severityLabel[alert.Severity]
	if label == "" {
		label = string(alert.Severity)
	}

	header := fmt.Sprintf("%s *%s: %s*", emoji, label, alert.CheckName)
	if alert.Target != "" {
		header += fmt.Sprintf(" on `%s`", alert.Target)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
	}

	if alert.Message != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(alert.Message), false, false),
			nil, nil,
		))
	}

	footer := fmt.Sprintf("_failures: %d_", alert.ConsecutiveFailures)
	if alert.IncidentID != "" {
		footer += fmt.Sprintf(" _| incident: %s_", alert.IncidentID)
	}
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, footer, false, false),
		nil, nil,
	))

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
