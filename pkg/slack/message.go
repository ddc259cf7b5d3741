package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var statusEmoji = map[string]string{
	"completed": ":white_check_mark:",
	"failed":    ":x:",
	"timed_out": ":hourglass:",
	"cancelled": ":no_entry_sign:",
}

var statusLabel = map[string]string{
	"completed": "Test Run Complete",
	"failed":    "Test Run Failed",
	"timed_out": "Test Run Timed Out",
	"cancelled": "Test Run Cancelled",
}

func executionURL(executionID, dashboardURL string) string {
	return fmt.Sprintf("%s/executions/%s", dashboardURL, executionID)
}

// BuildTerminalMessage creates Block Kit blocks for a terminal execution notification.
func BuildTerminalMessage(input ExecutionCompletedInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Test Run " + input.Status
	}

	headerText := fmt.Sprintf("%s *%s* — `%s`", emoji, label, input.TestID)
	if input.ErrorMessage != "" {
		headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(input.ErrorMessage))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}

	url := executionURL(input.ExecutionID, dashboardURL)
	buttonText := "View Report"
	if input.Status != "completed" {
		buttonText = "View Details"
	}

	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
	btn.URL = url
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

// BuildSystemAlertMessage creates Block Kit blocks for a system alert.
func BuildSystemAlertMessage(title, message string) []goslack.Block {
	text := fmt.Sprintf(":rotating_light: *%s*", title)
	if message != "" {
		text += "\n\n" + truncateForSlack(message)
	}
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

func truncateForSlack(text string) string {
	runes := []rune(text)
	if len(runes) <= maxBlockTextLength {
		return text
	}
	return string(runes[:maxBlockTextLength]) + "\n\n_... (truncated — view details in dashboard)_"
}
