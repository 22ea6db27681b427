package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type WebhookType string

const (
	WebhookDiscord WebhookType = "discord"
	WebhookSlack   WebhookType = "slack"
	WebhookGeneric WebhookType = "generic"
)

// Failure reasons with dedicated wording.
const (
	ReasonError       = "error"
	ReasonInterrupted = "interrupted"
)

const DefaultTimeout = 30 * time.Second

const (
	colorSuccess = 0x57F287
	colorWarning = 0xFEE75C
	colorFailure = 0xED4245
	footer       = "Cellfill CLI"
	runToken     = "{run}"
)

type CompleteOptions struct {
	RunID      string
	WebhookURL string
	Workbook   string
	Processed  int
	Failures   int
	Duration   time.Duration
	Timeout    time.Duration
}

type FailedOptions struct {
	RunID         string
	WebhookURL    string
	Workbook      string
	FailureReason string
	Processed     int
	Failures      int
	Duration      time.Duration
	Timeout       time.Duration
}

// report is the provider-neutral content of one notification. summary holds
// runToken where the emphasised short run id goes.
type report struct {
	title   string
	summary string
	color   int
	fields  []field
	generic genericPayload
}

type field struct {
	name   string
	value  string
	inline bool
}

type genericPayload struct {
	Event     string `json:"event"`
	Status    string `json:"status"`
	Run       string `json:"run"`
	Workbook  string `json:"workbook"`
	Reason    string `json:"reason,omitempty"`
	Processed int    `json:"processed"`
	Failures  int    `json:"failures"`
	Duration  string `json:"duration"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Footer      discordFooter  `json:"footer"`
	Timestamp   string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

func DetectWebhookType(url string) WebhookType {
	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, "discord.com/api/webhooks"), strings.Contains(lower, "discordapp.com/api/webhooks"):
		return WebhookDiscord
	case strings.Contains(lower, "hooks.slack.com"):
		return WebhookSlack
	default:
		return WebhookGeneric
	}
}

// NotifyComplete reports a run that reached the end of the workbook.
func NotifyComplete(ctx context.Context, opts CompleteOptions) error {
	if err := validate(opts.RunID, opts.WebhookURL); err != nil {
		return err
	}
	payload, err := buildCompletePayload(opts, time.Now())
	if err != nil {
		return err
	}
	return SendWebhook(ctx, opts.WebhookURL, payload, opts.Timeout)
}

// NotifyFailed reports a run that stopped early.
func NotifyFailed(ctx context.Context, opts FailedOptions) error {
	if err := validate(opts.RunID, opts.WebhookURL); err != nil {
		return err
	}
	payload, err := buildFailedPayload(opts, time.Now())
	if err != nil {
		return err
	}
	return SendWebhook(ctx, opts.WebhookURL, payload, opts.Timeout)
}

// SendWebhook posts a JSON payload and treats any non-2xx answer as an error.
func SendWebhook(ctx context.Context, url string, payload []byte, timeout time.Duration) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("webhook URL is required")
	}
	if len(payload) == 0 {
		return errors.New("payload is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := resty.New().
		SetTimeout(timeout).
		R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode())
	}
	return nil
}

func validate(runID, url string) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(url) == "" {
		return errors.New("webhook URL is required")
	}
	return nil
}

func buildCompletePayload(opts CompleteOptions, now time.Time) ([]byte, error) {
	processed := strconv.Itoa(opts.Processed)
	failures := strconv.Itoa(opts.Failures)
	duration := formatDuration(opts.Duration)

	r := report{
		title:   "✅ Cellfill Complete",
		summary: fmt.Sprintf("Run %s filled %s rows.", runToken, processed),
		color:   colorSuccess,
		fields: []field{
			{name: "Workbook", value: "`" + workbookLabel(opts.Workbook) + "`"},
			{name: "Rows", value: processed, inline: true},
			{name: "Failed Cells", value: failures, inline: true},
			{name: "Duration", value: duration, inline: true},
		},
		generic: genericPayload{
			Event:     "complete",
			Status:    "success",
			Run:       opts.RunID,
			Workbook:  opts.Workbook,
			Processed: opts.Processed,
			Failures:  opts.Failures,
			Duration:  duration,
			Message:   fmt.Sprintf("Cellfill run '%s' filled %s rows with %s failed cells (%s)", opts.RunID, processed, failures, duration),
		},
	}
	if opts.Failures > 0 {
		r.title = "⚠️ Cellfill Complete With Failures"
		r.color = colorWarning
	}
	return render(DetectWebhookType(opts.WebhookURL), r, opts.RunID, now)
}

func buildFailedPayload(opts FailedOptions, now time.Time) ([]byte, error) {
	reason := strings.TrimSpace(opts.FailureReason)
	if reason == "" {
		reason = "unknown"
	}
	processed := strconv.Itoa(opts.Processed)
	duration := formatDuration(opts.Duration)

	r := report{
		title:   "❌ Cellfill Failed",
		summary: failedSummary(reason),
		color:   colorFailure,
		fields: []field{
			{name: "Workbook", value: "`" + workbookLabel(opts.Workbook) + "`"},
			{name: "Reason", value: reason, inline: true},
			{name: "Rows", value: processed, inline: true},
			{name: "Duration", value: duration, inline: true},
		},
		generic: genericPayload{
			Event:     "failed",
			Status:    "failure",
			Run:       opts.RunID,
			Workbook:  opts.Workbook,
			Reason:    reason,
			Processed: opts.Processed,
			Failures:  opts.Failures,
			Duration:  duration,
			Message:   failedMessage(reason, opts.RunID, processed),
		},
	}
	return render(DetectWebhookType(opts.WebhookURL), r, opts.RunID, now)
}

func render(kind WebhookType, r report, runID string, now time.Time) ([]byte, error) {
	timestamp := now.Format(time.RFC3339)
	id := runID
	if len(id) > 8 {
		id = id[:8]
	}

	switch kind {
	case WebhookDiscord:
		embed := discordEmbed{
			Title:       r.title,
			Description: strings.Replace(r.summary, runToken, "**"+id+"**", 1),
			Color:       r.color,
			Footer:      discordFooter{Text: footer},
			Timestamp:   timestamp,
		}
		for _, f := range r.fields {
			embed.Fields = append(embed.Fields, discordField{Name: f.name, Value: f.value, Inline: f.inline})
		}
		return json.Marshal(discordPayload{Embeds: []discordEmbed{embed}})

	case WebhookSlack:
		fields := make([]slackText, 0, len(r.fields))
		for _, f := range r.fields {
			fields = append(fields, mrkdwn("*"+f.name+":*\n"+f.value))
		}
		summary := mrkdwn(strings.Replace(r.summary, runToken, "*"+id+"*", 1))
		blocks := []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: r.title, Emoji: true}},
			{Type: "section", Text: &summary},
			{Type: "section", Fields: fields},
			{Type: "context", Elements: []slackText{mrkdwn(footer + " • " + timestamp)}},
		}
		return json.Marshal(slackPayload{Attachments: []slackAttachment{{
			Color:  fmt.Sprintf("#%06X", r.color),
			Blocks: blocks,
		}}})

	default:
		generic := r.generic
		generic.Timestamp = timestamp
		return json.Marshal(generic)
	}
}

func mrkdwn(text string) slackText {
	return slackText{Type: "mrkdwn", Text: text}
}

func formatDuration(duration time.Duration) string {
	total := int(duration.Seconds())
	if total <= 0 {
		return "unknown"
	}
	hours, mins, secs := total/3600, (total%3600)/60, total%60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

func workbookLabel(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "unknown"
	}
	return filepath.Base(path)
}

func failedSummary(reason string) string {
	switch reason {
	case ReasonError:
		return "Run " + runToken + " encountered an error."
	case ReasonInterrupted:
		return "Run " + runToken + " was interrupted before all rows were filled."
	default:
		return "Run " + runToken + " failed: " + reason
	}
}

func failedMessage(reason, runID, processed string) string {
	switch reason {
	case ReasonError:
		return fmt.Sprintf("Cellfill run '%s' failed due to an error after %s rows", runID, processed)
	case ReasonInterrupted:
		return fmt.Sprintf("Cellfill run '%s' was interrupted after %s rows", runID, processed)
	default:
		return fmt.Sprintf("Cellfill run '%s' failed: %s after %s rows", runID, reason, processed)
	}
}
