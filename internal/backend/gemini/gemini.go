package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/goosewin/cellfill/internal/backend"
)

// Client speaks the Gemini generateContent protocol against
// <ENDPOINT>/<MODEL>:generateContent?key=<KEY>.
type Client struct {
	model      string
	credential string
	timeout    time.Duration
	http       *resty.Client
	log        logrus.FieldLogger
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type safetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
	Blocked     bool   `json:"blocked"`
}

type candidate struct {
	Content       *content       `json:"content"`
	FinishReason  string         `json:"finishReason"`
	SafetyRatings []safetyRating `json:"safetyRatings"`
}

type generateResponse struct {
	Candidates     []candidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason   string         `json:"blockReason"`
		SafetyRatings []safetyRating `json:"safetyRatings"`
	} `json:"promptFeedback"`
}

var blockingReasons = map[string]bool{
	"SAFETY":             true,
	"RECITATION":         true,
	"BLOCKLIST":          true,
	"PROHIBITED_CONTENT": true,
	"SPII":               true,
}

// New builds a client for def.
func New(def backend.Definition, opts backend.ClientOptions) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(def.Endpoint, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		model:      def.Model,
		credential: def.Credential,
		timeout:    opts.Timeout,
		http:       httpClient,
		log:        opts.Logger.WithFields(logrus.Fields{"backend": def.Name, "protocol": string(backend.ProtocolGoogleGemini)}),
	}
}

var _ backend.Client = (*Client)(nil)

func init() {
	factory := func(def backend.Definition, opts backend.ClientOptions) backend.Client {
		return New(def, opts)
	}
	if err := backend.Register(backend.ProtocolGoogleGemini, factory); err != nil {
		panic(err)
	}
}

func (c *Client) Generate(ctx context.Context, req backend.Request) backend.Result {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := generateRequest{
		Contents: []content{{Parts: []part{{Text: req.UserPrompt}}}},
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	c.log.WithField("model", c.model).Debug("calling generateContent")

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", c.credential).
		SetBody(body).
		Post("/" + c.model + ":generateContent")
	if err != nil {
		detail := c.redact(err.Error())
		if backend.IsTimeout(err) {
			c.log.Warnf("request timed out after %s", c.timeout)
			return backend.Fail(backend.FailureTimeout, detail)
		}
		c.log.Warn("request failed: " + detail)
		return backend.Fail(backend.FailureTransport, detail)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		detail := c.redact(backend.ErrorDetail(resp.Body()))
		c.log.WithField("status", resp.StatusCode()).Warn(detail)
		return backend.FailStatus(resp.StatusCode(), detail)
	}

	var out generateResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		c.log.WithError(err).Warn("decode response")
		return backend.Fail(backend.FailureInternal, fmt.Sprintf("decode response: %v", err))
	}

	return c.extract(out)
}

func (c *Client) extract(out generateResponse) backend.Result {
	if len(out.Candidates) == 0 {
		if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
			detail := fmt.Sprintf("Prompt blocked: %s. Safety: %s", out.PromptFeedback.BlockReason, formatRatings(out.PromptFeedback.SafetyRatings))
			c.log.Warn(detail)
			return backend.Fail(backend.FailureFiltered, detail)
		}
		c.log.Warn("response has no candidates")
		return backend.Fail(backend.FailureEmpty, "No candidates in API response.")
	}

	first := out.Candidates[0]
	finish := first.FinishReason
	if finish == "" {
		finish = "UNKNOWN"
	}

	if first.Content == nil || len(first.Content.Parts) == 0 {
		detail := fmt.Sprintf("Finish: %s. Safety: %s", finish, formatRatings(first.SafetyRatings))
		c.log.WithField("finish_reason", finish).Warn("candidate has no content parts")
		if blockingReasons[finish] || anyBlocked(first.SafetyRatings) {
			return backend.Fail(backend.FailureFiltered, detail)
		}
		return backend.Fail(backend.FailureEmpty, detail)
	}

	text := strings.TrimSpace(first.Content.Parts[0].Text)
	if text == "" {
		c.log.WithField("finish_reason", finish).Warn("content part has no text")
		return backend.Fail(backend.FailureEmpty, "No text in response part. Finish: "+finish)
	}

	c.log.Debug("generateContent succeeded")
	return backend.Success(text)
}

// The key travels in the query string, so transport errors quoting the URL
// must not leak it into the workbook.
func (c *Client) redact(message string) string {
	if c.credential == "" {
		return message
	}
	return strings.ReplaceAll(message, c.credential, "***")
}

func anyBlocked(ratings []safetyRating) bool {
	for _, rating := range ratings {
		if rating.Blocked {
			return true
		}
	}
	return false
}

func formatRatings(ratings []safetyRating) string {
	if len(ratings) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(ratings))
	for _, rating := range ratings {
		entry := rating.Category + "=" + rating.Probability
		if rating.Blocked {
			entry += " (blocked)"
		}
		parts = append(parts, entry)
	}
	return strings.Join(parts, ", ")
}
