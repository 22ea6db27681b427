package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/goosewin/cellfill/internal/backend"
)

// Client speaks the OpenAI-compatible chat completions protocol against
// <ENDPOINT>/chat/completions.
type Client struct {
	name    string
	model   string
	timeout time.Duration
	api     *goopenai.Client
	log     logrus.FieldLogger
}

// New builds a client for def.
func New(def backend.Definition, opts backend.ClientOptions) *Client {
	cfg := goopenai.DefaultConfig(def.Credential)
	cfg.BaseURL = strings.TrimRight(def.Endpoint, "/")
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &Client{
		name:    def.Name,
		model:   def.Model,
		timeout: opts.Timeout,
		api:     goopenai.NewClientWithConfig(cfg),
		log:     opts.Logger.WithFields(logrus.Fields{"backend": def.Name, "protocol": string(backend.ProtocolOpenAIChat)}),
	}
}

var _ backend.Client = (*Client)(nil)

func init() {
	factory := func(def backend.Definition, opts backend.ClientOptions) backend.Client {
		return New(def, opts)
	}
	if err := backend.Register(backend.ProtocolOpenAIChat, factory); err != nil {
		panic(err)
	}
}

func (c *Client) Generate(ctx context.Context, req backend.Request) backend.Result {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	c.log.WithField("model", c.model).Debug("calling chat completions")

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return c.classify(err)
	}
	return c.extract(resp)
}

func (c *Client) classify(err error) backend.Result {
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError

	switch {
	case backend.IsTimeout(err):
		c.log.WithError(err).Warnf("request timed out after %s", c.timeout)
		return backend.Fail(backend.FailureTimeout, err.Error())
	case errors.As(err, &apiErr):
		detail := apiErr.Message
		if apiErr.Type != "" {
			detail += " type=" + apiErr.Type
		}
		if apiErr.Code != nil {
			detail += fmt.Sprintf(" code=%v", apiErr.Code)
		}
		c.log.WithField("status", apiErr.HTTPStatusCode).Warn(detail)
		return backend.FailStatus(apiErr.HTTPStatusCode, detail)
	case errors.As(err, &reqErr):
		detail := backend.ErrorDetail(reqErr.Body)
		c.log.WithField("status", reqErr.HTTPStatusCode).Warn(detail)
		return backend.FailStatus(reqErr.HTTPStatusCode, detail)
	default:
		c.log.WithError(err).Warn("request failed")
		return backend.Fail(backend.FailureTransport, err.Error())
	}
}

func (c *Client) extract(resp goopenai.ChatCompletionResponse) backend.Result {
	if len(resp.Choices) == 0 {
		c.log.Warn("response has no choices")
		return backend.Fail(backend.FailureEmpty, "No choices in API response.")
	}

	choice := resp.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	finish := string(choice.FinishReason)
	if content == "" {
		if choice.FinishReason == goopenai.FinishReasonContentFilter {
			c.log.WithField("finish_reason", finish).Warn("response filtered")
			return backend.Fail(backend.FailureFiltered, "Finish: "+finish)
		}
		c.log.WithField("finish_reason", finish).Warn("response message has no content")
		return backend.Fail(backend.FailureEmpty, "Finish: "+defaultReason(finish))
	}

	if choice.FinishReason == goopenai.FinishReasonContentFilter {
		c.log.Warn("response was partially filtered")
	}
	c.log.Debug("chat completion succeeded")
	return backend.Success(content)
}

func defaultReason(reason string) string {
	if strings.TrimSpace(reason) == "" {
		return "UNKNOWN"
	}
	return reason
}
