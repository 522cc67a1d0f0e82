// Package messenger sends outbound messages through the messenger channel's
// HTTP API.
package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/stem/pkg/tracing"
)

// ErrSendFailed is returned when the API rejects a send. Wrapped errors
// carry the upstream detail.
var ErrSendFailed = errors.New("messenger send failed")

// Config holds messenger API configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the messenger send API.
type Client struct {
	http    *httpclient.Client
	baseURL string
	logger  ectologger.Logger
}

// NewClient creates a messenger API client.
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	httpCfg := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		httpCfg.Timeout = cfg.Timeout
	}

	return &Client{
		http:    httpclient.NewClient(httpCfg, logger),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger,
	}
}

type sendRequest struct {
	Recipient recipient `json:"recipient"`
	Message   message   `json:"message"`
}

type recipient struct {
	ID string `json:"id"`
}

type message struct {
	Text string `json:"text"`
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
	Error       *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a text message to a recipient on behalf of a page and
// returns the channel's message id. accessToken is the page-scoped token
// held by the integration.
func (c *Client) SendText(ctx context.Context, accessToken, recipientID, text string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "messenger.Client.SendText")
	defer span.End()

	span.SetAttributes(attribute.String("recipient_id", recipientID))

	endpoint := fmt.Sprintf("%s/me/messages?access_token=%s", c.baseURL, url.QueryEscape(accessToken))
	payload := sendRequest{
		Recipient: recipient{ID: recipientID},
		Message:   message{Text: text},
	}

	resp, err := c.http.PostJSON(ctx, endpoint, payload, nil)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	var body sendResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", fmt.Errorf("%w: unreadable response (status %d)", ErrSendFailed, resp.StatusCode)
	}

	if !resp.IsSuccess() || body.Error != nil {
		detail := "unknown error"
		if body.Error != nil {
			detail = body.Error.Message
		}
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"status":       resp.StatusCode,
			"recipient_id": recipientID,
		}).Errorf("Messenger send rejected: %s", detail)
		return "", fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode, detail)
	}

	c.logger.WithContext(ctx).Debugf("Messenger send accepted: %s", body.MessageID)
	return body.MessageID, nil
}
