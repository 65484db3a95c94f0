// Package mailer is a thin client for the transactional email API used for
// appraisal report delivery.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verity-group/appraisal-api/internal/resilience"
)

// Client sends transactional email.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Message is one outbound email.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body,omitempty"`
	Tag      string `json:"tag,omitempty"` // "free-report" or "personal-offer"
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey    string
	baseURL   string
	fromName  string
	fromEmail string
	http      *http.Client
}

// NewClient creates a mailer client.
func NewClient(apiKey, baseURL, fromName, fromEmail string, opts ...Option) Client {
	c := &httpClient{
		apiKey:    apiKey,
		baseURL:   baseURL,
		fromName:  fromName,
		fromEmail: fromEmail,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type sendRequest struct {
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	Message
}

func (c *httpClient) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return eris.New("mailer: recipient is required")
	}

	body, err := json.Marshal(sendRequest{
		FromName:  c.fromName,
		FromEmail: c.fromEmail,
		Message:   msg,
	})
	if err != nil {
		return eris.Wrap(err, "mailer: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "mailer: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "mailer: send")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		sendErr := eris.New(fmt.Sprintf("mailer: send returned %d: %s", resp.StatusCode, raw))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(sendErr, resp.StatusCode)
		}
		return sendErr
	}
	return nil
}
