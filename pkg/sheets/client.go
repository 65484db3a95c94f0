// Package sheets appends and updates submission rows in the remote
// spreadsheet log. Every call is best-effort from the pipeline's point of
// view; the client itself just reports errors.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verity-group/appraisal-api/internal/resilience"
)

// Client writes submission rows keyed by session ID.
type Client interface {
	AppendRow(ctx context.Context, row Row) error
	UpdateRow(ctx context.Context, row Row) error
}

// Row is one submission log entry.
type Row struct {
	SessionID   string    `json:"sessionId"`
	Email       string    `json:"email,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Status      string    `json:"status"`
	ReportSent  bool      `json:"reportSent"`
	OfferSent   bool      `json:"offerSent"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey        string
	baseURL       string
	spreadsheetID string
	sheetName     string
	http          *http.Client
}

// NewClient creates a spreadsheet log client.
func NewClient(apiKey, baseURL, spreadsheetID, sheetName string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		baseURL:       baseURL,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) AppendRow(ctx context.Context, row Row) error {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s:append", c.baseURL, c.spreadsheetID, url.PathEscape(c.sheetName))
	return c.post(ctx, endpoint, row)
}

func (c *httpClient) UpdateRow(ctx context.Context, row Row) error {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s/%s", c.baseURL, c.spreadsheetID, url.PathEscape(c.sheetName), url.PathEscape(row.SessionID))
	return c.post(ctx, endpoint, row)
}

func (c *httpClient) post(ctx context.Context, endpoint string, row Row) error {
	if row.SessionID == "" {
		return eris.New("sheets: session id is required")
	}

	body, err := json.Marshal(row)
	if err != nil {
		return eris.Wrap(err, "sheets: marshal row")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "sheets: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "sheets: post row")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		postErr := eris.New(fmt.Sprintf("sheets: row write returned %d: %s", resp.StatusCode, raw))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(postErr, resp.StatusCode)
		}
		return postErr
	}
	return nil
}
