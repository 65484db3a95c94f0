package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Trigger fires a sibling stage's invocation endpoint. The coordinator uses
// it as a self-healing measure when a dependency artifact never appears: the
// stage that should have produced it may simply never have been triggered.
type Trigger interface {
	TriggerStage(ctx context.Context, sessionID, stageName string) error
}

// HTTPTrigger triggers stages by POSTing to the service's own stage
// endpoints. The target endpoint is the idempotent invoker, so duplicate
// triggers converge on a single artifact write.
type HTTPTrigger struct {
	baseURL string
	http    *http.Client
}

// NewHTTPTrigger creates an HTTPTrigger against the service base URL.
func NewHTTPTrigger(baseURL string) *HTTPTrigger {
	return &HTTPTrigger{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient overrides the default http.Client.
func (t *HTTPTrigger) WithHTTPClient(hc *http.Client) *HTTPTrigger {
	t.http = hc
	return t
}

type triggerRequest struct {
	SessionID string `json:"sessionId"`
}

type triggerResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (t *HTTPTrigger) TriggerStage(ctx context.Context, sessionID, stageName string) error {
	body, err := json.Marshal(triggerRequest{SessionID: sessionID})
	if err != nil {
		return eris.Wrap(err, "trigger: marshal request")
	}

	endpoint := fmt.Sprintf("%s/api/sessions/%s/stages/%s", t.baseURL, sessionID, stageName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "trigger: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "trigger: post %s", stageName)
	}
	defer resp.Body.Close()

	var envelope triggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return eris.Wrapf(err, "trigger: decode %s response", stageName)
	}
	if resp.StatusCode >= 300 || !envelope.Success {
		return eris.Errorf("trigger: stage %s returned status %d success=%v error=%q",
			stageName, resp.StatusCode, envelope.Success, envelope.Error)
	}
	return nil
}
