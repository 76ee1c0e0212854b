package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stampsync/internal/domain"
)

// Remote function names.
const (
	FnIssueStamp   = "issue_stamp"
	FnRedeemReward = "redeem_reward"
)

// ErrRejected marks a response that arrived but reported success=false.
var ErrRejected = errors.New("rejected by remote")

// Client is the remote RPC contract for offline operations.
type Client interface {
	IssueStamp(ctx context.Context, payload json.RawMessage) (domain.RPCResult, error)
	RedeemReward(ctx context.Context, payload json.RawMessage) (domain.RPCResult, error)
}

// HTTPClient calls POST {BaseURL}/rpc/{fn} with the payload as the body.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) IssueStamp(ctx context.Context, payload json.RawMessage) (domain.RPCResult, error) {
	return c.Call(ctx, FnIssueStamp, payload)
}

func (c *HTTPClient) RedeemReward(ctx context.Context, payload json.RawMessage) (domain.RPCResult, error) {
	return c.Call(ctx, FnRedeemReward, payload)
}

// Call invokes one remote function. Transport failures and non-2xx statuses
// are returned as errors; a decoded body is returned as-is.
func (c *HTTPClient) Call(ctx context.Context, fn string, payload json.RawMessage) (domain.RPCResult, error) {
	if c.BaseURL == "" {
		return domain.RPCResult{}, fmt.Errorf("rpc %s: base URL is required", fn)
	}
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	} else {
		body = strings.NewReader("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/rpc/"+fn, body)
	if err != nil {
		return domain.RPCResult{}, fmt.Errorf("failed to create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("apikey", c.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return domain.RPCResult{}, fmt.Errorf("rpc %s failed: %w", fn, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RPCResult{}, fmt.Errorf("failed to read rpc response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return domain.RPCResult{}, fmt.Errorf("rpc %s: HTTP %d: %s", fn, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var res domain.RPCResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return domain.RPCResult{}, fmt.Errorf("rpc %s: invalid response: %w", fn, err)
	}
	return res, nil
}
