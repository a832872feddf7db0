package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	tavilyBaseURLDefault = "https://api.tavily.com"
	tavilyTimeoutDefault = 30 * time.Second
	maxErrorBody         = 512
)

// TavilyConfig configures the Tavily client.
type TavilyConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Tavily calls the Tavily REST API. The credential travels in the JSON body as
// api_key alongside the operation parameters.
type Tavily struct {
	client  *resty.Client
	baseURL string
}

// NewTavily creates a Tavily client with a bounded per-request timeout and no
// transport-level retries.
func NewTavily(cfg TavilyConfig) *Tavily {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = tavilyBaseURLDefault
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = tavilyTimeoutDefault
	}
	return &Tavily{
		client: resty.New().
			SetHeader("User-Agent", "tavily-mcp-gateway/1.0").
			SetHeader("Content-Type", "application/json").
			SetTimeout(cfg.Timeout).
			SetRetryCount(0),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Name implements Provider.
func (t *Tavily) Name() string { return "tavily" }

// Call implements Provider.
func (t *Tavily) Call(ctx context.Context, endpoint Endpoint, apiKey string, params any) ([]byte, error) {
	body, err := requestBody(apiKey, params)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(t.baseURL + "/" + string(endpoint))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("tavily %s: %w: %w", endpoint, ErrTimeout, err)
		}
		return nil, fmt.Errorf("tavily %s: %w", endpoint, err)
	}
	if resp.IsError() {
		msg := errorMessage(resp.Body())
		log.Debug().Str("endpoint", string(endpoint)).Int("status", resp.StatusCode()).Str("response", msg).Msg("tavily API error")
		return nil, &RemoteError{Endpoint: endpoint, Status: resp.StatusCode(), Message: msg}
	}

	raw := resp.Body()
	if !json.Valid(raw) {
		return nil, fmt.Errorf("tavily %s: response is not valid JSON", endpoint)
	}
	return raw, nil
}

// requestBody flattens params into a JSON object and adds the credential.
func requestBody(apiKey string, params any) (map[string]any, error) {
	body := map[string]any{}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("tavily: marshal params: %w", err)
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("tavily: params must encode to a JSON object: %w", err)
		}
	}
	body["api_key"] = apiKey
	return body, nil
}

// errorMessage extracts the provider's message from an error body.
func errorMessage(raw []byte) string {
	var doc struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &doc); err == nil {
		switch {
		case doc.Error != "":
			return doc.Error
		case doc.Message != "":
			return doc.Message
		case len(doc.Detail) > 0:
			var detail struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(doc.Detail, &detail) == nil && detail.Error != "" {
				return detail.Error
			}
			var s string
			if json.Unmarshal(doc.Detail, &s) == nil {
				return s
			}
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return msg
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
