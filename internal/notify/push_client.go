package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Token statuses the gateway reports for a permanently dead token. These
// are the only failures that trigger pruning; transient failures are left
// alone.
const (
	TokenStatusOK           = "ok"
	TokenStatusInvalid      = "invalid_token"
	TokenStatusUnregistered = "unregistered"
)

// TokenResult 单个 token 的投递结果
type TokenResult struct {
	Token  string `json:"token"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// MulticastResult 一次组播的投递结果
type MulticastResult struct {
	SuccessCount int           `json:"successCount"`
	FailureCount int           `json:"failureCount"`
	Results      []TokenResult `json:"results"`
}

// PermanentlyInvalid reports whether this token should be pruned from the
// owner's token set.
func (r *TokenResult) PermanentlyInvalid() bool {
	return r.Status == TokenStatusInvalid || r.Status == TokenStatusUnregistered
}

// pushRequest 推送网关请求体
type pushRequest struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Client 推送网关客户端（fire-and-forget 组播）
type Client struct {
	httpClient *resty.Client
	gatewayURL string
	logger     *zap.Logger
}

// NewClient 创建推送网关客户端
// An empty gatewayURL disables push entirely: sends succeed with an empty
// result, which keeps the durable notification records as the only
// delivery surface (valid per the best-effort contract).
func NewClient(gatewayURL string, timeout time.Duration, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: httpClient,
		gatewayURL: gatewayURL,
		logger:     logger,
	}
}

// SendMulticast 发送一次组播推送
// Per-token failures are reported in the result, never as an error; the
// returned error means the gateway itself was unreachable or rejected the
// request.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) (*MulticastResult, error) {
	if len(tokens) == 0 || c.gatewayURL == "" {
		return &MulticastResult{}, nil
	}

	request := pushRequest{
		Tokens: tokens,
		Title:  title,
		Body:   body,
		Data:   data,
	}

	var result MulticastResult
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&result).
		Post(c.gatewayURL)

	if err != nil {
		return nil, fmt.Errorf("failed to call push gateway: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("push gateway returned status %d", resp.StatusCode())
	}

	c.logger.Debug("Push multicast delivered",
		zap.Int("tokens", len(tokens)),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount),
	)

	return &result, nil
}
