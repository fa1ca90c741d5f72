package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"shopify_sync_v1/pkg/net"
)

// DefaultAPIVersion Admin API 版本
const DefaultAPIVersion = "2024-10"

// Session 单个店铺的调用凭证
type Session struct {
	StoreID     int64
	Domain      string // xxx.myshopify.com (测试时可带 scheme)
	AccessToken string
}

// ==================== GraphQL 报文 ====================

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data       json.RawMessage        `json:"data"`
	Errors     []graphQLErrorItem     `json:"errors,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

type graphQLErrorItem struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// ==================== Client ====================

// Client Shopify Admin GraphQL 客户端
// 传输层走 net.Dispatcher (按店铺限流 + 重试)
type Client struct {
	dispatcher    net.Dispatcher
	apiVersion    string
	maxThrottled  int
	throttleFloor time.Duration
	log           *zap.Logger
}

// NewClient 创建客户端
func NewClient(dispatcher net.Dispatcher, apiVersion string, log *zap.Logger) *Client {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		dispatcher:    dispatcher,
		apiVersion:    apiVersion,
		maxThrottled:  2,
		throttleFloor: 500 * time.Millisecond,
		log:           log,
	}
}

func (c *Client) endpoint(domain string) string {
	origin := strings.TrimSuffix(domain, "/")
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		origin = "https://" + origin
	}
	return fmt.Sprintf("%s/admin/api/%s/graphql.json", origin, c.apiVersion)
}

// Do 执行一次 GraphQL 调用，并把 data 解析到 out
// op 仅用于错误上下文
func (c *Client) Do(ctx context.Context, s Session, op, query string, vars map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}

	for attempt := 0; ; attempt++ {
		gqlResp, err := c.send(ctx, s, op, body)
		if err != nil {
			return err
		}

		// 1. 限流：按 throttleStatus 计算等待时长后重放
		if isThrottled(gqlResp.Errors) && attempt < c.maxThrottled {
			wait := throttleWait(gqlResp.Extensions, c.throttleFloor)
			c.log.Warn("Shopify 限流，等待后重试",
				zap.String("op", op), zap.Int64("store_id", s.StoreID), zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		// 2. 顶层错误
		if len(gqlResp.Errors) > 0 {
			msgs := make([]string, 0, len(gqlResp.Errors))
			for _, e := range gqlResp.Errors {
				msgs = append(msgs, e.Message)
			}
			return &GraphQLError{Operation: op, StoreID: s.StoreID, Messages: msgs}
		}

		if len(gqlResp.Data) == 0 || string(gqlResp.Data) == "null" {
			return &GraphQLError{Operation: op, StoreID: s.StoreID, Messages: []string{"empty data"}}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(gqlResp.Data, out); err != nil {
			return fmt.Errorf("%s: decode data: %w", op, err)
		}
		return nil
	}
}

func (c *Client) send(ctx context.Context, s Session, op string, body []byte) (*graphQLResponse, error) {
	req, err := net.BuildShopifyGraphQLRequest(ctx, c.endpoint(s.Domain), body, s.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}

	resp, err := c.dispatcher.Send(ctx, s.StoreID, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Operation: op, StoreID: s.StoreID, StatusCode: resp.StatusCode, Body: truncate(string(raw), 300)}
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(raw, &gqlResp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return &gqlResp, nil
}

func isThrottled(errs []graphQLErrorItem) bool {
	for _, e := range errs {
		if code, _ := e.Extensions["code"].(string); code == "THROTTLED" {
			return true
		}
		if strings.EqualFold(e.Message, "throttled") {
			return true
		}
	}
	return false
}

// throttleWait 根据 extensions.cost.throttleStatus 计算恢复所需时长
func throttleWait(extensions map[string]interface{}, floor time.Duration) time.Duration {
	cost, ok := extensions["cost"].(map[string]interface{})
	if !ok {
		return floor
	}
	requested, _ := cost["requestedQueryCost"].(float64)
	status, ok := cost["throttleStatus"].(map[string]interface{})
	if !ok {
		return floor
	}
	available, _ := status["currentlyAvailable"].(float64)
	restoreRate, _ := status["restoreRate"].(float64)
	if restoreRate <= 0 || requested <= available {
		return floor
	}

	wait := time.Duration((requested - available) / restoreRate * float64(time.Second))
	if wait < floor {
		return floor
	}
	return wait
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
