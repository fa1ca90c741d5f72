package net

import (
	"bytes"
	"context"
	"net/http"
)

// BuildShopifyRequest 通用 Shopify Admin API 请求构建器
// 职责：统一封装鉴权头 (X-Shopify-Access-Token) 和标准头 (Accept, Content-Type)
// body 使用 bytes.Reader，http.NewRequest 会自动设置 GetBody，重试时可重放
func BuildShopifyRequest(ctx context.Context, method, url string, body []byte, accessToken string) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	var (
		req *http.Request
		err error
	)
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	return req, nil
}

// BuildShopifyGraphQLRequest 构建 GraphQL POST 请求
func BuildShopifyGraphQLRequest(ctx context.Context, url string, body []byte, accessToken string) (*http.Request, error) {
	return BuildShopifyRequest(ctx, http.MethodPost, url, body, accessToken)
}
