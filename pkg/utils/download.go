package utils

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// NewDownloadClient 统一的图片下载客户端 (超时 + 有限重试)
func NewDownloadClient() *resty.Client {
	return resty.New().
		SetTimeout(30*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("User-Agent", "shopify-sync/1.0")
}

// Download 下载远程文件，返回内容和 Content-Type
// 响应未声明类型时按内容嗅探
func Download(ctx context.Context, client *resty.Client, url string) ([]byte, string, error) {
	if client == nil {
		client = NewDownloadClient()
	}
	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("下载失败: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, "", fmt.Errorf("下载失败: HTTP %d", resp.StatusCode())
	}

	data := resp.Body()
	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// Reachable 媒体提交前的预检：HEAD 请求，2xx 视为可拉取
func Reachable(ctx context.Context, client *resty.Client, url string) bool {
	if client == nil {
		client = NewDownloadClient()
	}
	resp, err := client.R().SetContext(ctx).Head(url)
	if err != nil {
		return false
	}
	return resp.StatusCode() >= 200 && resp.StatusCode() < 300
}
