package service

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	neturl "net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"shopify_sync_v1/internal/api/dto"
)

func TestNewStorageService_Local(t *testing.T) {
	svc, err := NewStorageService(StorageConfig{
		Provider: "local",
		BasePath: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewStorageService() error = %v", err)
	}
	if _, ok := svc.provider.(*LocalStorage); !ok {
		t.Errorf("provider = %T, 期望 *LocalStorage", svc.provider)
	}
}

func TestNewStorageService_InvalidProvider(t *testing.T) {
	if _, err := NewStorageService(StorageConfig{Provider: "invalid"}); err == nil {
		t.Error("期望返回错误，但未返回")
	}
}

func TestLocalStorage_Upload(t *testing.T) {
	root := t.TempDir()
	svc, err := NewStorageService(StorageConfig{
		Provider: "local",
		BasePath: root,
		Endpoint: "http://cdn.test/uploads/",
	})
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}

	ctx := context.Background()
	url, err := svc.Upload(ctx, []byte("hello"), "shirt.PNG", "image/png")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !strings.HasPrefix(url, "http://cdn.test/uploads/") || !strings.HasSuffix(url, ".png") {
		t.Fatalf("URL 格式不正确: %s", url)
	}

	key := strings.TrimPrefix(url, "http://cdn.test/uploads/")
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	if err != nil {
		t.Fatalf("文件未写入: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("文件内容 = %q", data)
	}
}

func TestLocalStorage_UploadFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	svc, err := NewStorageService(StorageConfig{Provider: "local", BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url, err := svc.UploadFromURL(ctx, srv.URL+"/a.jpg", "a.jpg")
	if err != nil {
		t.Fatalf("UploadFromURL() error = %v", err)
	}
	if url == "" {
		t.Error("UploadFromURL() 返回空 URL")
	}

	if _, err := svc.UploadFromURL(ctx, srv.URL+"/missing.jpg", "missing.jpg"); err == nil {
		t.Error("404 应返回错误")
	}
}

func TestStorageService_SaveBase64(t *testing.T) {
	svc, err := NewStorageService(StorageConfig{Provider: "local", BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}

	// 1x1 PNG
	png := []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x02, 0x00, 0x00, 0x00, 0x90, 0x77, 0x53,
		0xDE, 0x00, 0x00, 0x00, 0x0C, 0x49, 0x44, 0x41,
		0x54, 0x08, 0xD7, 0x63, 0xF8, 0xFF, 0xFF, 0x3F,
		0x00, 0x05, 0xFE, 0x02, 0xFE, 0xDC, 0xCC, 0x59,
		0xE7, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4E,
		0x44, 0xAE, 0x42, 0x60, 0x82,
	}
	encoded := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	url, err := svc.SaveBase64(context.Background(), encoded, "variant")
	if err != nil {
		t.Fatalf("SaveBase64() error = %v", err)
	}
	if !strings.HasSuffix(url, ".png") {
		t.Errorf("扩展名应为 .png: %s", url)
	}

	if _, err := svc.SaveBase64(context.Background(), "!!!", "bad"); err == nil {
		t.Error("非法 Base64 应返回错误")
	}
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

	key := objectKey("/catalog/", "a.JPEG", now)
	if !strings.HasPrefix(key, "catalog/2025/03/04/") || !strings.HasSuffix(key, ".jpeg") {
		t.Errorf("key = %s", key)
	}
	if key := objectKey("", "noext", now); !strings.HasSuffix(key, ".jpg") {
		t.Errorf("默认扩展名应为 .jpg: %s", key)
	}
}

func TestS3Storage_Upload(t *testing.T) {
	bucket := os.Getenv("AWS_BUCKET")
	if bucket == "" {
		t.Skip("跳过: 需要设置 AWS_BUCKET 环境变量")
	}

	svc, err := NewStorageService(StorageConfig{
		Provider:  "s3",
		Bucket:    bucket,
		Region:    os.Getenv("AWS_REGION"),
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		BasePath:  "test",
	})
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}

	ctx := context.Background()
	url, err := svc.Upload(ctx, []byte("S3 Upload Test - "+time.Now().Format(time.RFC3339)), "test_upload.txt", "text/plain")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !strings.Contains(url, bucket) {
		t.Errorf("URL 格式不正确: %s", url)
	}
}

func TestObjectStorage_URLFor(t *testing.T) {
	s := &ObjectStorage{publicURL: "https://b.s3.us-east-1.amazonaws.com", cdnDomain: "cdn.example.com"}
	if got := s.urlFor("2025/01/01/x.jpg"); got != "https://cdn.example.com/2025/01/01/x.jpg" {
		t.Errorf("CDN url = %s", got)
	}
	s.cdnDomain = ""
	if got := s.urlFor("a/b.jpg"); got != "https://b.s3.us-east-1.amazonaws.com/a/b.jpg" {
		t.Errorf("bucket url = %s", got)
	}
}

// ==================== 代理图片转存 ====================

// rewriteHost 所有请求转发到测试服务器
type rewriteHost struct{ target *neturl.URL }

func (h rewriteHost) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = h.target.Scheme
	r.URL.Host = h.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func TestIngestProduct_RehostsProxyImages(t *testing.T) {
	var fetched []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched = append(fetched, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/gone.jpg") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()
	target, _ := neturl.Parse(srv.URL)

	local := NewLocalStorage(StorageConfig{BasePath: t.TempDir(), Endpoint: "https://files.test/uploads"})
	local.http = resty.New().SetTransport(rewriteHost{target: target})

	env := newTestEnv(t)
	svc := NewProductService(env.products, env.stores, NewStorageServiceWith(local),
		env.sync, env.zero, NewInventoryActivator(env.api, env.stores))

	p, err := svc.IngestProduct(context.Background(), dto.IngestProductReq{
		UniqueReferenceCode: "PROXY-1",
		Title:               "Test Shirt",
		Images: []dto.ImageReq{
			{URL: "https://images.weserv.nl/thumb/front.jpg"},
			{URL: "https://img.test/back.jpg"},
			{URL: "https://wsrv.nl/gone.jpg"},
		},
		Variants: []dto.VariantReq{{Price: decimal.NewFromInt(10), StockQuantity: 1}},
	})
	if err != nil {
		t.Fatalf("IngestProduct() error = %v", err)
	}

	got := map[int]string{}
	for _, img := range env.graph(t, p.ID).Images {
		got[img.DisplayOrder] = img.OriginalURL
	}
	if !strings.HasPrefix(got[1], "https://files.test/uploads/") || !strings.HasSuffix(got[1], ".jpg") {
		t.Errorf("代理图片应转存: %s", got[1])
	}
	if got[2] != "https://img.test/back.jpg" {
		t.Errorf("普通图片不应转存: %s", got[2])
	}
	// 转存失败保留原地址
	if got[3] != "https://wsrv.nl/gone.jpg" {
		t.Errorf("转存失败应保留原地址: %s", got[3])
	}
	if len(fetched) != 2 {
		t.Errorf("下载次数 = %d, 期望 2 (%v)", len(fetched), fetched)
	}
}
