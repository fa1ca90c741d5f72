package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"shopify_sync_v1/pkg/utils"
)

// ==================== 接口定义 ====================

// StorageProvider 商品图片存储，返回 Shopify 可直接拉取的公开 URL
type StorageProvider interface {
	Upload(ctx context.Context, data []byte, filename string, contentType string) (url string, err error)
	UploadFromURL(ctx context.Context, sourceURL string, filename string) (url string, err error)
}

// ==================== 配置 ====================

type StorageConfig struct {
	Provider  string // "s3" | "cos" | "local"
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string // cos: 自定义端点; local: 对外访问前缀
	CDNDomain string
	BasePath  string
}

// ==================== 工厂方法 ====================

func NewStorageProvider(cfg StorageConfig) (StorageProvider, error) {
	switch cfg.Provider {
	case "s3":
		return newObjectStorage(cfg, false)
	case "cos":
		return newObjectStorage(cfg, true)
	case "local", "":
		return NewLocalStorage(cfg), nil
	default:
		return nil, fmt.Errorf("不支持的存储提供者: %s", cfg.Provider)
	}
}

// StorageService 对外的存储入口 (商品导入时上传 Base64 图片、转存代理图片)
type StorageService struct {
	provider StorageProvider
}

func NewStorageService(cfg StorageConfig) (*StorageService, error) {
	provider, err := NewStorageProvider(cfg)
	if err != nil {
		return nil, err
	}
	return &StorageService{provider: provider}, nil
}

// NewStorageServiceWith 注入自定义 provider (测试)
func NewStorageServiceWith(p StorageProvider) *StorageService {
	return &StorageService{provider: p}
}

func (s *StorageService) Upload(ctx context.Context, data []byte, filename string, contentType string) (string, error) {
	return s.provider.Upload(ctx, data, filename, contentType)
}

func (s *StorageService) UploadFromURL(ctx context.Context, sourceURL string, filename string) (string, error) {
	return s.provider.UploadFromURL(ctx, sourceURL, filename)
}

// SaveBase64 保存 Base64 图片，支持 data URL 前缀
func (s *StorageService) SaveBase64(ctx context.Context, base64Data string, prefix string) (string, error) {
	if idx := strings.Index(base64Data, ","); idx != -1 {
		base64Data = base64Data[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return "", fmt.Errorf("Base64 解码失败: %v", err)
	}
	filename := fmt.Sprintf("%s_%s%s", prefix, uuid.New().String()[:8], extensionFor(http.DetectContentType(data)))
	return s.provider.Upload(ctx, data, filename, "")
}

// ==================== S3 / COS 实现 ====================

// ObjectStorage S3 协议对象存储；COS 走自定义端点 + path style
type ObjectStorage struct {
	client    *s3.Client
	bucket    string
	publicURL string // 无 CDN 时的公开地址前缀
	cdnDomain string
	basePath  string
	http      *resty.Client
}

func newObjectStorage(cfg StorageConfig, cos bool) (*ObjectStorage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("加载对象存储配置失败: %v", err)
	}

	publicURL := fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	var opts []func(*s3.Options)
	if cos {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://cos.%s.myqcloud.com", cfg.Region)
		}
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
		publicURL = fmt.Sprintf("https://%s.cos.%s.myqcloud.com", cfg.Bucket, cfg.Region)
	}

	return &ObjectStorage{
		client:    s3.NewFromConfig(awsCfg, opts...),
		bucket:    cfg.Bucket,
		publicURL: publicURL,
		cdnDomain: cfg.CDNDomain,
		basePath:  cfg.BasePath,
		http:      utils.NewDownloadClient(),
	}, nil
}

func (s *ObjectStorage) Upload(ctx context.Context, data []byte, filename string, contentType string) (string, error) {
	key := objectKey(s.basePath, filename, time.Now())
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("上传对象存储失败: %v", err)
	}
	return s.urlFor(key), nil
}

func (s *ObjectStorage) UploadFromURL(ctx context.Context, sourceURL string, filename string) (string, error) {
	data, contentType, err := utils.Download(ctx, s.http, sourceURL)
	if err != nil {
		return "", err
	}
	return s.Upload(ctx, data, filename, contentType)
}

func (s *ObjectStorage) urlFor(key string) string {
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cdnDomain, key)
	}
	return s.publicURL + "/" + key
}

// ==================== 本地存储 (开发/测试) ====================

type LocalStorage struct {
	root    string
	baseURL string
	http    *resty.Client
	now     func() time.Time
}

func NewLocalStorage(cfg StorageConfig) *LocalStorage {
	root := cfg.BasePath
	if root == "" {
		root = "./uploads"
	}
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = "http://localhost:8080/uploads"
	}
	return &LocalStorage{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    utils.NewDownloadClient(),
		now:     time.Now,
	}
}

func (s *LocalStorage) Upload(_ context.Context, data []byte, filename string, _ string) (string, error) {
	key := objectKey("", filename, s.now())
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("创建目录失败: %v", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("写入文件失败: %v", err)
	}
	return s.baseURL + "/" + key, nil
}

func (s *LocalStorage) UploadFromURL(ctx context.Context, sourceURL string, filename string) (string, error) {
	data, contentType, err := utils.Download(ctx, s.http, sourceURL)
	if err != nil {
		return "", err
	}
	return s.Upload(ctx, data, filename, contentType)
}

// ==================== 工具函数 ====================

// objectKey basePath/2006/01/02/<uuid><ext>
func objectKey(basePath, filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	key := path.Join(now.Format("2006/01/02"), uuid.New().String()+ext)
	if basePath != "" {
		key = path.Join(strings.Trim(basePath, "/"), key)
	}
	return key
}

func extensionFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "image/webp"):
		return ".webp"
	case strings.HasPrefix(contentType, "image/gif"):
		return ".gif"
	default:
		return ".jpg"
	}
}
