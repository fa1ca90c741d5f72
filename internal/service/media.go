package service

import (
	"context"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"shopify_sync_v1/internal/model"
	"shopify_sync_v1/pkg/shopify"
	"shopify_sync_v1/pkg/utils"
)

// MediaOptions 媒体轮询参数
type MediaOptions struct {
	PollTimeout  time.Duration
	PollInterval time.Duration
	DeleteOrphan bool // 解绑后删除不再被引用的媒体
	Preflight    bool // 提交前 HEAD 检查图片地址
}

// MediaReconciler 变体图片：创建 -> 轮询 -> 先解绑后绑定
type MediaReconciler struct {
	api   CatalogAPI
	opts  MediaOptions
	http  *resty.Client
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewMediaReconciler(api CatalogAPI, opts MediaOptions) *MediaReconciler {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	m := &MediaReconciler{api: api, opts: opts, now: time.Now, sleep: sleepCtx}
	if opts.Preflight {
		m.http = utils.NewDownloadClient().SetRetryCount(0).SetTimeout(10 * time.Second)
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ==================== URL 过滤 ====================

var (
	blockedExtensions = map[string]struct{}{
		".svg": {}, ".mp4": {}, ".mov": {}, ".webm": {}, ".avi": {}, ".m3u8": {},
	}
	// 代理/缩略图域名：允许提交但大概率处理失败
	riskyHosts = []string{"images.weserv.nl", "wsrv.nl", "thumbor", "imgproxy", "cloudimg.io"}
)

// mediaSourceAllowed 返回是否允许提交，以及需要记录的告警
func mediaSourceAllowed(raw string) (bool, string) {
	if raw == "" {
		return false, "empty url"
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false, "invalid url"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if _, blocked := blockedExtensions[ext]; blocked {
		return false, "unsupported media type " + ext
	}
	if isProxyHost(u.Host) {
		return true, "proxy/thumbnail url may fail"
	}
	return true, ""
}

// isProxyHost 代理/缩略图服务域名
func isProxyHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range riskyHosts {
		if strings.Contains(host, h) {
			return true
		}
	}
	return false
}

// ==================== 变体图片 ====================

type mediaTarget struct {
	variant  *model.ProductVariant
	image    *model.ProductImage // nil 表示使用 variant.ImageURL
	url      string
	remoteID string
	existing []string // 远端当前绑定的媒体
}

// Sync 对一个店铺的商品做变体图片对账
func (m *MediaReconciler) Sync(ctx context.Context, run *storeRun, details *shopify.ProductDetails) {
	if details == nil {
		return
	}
	productID := details.ID

	// 1. 计算需要处理的变体
	remoteMedia := map[string][]string{}
	for _, rv := range details.Variants {
		remoteMedia[rv.ID] = rv.MediaIDs
	}
	targets := m.collectTargets(ctx, run, remoteMedia)
	if len(targets) == 0 {
		return
	}

	// 2. 先解绑旧媒体
	var detach []shopify.VariantMedia
	detached := map[string]struct{}{}
	for _, t := range targets {
		if len(t.existing) == 0 {
			continue
		}
		detach = append(detach, shopify.VariantMedia{VariantID: t.remoteID, MediaIDs: t.existing})
		for _, id := range t.existing {
			detached[id] = struct{}{}
		}
	}
	if len(detach) > 0 {
		if err := m.api.DetachMediaFromVariants(ctx, run.session, productID, detach); err != nil {
			// 解绑失败时不能继续绑定
			run.log.Error("解绑变体媒体失败", zap.Error(err))
			run.result.MediaFailed += len(targets)
			return
		}
	}

	// 3. 可选：删除不再被引用的媒体
	if m.opts.DeleteOrphan && len(detached) > 0 {
		m.deleteOrphans(ctx, run, details, targets, detached)
	}

	// 4. 创建新媒体 (相同 URL 只创建一次)
	var inputs []shopify.MediaInput
	urlIndex := map[string]int{}
	for _, t := range targets {
		if _, ok := urlIndex[t.url]; ok {
			continue
		}
		urlIndex[t.url] = len(inputs)
		inputs = append(inputs, shopify.MediaInput{OriginalSource: t.url, Alt: run.product.Title})
	}
	created, err := m.api.CreateMedia(ctx, run.session, productID, inputs)
	if err != nil {
		run.log.Error("创建媒体失败", zap.Error(err))
		run.result.MediaFailed += len(targets)
		return
	}

	// 5. 轮询就绪状态
	ready, failed := m.waitReady(ctx, run, productID, created.MediaIDs)
	for id := range failed {
		run.log.Warn("媒体处理失败", zap.String("media_id", id))
	}

	// 6. 只绑定 READY 的媒体
	var attach []shopify.VariantMedia
	var attached []mediaTarget
	for _, t := range targets {
		idx := urlIndex[t.url]
		if idx >= len(created.MediaIDs) {
			run.result.MediaFailed++
			continue
		}
		mediaID := created.MediaIDs[idx]
		if _, ok := ready[mediaID]; !ok {
			run.result.MediaFailed++
			continue
		}
		attach = append(attach, shopify.VariantMedia{VariantID: t.remoteID, MediaIDs: []string{mediaID}})
		attached = append(attached, t)
	}
	if len(attach) == 0 {
		return
	}
	if err := m.api.AttachMediaToVariants(ctx, run.session, productID, attach); err != nil {
		run.log.Error("绑定变体媒体失败", zap.Error(err))
		run.result.MediaFailed += len(attach)
		return
	}

	sid := run.storeID()
	for i, t := range attached {
		mediaID := attach[i].MediaIDs[0]
		run.batch.variant(t.variant.ID).MediaIDs.Set(sid, mediaID)
		if t.image != nil {
			run.batch.image(t.image.ID).Set(sid, mediaID)
		}
		run.result.MediaAttached++
	}
}

// collectTargets 有图片、已有远端变体、且远端尚未绑定对应媒体的变体
func (m *MediaReconciler) collectTargets(ctx context.Context, run *storeRun, remoteMedia map[string][]string) []mediaTarget {
	imageByVariant := map[int64]*model.ProductImage{}
	for i := range run.product.Images {
		img := &run.product.Images[i]
		if img.VariantID == nil || img.SourceURL() == "" {
			continue
		}
		if _, ok := imageByVariant[*img.VariantID]; !ok {
			imageByVariant[*img.VariantID] = img
		}
	}

	var targets []mediaTarget
	for i := range run.product.Variants {
		v := &run.product.Variants[i]
		remoteID := run.remoteVariantID(v)
		if remoteID == "" {
			continue
		}

		t := mediaTarget{variant: v, remoteID: remoteID, existing: remoteMedia[remoteID]}
		known := ""
		if img, ok := imageByVariant[v.ID]; ok {
			t.image = img
			t.url = img.SourceURL()
			known = run.imageMediaID(img)
		} else {
			t.url = v.ImageURL
			known = run.variantMediaID(v)
		}
		if t.url == "" {
			continue
		}
		if known != "" && containsString(t.existing, known) {
			continue
		}

		ok, warn := mediaSourceAllowed(t.url)
		if warn != "" {
			run.log.Warn("媒体地址可能无法处理", zap.String("url", t.url), zap.String("reason", warn))
		}
		if !ok {
			run.result.MediaFailed++
			continue
		}
		if m.http != nil && !utils.Reachable(ctx, m.http, t.url) {
			run.log.Warn("媒体地址不可访问", zap.String("url", t.url))
			run.result.MediaFailed++
			continue
		}
		targets = append(targets, t)
	}
	return targets
}

// deleteOrphans 只删除没有被其它变体或商品图引用的媒体
func (m *MediaReconciler) deleteOrphans(ctx context.Context, run *storeRun, details *shopify.ProductDetails, targets []mediaTarget, detached map[string]struct{}) {
	updating := map[string]struct{}{}
	for _, t := range targets {
		updating[t.remoteID] = struct{}{}
	}
	inUse := map[string]struct{}{}
	for _, rv := range details.Variants {
		if _, ok := updating[rv.ID]; ok {
			continue
		}
		for _, id := range rv.MediaIDs {
			inUse[id] = struct{}{}
		}
	}
	for _, img := range productLevelImages(run.product) {
		if id := run.imageMediaID(img); id != "" {
			inUse[id] = struct{}{}
		}
	}
	onProduct := map[string]struct{}{}
	for _, media := range details.Media {
		onProduct[media.ID] = struct{}{}
	}

	var orphans []string
	for id := range detached {
		if _, used := inUse[id]; used {
			continue
		}
		if _, ok := onProduct[id]; !ok {
			continue
		}
		orphans = append(orphans, id)
	}
	if len(orphans) == 0 {
		return
	}
	if err := m.api.DeleteMedia(ctx, run.session, details.ID, orphans); err != nil {
		run.log.Warn("删除孤立媒体失败", zap.Strings("media_ids", orphans), zap.Error(err))
	}
}

// waitReady 轮询直到全部 READY/FAILED 或超时；超时后仍在处理中的视为失败
func (m *MediaReconciler) waitReady(ctx context.Context, run *storeRun, productID string, ids []string) (ready, failed map[string]struct{}) {
	ready = map[string]struct{}{}
	failed = map[string]struct{}{}
	pending := map[string]struct{}{}
	for _, id := range ids {
		pending[id] = struct{}{}
	}

	deadline := m.now().Add(m.opts.PollTimeout)
	for len(pending) > 0 {
		statuses, err := m.api.GetMediaStatus(ctx, run.session, productID)
		if err != nil {
			run.log.Warn("查询媒体状态失败", zap.Error(err))
		}
		for _, media := range statuses {
			if _, ok := pending[media.ID]; !ok {
				continue
			}
			switch media.Status {
			case shopify.MediaReady:
				ready[media.ID] = struct{}{}
				delete(pending, media.ID)
			case shopify.MediaFailed:
				failed[media.ID] = struct{}{}
				delete(pending, media.ID)
			}
		}
		if len(pending) == 0 || !m.now().Before(deadline) {
			break
		}
		if err := m.sleep(ctx, m.opts.PollInterval); err != nil {
			break
		}
	}

	if len(pending) > 0 {
		run.log.Warn("媒体轮询超时", zap.Int("pending", len(pending)))
		for id := range pending {
			failed[id] = struct{}{}
		}
	}
	return ready, failed
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
