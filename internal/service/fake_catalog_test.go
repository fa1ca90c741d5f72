package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"shopify_sync_v1/internal/event"
	"shopify_sync_v1/internal/model"
	"shopify_sync_v1/internal/repository"
	"shopify_sync_v1/pkg/shopify"
)

// ==================== 内存版远端目录 ====================

// fakeCatalog 按店铺隔离的内存商品目录，记录全部调用顺序
type fakeCatalog struct {
	mu       sync.Mutex
	seq      int
	products map[int64]map[string]*shopify.ProductDetails
	calls    []string

	failCreate     map[int64]error
	failUpdate     map[int64]error
	failDelete     map[int64]error
	dupHandleOnce  map[int64]bool
	existsOnCreate map[int64]bool
	locations      map[int64][]shopify.Location
	mediaStatus    shopify.MediaStatus
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products:       map[int64]map[string]*shopify.ProductDetails{},
		failCreate:     map[int64]error{},
		failUpdate:     map[int64]error{},
		failDelete:     map[int64]error{},
		dupHandleOnce:  map[int64]bool{},
		existsOnCreate: map[int64]bool{},
		locations:      map[int64][]shopify.Location{},
		mediaStatus:    shopify.MediaReady,
	}
}

var _ CatalogAPI = (*fakeCatalog)(nil)

func (f *fakeCatalog) record(storeID int64, op string, args ...string) {
	f.calls = append(f.calls, fmt.Sprintf("%d:%s:%s", storeID, op, strings.Join(args, ",")))
}

func (f *fakeCatalog) nextID(kind string) string {
	f.seq++
	return shopify.ToGID(kind, strconv.Itoa(f.seq))
}

func (f *fakeCatalog) product(storeID int64, id string) *shopify.ProductDetails {
	return f.products[storeID][id]
}

func (f *fakeCatalog) missing(op, id string) error {
	return &shopify.UserErrors{Operation: op, Errors: []shopify.UserError{{Field: []string{"id"}, Message: "Product " + id + " does not exist"}}}
}

func (f *fakeCatalog) CreateProduct(_ context.Context, s shopify.Session, in shopify.ProductInput, media []shopify.MediaInput) (*shopify.ProductResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "createProduct", in.Title, in.Handle)

	if err := f.failCreate[s.StoreID]; err != nil {
		return nil, err
	}
	if f.dupHandleOnce[s.StoreID] && in.Handle == "" {
		delete(f.dupHandleOnce, s.StoreID)
		return nil, &shopify.UserErrors{Operation: "productCreate", Errors: []shopify.UserError{
			{Field: []string{"handle"}, Message: "Handle has already been taken"},
		}}
	}

	handle := in.Handle
	if handle == "" {
		handle = Slugify(in.Title)
	}
	p := &shopify.ProductDetails{ID: f.nextID("Product"), Handle: handle, Status: in.Status}

	// 远端自动生成一个默认变体：每个选项取第一个值
	var selected []shopify.SelectedOption
	for i, o := range in.Options {
		ro := shopify.RemoteOption{ID: f.nextID("ProductOption"), Name: o.Name, Position: i + 1}
		for _, v := range o.Values {
			ro.Values = append(ro.Values, shopify.RemoteOptionValue{ID: f.nextID("ProductOptionValue"), Name: v})
		}
		p.Options = append(p.Options, ro)
		selected = append(selected, shopify.SelectedOption{Name: o.Name, Value: o.Values[0]})
	}
	if len(selected) == 0 {
		selected = []shopify.SelectedOption{{Name: "Title", Value: "Default Title"}}
	}
	p.Variants = []shopify.RemoteVariant{{
		ID:              f.nextID("ProductVariant"),
		InventoryItemID: f.nextID("InventoryItem"),
		Price:           "0.00",
		SelectedOptions: selected,
	}}

	res := &shopify.ProductResult{ProductID: p.ID, Handle: p.Handle, Status: p.Status}
	for range media {
		id := f.nextID("MediaImage")
		p.Media = append(p.Media, shopify.Media{ID: id, Status: f.mediaStatus})
		res.MediaIDs = append(res.MediaIDs, id)
	}

	if f.products[s.StoreID] == nil {
		f.products[s.StoreID] = map[string]*shopify.ProductDetails{}
	}
	f.products[s.StoreID][p.ID] = p
	return res, nil
}

func (f *fakeCatalog) UpdateProduct(_ context.Context, s shopify.Session, productID string, in shopify.ProductInput) (*shopify.ProductResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "updateProduct", productID)

	if err := f.failUpdate[s.StoreID]; err != nil {
		return nil, err
	}
	p := f.product(s.StoreID, productID)
	if p == nil {
		return nil, f.missing("productUpdate", productID)
	}
	p.Status = in.Status
	return &shopify.ProductResult{ProductID: p.ID, Handle: p.Handle, Status: p.Status}, nil
}

func (f *fakeCatalog) SetProductStatus(_ context.Context, s shopify.Session, productID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "setProductStatus", productID, status)

	p := f.product(s.StoreID, productID)
	if p == nil {
		return f.missing("productUpdate", productID)
	}
	p.Status = status
	return nil
}

// GetProductDetails 返回深拷贝，调用方修改不影响远端状态
func (f *fakeCatalog) GetProductDetails(_ context.Context, s shopify.Session, productID string) (*shopify.ProductDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "getProductDetails", productID)

	p := f.product(s.StoreID, productID)
	if p == nil {
		return nil, nil
	}
	return cloneDetails(p), nil
}

func cloneDetails(p *shopify.ProductDetails) *shopify.ProductDetails {
	cp := *p
	cp.Options = cloneOptions(p.Options)
	cp.Variants = make([]shopify.RemoteVariant, len(p.Variants))
	for i, v := range p.Variants {
		v.SelectedOptions = append([]shopify.SelectedOption(nil), v.SelectedOptions...)
		v.MediaIDs = append([]string(nil), v.MediaIDs...)
		cp.Variants[i] = v
	}
	cp.Media = append([]shopify.Media(nil), p.Media...)
	return &cp
}

func cloneOptions(options []shopify.RemoteOption) []shopify.RemoteOption {
	out := make([]shopify.RemoteOption, len(options))
	for i, o := range options {
		o.Values = append([]shopify.RemoteOptionValue(nil), o.Values...)
		out[i] = o
	}
	return out
}

func (f *fakeCatalog) UpdateProductOption(_ context.Context, s shopify.Session, productID, optionID, name string, position int, addValues []string) ([]shopify.RemoteOption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "updateOption", optionID, name, strings.Join(addValues, "+"))

	p := f.product(s.StoreID, productID)
	if p == nil {
		return nil, f.missing("productOptionUpdate", productID)
	}
	for i := range p.Options {
		o := &p.Options[i]
		if o.ID != optionID {
			continue
		}
		if name != "" {
			o.Name = name
		}
		if position > 0 {
			o.Position = position
		}
		for _, v := range addValues {
			o.Values = append(o.Values, shopify.RemoteOptionValue{ID: f.nextID("ProductOptionValue"), Name: v})
		}
	}
	return cloneOptions(p.Options), nil
}

func signatureOf(values []shopify.VariantOptionValue) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, shopify.OptionSignaturePart(v.OptionName, v.Name))
	}
	return strings.Join(parts, "|")
}

func (f *fakeCatalog) CreateVariants(_ context.Context, s shopify.Session, productID string, variants []shopify.VariantInput, removeStandalone bool) (*shopify.VariantsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "createVariants", strconv.Itoa(len(variants)), strconv.FormatBool(removeStandalone))

	p := f.product(s.StoreID, productID)
	if p == nil {
		return nil, f.missing("productVariantsBulkCreate", productID)
	}

	existing := map[string]bool{}
	for _, rv := range p.Variants {
		existing[rv.Signature()] = true
	}
	for _, in := range variants {
		if existing[signatureOf(in.OptionValues)] {
			return nil, &shopify.UserErrors{Operation: "productVariantsBulkCreate", Errors: []shopify.UserError{
				{Code: "VARIANT_ALREADY_EXISTS", Message: "Variant already exists"},
			}}
		}
	}

	if removeStandalone {
		p.Variants = nil
	}
	res := &shopify.VariantsResult{VariantIDBySKU: map[string]string{}, InventoryItemIDBySKU: map[string]string{}}
	for _, in := range variants {
		rv := shopify.RemoteVariant{
			ID:              f.nextID("ProductVariant"),
			SKU:             in.SKU,
			Price:           in.Price.StringFixed(2),
			InventoryItemID: f.nextID("InventoryItem"),
		}
		for _, ov := range in.OptionValues {
			rv.SelectedOptions = append(rv.SelectedOptions, shopify.SelectedOption{Name: ov.OptionName, Value: ov.Name})
		}
		p.Variants = append(p.Variants, rv)
		res.VariantIDBySKU[in.SKU] = rv.ID
		res.InventoryItemIDBySKU[in.SKU] = rv.InventoryItemID
	}

	// 模拟上一次请求已成功但响应丢失
	if f.existsOnCreate[s.StoreID] {
		delete(f.existsOnCreate, s.StoreID)
		return nil, &shopify.UserErrors{Operation: "productVariantsBulkCreate", Errors: []shopify.UserError{
			{Code: "VARIANT_ALREADY_EXISTS", Message: "Variant already exists"},
		}}
	}
	return res, nil
}

func (f *fakeCatalog) UpdateVariants(_ context.Context, s shopify.Session, productID string, variants []shopify.VariantInput) ([]shopify.UpdatedVariant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(variants))
	for _, in := range variants {
		ids = append(ids, in.ID)
	}
	f.record(s.StoreID, "updateVariants", ids...)

	p := f.product(s.StoreID, productID)
	if p == nil {
		return nil, f.missing("productVariantsBulkUpdate", productID)
	}
	var out []shopify.UpdatedVariant
	for _, in := range variants {
		for i := range p.Variants {
			rv := &p.Variants[i]
			if rv.ID != in.ID {
				continue
			}
			rv.SKU = in.SKU
			rv.Price = in.Price.StringFixed(2)
			out = append(out, shopify.UpdatedVariant{ID: rv.ID, Price: rv.Price, SKU: rv.SKU, InventoryItemID: rv.InventoryItemID})
		}
	}
	return out, nil
}

func (f *fakeCatalog) DeleteVariant(_ context.Context, s shopify.Session, productID, variantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "deleteVariant", productID, variantID)

	if err := f.failDelete[s.StoreID]; err != nil {
		return err
	}
	p := f.product(s.StoreID, productID)
	if p == nil {
		return f.missing("productVariantsBulkDelete", productID)
	}
	kept := p.Variants[:0]
	for _, rv := range p.Variants {
		if rv.ID != variantID {
			kept = append(kept, rv)
		}
	}
	p.Variants = kept
	return nil
}

func (f *fakeCatalog) CreateMedia(_ context.Context, s shopify.Session, productID string, media []shopify.MediaInput) (*shopify.MediaResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	urls := make([]string, 0, len(media))
	for _, m := range media {
		urls = append(urls, m.OriginalSource)
	}
	f.record(s.StoreID, "createMedia", urls...)

	p := f.product(s.StoreID, productID)
	if p == nil {
		return nil, f.missing("productCreateMedia", productID)
	}
	res := &shopify.MediaResult{}
	for range media {
		m := shopify.Media{ID: f.nextID("MediaImage"), Status: f.mediaStatus}
		p.Media = append(p.Media, m)
		res.MediaIDs = append(res.MediaIDs, m.ID)
		res.Media = append(res.Media, m)
	}
	return res, nil
}

func (f *fakeCatalog) GetMediaStatus(_ context.Context, s shopify.Session, productID string) ([]shopify.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "getMediaStatus", productID)

	p := f.product(s.StoreID, productID)
	if p == nil {
		return nil, nil
	}
	return append([]shopify.Media(nil), p.Media...), nil
}

func (f *fakeCatalog) AttachMediaToVariants(_ context.Context, s shopify.Session, productID string, links []shopify.VariantMedia) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.product(s.StoreID, productID)
	for _, l := range links {
		f.record(s.StoreID, "attach", append([]string{l.VariantID}, l.MediaIDs...)...)
		if p == nil {
			continue
		}
		for i := range p.Variants {
			if p.Variants[i].ID == l.VariantID {
				p.Variants[i].MediaIDs = append(p.Variants[i].MediaIDs, l.MediaIDs...)
			}
		}
	}
	return nil
}

func (f *fakeCatalog) DetachMediaFromVariants(_ context.Context, s shopify.Session, productID string, links []shopify.VariantMedia) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.product(s.StoreID, productID)
	for _, l := range links {
		f.record(s.StoreID, "detach", append([]string{l.VariantID}, l.MediaIDs...)...)
		if p == nil {
			continue
		}
		for i := range p.Variants {
			rv := &p.Variants[i]
			if rv.ID != l.VariantID {
				continue
			}
			var kept []string
			for _, id := range rv.MediaIDs {
				if !containsString(l.MediaIDs, id) {
					kept = append(kept, id)
				}
			}
			rv.MediaIDs = kept
		}
	}
	return nil
}

func (f *fakeCatalog) DeleteMedia(_ context.Context, s shopify.Session, productID string, mediaIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "deleteMedia", mediaIDs...)

	if p := f.product(s.StoreID, productID); p != nil {
		var kept []shopify.Media
		for _, m := range p.Media {
			if !containsString(mediaIDs, m.ID) {
				kept = append(kept, m)
			}
		}
		p.Media = kept
	}
	return nil
}

func (f *fakeCatalog) EnableInventoryTracking(_ context.Context, s shopify.Session, inventoryItemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "enable", inventoryItemID)
	return nil
}

func (f *fakeCatalog) ActivateInventoryAtLocation(_ context.Context, s shopify.Session, inventoryItemID, locationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "activate", inventoryItemID, locationID)
	return nil
}

func (f *fakeCatalog) SetInventoryQuantity(_ context.Context, s shopify.Session, inventoryItemID, locationID string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "set", inventoryItemID, locationID, strconv.Itoa(quantity))
	return nil
}

func (f *fakeCatalog) GetLocations(_ context.Context, s shopify.Session) ([]shopify.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(s.StoreID, "getLocations")

	if locs, ok := f.locations[s.StoreID]; ok {
		return locs, nil
	}
	return []shopify.Location{{ID: "gid://shopify/Location/1", Name: "Main Warehouse", IsActive: true}}, nil
}

// ==================== 断言辅助 ====================

// count 指定店铺某操作的调用次数
func (f *fakeCatalog) count(storeID int64, op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := fmt.Sprintf("%d:%s:", storeID, op)
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// indexOf 完全匹配的调用位置，未找到返回 -1
func (f *fakeCatalog) indexOf(storeID int64, op string, args ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := fmt.Sprintf("%d:%s:%s", storeID, op, strings.Join(args, ","))
	for i, c := range f.calls {
		if c == want {
			return i
		}
	}
	return -1
}

func (f *fakeCatalog) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCatalog) remote(storeID int64, productID string) *shopify.ProductDetails {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.product(storeID, productID)
	if p == nil {
		return nil
	}
	return cloneDetails(p)
}

func (f *fakeCatalog) remoteCount(storeID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.products[storeID])
}

// ==================== 事件记录 ====================

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.SyncEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt event.SyncEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

// ==================== 测试环境 ====================

type testEnv struct {
	db        *gorm.DB
	products  repository.ProductRepository
	stores    repository.StoreRepository
	api       *fakeCatalog
	publisher *recordingPublisher
	sync      *SyncService
	zero      *ZeroInventoryHandler
	svc       *ProductService
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// 内存库每个连接都是独立数据库
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithMedia(t, MediaOptions{})
}

func newTestEnvWithMedia(t *testing.T, media MediaOptions) *testEnv {
	t.Helper()
	db := setupServiceTestDB(t)

	env := &testEnv{
		db:        db,
		products:  repository.NewProductRepository(db),
		stores:    repository.NewStoreRepository(db),
		api:       newFakeCatalog(),
		publisher: &recordingPublisher{},
	}
	env.sync = NewSyncService(env.products, env.stores, env.api, media, env.publisher, SyncOptions{})
	env.zero = NewZeroInventoryHandler(env.products, env.stores, env.api, env.publisher)
	env.svc = NewProductService(env.products, env.stores, nil, env.sync, env.zero,
		NewInventoryActivator(env.api, env.stores))
	return env
}

func (e *testEnv) seedStore(t *testing.T, code string) *model.Store {
	t.Helper()
	store := &model.Store{
		Name:        "Store " + code,
		Domain:      strings.ToLower(code) + ".myshopify.com",
		AccessToken: "shpat_" + code,
		StoreCode:   code,
		IsActive:    true,
	}
	require.NoError(t, e.stores.Create(context.Background(), store))
	return store
}

func (e *testEnv) graph(t *testing.T, productID int64) *model.Product {
	t.Helper()
	p, err := e.products.GetGraph(context.Background(), productID)
	require.NoError(t, err)
	return p
}
