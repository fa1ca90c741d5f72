package shopify

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ==================== 入参 ====================

// ProductInput 创建/更新商品的描述字段
type ProductInput struct {
	Title           string
	DescriptionHTML string
	ProductType     string
	Vendor          string
	Tags            []string
	Status          string // ACTIVE | DRAFT | ARCHIVED
	Handle          string
	Options         []OptionInput // 为空时不发送 productOptions
}

// OptionInput 规格名 + 有序规格值
type OptionInput struct {
	Name     string
	Position int
	Values   []string
}

// VariantInput 变体
type VariantInput struct {
	ID             string // 更新时必填
	SKU            string
	Price          decimal.Decimal
	CompareAtPrice *decimal.Decimal
	OptionValues   []VariantOptionValue
	Tracked        bool
}

type VariantOptionValue struct {
	OptionName string `json:"optionName"`
	Name       string `json:"name"`
}

// MediaInput 待创建的媒体
type MediaInput struct {
	OriginalSource string
	Alt            string
}

// VariantMedia 变体与媒体的关联
type VariantMedia struct {
	VariantID string   `json:"variantId"`
	MediaIDs  []string `json:"mediaIds"`
}

// ==================== 出参 ====================

// ProductResult createProduct / updateProduct
type ProductResult struct {
	ProductID            string
	Handle               string
	Status               string
	VariantIDBySKU       map[string]string
	InventoryItemIDBySKU map[string]string
	MediaIDs             []string // 与入参 media 顺序一致
}

// VariantsResult createVariants
type VariantsResult struct {
	VariantIDBySKU       map[string]string
	InventoryItemIDBySKU map[string]string
}

// UpdatedVariant updateVariants
type UpdatedVariant struct {
	ID              string
	Price           string
	SKU             string
	InventoryItemID string
}

// MediaStatus 媒体处理状态
type MediaStatus string

const (
	MediaReady      MediaStatus = "READY"
	MediaFailed     MediaStatus = "FAILED"
	MediaProcessing MediaStatus = "PROCESSING"
	MediaUploaded   MediaStatus = "UPLOADED"
)

// IsPending 仍在处理中
func (s MediaStatus) IsPending() bool {
	return s != MediaReady && s != MediaFailed
}

type Media struct {
	ID     string
	Status MediaStatus
	Alt    string
}

// MediaResult createMedia
type MediaResult struct {
	MediaIDs []string
	Media    []Media
}

type RemoteOptionValue struct {
	ID   string
	Name string
}

type RemoteOption struct {
	ID       string
	Name     string
	Position int
	Values   []RemoteOptionValue
}

type SelectedOption struct {
	Name  string
	Value string
}

type RemoteVariant struct {
	ID              string
	SKU             string
	Price           string
	InventoryItemID string
	SelectedOptions []SelectedOption
	MediaIDs        []string
}

// Signature 选项签名 name=value|name=value，用于识别已存在的变体
func (v RemoteVariant) Signature() string {
	pairs := make([]string, 0, len(v.SelectedOptions))
	for _, so := range v.SelectedOptions {
		pairs = append(pairs, OptionSignaturePart(so.Name, so.Value))
	}
	return strings.Join(pairs, "|")
}

// OptionSignaturePart 签名片段 (大小写不敏感)
func OptionSignaturePart(name, value string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "=" + strings.ToLower(strings.TrimSpace(value))
}

// ProductDetails getProductDetails
type ProductDetails struct {
	ID       string
	Handle   string
	Status   string
	Options  []RemoteOption
	Variants []RemoteVariant
	Media    []Media
}

// Location 远端仓库
type Location struct {
	ID       string
	Name     string
	IsActive bool
}

// ==================== GID ====================

// ToGID 数字 ID 转 gid://shopify/{kind}/{id}，已是 gid 时原样返回
func ToGID(kind, id string) string {
	if strings.HasPrefix(id, "gid://") || id == "" {
		return id
	}
	return "gid://shopify/" + kind + "/" + id
}

// ExtractID gid://shopify/Product/12345 -> 12345
func ExtractID(gid string) int64 {
	if gid == "" {
		return 0
	}
	parts := strings.Split(gid, "/")
	idStr := strings.Split(parts[len(parts)-1], "?")[0]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
