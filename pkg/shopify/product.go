package shopify

import (
	"context"
	"strings"
)

// ==================== GraphQL 语句 ====================

const productCreateMutation = `
mutation productCreate($product: ProductCreateInput!, $media: [CreateMediaInput!]) {
  productCreate(product: $product, media: $media) {
    product {
      id
      handle
      status
      variants(first: 100) { nodes { id sku inventoryItem { id } } }
      media(first: 50) { nodes { id status alt } }
    }
    userErrors { field message }
  }
}`

const productUpdateMutation = `
mutation productUpdate($product: ProductUpdateInput!) {
  productUpdate(product: $product) {
    product { id handle status }
    userErrors { field message }
  }
}`

const variantsBulkCreateMutation = `
mutation productVariantsBulkCreate($productId: ID!, $variants: [ProductVariantsBulkInput!]!, $strategy: ProductVariantsBulkCreateStrategy) {
  productVariantsBulkCreate(productId: $productId, variants: $variants, strategy: $strategy) {
    productVariants { id sku inventoryItem { id } }
    userErrors { field message code }
  }
}`

const variantsBulkUpdateMutation = `
mutation productVariantsBulkUpdate($productId: ID!, $variants: [ProductVariantsBulkInput!]!) {
  productVariantsBulkUpdate(productId: $productId, variants: $variants) {
    productVariants { id price sku inventoryItem { id } }
    userErrors { field message code }
  }
}`

const variantsBulkDeleteMutation = `
mutation productVariantsBulkDelete($productId: ID!, $variantsIds: [ID!]!) {
  productVariantsBulkDelete(productId: $productId, variantsIds: $variantsIds) {
    product { id }
    userErrors { field message code }
  }
}`

const productOptionUpdateMutation = `
mutation productOptionUpdate($productId: ID!, $option: OptionUpdateInput!, $optionValuesToAdd: [OptionValueCreateInput!]) {
  productOptionUpdate(productId: $productId, option: $option, optionValuesToAdd: $optionValuesToAdd) {
    product { id options { id name position optionValues { id name } } }
    userErrors { field message code }
  }
}`

const productDetailsQuery = `
query productDetails($id: ID!) {
  product(id: $id) {
    id
    handle
    status
    options { id name position optionValues { id name } }
    variants(first: 100) {
      nodes {
        id
        sku
        price
        inventoryItem { id }
        selectedOptions { name value }
        media(first: 10) { nodes { id } }
      }
    }
    media(first: 100) { nodes { id status alt } }
  }
}`

// ==================== 响应结构 ====================

type idNode struct {
	ID string `json:"id"`
}

type variantNode struct {
	ID              string `json:"id"`
	SKU             string `json:"sku"`
	Price           string `json:"price"`
	InventoryItem   idNode `json:"inventoryItem"`
	SelectedOptions []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"selectedOptions"`
	Media struct {
		Nodes []idNode `json:"nodes"`
	} `json:"media"`
}

type optionNode struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Position     int    `json:"position"`
	OptionValues []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"optionValues"`
}

type mediaNode struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Alt    string `json:"alt"`
}

type productNode struct {
	ID       string       `json:"id"`
	Handle   string       `json:"handle"`
	Status   string       `json:"status"`
	Options  []optionNode `json:"options"`
	Variants struct {
		Nodes []variantNode `json:"nodes"`
	} `json:"variants"`
	Media struct {
		Nodes []mediaNode `json:"nodes"`
	} `json:"media"`
}

// ==================== 变量构造 ====================

func productVars(in ProductInput) map[string]interface{} {
	p := map[string]interface{}{
		"title":           in.Title,
		"descriptionHtml": in.DescriptionHTML,
		"status":          in.Status,
	}
	if in.ProductType != "" {
		p["productType"] = in.ProductType
	}
	if in.Vendor != "" {
		p["vendor"] = in.Vendor
	}
	if len(in.Tags) > 0 {
		p["tags"] = in.Tags
	}
	if in.Handle != "" {
		p["handle"] = in.Handle
	}
	return p
}

func optionVars(options []OptionInput) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(options))
	for _, o := range options {
		values := make([]map[string]interface{}, 0, len(o.Values))
		for _, v := range o.Values {
			values = append(values, map[string]interface{}{"name": v})
		}
		out = append(out, map[string]interface{}{
			"name":     o.Name,
			"position": o.Position,
			"values":   values,
		})
	}
	return out
}

func variantVars(v VariantInput, includeSKU bool) map[string]interface{} {
	m := map[string]interface{}{
		"price": v.Price.StringFixed(2),
	}
	if v.ID != "" {
		m["id"] = v.ID
	}
	if v.CompareAtPrice != nil {
		m["compareAtPrice"] = v.CompareAtPrice.StringFixed(2)
	}
	if len(v.OptionValues) > 0 {
		m["optionValues"] = v.OptionValues
	}
	if includeSKU {
		m["inventoryItem"] = map[string]interface{}{
			"sku":     v.SKU,
			"tracked": v.Tracked,
		}
	}
	return m
}

func mediaVars(media []MediaInput) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(media))
	for _, m := range media {
		out = append(out, map[string]interface{}{
			"originalSource":   m.OriginalSource,
			"alt":              m.Alt,
			"mediaContentType": "IMAGE",
		})
	}
	return out
}

// ==================== 商品 ====================

// CreateProduct 创建商品 (可同时挂媒体)
func (c *Client) CreateProduct(ctx context.Context, s Session, in ProductInput, media []MediaInput) (*ProductResult, error) {
	product := productVars(in)
	if len(in.Options) > 0 {
		product["productOptions"] = optionVars(in.Options)
	}
	vars := map[string]interface{}{"product": product}
	if len(media) > 0 {
		vars["media"] = mediaVars(media)
	}

	var out struct {
		ProductCreate struct {
			Product    *productNode `json:"product"`
			UserErrors []UserError  `json:"userErrors"`
		} `json:"productCreate"`
	}
	if err := c.Do(ctx, s, "productCreate", productCreateMutation, vars, &out); err != nil {
		return nil, err
	}
	if err := checkUserErrors("productCreate", out.ProductCreate.UserErrors); err != nil {
		return nil, err
	}
	if out.ProductCreate.Product == nil {
		return nil, &GraphQLError{Operation: "productCreate", StoreID: s.StoreID, Messages: []string{"no product returned"}}
	}

	p := out.ProductCreate.Product
	res := &ProductResult{
		ProductID:            p.ID,
		Handle:               p.Handle,
		Status:               p.Status,
		VariantIDBySKU:       map[string]string{},
		InventoryItemIDBySKU: map[string]string{},
	}
	for _, v := range p.Variants.Nodes {
		if v.SKU == "" {
			continue
		}
		res.VariantIDBySKU[v.SKU] = v.ID
		res.InventoryItemIDBySKU[v.SKU] = v.InventoryItem.ID
	}
	for _, m := range p.Media.Nodes {
		res.MediaIDs = append(res.MediaIDs, m.ID)
	}
	return res, nil
}

// UpdateProduct 更新商品描述字段与状态
func (c *Client) UpdateProduct(ctx context.Context, s Session, productID string, in ProductInput) (*ProductResult, error) {
	product := productVars(in)
	product["id"] = ToGID("Product", productID)

	var out struct {
		ProductUpdate struct {
			Product    *productNode `json:"product"`
			UserErrors []UserError  `json:"userErrors"`
		} `json:"productUpdate"`
	}
	if err := c.Do(ctx, s, "productUpdate", productUpdateMutation, map[string]interface{}{"product": product}, &out); err != nil {
		return nil, err
	}
	if err := checkUserErrors("productUpdate", out.ProductUpdate.UserErrors); err != nil {
		return nil, err
	}

	res := &ProductResult{ProductID: ToGID("Product", productID)}
	if p := out.ProductUpdate.Product; p != nil {
		res.ProductID = p.ID
		res.Handle = p.Handle
		res.Status = p.Status
	}
	return res, nil
}

// SetProductStatus 仅修改状态 (下架/归档)
func (c *Client) SetProductStatus(ctx context.Context, s Session, productID, status string) error {
	vars := map[string]interface{}{
		"product": map[string]interface{}{
			"id":     ToGID("Product", productID),
			"status": status,
		},
	}
	var out struct {
		ProductUpdate struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"productUpdate"`
	}
	if err := c.Do(ctx, s, "productUpdate", productUpdateMutation, vars, &out); err != nil {
		return err
	}
	return checkUserErrors("productUpdate", out.ProductUpdate.UserErrors)
}

// ==================== 变体 ====================

// CreateVariants 批量创建变体
// removeStandalone 为 true 时删除 Shopify 自动生成的默认变体
func (c *Client) CreateVariants(ctx context.Context, s Session, productID string, variants []VariantInput, removeStandalone bool) (*VariantsResult, error) {
	list := make([]map[string]interface{}, 0, len(variants))
	for _, v := range variants {
		list = append(list, variantVars(v, true))
	}
	vars := map[string]interface{}{
		"productId": ToGID("Product", productID),
		"variants":  list,
		"strategy":  "DEFAULT",
	}
	if removeStandalone {
		vars["strategy"] = "REMOVE_STANDALONE_VARIANT"
	}

	var out struct {
		Payload struct {
			ProductVariants []variantNode `json:"productVariants"`
			UserErrors      []UserError   `json:"userErrors"`
		} `json:"productVariantsBulkCreate"`
	}
	if err := c.Do(ctx, s, "productVariantsBulkCreate", variantsBulkCreateMutation, vars, &out); err != nil {
		return nil, err
	}
	if err := checkUserErrors("productVariantsBulkCreate", out.Payload.UserErrors); err != nil {
		return nil, err
	}

	res := &VariantsResult{VariantIDBySKU: map[string]string{}, InventoryItemIDBySKU: map[string]string{}}
	for _, v := range out.Payload.ProductVariants {
		res.VariantIDBySKU[v.SKU] = v.ID
		res.InventoryItemIDBySKU[v.SKU] = v.InventoryItem.ID
	}
	return res, nil
}

// UpdateVariants 批量更新已存在的变体 (价格/SKU/规格值)
func (c *Client) UpdateVariants(ctx context.Context, s Session, productID string, variants []VariantInput) ([]UpdatedVariant, error) {
	list := make([]map[string]interface{}, 0, len(variants))
	for _, v := range variants {
		v.ID = ToGID("ProductVariant", v.ID)
		list = append(list, variantVars(v, v.SKU != ""))
	}
	vars := map[string]interface{}{
		"productId": ToGID("Product", productID),
		"variants":  list,
	}

	var out struct {
		Payload struct {
			ProductVariants []variantNode `json:"productVariants"`
			UserErrors      []UserError   `json:"userErrors"`
		} `json:"productVariantsBulkUpdate"`
	}
	if err := c.Do(ctx, s, "productVariantsBulkUpdate", variantsBulkUpdateMutation, vars, &out); err != nil {
		return nil, err
	}
	if err := checkUserErrors("productVariantsBulkUpdate", out.Payload.UserErrors); err != nil {
		return nil, err
	}

	res := make([]UpdatedVariant, 0, len(out.Payload.ProductVariants))
	for _, v := range out.Payload.ProductVariants {
		res = append(res, UpdatedVariant{ID: v.ID, Price: v.Price, SKU: v.SKU, InventoryItemID: v.InventoryItem.ID})
	}
	return res, nil
}

// DeleteVariant 删除单个变体
func (c *Client) DeleteVariant(ctx context.Context, s Session, productID, variantID string) error {
	vars := map[string]interface{}{
		"productId":   ToGID("Product", productID),
		"variantsIds": []string{ToGID("ProductVariant", variantID)},
	}
	var out struct {
		Payload struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"productVariantsBulkDelete"`
	}
	if err := c.Do(ctx, s, "productVariantsBulkDelete", variantsBulkDeleteMutation, vars, &out); err != nil {
		return err
	}
	return checkUserErrors("productVariantsBulkDelete", out.Payload.UserErrors)
}

// ==================== 选项 ====================

// UpdateProductOption 重命名/调整位置，并追加新的规格值
func (c *Client) UpdateProductOption(ctx context.Context, s Session, productID string, optionID string, name string, position int, addValues []string) ([]RemoteOption, error) {
	option := map[string]interface{}{"id": ToGID("ProductOption", optionID)}
	if name != "" {
		option["name"] = name
	}
	if position > 0 {
		option["position"] = position
	}
	vars := map[string]interface{}{
		"productId": ToGID("Product", productID),
		"option":    option,
	}
	if len(addValues) > 0 {
		values := make([]map[string]interface{}, 0, len(addValues))
		for _, v := range addValues {
			values = append(values, map[string]interface{}{"name": v})
		}
		vars["optionValuesToAdd"] = values
	}

	var out struct {
		Payload struct {
			Product *struct {
				Options []optionNode `json:"options"`
			} `json:"product"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"productOptionUpdate"`
	}
	if err := c.Do(ctx, s, "productOptionUpdate", productOptionUpdateMutation, vars, &out); err != nil {
		return nil, err
	}
	if err := checkUserErrors("productOptionUpdate", out.Payload.UserErrors); err != nil {
		return nil, err
	}
	if out.Payload.Product == nil {
		return nil, nil
	}
	return toRemoteOptions(out.Payload.Product.Options), nil
}

// ==================== 详情 ====================

// GetProductDetails 读取远端商品的选项/变体/媒体；商品不存在时返回 (nil, nil)
func (c *Client) GetProductDetails(ctx context.Context, s Session, productID string) (*ProductDetails, error) {
	var out struct {
		Product *productNode `json:"product"`
	}
	vars := map[string]interface{}{"id": ToGID("Product", productID)}
	if err := c.Do(ctx, s, "productDetails", productDetailsQuery, vars, &out); err != nil {
		return nil, err
	}
	if out.Product == nil {
		return nil, nil
	}

	p := out.Product
	details := &ProductDetails{
		ID:      p.ID,
		Handle:  p.Handle,
		Status:  p.Status,
		Options: toRemoteOptions(p.Options),
	}
	for _, v := range p.Variants.Nodes {
		rv := RemoteVariant{
			ID:              v.ID,
			SKU:             v.SKU,
			Price:           v.Price,
			InventoryItemID: v.InventoryItem.ID,
		}
		for _, so := range v.SelectedOptions {
			rv.SelectedOptions = append(rv.SelectedOptions, SelectedOption{Name: so.Name, Value: so.Value})
		}
		for _, m := range v.Media.Nodes {
			rv.MediaIDs = append(rv.MediaIDs, m.ID)
		}
		details.Variants = append(details.Variants, rv)
	}
	for _, m := range p.Media.Nodes {
		details.Media = append(details.Media, Media{ID: m.ID, Status: MediaStatus(strings.ToUpper(m.Status)), Alt: m.Alt})
	}
	return details, nil
}

func toRemoteOptions(nodes []optionNode) []RemoteOption {
	out := make([]RemoteOption, 0, len(nodes))
	for _, o := range nodes {
		ro := RemoteOption{ID: o.ID, Name: o.Name, Position: o.Position}
		for _, v := range o.OptionValues {
			ro.Values = append(ro.Values, RemoteOptionValue{ID: v.ID, Name: v.Name})
		}
		out = append(out, ro)
	}
	return out
}
