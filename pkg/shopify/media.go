package shopify

import (
	"context"
	"strings"
)

const productCreateMediaMutation = `
mutation productCreateMedia($productId: ID!, $media: [CreateMediaInput!]!) {
  productCreateMedia(productId: $productId, media: $media) {
    media { id status alt }
    mediaUserErrors { field message code }
  }
}`

const mediaStatusQuery = `
query productMedia($id: ID!) {
  product(id: $id) {
    media(first: 100) { nodes { id status alt } }
  }
}`

const variantAppendMediaMutation = `
mutation productVariantAppendMedia($productId: ID!, $variantMedia: [ProductVariantAppendMediaInput!]!) {
  productVariantAppendMedia(productId: $productId, variantMedia: $variantMedia) {
    productVariants { id }
    userErrors { field message code }
  }
}`

const variantDetachMediaMutation = `
mutation productVariantDetachMedia($productId: ID!, $variantMedia: [ProductVariantDetachMediaInput!]!) {
  productVariantDetachMedia(productId: $productId, variantMedia: $variantMedia) {
    productVariants { id }
    userErrors { field message code }
  }
}`

const productDeleteMediaMutation = `
mutation productDeleteMedia($productId: ID!, $mediaIds: [ID!]!) {
  productDeleteMedia(productId: $productId, mediaIds: $mediaIds) {
    deletedMediaIds
    mediaUserErrors { field message code }
  }
}`

// CreateMedia 为商品创建图片媒体
func (c *Client) CreateMedia(ctx context.Context, s Session, productID string, media []MediaInput) (*MediaResult, error) {
	vars := map[string]interface{}{
		"productId": ToGID("Product", productID),
		"media":     mediaVars(media),
	}
	var out struct {
		Payload struct {
			Media           []mediaNode `json:"media"`
			MediaUserErrors []UserError `json:"mediaUserErrors"`
		} `json:"productCreateMedia"`
	}
	if err := c.Do(ctx, s, "productCreateMedia", productCreateMediaMutation, vars, &out); err != nil {
		return nil, err
	}
	if err := checkUserErrors("productCreateMedia", out.Payload.MediaUserErrors); err != nil {
		return nil, err
	}

	res := &MediaResult{}
	for _, m := range out.Payload.Media {
		res.MediaIDs = append(res.MediaIDs, m.ID)
		res.Media = append(res.Media, Media{ID: m.ID, Status: MediaStatus(strings.ToUpper(m.Status)), Alt: m.Alt})
	}
	return res, nil
}

// GetMediaStatus 查询商品下所有媒体的处理状态
func (c *Client) GetMediaStatus(ctx context.Context, s Session, productID string) ([]Media, error) {
	var out struct {
		Product *struct {
			Media struct {
				Nodes []mediaNode `json:"nodes"`
			} `json:"media"`
		} `json:"product"`
	}
	vars := map[string]interface{}{"id": ToGID("Product", productID)}
	if err := c.Do(ctx, s, "productMedia", mediaStatusQuery, vars, &out); err != nil {
		return nil, err
	}
	if out.Product == nil {
		return nil, nil
	}
	media := make([]Media, 0, len(out.Product.Media.Nodes))
	for _, m := range out.Product.Media.Nodes {
		media = append(media, Media{ID: m.ID, Status: MediaStatus(strings.ToUpper(m.Status)), Alt: m.Alt})
	}
	return media, nil
}

// AttachMediaToVariants 把媒体挂到变体 (媒体必须已 READY)
func (c *Client) AttachMediaToVariants(ctx context.Context, s Session, productID string, links []VariantMedia) error {
	return c.variantMedia(ctx, s, "productVariantAppendMedia", variantAppendMediaMutation, productID, links)
}

// DetachMediaFromVariants 解除变体与媒体的关联
func (c *Client) DetachMediaFromVariants(ctx context.Context, s Session, productID string, links []VariantMedia) error {
	return c.variantMedia(ctx, s, "productVariantDetachMedia", variantDetachMediaMutation, productID, links)
}

func (c *Client) variantMedia(ctx context.Context, s Session, op, mutation, productID string, links []VariantMedia) error {
	if len(links) == 0 {
		return nil
	}
	normalized := make([]VariantMedia, 0, len(links))
	for _, l := range links {
		ids := make([]string, 0, len(l.MediaIDs))
		for _, id := range l.MediaIDs {
			ids = append(ids, ToGID("MediaImage", id))
		}
		normalized = append(normalized, VariantMedia{VariantID: ToGID("ProductVariant", l.VariantID), MediaIDs: ids})
	}
	vars := map[string]interface{}{
		"productId":    ToGID("Product", productID),
		"variantMedia": normalized,
	}

	var out map[string]struct {
		UserErrors []UserError `json:"userErrors"`
	}
	if err := c.Do(ctx, s, op, mutation, vars, &out); err != nil {
		return err
	}
	return checkUserErrors(op, out[op].UserErrors)
}

// DeleteMedia 删除商品媒体
func (c *Client) DeleteMedia(ctx context.Context, s Session, productID string, mediaIDs []string) error {
	if len(mediaIDs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(mediaIDs))
	for _, id := range mediaIDs {
		ids = append(ids, ToGID("MediaImage", id))
	}
	vars := map[string]interface{}{
		"productId": ToGID("Product", productID),
		"mediaIds":  ids,
	}
	var out struct {
		Payload struct {
			MediaUserErrors []UserError `json:"mediaUserErrors"`
		} `json:"productDeleteMedia"`
	}
	if err := c.Do(ctx, s, "productDeleteMedia", productDeleteMediaMutation, vars, &out); err != nil {
		return err
	}
	return checkUserErrors("productDeleteMedia", out.Payload.MediaUserErrors)
}
