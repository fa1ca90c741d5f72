package shopify

import "context"

const inventoryItemUpdateMutation = `
mutation inventoryItemUpdate($id: ID!, $input: InventoryItemInput!) {
  inventoryItemUpdate(id: $id, input: $input) {
    inventoryItem { id tracked }
    userErrors { field message }
  }
}`

const inventoryActivateMutation = `
mutation inventoryActivate($inventoryItemId: ID!, $locationId: ID!) {
  inventoryActivate(inventoryItemId: $inventoryItemId, locationId: $locationId) {
    inventoryLevel { id }
    userErrors { field message }
  }
}`

const inventorySetQuantitiesMutation = `
mutation inventorySetQuantities($input: InventorySetQuantitiesInput!) {
  inventorySetQuantities(input: $input) {
    inventoryAdjustmentGroup { reason }
    userErrors { field message code }
  }
}`

const locationsQuery = `
query locations {
  locations(first: 50) { nodes { id name isActive } }
}`

// EnableInventoryTracking 打开库存跟踪
func (c *Client) EnableInventoryTracking(ctx context.Context, s Session, inventoryItemID string) error {
	vars := map[string]interface{}{
		"id":    ToGID("InventoryItem", inventoryItemID),
		"input": map[string]interface{}{"tracked": true},
	}
	var out struct {
		Payload struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"inventoryItemUpdate"`
	}
	if err := c.Do(ctx, s, "inventoryItemUpdate", inventoryItemUpdateMutation, vars, &out); err != nil {
		return err
	}
	return checkUserErrors("inventoryItemUpdate", out.Payload.UserErrors)
}

// ActivateInventoryAtLocation 在仓库启用库存项；已激活视为成功
func (c *Client) ActivateInventoryAtLocation(ctx context.Context, s Session, inventoryItemID, locationID string) error {
	vars := map[string]interface{}{
		"inventoryItemId": ToGID("InventoryItem", inventoryItemID),
		"locationId":      ToGID("Location", locationID),
	}
	var out struct {
		Payload struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"inventoryActivate"`
	}
	if err := c.Do(ctx, s, "inventoryActivate", inventoryActivateMutation, vars, &out); err != nil {
		return err
	}
	err := checkUserErrors("inventoryActivate", out.Payload.UserErrors)
	if IsAlreadyActive(err) {
		return nil
	}
	return err
}

// SetInventoryQuantity 设置绝对库存 (忽略 compareQuantity)
func (c *Client) SetInventoryQuantity(ctx context.Context, s Session, inventoryItemID, locationID string, quantity int) error {
	vars := map[string]interface{}{
		"input": map[string]interface{}{
			"name":                  "available",
			"reason":                "correction",
			"ignoreCompareQuantity": true,
			"quantities": []map[string]interface{}{{
				"inventoryItemId": ToGID("InventoryItem", inventoryItemID),
				"locationId":      ToGID("Location", locationID),
				"quantity":        quantity,
			}},
		},
	}
	var out struct {
		Payload struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"inventorySetQuantities"`
	}
	if err := c.Do(ctx, s, "inventorySetQuantities", inventorySetQuantitiesMutation, vars, &out); err != nil {
		return err
	}
	return checkUserErrors("inventorySetQuantities", out.Payload.UserErrors)
}

// GetLocations 店铺仓库列表
func (c *Client) GetLocations(ctx context.Context, s Session) ([]Location, error) {
	var out struct {
		Locations struct {
			Nodes []struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				IsActive bool   `json:"isActive"`
			} `json:"nodes"`
		} `json:"locations"`
	}
	if err := c.Do(ctx, s, "locations", locationsQuery, nil, &out); err != nil {
		return nil, err
	}
	locs := make([]Location, 0, len(out.Locations.Nodes))
	for _, n := range out.Locations.Nodes {
		locs = append(locs, Location{ID: n.ID, Name: n.Name, IsActive: n.IsActive})
	}
	return locs, nil
}
