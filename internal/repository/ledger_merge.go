package repository

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopify_sync_v1/internal/ledger"
)

// jsonMerger 每店铺 JSON 列的合并器 (ledger.Update 实现)
type jsonMerger interface {
	Empty() bool
	Apply(current datatypes.JSON) (datatypes.JSON, error)
}

// ==================== MapUpdate 定义 ====================

// ProductMapUpdate 一次同步对商品各映射列的累积修改
type ProductMapUpdate struct {
	ProductIDs   *ledger.Update[string]
	Handles      *ledger.Update[string]
	Statuses     *ledger.Update[string]
	SyncStatuses *ledger.Update[string]
	SyncErrors   *ledger.Update[string]
	States       *ledger.Update[ledger.SyncState]
}

func NewProductMapUpdate() *ProductMapUpdate {
	return &ProductMapUpdate{
		ProductIDs:   ledger.NewUpdate[string](),
		Handles:      ledger.NewUpdate[string](),
		Statuses:     ledger.NewUpdate[string](),
		SyncStatuses: ledger.NewUpdate[string](),
		SyncErrors:   ledger.NewUpdate[string](),
		States:       ledger.NewUpdate[ledger.SyncState](),
	}
}

// SetState 同时写入显式状态和旧版 status/error 列
func (u *ProductMapUpdate) SetState(storeID int64, s ledger.SyncState) {
	u.States.Set(storeID, s)
	u.SyncStatuses.Set(storeID, s.Status())
	if s.IsFailed() {
		u.SyncErrors.Set(storeID, s.Error)
	} else {
		u.SyncErrors.Delete(storeID)
	}
}

// Merge 合并另一次修改
func (u *ProductMapUpdate) Merge(o *ProductMapUpdate) {
	if o == nil {
		return
	}
	u.ProductIDs.Merge(o.ProductIDs)
	u.Handles.Merge(o.Handles)
	u.Statuses.Merge(o.Statuses)
	u.SyncStatuses.Merge(o.SyncStatuses)
	u.SyncErrors.Merge(o.SyncErrors)
	u.States.Merge(o.States)
}

func (u *ProductMapUpdate) columns() map[string]jsonMerger {
	return map[string]jsonMerger{
		"shopify_product_ids": u.ProductIDs,
		"shopify_handles":     u.Handles,
		"shopify_statuses":    u.Statuses,
		"sync_statuses":       u.SyncStatuses,
		"sync_errors":         u.SyncErrors,
		"sync_states":         u.States,
	}
}

// VariantMapUpdate 变体各映射列的累积修改
type VariantMapUpdate struct {
	VariantIDs       *ledger.Update[string]
	InventoryItemIDs *ledger.Update[string]
	MediaIDs         *ledger.Update[string]
	StoreSKUs        *ledger.Update[string]
	SyncStatuses     *ledger.Update[string]
}

func NewVariantMapUpdate() *VariantMapUpdate {
	return &VariantMapUpdate{
		VariantIDs:       ledger.NewUpdate[string](),
		InventoryItemIDs: ledger.NewUpdate[string](),
		MediaIDs:         ledger.NewUpdate[string](),
		StoreSKUs:        ledger.NewUpdate[string](),
		SyncStatuses:     ledger.NewUpdate[string](),
	}
}

func (u *VariantMapUpdate) Merge(o *VariantMapUpdate) {
	if o == nil {
		return
	}
	u.VariantIDs.Merge(o.VariantIDs)
	u.InventoryItemIDs.Merge(o.InventoryItemIDs)
	u.MediaIDs.Merge(o.MediaIDs)
	u.StoreSKUs.Merge(o.StoreSKUs)
	u.SyncStatuses.Merge(o.SyncStatuses)
}

func (u *VariantMapUpdate) Empty() bool {
	for _, m := range u.columns() {
		if !m.Empty() {
			return false
		}
	}
	return true
}

func (u *VariantMapUpdate) columns() map[string]jsonMerger {
	return map[string]jsonMerger{
		"shopify_variant_ids": u.VariantIDs,
		"inventory_item_ids":  u.InventoryItemIDs,
		"shopify_media_ids":   u.MediaIDs,
		"store_specific_skus": u.StoreSKUs,
		"sync_statuses":       u.SyncStatuses,
	}
}

// ==================== read-merge-write ====================

// mergeJSONColumns 加行锁读取当前列值 -> 按键合并 -> 单条 UPDATE 写回
// 读写在同一事务内 (外层已有事务时为 savepoint)
func mergeJSONColumns(db *gorm.DB, table string, id int64, updates map[string]jsonMerger) error {
	cols := make([]string, 0, len(updates))
	for col, u := range updates {
		if u != nil && !u.Empty() {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return nil
	}
	sort.Strings(cols)

	return db.Transaction(func(tx *gorm.DB) error {
		current, err := lockJSONColumns(tx, table, id, cols)
		if err != nil {
			return err
		}

		fields := make(map[string]interface{}, len(cols)+1)
		for _, col := range cols {
			merged, err := updates[col].Apply(current[col])
			if err != nil {
				return fmt.Errorf("%s.%s: %w", table, col, err)
			}
			fields[col] = merged
		}
		fields["updated_at"] = time.Now()

		return tx.Table(table).Where("id = ?", id).Updates(fields).Error
	})
}

// lockJSONColumns SELECT ... FOR UPDATE，NULL 列返回 nil
func lockJSONColumns(tx *gorm.DB, table string, id int64, cols []string) (map[string]datatypes.JSON, error) {
	rows, err := tx.Table(table).
		Select(cols).
		Where("id = ?", id).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Rows()
	if err != nil {
		return nil, fmt.Errorf("read %s#%d: %w", table, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("read %s#%d: %w", table, id, err)
		}
		return nil, fmt.Errorf("read %s#%d: %w", table, id, gorm.ErrRecordNotFound)
	}

	raw := make([]sql.NullString, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan %s#%d: %w", table, id, err)
	}

	out := make(map[string]datatypes.JSON, len(cols))
	for i, col := range cols {
		if raw[i].Valid {
			out[col] = datatypes.JSON(raw[i].String)
		}
	}
	return out, nil
}
