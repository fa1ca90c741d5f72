package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"gorm.io/datatypes"
)

// Map 按店铺 ID 索引的映射 (JSON 列 {"<storeId>": value})
type Map[V any] map[string]V

// Key 店铺 ID 统一转为字符串键
func Key(storeID int64) string {
	return strconv.FormatInt(storeID, 10)
}

// Decode 解析 JSON 列，空值返回空 Map
func Decode[V any](raw datatypes.JSON) (Map[V], error) {
	m := Map[V]{}
	if len(raw) == 0 || string(raw) == "null" {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode store map: %w", err)
	}
	return m, nil
}

// MustDecode 解析失败时返回空 Map，用于只读场景
func MustDecode[V any](raw datatypes.JSON) Map[V] {
	m, err := Decode[V](raw)
	if err != nil {
		return Map[V]{}
	}
	return m
}

// Encode 序列化为 JSON 列
func (m Map[V]) Encode() (datatypes.JSON, error) {
	if m == nil {
		m = Map[V]{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode store map: %w", err)
	}
	return datatypes.JSON(b), nil
}

func (m Map[V]) Get(storeID int64) (V, bool) {
	v, ok := m[Key(storeID)]
	return v, ok
}

// Has 是否已记录该店铺
func (m Map[V]) Has(storeID int64) bool {
	_, ok := m[Key(storeID)]
	return ok
}

// StoreIDs 已记录的店铺 ID (升序)
func (m Map[V]) StoreIDs() []int64 {
	ids := make([]int64, 0, len(m))
	for k := range m {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ==================== Update ====================

// Update 一次同步过程中对某个 JSON 映射列的累积修改
// 提交时基于数据库当前值做 read-merge-write，未触及的店铺键保持原样
type Update[V any] struct {
	sets    map[string]V
	deletes map[string]struct{}
}

func NewUpdate[V any]() *Update[V] {
	return &Update[V]{
		sets:    make(map[string]V),
		deletes: make(map[string]struct{}),
	}
}

func (u *Update[V]) Set(storeID int64, v V) {
	k := Key(storeID)
	u.sets[k] = v
	delete(u.deletes, k)
}

func (u *Update[V]) Delete(storeID int64) {
	k := Key(storeID)
	delete(u.sets, k)
	u.deletes[k] = struct{}{}
}

func (u *Update[V]) Empty() bool {
	return u == nil || (len(u.sets) == 0 && len(u.deletes) == 0)
}

// Pending 返回尚未提交的写入值
func (u *Update[V]) Pending(storeID int64) (V, bool) {
	v, ok := u.sets[Key(storeID)]
	return v, ok
}

// Merge 合并另一组修改，other 中的键覆盖当前值
func (u *Update[V]) Merge(other *Update[V]) {
	if other.Empty() {
		return
	}
	for k, v := range other.sets {
		u.sets[k] = v
		delete(u.deletes, k)
	}
	for k := range other.deletes {
		delete(u.sets, k)
		u.deletes[k] = struct{}{}
	}
}

// ApplyTo 把修改合并进一个已解析的 Map (原地修改并返回)
func (u *Update[V]) ApplyTo(m Map[V]) Map[V] {
	if m == nil {
		m = Map[V]{}
	}
	if u == nil {
		return m
	}
	for k := range u.deletes {
		delete(m, k)
	}
	for k, v := range u.sets {
		m[k] = v
	}
	return m
}

// Apply read-merge-write: 解析当前列值，合并修改，返回新列值
func (u *Update[V]) Apply(current datatypes.JSON) (datatypes.JSON, error) {
	m, err := Decode[V](current)
	if err != nil {
		return nil, err
	}
	return u.ApplyTo(m).Encode()
}
