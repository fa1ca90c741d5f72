package service

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"shopify_sync_v1/internal/model"
	"shopify_sync_v1/pkg/shopify"
)

// MaxRemoteOptions Shopify 每个商品最多 3 个选项
const MaxRemoteOptions = 3

// ProjectedValue 规格值
type ProjectedValue struct {
	ValueID int64
	Value   string
}

// ProjectedOption 保留下来的规格，按 Position 排序
type ProjectedOption struct {
	OptionID int64
	Name     string
	Position int // 从 1 开始，连续
	Values   []ProjectedValue
}

// ProjectedSelection 变体在某个规格上的取值
type ProjectedSelection struct {
	OptionID   int64
	OptionName string
	ValueID    int64
	Value      string
	Defaulted  bool
}

// ProjectedVariant 与 Options 按位置对齐的变体取值
type ProjectedVariant struct {
	VariantID  int64
	Ordinal    int
	Selections []ProjectedSelection
}

// Projection 规格/变体投影结果
type Projection struct {
	Options  []ProjectedOption
	Variants []ProjectedVariant
}

// ProjectOptions 把本地规格图投影为远端需要的有序结构
//  1. 过滤空名称/无值的规格，按 Position 取前 3 个
//  2. 变体按 ProductVariantOption 查找取值
//  3. 缺失的取值用该规格第一个值补齐并记日志
func ProjectOptions(options []model.ProductOption, variants []model.ProductVariant, log *zap.Logger) Projection {
	if log == nil {
		log = zap.NewNop()
	}

	// 1. 规格过滤与截断
	sorted := make([]model.ProductOption, len(options))
	copy(sorted, options)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].ID < sorted[j].ID
	})

	var projected []ProjectedOption
	for i := range sorted {
		opt := &sorted[i]
		name := strings.TrimSpace(opt.Name)
		if name == "" {
			continue
		}
		var values []ProjectedValue
		seen := map[string]struct{}{}
		for _, v := range opt.SortedValues() {
			val := strings.TrimSpace(v.Value)
			if val == "" {
				continue
			}
			if _, dup := seen[strings.ToLower(val)]; dup {
				continue
			}
			seen[strings.ToLower(val)] = struct{}{}
			values = append(values, ProjectedValue{ValueID: v.ID, Value: val})
		}
		if len(values) == 0 {
			continue
		}
		projected = append(projected, ProjectedOption{OptionID: opt.ID, Name: name, Values: values})
		if len(projected) == MaxRemoteOptions {
			break
		}
	}
	for i := range projected {
		projected[i].Position = i + 1
	}

	// 规格值 ID -> 所属规格
	valueOwner := map[int64]int64{}
	valueText := map[int64]string{}
	for _, opt := range sorted {
		for _, v := range opt.Values {
			valueOwner[v.ID] = opt.ID
			valueText[v.ID] = strings.TrimSpace(v.Value)
		}
	}

	// 2. 变体取值
	result := Projection{Options: projected}
	signatures := map[string]int64{}
	for _, variant := range variants {
		chosen := map[int64]int64{} // optionID -> valueID
		for _, vo := range variant.VariantOptions {
			ownerID, ok := valueOwner[vo.OptionValueID]
			if !ok && vo.OptionValue != nil {
				ownerID, ok = vo.OptionValue.OptionID, true
				valueText[vo.OptionValueID] = strings.TrimSpace(vo.OptionValue.Value)
			}
			if ok {
				chosen[ownerID] = vo.OptionValueID
			}
		}

		pv := ProjectedVariant{VariantID: variant.ID, Ordinal: variant.Ordinal}
		for _, opt := range projected {
			sel := ProjectedSelection{OptionID: opt.OptionID, OptionName: opt.Name}
			if valueID, ok := chosen[opt.OptionID]; ok && valueText[valueID] != "" {
				sel.ValueID = valueID
				sel.Value = valueText[valueID]
			} else {
				// 3. 缺失取值，补第一个值
				sel.ValueID = opt.Values[0].ValueID
				sel.Value = opt.Values[0].Value
				sel.Defaulted = true
				log.Warn("变体缺少规格值，使用默认值",
					zap.Int64("variant_id", variant.ID),
					zap.String("option", opt.Name),
					zap.String("default", sel.Value))
			}
			pv.Selections = append(pv.Selections, sel)
		}

		// 4. 长度校验 (正常情况下不会触发)
		for len(pv.Selections) < len(projected) {
			opt := projected[len(pv.Selections)]
			pv.Selections = append(pv.Selections, ProjectedSelection{
				OptionID: opt.OptionID, OptionName: opt.Name,
				ValueID: opt.Values[0].ValueID, Value: opt.Values[0].Value, Defaulted: true,
			})
		}

		if sig := pv.Signature(); sig != "" {
			if other, dup := signatures[sig]; dup {
				log.Warn("变体规格组合重复",
					zap.Int64("variant_id", variant.ID),
					zap.Int64("duplicate_of", other),
					zap.String("signature", sig))
			} else {
				signatures[sig] = variant.ID
			}
		}
		result.Variants = append(result.Variants, pv)
	}
	return result
}

// Signature 与 shopify.RemoteVariant.Signature 同构，用于识别远端已存在的变体
func (v ProjectedVariant) Signature() string {
	parts := make([]string, 0, len(v.Selections))
	for _, s := range v.Selections {
		parts = append(parts, shopify.OptionSignaturePart(s.OptionName, s.Value))
	}
	return strings.Join(parts, "|")
}

// OptionValues 远端 optionValues 入参
func (v ProjectedVariant) OptionValues() []shopify.VariantOptionValue {
	if len(v.Selections) == 0 {
		return nil
	}
	out := make([]shopify.VariantOptionValue, 0, len(v.Selections))
	for _, s := range v.Selections {
		out = append(out, shopify.VariantOptionValue{OptionName: s.OptionName, Name: s.Value})
	}
	return out
}

// RemoteOptions productOptions 入参；无规格时返回 nil，调用方据此省略字段
func (p Projection) RemoteOptions() []shopify.OptionInput {
	if len(p.Options) == 0 {
		return nil
	}
	out := make([]shopify.OptionInput, 0, len(p.Options))
	for _, o := range p.Options {
		values := make([]string, 0, len(o.Values))
		for _, v := range o.Values {
			values = append(values, v.Value)
		}
		out = append(out, shopify.OptionInput{Name: o.Name, Position: o.Position, Values: values})
	}
	return out
}

// Variant 按本地变体 ID 查找
func (p Projection) Variant(variantID int64) (ProjectedVariant, bool) {
	for _, v := range p.Variants {
		if v.VariantID == variantID {
			return v, true
		}
	}
	return ProjectedVariant{}, false
}
