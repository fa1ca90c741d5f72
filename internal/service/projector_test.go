package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopify_sync_v1/internal/model"
)

func option(id int64, name string, position int, values ...string) model.ProductOption {
	o := model.ProductOption{Name: name, Position: position}
	o.ID = id
	for i, v := range values {
		val := model.ProductOptionValue{OptionID: id, Value: v, Position: i + 1}
		val.ID = id*100 + int64(i+1)
		o.Values = append(o.Values, val)
	}
	return o
}

func variantWith(id int64, ordinal int, valueIDs ...int64) model.ProductVariant {
	v := model.ProductVariant{Ordinal: ordinal}
	v.ID = id
	for _, vid := range valueIDs {
		v.VariantOptions = append(v.VariantOptions, model.ProductVariantOption{VariantID: id, OptionValueID: vid})
	}
	return v
}

func TestProjectOptions_FillsMissingSelection(t *testing.T) {
	options := []model.ProductOption{
		option(2, "Color", 2, "Red", "Blue"),
		option(1, "Size", 1, "S", "M"),
	}
	variants := []model.ProductVariant{
		variantWith(10, 1, 101, 201),
		variantWith(11, 2, 101, 202),
		variantWith(12, 3, 102, 201),
		variantWith(13, 4, 102), // 缺少 Color
	}

	p := ProjectOptions(options, variants, nil)

	require.Len(t, p.Options, 2)
	assert.Equal(t, "Size", p.Options[0].Name)
	assert.Equal(t, 1, p.Options[0].Position)
	assert.Equal(t, "Color", p.Options[1].Name)
	assert.Equal(t, 2, p.Options[1].Position)

	require.Len(t, p.Variants, 4)
	for _, v := range p.Variants {
		assert.Len(t, v.Selections, 2)
	}

	last, ok := p.Variant(13)
	require.True(t, ok)
	assert.Equal(t, "M", last.Selections[0].Value)
	assert.False(t, last.Selections[0].Defaulted)
	assert.Equal(t, "Red", last.Selections[1].Value)
	assert.True(t, last.Selections[1].Defaulted)
	assert.Equal(t, "size=m|color=red", last.Signature())

	first, _ := p.Variant(11)
	assert.Equal(t, "size=s|color=blue", first.Signature())
}

func TestProjectOptions_FiltersAndTruncates(t *testing.T) {
	options := []model.ProductOption{
		option(1, "Size", 1, "S"),
		option(2, "  ", 2, "x"),
		option(3, "Empty", 3),
		option(4, "Color", 4, "Red", "red", ""),
		option(5, "Material", 5, "Cotton"),
		option(6, "Fit", 6, "Slim"),
	}
	p := ProjectOptions(options, nil, nil)

	require.Len(t, p.Options, MaxRemoteOptions)
	names := []string{p.Options[0].Name, p.Options[1].Name, p.Options[2].Name}
	assert.Equal(t, []string{"Size", "Color", "Material"}, names)
	assert.Equal(t, []int{1, 2, 3}, []int{p.Options[0].Position, p.Options[1].Position, p.Options[2].Position})

	// 大小写重复与空值被过滤
	require.Len(t, p.Options[1].Values, 1)
	assert.Equal(t, "Red", p.Options[1].Values[0].Value)
}

func TestProjectOptions_NoOptions(t *testing.T) {
	v := variantWith(10, 1)
	p := ProjectOptions(nil, []model.ProductVariant{v}, nil)

	assert.Empty(t, p.Options)
	assert.Nil(t, p.RemoteOptions())
	pv, ok := p.Variant(10)
	require.True(t, ok)
	assert.Empty(t, pv.Selections)
	assert.Nil(t, pv.OptionValues())
}

func TestProjection_RemoteOptions(t *testing.T) {
	p := ProjectOptions([]model.ProductOption{option(1, "Size", 1, "S", "M")}, nil, nil)
	out := p.RemoteOptions()
	require.Len(t, out, 1)
	assert.Equal(t, "Size", out[0].Name)
	assert.Equal(t, 1, out[0].Position)
	assert.Equal(t, []string{"S", "M"}, out[0].Values)
}

func TestCartesianProduct(t *testing.T) {
	got := CartesianProduct([][]string{{"S", "M"}, {"Red", "Blue"}})
	assert.Equal(t, [][]string{{"S", "Red"}, {"S", "Blue"}, {"M", "Red"}, {"M", "Blue"}}, got)

	assert.Equal(t, [][]string{{}}, CartesianProduct(nil))
	assert.Nil(t, CartesianProduct([][]string{{"S"}, {}}))
}
