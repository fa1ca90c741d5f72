package service

// CartesianProduct 按顺序展开各规格值的笛卡尔积
// 任一维度为空时结果为空；没有维度时返回一个空组合 (单变体商品)
func CartesianProduct(values [][]string) [][]string {
	result := [][]string{{}}
	for _, dim := range values {
		if len(dim) == 0 {
			return nil
		}
		next := make([][]string, 0, len(result)*len(dim))
		for _, prefix := range result {
			for _, v := range dim {
				combo := make([]string, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				next = append(next, append(combo, v))
			}
		}
		result = next
	}
	return result
}
