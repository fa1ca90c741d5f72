package service

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// DeriveSKU 生成店铺维度的 SKU
// 格式: 厂商首字母 - sha1(productID) 前 6 位 - 三位序号 - 店铺代码
// 相同输入永远得到相同结果，重复同步时可以直接复用
func DeriveSKU(vendor string, productID int64, ordinal int, storeCode string) string {
	sum := sha1.Sum([]byte(strconv.FormatInt(productID, 10)))
	hash := hex.EncodeToString(sum[:])[:6]

	return strings.Join([]string{
		vendorInitials(vendor),
		hash,
		fmt.Sprintf("%03d", ordinal),
		strings.ToUpper(strings.TrimSpace(storeCode)),
	}, "-")
}

func vendorInitials(vendor string) string {
	var b strings.Builder
	for _, word := range strings.Fields(vendor) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(unicode.ToUpper(r))
				break
			}
		}
	}
	if b.Len() == 0 {
		return "XX"
	}
	return b.String()
}
