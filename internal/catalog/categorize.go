package catalog

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"forecaster/internal/model"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// 分类关键词，按顺序匹配，命中即停止
var (
	timeKeywords     = []string{"date", "time", "day", "week", "month", "year"}
	productKeywords  = []string{"sku", "product", "item", "brand", "category"}
	locationKeywords = []string{"store", "location", "region", "area", "zone"}
	metricKeywords   = []string{"sales", "revenue", "quantity", "qty", "amount", "value"}
	driverKeywords   = []string{"promo", "discount", "holiday", "event"}
)

// NormalizeColumnName 规范化列名：去除首尾空白、换行与制表符，压缩空白
func NormalizeColumnName(name string) string {
	name = norm.NFKC.String(name)
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\n", " ")
	name = strings.ReplaceAll(name, "\r", " ")
	name = strings.ReplaceAll(name, "\t", " ")
	return whitespaceRe.ReplaceAllString(name, " ")
}

// ContainsAny 文本是否包含任一关键词
func ContainsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Categorize 按列名关键词将表头分类为维度 / 指标 / 外部驱动因素
// 只用规范化后的列名匹配关键词，结果保留文件中的原始列名
// 无法识别的列不进入任何分类；重复列只保留第一次出现
func Categorize(headers []string) model.DetectedColumns {
	out := model.DetectedColumns{
		Dimensions: model.Dimensions{
			Product:  []string{},
			Location: []string{},
			Time:     []string{},
		},
		Metrics:         []string{},
		ExternalDrivers: []string{},
	}

	seen := make(map[string]struct{})
	for _, h := range headers {
		key := strings.ToLower(NormalizeColumnName(h))
		if key == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}

		switch {
		case ContainsAny(key, timeKeywords):
			out.Dimensions.Time = append(out.Dimensions.Time, h)
		case ContainsAny(key, productKeywords):
			out.Dimensions.Product = append(out.Dimensions.Product, h)
		case ContainsAny(key, locationKeywords):
			out.Dimensions.Location = append(out.Dimensions.Location, h)
		case ContainsAny(key, metricKeywords):
			out.Metrics = append(out.Metrics, h)
		case ContainsAny(key, driverKeywords):
			out.ExternalDrivers = append(out.ExternalDrivers, h)
		}
	}
	return out
}
