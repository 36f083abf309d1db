package schema

import "forecaster/internal/model"

// Catalog 标准字段目录（有序）
type Catalog []model.SchemaField

// DefaultCatalog 默认字段目录：维度 / 指标 / 外部驱动因素
func DefaultCatalog() Catalog {
	return Catalog{
		// 维度
		{ID: "product", Label: "Product Identifier", Required: true, Category: model.CategoryDimensions, Suggestions: []string{"product_id", "sku"}},
		{ID: "location", Label: "Location Identifier", Required: true, Category: model.CategoryDimensions, Suggestions: []string{"store_id", "location"}},
		{ID: "time", Label: "Time Identifier", Required: true, Category: model.CategoryDimensions, Suggestions: []string{"date", "week_ending"}},
		{ID: "category", Label: "Product Category", Required: false, Category: model.CategoryDimensions, Suggestions: []string{"category"}},
		{ID: "brand", Label: "Product Brand", Required: false, Category: model.CategoryDimensions, Suggestions: []string{"brand"}},
		{ID: "region", Label: "Geographic Region", Required: false, Category: model.CategoryDimensions, Suggestions: []string{"region"}},

		// 指标
		{ID: "target_metric", Label: "Primary Target Metric", Required: true, Category: model.CategoryMetrics, Suggestions: []string{"sales_qty", "sales_value"}},
		{ID: "inventory", Label: "Inventory/Stock Level", Required: false, Category: model.CategoryMetrics, Suggestions: []string{"inventory"}},
		{ID: "price", Label: "Price", Required: false, Category: model.CategoryMetrics, Suggestions: []string{"price"}},

		// 外部驱动因素
		{ID: "promotion", Label: "Promotion Flag", Required: false, Category: model.CategoryDrivers, Suggestions: []string{"promotion_flag"}},
		{ID: "discount", Label: "Discount Percentage", Required: false, Category: model.CategoryDrivers, Suggestions: []string{"discount_pct"}},
		{ID: "events", Label: "Events/Holidays", Required: false, Category: model.CategoryDrivers, Suggestions: []string{}},
	}
}

// Field 按 ID 查找字段
func (c Catalog) Field(id string) (model.SchemaField, bool) {
	for _, f := range c {
		if f.ID == id {
			return f, true
		}
	}
	return model.SchemaField{}, false
}

// Required 必填字段 ID（目录顺序）
func (c Catalog) Required() []string {
	out := make([]string, 0)
	for _, f := range c {
		if f.Required {
			out = append(out, f.ID)
		}
	}
	return out
}

// ByCategory 指定分类下的字段
func (c Catalog) ByCategory(category model.FieldCategory) []model.SchemaField {
	out := make([]model.SchemaField, 0)
	for _, f := range c {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}
