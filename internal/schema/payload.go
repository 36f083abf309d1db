package schema

import "forecaster/internal/model"

// timeFieldID 时间维度字段，单独放入 time_mappings
const timeFieldID = "time"

// MappingPayload 提交给 schema 服务的映射结构
type MappingPayload struct {
	Name              string              `json:"name"`
	FileName          string              `json:"file_name"`
	Columns           model.MappingSet    `json:"columns"`
	DimensionMappings map[string][]string `json:"dimension_mappings"`
	MetricMappings    map[string]string   `json:"metric_mappings"`
	TimeMappings      map[string]string   `json:"time_mappings"`
	ExternalDrivers   map[string]string   `json:"external_drivers,omitempty"`
}

// BuildPayload 将扁平映射转换为按分类组织的提交结构
// 目录中不存在的字段只保留在 columns 中
func BuildPayload(fileName string, mapping model.MappingSet, catalog Catalog) MappingPayload {
	p := MappingPayload{
		Name:              fileName,
		FileName:          fileName,
		Columns:           make(model.MappingSet),
		DimensionMappings: make(map[string][]string),
		MetricMappings:    make(map[string]string),
		TimeMappings:      make(map[string]string),
	}

	drivers := make(map[string]string)
	for id, col := range mapping {
		if col == "" {
			continue
		}
		p.Columns[id] = col

		f, ok := catalog.Field(id)
		if !ok {
			continue
		}
		switch {
		case f.ID == timeFieldID:
			p.TimeMappings["date"] = col
		case f.Category == model.CategoryDimensions:
			p.DimensionMappings[f.ID] = []string{col}
		case f.Category == model.CategoryMetrics:
			p.MetricMappings[f.ID] = col
		case f.Category == model.CategoryDrivers:
			drivers[f.ID] = col
		}
	}
	if len(drivers) > 0 {
		p.ExternalDrivers = drivers
	}
	return p
}
