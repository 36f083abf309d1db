package schema

import (
	"fmt"
	"sort"
	"strings"

	"forecaster/internal/model"
)

// minRecommendedMappings 低于该映射数量时给出提示（不阻断）
const minRecommendedMappings = 4

// WarningMapMoreFields 映射字段过少时的提示
const WarningMapMoreFields = "Consider mapping more fields for better forecast accuracy"

// ComputeValidation 根据映射与字段目录计算校验结果
// 纯函数：不修改入参，每次返回新的结果。
// 字段目录为空时没有必填字段，结果恒为合法。
func ComputeValidation(mapping model.MappingSet, catalog Catalog, totalDetected int) model.ValidationResult {
	missing := make([]string, 0)
	for _, id := range catalog.Required() {
		if mapping.Get(id) == "" {
			missing = append(missing, id)
		}
	}

	mappedCount := mapping.MappedCount()

	warnings := make([]string, 0)
	if mappedCount < minRecommendedMappings {
		warnings = append(warnings, WarningMapMoreFields)
	}
	warnings = append(warnings, unknownFieldWarnings(mapping, catalog)...)
	warnings = append(warnings, duplicateColumnWarnings(mapping)...)

	return model.ValidationResult{
		IsValid:         len(missing) == 0,
		MissingRequired: missing,
		MappedCount:     mappedCount,
		TotalDetected:   totalDetected,
		Warnings:        warnings,
	}
}

func unknownFieldWarnings(mapping model.MappingSet, catalog Catalog) []string {
	if len(catalog) == 0 {
		return nil
	}
	unknown := make([]string, 0)
	for id, col := range mapping {
		if col == "" {
			continue
		}
		if _, ok := catalog.Field(id); !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return []string{fmt.Sprintf("Unknown schema fields will be ignored: %s", strings.Join(unknown, ", "))}
}

func duplicateColumnWarnings(mapping model.MappingSet) []string {
	byColumn := make(map[string][]string)
	for id, col := range mapping {
		if col == "" {
			continue
		}
		byColumn[col] = append(byColumn[col], id)
	}

	cols := make([]string, 0)
	for col, ids := range byColumn {
		if len(ids) > 1 {
			cols = append(cols, col)
		}
	}
	sort.Strings(cols)

	out := make([]string, 0, len(cols))
	for _, col := range cols {
		ids := byColumn[col]
		sort.Strings(ids)
		out = append(out, fmt.Sprintf("Column %q is mapped to multiple fields: %s", col, strings.Join(ids, ", ")))
	}
	return out
}

// FieldStatus 单个字段的展示状态
type FieldStatus string

const (
	FieldStatusError   FieldStatus = "error"
	FieldStatusSuccess FieldStatus = "success"
	FieldStatusDefault FieldStatus = "default"
)

// StatusOf 必填未映射为 error，已映射为 success，其余为 default
func StatusOf(field model.SchemaField, mapping model.MappingSet) FieldStatus {
	if mapping.Get(field.ID) != "" {
		return FieldStatusSuccess
	}
	if field.Required {
		return FieldStatusError
	}
	return FieldStatusDefault
}

// Suggest 根据字段建议列与识别出的列，生成初始映射
// 每个字段取第一个在识别结果中存在的建议列
func Suggest(catalog Catalog, detected model.DetectedColumns) model.MappingSet {
	out := make(model.MappingSet)
	for _, f := range catalog {
		for _, s := range f.Suggestions {
			if detected.Contains(s) {
				out[f.ID] = s
				break
			}
		}
	}
	return out
}
