package model

// FieldCategory 字段分类
type FieldCategory string

const (
	CategoryDimensions FieldCategory = "dimensions"
	CategoryMetrics    FieldCategory = "metrics"
	CategoryDrivers    FieldCategory = "drivers"
)

// SchemaField 预测模型的标准字段定义（静态目录，不持久化）
type SchemaField struct {
	ID          string        `json:"id"`
	Label       string        `json:"label"`
	Required    bool          `json:"required"`
	Category    FieldCategory `json:"category"`
	Suggestions []string      `json:"suggestions"`
}

// MappingSet 字段 ID -> 用户选择的列名
// 缺失键与空字符串等价，都视为未映射
type MappingSet map[string]string

// Get 获取字段映射的列名
func (m MappingSet) Get(fieldID string) string {
	if m == nil {
		return ""
	}
	return m[fieldID]
}

// With 返回设置了 fieldID 的新映射，原映射不变
func (m MappingSet) With(fieldID, column string) MappingSet {
	out := m.Clone()
	if column == "" {
		delete(out, fieldID)
		return out
	}
	out[fieldID] = column
	return out
}

// Clone 拷贝
func (m MappingSet) Clone() MappingSet {
	out := make(MappingSet, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MappedCount 已映射（非空）的字段数量
func (m MappingSet) MappedCount() int {
	n := 0
	for _, v := range m {
		if v != "" {
			n++
		}
	}
	return n
}

// Equal 两个映射是否等价（忽略空值键）
func (m MappingSet) Equal(other MappingSet) bool {
	if m.MappedCount() != other.MappedCount() {
		return false
	}
	for k, v := range m {
		if v == "" {
			continue
		}
		if other.Get(k) != v {
			return false
		}
	}
	return true
}

// ValidationResult 映射校验结果，每次重新计算，不原地修改
type ValidationResult struct {
	IsValid         bool     `json:"isValid"`
	MissingRequired []string `json:"missingRequired"`
	MappedCount     int      `json:"mappedCount"`
	TotalDetected   int      `json:"totalDetected"`
	Warnings        []string `json:"warnings"`
}

// Clone 深拷贝
func (v *ValidationResult) Clone() *ValidationResult {
	if v == nil {
		return nil
	}
	out := *v
	out.MissingRequired = cloneStrings(v.MissingRequired)
	out.Warnings = cloneStrings(v.Warnings)
	return &out
}
