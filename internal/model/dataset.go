package model

import "time"

// Dimensions 标识维度列（产品 / 地点 / 时间）
type Dimensions struct {
	Product  []string `json:"product"`
	Location []string `json:"location"`
	Time     []string `json:"time"`
}

// DetectedColumns 上传文件中识别出的候选列（按语义分类）
type DetectedColumns struct {
	Dimensions      Dimensions `json:"dimensions"`
	Metrics         []string   `json:"metrics"`
	ExternalDrivers []string   `json:"externalDrivers"`
}

// All 返回所有候选列（保持分类顺序，去重）
func (d DetectedColumns) All() []string {
	groups := [][]string{
		d.Dimensions.Product,
		d.Dimensions.Location,
		d.Dimensions.Time,
		d.Metrics,
		d.ExternalDrivers,
	}

	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, g := range groups {
		for _, col := range g {
			if col == "" {
				continue
			}
			if _, ok := seen[col]; ok {
				continue
			}
			seen[col] = struct{}{}
			out = append(out, col)
		}
	}
	return out
}

// Total 候选列总数
func (d DetectedColumns) Total() int {
	return len(d.All())
}

// IsEmpty 是否没有任何候选列
func (d DetectedColumns) IsEmpty() bool {
	return d.Total() == 0
}

// Contains 是否包含指定列
func (d DetectedColumns) Contains(col string) bool {
	for _, c := range d.All() {
		if c == col {
			return true
		}
	}
	return false
}

// Clone 深拷贝
func (d DetectedColumns) Clone() DetectedColumns {
	return DetectedColumns{
		Dimensions: Dimensions{
			Product:  cloneStrings(d.Dimensions.Product),
			Location: cloneStrings(d.Dimensions.Location),
			Time:     cloneStrings(d.Dimensions.Time),
		},
		Metrics:         cloneStrings(d.Metrics),
		ExternalDrivers: cloneStrings(d.ExternalDrivers),
	}
}

// UploadedDataset 上传成功后的数据集描述，创建后不可变
type UploadedDataset struct {
	Name            string          `json:"name"`
	SizeBytes       int64           `json:"sizeBytes"`
	MimeType        string          `json:"mimeType"`
	UploadedAt      time.Time       `json:"uploadedAt"`
	DetectedColumns DetectedColumns `json:"detectedColumns"`
}

// Clone 深拷贝
func (d *UploadedDataset) Clone() *UploadedDataset {
	if d == nil {
		return nil
	}
	out := *d
	out.DetectedColumns = d.DetectedColumns.Clone()
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// FileRef 待上传 / 已暂存的本地文件引用
type FileRef struct {
	Path      string `json:"-"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}
