package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"forecaster/internal/model"
	"forecaster/internal/schema"
	"forecaster/internal/workflow"
)

// FieldView 字段及其当前映射
type FieldView struct {
	model.SchemaField
	Column string             `json:"column"`
	Status schema.FieldStatus `json:"status"`
}

// FieldsResponse 字段目录响应
type FieldsResponse struct {
	Dimensions []FieldView            `json:"dimensions"`
	Metrics    []FieldView            `json:"metrics"`
	Drivers    []FieldView            `json:"drivers"`
	Detected   *model.DetectedColumns `json:"detectedColumns,omitempty"`
}

// MappingRequest 设置单个字段映射；column 为空表示清除
type MappingRequest struct {
	Field  string `json:"field" binding:"required"`
	Column string `json:"column"`
}

// ValidateResponse 校验并继续的结果
type ValidateResponse struct {
	Validation model.ValidationResult `json:"validation"`
	Transition workflow.Transition    `json:"transition"`
	Workflow   workflow.Snapshot      `json:"workflow"`
}

// GetFields 字段目录（按分类），附当前映射与候选列
// GET /api/schema/fields
func (h *Handler) GetFields(c *gin.Context) {
	catalog := h.session.Catalog()
	snap := h.session.Snapshot()

	view := func(category model.FieldCategory) []FieldView {
		fields := catalog.ByCategory(category)
		out := make([]FieldView, 0, len(fields))
		for _, f := range fields {
			out = append(out, FieldView{
				SchemaField: f,
				Column:      snap.Mapping.Get(f.ID),
				Status:      schema.StatusOf(f, snap.Mapping),
			})
		}
		return out
	}

	resp := FieldsResponse{
		Dimensions: view(model.CategoryDimensions),
		Metrics:    view(model.CategoryMetrics),
		Drivers:    view(model.CategoryDrivers),
	}
	if snap.Dataset != nil {
		cols := snap.Dataset.DetectedColumns
		resp.Detected = &cols
	}
	c.JSON(http.StatusOK, resp)
}

// SetMapping 设置字段映射
// PUT /api/schema/mapping
func (h *Handler) SetMapping(c *gin.Context) {
	var req MappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "field is required"})
		return
	}

	var (
		tr  workflow.Transition
		err error
	)
	if req.Column == "" {
		tr, err = h.session.ClearMapping(req.Field)
	} else {
		tr, err = h.session.SetMapping(req.Field, req.Column)
	}
	h.mappingResult(c, tr, err)
}

// ClearMapping 清除字段映射
// DELETE /api/schema/mapping/:field
func (h *Handler) ClearMapping(c *gin.Context) {
	tr, err := h.session.ClearMapping(c.Param("field"))
	h.mappingResult(c, tr, err)
}

// ResetMapping 清空全部映射
// POST /api/schema/mapping/reset
func (h *Handler) ResetMapping(c *gin.Context) {
	tr, err := h.session.ResetMapping()
	h.mappingResult(c, tr, err)
}

// SuggestMapping 按字段建议填充未映射的字段
// POST /api/schema/mapping/suggest
func (h *Handler) SuggestMapping(c *gin.Context) {
	tr, err := h.session.Suggest()
	h.mappingResult(c, tr, err)
}

func (h *Handler) mappingResult(c *gin.Context, tr workflow.Transition, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, tr)
}

// GetValidation 按当前映射计算校验结果
// GET /api/schema/validation
func (h *Handler) GetValidation(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.PreviewValidation())
}

// Validate 校验并保存映射，成功后进入预测步骤
// POST /api/schema/validate
func (h *Handler) Validate(c *gin.Context) {
	res, tr, err := h.session.ValidateAndContinue(c.Request.Context())
	if err != nil {
		status := statusOf(err)
		body := errorBody(err)
		body["validation"] = res
		body["workflow"] = h.session.Snapshot()
		c.JSON(status, body)
		return
	}

	status := http.StatusOK
	if !tr.Accepted {
		status = http.StatusBadRequest
	}
	c.JSON(status, ValidateResponse{Validation: res, Transition: tr, Workflow: h.session.Snapshot()})
}
