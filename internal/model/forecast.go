package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig 预测配置不合法
var ErrInvalidConfig = errors.New("invalid forecast config")

// ModelSelection 模型选择
type ModelSelection string

const (
	ModelAuto     ModelSelection = "auto"
	ModelProphet  ModelSelection = "prophet"
	ModelARIMA    ModelSelection = "arima"
	ModelLightGBM ModelSelection = "lightgbm"
	ModelXGBoost  ModelSelection = "xgboost"
	ModelLinear   ModelSelection = "linear"
)

var knownModels = map[ModelSelection]struct{}{
	ModelAuto:     {},
	ModelProphet:  {},
	ModelARIMA:    {},
	ModelLightGBM: {},
	ModelXGBoost:  {},
	ModelLinear:   {},
}

// KnownModels 支持的模型列表（auto 在首位）
func KnownModels() []ModelSelection {
	return []ModelSelection{ModelAuto, ModelProphet, ModelARIMA, ModelLightGBM, ModelXGBoost, ModelLinear}
}

// ForecastConfig 预测配置（会话内临时状态）
type ForecastConfig struct {
	Model          ModelSelection `json:"model"`
	HorizonPeriods int            `json:"horizon"`
}

// Validate 校验配置；maxHorizon <= 0 表示不限制上限
func (c ForecastConfig) Validate(maxHorizon int) error {
	if _, ok := knownModels[c.Model]; !ok {
		return fmt.Errorf("%w: unknown model %q", ErrInvalidConfig, c.Model)
	}
	if c.HorizonPeriods <= 0 {
		return fmt.Errorf("%w: horizon must be a positive number of periods", ErrInvalidConfig)
	}
	if maxHorizon > 0 && c.HorizonPeriods > maxHorizon {
		return fmt.Errorf("%w: horizon %d exceeds maximum of %d periods", ErrInvalidConfig, c.HorizonPeriods, maxHorizon)
	}
	return nil
}

// RunStatus 预测任务状态
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// IsTerminal 是否为终态
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// ForecastRun 一次预测任务
// 状态单调推进 pending -> running -> succeeded|failed
type ForecastRun struct {
	ID              string          `json:"id"`
	SchemaMappingID string          `json:"schemaMappingId"`
	Config          ForecastConfig  `json:"config"`
	Status          RunStatus       `json:"status"`
	ProgressPercent int             `json:"progressPercent"`
	Stage           string          `json:"stage,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"` // 不解析，原样用于展示
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	FinishedAt      *time.Time      `json:"finishedAt,omitempty"`
}

// Clone 深拷贝
func (r *ForecastRun) Clone() *ForecastRun {
	if r == nil {
		return nil
	}
	out := *r
	if r.Result != nil {
		out.Result = append(json.RawMessage(nil), r.Result...)
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
