package workflow

import (
	"encoding/json"
	"fmt"
)

// Step 工作流步骤
type Step int

const (
	StepUpload Step = iota
	StepSchema
	StepForecast
	StepResult
)

// Steps 全部步骤（按顺序）
var Steps = []Step{StepUpload, StepSchema, StepForecast, StepResult}

var stepNames = map[Step]string{
	StepUpload:   "upload",
	StepSchema:   "schema",
	StepForecast: "forecast",
	StepResult:   "result",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// ParseStep 解析步骤名称
func ParseStep(name string) (Step, bool) {
	for step, n := range stepNames {
		if n == name {
			return step, true
		}
	}
	return StepUpload, false
}

// MarshalJSON 以名称输出
func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON 从名称解析
func (s *Step) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	step, ok := ParseStep(name)
	if !ok {
		return fmt.Errorf("unknown step %q", name)
	}
	*s = step
	return nil
}

// slice 工作流状态中由异步操作写入的分片
type slice int

const (
	sliceUpload slice = iota
	sliceSchema
	sliceRun
)

// Ticket 异步操作的请求令牌，完成时用于判断响应是否已过期
type Ticket struct {
	slice          slice
	seq            uint64
	epoch          uint64
	mappingVersion uint64
}

// Transition 一次状态变更请求的结果
type Transition struct {
	From        Step   `json:"from"`
	To          Step   `json:"to"`
	Accepted    bool   `json:"accepted"`
	Reason      string `json:"reason,omitempty"`
	Invalidated bool   `json:"invalidated,omitempty"` // 是否清除了下游已完成状态
}

// 拒绝原因
const (
	ReasonStale          = "stale"
	ReasonUnchanged      = "unchanged"
	ReasonNoDataset      = "no dataset uploaded"
	ReasonNotValidated   = "mapping has not been validated"
	ReasonInvalidMapping = "mapping is missing required fields"
	ReasonNoMapping      = "schema mapping has not been saved"
	ReasonNotEnabled     = "step is not enabled"
	ReasonUnknownRun     = "run is not attached to the workflow"
)
