package workflow

import (
	"sync"

	"go.uber.org/zap"

	"forecaster/internal/model"
	"forecaster/internal/schema"
)

// State 工作流状态
type State struct {
	Step           Step                    `json:"step"`
	Dataset        *model.UploadedDataset  `json:"dataset,omitempty"`
	Mapping        model.MappingSet        `json:"mapping"`
	MappingVersion uint64                  `json:"mappingVersion"`
	Validation     *model.ValidationResult `json:"validation,omitempty"`
	MappingID      string                  `json:"mappingId,omitempty"`
	RunID          string                  `json:"runId,omitempty"`
	RunStatus      model.RunStatus         `json:"runStatus,omitempty"`
	Epoch          uint64                  `json:"epoch"`
}

// StepInfo 步骤可用性
type StepInfo struct {
	Step      Step `json:"step"`
	Enabled   bool `json:"enabled"`
	Completed bool `json:"completed"`
	Current   bool `json:"current"`
}

// Snapshot 状态只读副本
type Snapshot struct {
	State
	Steps []StepInfo `json:"steps"`
}

// Machine 工作流状态机，当前步骤的唯一写入者
// 所有变更返回 Transition，预期内的非法输入不会返回错误
type Machine struct {
	mu               sync.Mutex
	st               State
	validatedVersion uint64
	seq              [3]uint64
	hub              *Hub
	logger           *zap.Logger
}

// NewMachine 创建状态机，初始步骤为 Upload
func NewMachine(hub *Hub, logger *zap.Logger) *Machine {
	if hub == nil {
		hub = NewHub(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		st:     State{Step: StepUpload, Mapping: model.MappingSet{}},
		hub:    hub,
		logger: logger,
	}
}

// Snapshot 当前状态
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.st
	st.Dataset = m.st.Dataset.Clone()
	st.Mapping = m.st.Mapping.Clone()
	st.Validation = m.st.Validation.Clone()

	steps := make([]StepInfo, 0, len(Steps))
	for _, s := range Steps {
		steps = append(steps, StepInfo{
			Step:      s,
			Enabled:   m.enabledLocked(s),
			Completed: m.completedLocked(s),
			Current:   s == m.st.Step,
		})
	}
	return Snapshot{State: st, Steps: steps}
}

// Enabled 步骤是否可进入
func (m *Machine) Enabled(step Step) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabledLocked(step)
}

func (m *Machine) uploadCompleteLocked() bool {
	return m.st.Dataset != nil
}

func (m *Machine) schemaCompleteLocked() bool {
	return m.uploadCompleteLocked() &&
		m.st.MappingID != "" &&
		m.currentValidationLocked() &&
		m.st.Validation.IsValid
}

func (m *Machine) forecastCompleteLocked() bool {
	return m.schemaCompleteLocked() && m.st.RunID != "" && m.st.RunStatus == model.RunSucceeded
}

// currentValidationLocked 存储的校验结果是否对应当前映射
func (m *Machine) currentValidationLocked() bool {
	return m.st.Validation != nil && m.validatedVersion == m.st.MappingVersion
}

func (m *Machine) completedLocked(step Step) bool {
	switch step {
	case StepUpload:
		return m.uploadCompleteLocked()
	case StepSchema:
		return m.schemaCompleteLocked()
	case StepForecast, StepResult:
		return m.forecastCompleteLocked()
	}
	return false
}

// enabledLocked 只看前一步是否完成
func (m *Machine) enabledLocked(step Step) bool {
	switch step {
	case StepUpload:
		return true
	case StepSchema:
		return m.completedLocked(StepUpload)
	case StepForecast:
		return m.completedLocked(StepSchema)
	case StepResult:
		return m.completedLocked(StepForecast)
	}
	return false
}

func (m *Machine) setStepLocked(to Step) {
	if m.st.Step == to {
		return
	}
	from := m.st.Step
	m.st.Step = to
	m.hub.Publish(EventStepChanged, "", Transition{From: from, To: to, Accepted: true})
}

func (m *Machine) nextTicketLocked(s slice) Ticket {
	m.seq[s]++
	return Ticket{slice: s, seq: m.seq[s], epoch: m.st.Epoch, mappingVersion: m.st.MappingVersion}
}

func (m *Machine) currentLocked(t Ticket) bool {
	return t.epoch == m.st.Epoch && t.seq == m.seq[t.slice]
}

func (m *Machine) rejectLocked(reason string) Transition {
	return Transition{From: m.st.Step, To: m.st.Step, Accepted: false, Reason: reason}
}

func (m *Machine) staleLocked(t Ticket, op string) Transition {
	m.logger.Info("stale response discarded",
		zap.String("op", op),
		zap.Uint64("seq", t.seq),
		zap.Uint64("epoch", t.epoch))
	return m.rejectLocked(ReasonStale)
}

// invalidateDownstreamLocked 清除依赖当前映射的状态，并使进行中的保存 / 预测失效
func (m *Machine) invalidateDownstreamLocked() bool {
	invalidated := m.st.MappingID != "" || m.st.RunID != ""
	m.st.Validation = nil
	m.st.MappingID = ""
	m.st.RunID = ""
	m.st.RunStatus = ""
	m.seq[sliceSchema]++
	m.seq[sliceRun]++
	return invalidated
}

// BeginUpload 开始上传，返回令牌
func (m *Machine) BeginUpload() Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextTicketLocked(sliceUpload)
}

// CompleteUpload 上传成功：Upload -> Schema，清空映射与下游状态
func (m *Machine) CompleteUpload(t Ticket, ds *model.UploadedDataset) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(t) {
		return m.staleLocked(t, "upload")
	}
	if ds == nil {
		return m.rejectLocked(ReasonNoDataset)
	}

	from := m.st.Step
	invalidated := m.invalidateDownstreamLocked() || m.st.Dataset != nil
	m.st.Dataset = ds.Clone()
	m.st.Mapping = model.MappingSet{}
	m.st.MappingVersion++
	m.validatedVersion = 0

	m.hub.Publish(EventDatasetReady, ds.Name, m.st.Dataset.Clone())
	m.setStepLocked(StepSchema)
	return Transition{From: from, To: m.st.Step, Accepted: true, Invalidated: invalidated}
}

// SetMapping 设置单个字段映射；column 为空等价于清除
func (m *Machine) SetMapping(field, column string) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.Dataset == nil {
		return m.rejectLocked(ReasonNoDataset)
	}
	if field == "" {
		return m.rejectLocked("field id is required")
	}
	return m.replaceMappingLocked(m.st.Mapping.With(field, column))
}

// ClearMapping 清除单个字段映射
func (m *Machine) ClearMapping(field string) Transition {
	return m.SetMapping(field, "")
}

// ResetMapping 清空全部映射
func (m *Machine) ResetMapping() Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.Dataset == nil {
		return m.rejectLocked(ReasonNoDataset)
	}
	return m.replaceMappingLocked(model.MappingSet{})
}

// ReplaceMapping 整体替换映射（用于自动建议）
func (m *Machine) ReplaceMapping(next model.MappingSet) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.Dataset == nil {
		return m.rejectLocked(ReasonNoDataset)
	}
	return m.replaceMappingLocked(next.Clone())
}

// replaceMappingLocked 映射未变化时不清除任何状态
func (m *Machine) replaceMappingLocked(next model.MappingSet) Transition {
	if next.Equal(m.st.Mapping) {
		t := m.rejectLocked(ReasonUnchanged)
		t.Accepted = true
		return t
	}

	from := m.st.Step
	m.st.Mapping = next
	m.st.MappingVersion++
	invalidated := m.invalidateDownstreamLocked()
	if m.st.Step > StepSchema {
		m.setStepLocked(StepSchema)
	}

	m.hub.Publish(EventMappingChanged, "", m.st.Mapping.Clone())
	return Transition{From: from, To: m.st.Step, Accepted: true, Invalidated: invalidated}
}

// Validate 基于当前映射重新计算校验结果，新结果替换已存储的结果
func (m *Machine) Validate(catalog schema.Catalog) model.ValidationResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	if m.st.Dataset != nil {
		total = m.st.Dataset.DetectedColumns.Total()
	}
	res := schema.ComputeValidation(m.st.Mapping.Clone(), catalog, total)

	if m.st.Dataset != nil {
		m.st.Validation = res.Clone()
		m.validatedVersion = m.st.MappingVersion

		// 目录变化可能使已保存的映射不再有效
		if !res.IsValid && (m.st.MappingID != "" || m.st.RunID != "") {
			m.invalidateDownstreamLocked()
			m.st.Validation = res.Clone()
			if m.st.Step > StepSchema {
				m.setStepLocked(StepSchema)
			}
		}
		m.hub.Publish(EventValidated, "", res.Clone())
	}
	return res
}

// BeginSchemaSave 开始保存映射；要求当前映射已校验且合法
func (m *Machine) BeginSchemaSave() (Ticket, Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.st.Dataset == nil:
		return Ticket{}, m.rejectLocked(ReasonNoDataset)
	case !m.currentValidationLocked():
		return Ticket{}, m.rejectLocked(ReasonNotValidated)
	case !m.st.Validation.IsValid:
		return Ticket{}, m.rejectLocked(ReasonInvalidMapping)
	}

	t := m.nextTicketLocked(sliceSchema)
	return t, Transition{From: m.st.Step, To: m.st.Step, Accepted: true}
}

// CompleteSchemaSave 保存成功：Schema -> Forecast
// 令牌过期或映射在请求期间被修改时丢弃
func (m *Machine) CompleteSchemaSave(t Ticket, mappingID string) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(t) || t.mappingVersion != m.st.MappingVersion {
		return m.staleLocked(t, "schema_save")
	}
	if mappingID == "" {
		return m.rejectLocked(ReasonNoMapping)
	}

	from := m.st.Step
	m.st.MappingID = mappingID
	m.hub.Publish(EventMappingSaved, "", map[string]string{"mappingId": mappingID})
	m.setStepLocked(StepForecast)
	return Transition{From: from, To: m.st.Step, Accepted: true}
}

// FailSchemaSave 保存失败：回到 Schema
func (m *Machine) FailSchemaSave(t Ticket, reason string) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(t) {
		return m.staleLocked(t, "schema_save")
	}

	from := m.st.Step
	if m.st.Dataset != nil {
		m.setStepLocked(StepSchema)
	}
	return Transition{From: from, To: m.st.Step, Accepted: true, Reason: reason}
}

// BeginRun 开始提交预测；要求映射已保存
// 已关联的任务保持不变，直到 AttachRun 用新任务替换它
func (m *Machine) BeginRun() (Ticket, Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.schemaCompleteLocked() {
		reason := ReasonNoMapping
		if m.st.Dataset == nil {
			reason = ReasonNoDataset
		}
		return Ticket{}, m.rejectLocked(reason)
	}

	t := m.nextTicketLocked(sliceRun)
	return t, Transition{From: m.st.Step, To: m.st.Step, Accepted: true}
}

// AttachRun 关联已提交的任务，替换旧任务并进入 Forecast
func (m *Machine) AttachRun(t Ticket, runID string) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(t) {
		return m.staleLocked(t, "run_attach")
	}
	from := m.st.Step
	m.st.RunID = runID
	m.st.RunStatus = model.RunPending
	m.setStepLocked(StepForecast)
	return Transition{From: from, To: m.st.Step, Accepted: true}
}

// SettleRun 任务到达终态；成功时 Forecast -> Result
func (m *Machine) SettleRun(runID string, status model.RunStatus) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if runID == "" || runID != m.st.RunID {
		m.logger.Info("settlement of detached run discarded", zap.String("run_id", runID))
		return m.rejectLocked(ReasonUnknownRun)
	}
	if !status.IsTerminal() {
		return m.rejectLocked("run status is not terminal")
	}
	if m.st.RunStatus.IsTerminal() {
		return m.rejectLocked(ReasonUnchanged)
	}

	from := m.st.Step
	m.st.RunStatus = status
	m.hub.Publish(EventRunSettled, string(status), map[string]string{"runId": runID, "status": string(status)})
	if status == model.RunSucceeded && m.st.Step == StepForecast {
		m.setStepLocked(StepResult)
	}
	return Transition{From: from, To: m.st.Step, Accepted: true}
}

// Navigate 前往任一可用步骤，不清除任何状态
func (m *Machine) Navigate(to Step) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := stepNames[to]; !ok {
		return m.rejectLocked("unknown step")
	}
	if !m.enabledLocked(to) {
		return m.rejectLocked(ReasonNotEnabled)
	}

	from := m.st.Step
	m.setStepLocked(to)
	return Transition{From: from, To: to, Accepted: true}
}

// Reset 回到 Upload 并清空全部状态；之前发出的令牌全部失效
func (m *Machine) Reset(reason string) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.st.Step
	invalidated := m.st.Dataset != nil
	m.st = State{
		Step:           m.st.Step,
		Mapping:        model.MappingSet{},
		MappingVersion: m.st.MappingVersion + 1,
		Epoch:          m.st.Epoch + 1,
	}
	m.validatedVersion = 0
	for i := range m.seq {
		m.seq[i]++
	}

	m.hub.Publish(EventSessionReset, reason, nil)
	m.setStepLocked(StepUpload)
	return Transition{From: from, To: StepUpload, Accepted: true, Reason: reason, Invalidated: invalidated}
}
