package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"forecaster/internal/model"
)

// RunHandle 一次预测任务的观察句柄
// 状态只由 Coordinator 推进；读者通过 Snapshot / Subscribe / Wait 观察
type RunHandle struct {
	mu           sync.Mutex
	run          model.ForecastRun
	unauthorized bool
	subs         []chan model.ForecastRun
	done         chan struct{}
	cancel       context.CancelCauseFunc
	now          func() time.Time
}

func newRunHandle(run model.ForecastRun, cancel context.CancelCauseFunc, now func() time.Time) *RunHandle {
	return &RunHandle{
		run:    run,
		done:   make(chan struct{}),
		cancel: cancel,
		now:    now,
	}
}

// ID 任务 id
func (h *RunHandle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.ID
}

// Snapshot 当前状态的副本
func (h *RunHandle) Snapshot() model.ForecastRun {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.run.Clone()
}

// Done 终态时关闭
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Wait 阻塞直到终态或 ctx 结束
func (h *RunHandle) Wait(ctx context.Context) (model.ForecastRun, error) {
	select {
	case <-h.done:
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

// Unauthorized 任务是否因认证失效而失败
func (h *RunHandle) Unauthorized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unauthorized
}

// Subscribe 订阅状态变化。
// 通道只保留最新一条，慢读者会跳过中间进度；
// 最后一条一定是终态，随后通道关闭。
func (h *RunHandle) Subscribe() <-chan model.ForecastRun {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan model.ForecastRun, 1)
	ch <- *h.run.Clone()
	if h.run.Status.IsTerminal() {
		close(ch)
		return ch
	}
	h.subs = append(h.subs, ch)
	return ch
}

// publishLocked 调用方持有 h.mu
func (h *RunHandle) publishLocked() {
	snap := *h.run.Clone()
	for _, ch := range h.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// markRunning 进入 running 并合并进度；进度只增不减，终态前不超过 99
func (h *RunHandle) markRunning(progress int, stage string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.run.Status.IsTerminal() {
		return false
	}

	changed := false
	if h.run.Status != model.RunRunning {
		h.run.Status = model.RunRunning
		changed = true
	}
	if p := clampProgress(progress); p > h.run.ProgressPercent {
		h.run.ProgressPercent = p
		changed = true
	}
	if stage != "" && stage != h.run.Stage {
		h.run.Stage = stage
		changed = true
	}
	if changed {
		h.run.UpdatedAt = h.now()
		h.publishLocked()
	}
	return changed
}

// settle 推进到终态，只生效一次
func (h *RunHandle) settle(status model.RunStatus, result json.RawMessage, detail string, unauthorized bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.run.Status.IsTerminal() {
		return false
	}

	now := h.now()
	h.run.Status = status
	h.run.ProgressPercent = 100
	h.run.UpdatedAt = now
	h.run.FinishedAt = &now
	if status == model.RunSucceeded {
		h.run.Result = append(json.RawMessage(nil), result...)
		h.run.Error = ""
	} else {
		h.run.Result = nil
		h.run.Error = detail
		h.unauthorized = unauthorized
	}

	h.publishLocked()
	for _, ch := range h.subs {
		close(ch)
	}
	h.subs = nil
	close(h.done)

	if h.cancel != nil {
		h.cancel(nil)
	}
	return true
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 99 {
		return 99
	}
	return p
}

// isEmptyResult null、空串、空对象与空数组都视为空结果
func isEmptyResult(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}
