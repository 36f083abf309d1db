package forecast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"forecaster/internal/backend"
	"forecaster/internal/model"
)

var (
	// ErrNoMapping 没有已保存的映射
	ErrNoMapping = errors.New("schema mapping id is required")
	// ErrSuperseded 被新提交的任务取代
	ErrSuperseded = errors.New("superseded by a newer forecast run")
)

// ForecastService 预测服务
type ForecastService interface {
	StartForecast(ctx context.Context, mappingID string, cfg model.ForecastConfig) (backend.Job, error)
	ForecastJob(ctx context.Context, jobID string) (backend.Job, error)
}

// Options 协调器选项
type Options struct {
	PollInterval time.Duration
	MaxHorizon   int
	Logger       *zap.Logger
	Now          func() time.Time
}

// Coordinator 预测任务协调器
// 同一时刻只有一个活动任务，新提交会取代旧任务
type Coordinator struct {
	svc  ForecastService
	opts Options

	mu     sync.Mutex
	active *RunHandle
}

// NewCoordinator 创建协调器
func NewCoordinator(svc ForecastService, opts Options) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{svc: svc, opts: opts}
}

// SubmitRun 提交预测任务，立即返回句柄，任务在后台推进
func (c *Coordinator) SubmitRun(ctx context.Context, mappingID string, cfg model.ForecastConfig) (*RunHandle, error) {
	if mappingID == "" {
		return nil, ErrNoMapping
	}
	if err := c.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	// 任务生命周期不跟随发起请求
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))

	now := c.opts.Now()
	run := model.ForecastRun{
		ID:              uuid.NewString(),
		SchemaMappingID: mappingID,
		Config:          cfg,
		Status:          model.RunPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	h := newRunHandle(run, cancel, c.opts.Now)

	c.mu.Lock()
	prev := c.active
	c.active = h
	c.mu.Unlock()

	if prev != nil {
		c.cancelHandle(prev, ErrSuperseded)
	}

	c.opts.Logger.Info("forecast run submitted",
		zap.String("run_id", run.ID),
		zap.String("mapping_id", mappingID),
		zap.String("model", string(cfg.Model)),
		zap.Int("horizon", cfg.HorizonPeriods))

	go c.execute(runCtx, h, mappingID, cfg)
	return h, nil
}

// ValidateConfig 按协调器的预测步数上限校验配置
func (c *Coordinator) ValidateConfig(cfg model.ForecastConfig) error {
	return cfg.Validate(c.opts.MaxHorizon)
}

// Active 当前活动（或最近一次）任务
func (c *Coordinator) Active() *RunHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// CancelActive 取消当前任务并清空
func (c *Coordinator) CancelActive(reason error) {
	c.mu.Lock()
	h := c.active
	c.active = nil
	c.mu.Unlock()

	if h != nil {
		c.cancelHandle(h, reason)
	}
}

// Cancel 只取消指定任务；它仍是当前任务时一并清空
func (c *Coordinator) Cancel(h *RunHandle, reason error) {
	if h == nil {
		return
	}
	c.mu.Lock()
	if c.active == h {
		c.active = nil
	}
	c.mu.Unlock()

	c.cancelHandle(h, reason)
}

func (c *Coordinator) cancelHandle(h *RunHandle, reason error) {
	if reason == nil {
		reason = context.Canceled
	}
	h.cancel(reason)
	if h.settle(model.RunFailed, nil, reason.Error(), false) {
		c.logSettled(h)
	}
}

func (c *Coordinator) execute(ctx context.Context, h *RunHandle, mappingID string, cfg model.ForecastConfig) {
	job, err := c.svc.StartForecast(ctx, mappingID, cfg)
	if err != nil {
		c.fail(ctx, h, err)
		return
	}
	if c.apply(h, job) {
		return
	}
	if job.ID == "" {
		c.failDetail(h, "forecasting service returned no job id", false)
		return
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.fail(ctx, h, ctx.Err())
			return
		case <-ticker.C:
		}

		job, err = c.svc.ForecastJob(ctx, job.ID)
		if err != nil {
			c.fail(ctx, h, err)
			return
		}
		if c.apply(h, job) {
			return
		}
	}
}

// apply 合并一次服务端状态，返回是否已到终态
func (c *Coordinator) apply(h *RunHandle, job backend.Job) bool {
	switch job.Status {
	case model.RunSucceeded:
		if isEmptyResult(job.Result) {
			c.failDetail(h, "forecasting service returned an empty result", false)
			return true
		}
		if h.settle(model.RunSucceeded, job.Result, "", false) {
			c.logSettled(h)
		}
		return true
	case model.RunFailed:
		detail := job.Detail
		if detail == "" {
			detail = "forecast job failed"
		}
		c.failDetail(h, detail, false)
		return true
	default:
		h.markRunning(job.Progress, job.Stage)
		return false
	}
}

func (c *Coordinator) fail(ctx context.Context, h *RunHandle, err error) {
	// 被取消时以取消原因为准
	if cause := context.Cause(ctx); cause != nil {
		err = cause
	}
	detail := backend.Detail(err)
	if detail == "" {
		detail = fmt.Sprintf("forecast failed: %v", err)
	}
	c.failDetail(h, detail, backend.IsUnauthorized(err))
}

func (c *Coordinator) failDetail(h *RunHandle, detail string, unauthorized bool) {
	if h.settle(model.RunFailed, nil, detail, unauthorized) {
		c.logSettled(h)
	}
}

func (c *Coordinator) logSettled(h *RunHandle) {
	run := h.Snapshot()
	fields := []zap.Field{
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
	}
	if run.Error != "" {
		fields = append(fields, zap.String("error", run.Error))
	}
	c.opts.Logger.Info("forecast run settled", fields...)
}
