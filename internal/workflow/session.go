package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"forecaster/internal/auth"
	"forecaster/internal/backend"
	"forecaster/internal/catalog"
	"forecaster/internal/forecast"
	"forecaster/internal/model"
	"forecaster/internal/schema"
)

// Backend 会话依赖的外部服务
type Backend interface {
	Login(ctx context.Context, cred backend.Credentials) (string, error)
	Register(ctx context.Context, p backend.Profile) error
	UploadFile(ctx context.Context, ref model.FileRef, progress backend.ProgressFunc) (*model.UploadedDataset, error)
	SaveSchemaMapping(ctx context.Context, payload schema.MappingPayload) (string, error)
}

// Options 会话依赖
type Options struct {
	Backend     Backend
	Coordinator *forecast.Coordinator
	Tokens      auth.TokenStore
	Holder      *auth.Holder
	// Resolver 后端未返回任何候选列时的兜底识别
	Resolver catalog.Resolver
	Catalog  schema.Catalog
	Hub      *Hub
	Logger   *zap.Logger

	MaxUploadBytes    int64
	AllowedExtensions []string
	DefaultConfig     model.ForecastConfig

	Now func() time.Time
}

// Status 登录状态
type Status struct {
	LoggedIn   bool   `json:"loggedIn"`
	User       string `json:"user,omitempty"`
	TokenStore string `json:"tokenStore"`
}

// Session 浏览器驱动的单个工作流会话
// 各组件只通过 Session 协作，Session 负责初始化与清理
type Session struct {
	opts    Options
	machine *Machine
	hub     *Hub
	logger  *zap.Logger

	mu       sync.Mutex
	loggedIn bool
	user     string
	closed   bool

	runs sync.WaitGroup
}

// NewSession 创建会话
func NewSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(0)
	}
	if opts.Holder == nil {
		opts.Holder = &auth.Holder{}
	}
	if opts.Tokens == nil {
		opts.Tokens = auth.NewMemoryStore("")
	}
	if opts.Catalog == nil {
		opts.Catalog = schema.DefaultCatalog()
	}
	if opts.Resolver == nil {
		opts.Resolver = catalog.NewChain(opts.Logger, catalog.Local{})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultConfig.Model == "" {
		opts.DefaultConfig.Model = model.ModelAuto
	}
	if opts.DefaultConfig.HorizonPeriods <= 0 {
		opts.DefaultConfig.HorizonPeriods = 12
	}

	return &Session{
		opts:    opts,
		machine: NewMachine(opts.Hub, opts.Logger),
		hub:     opts.Hub,
		logger:  opts.Logger,
	}
}

// Catalog 字段目录
func (s *Session) Catalog() schema.Catalog {
	return s.opts.Catalog
}

// DefaultConfig 默认预测配置
func (s *Session) DefaultConfig() model.ForecastConfig {
	return s.opts.DefaultConfig
}

// Init 加载已保存的令牌并在本地判断是否过期
func (s *Session) Init(ctx context.Context) error {
	token, err := s.opts.Tokens.Load()
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}

	info := auth.Probe(token, s.opts.Now())
	if info.Present && !info.Usable() {
		s.logger.Info("stored token expired", zap.Timep("expires_at", info.ExpiresAt))
		if err := s.opts.Tokens.Clear(); err != nil {
			s.logger.Warn("failed to clear expired token", zap.Error(err))
		}
		return nil
	}
	if !info.Usable() {
		return nil
	}

	s.opts.Holder.Set(token)
	s.mu.Lock()
	s.loggedIn = true
	s.user = info.Subject
	s.mu.Unlock()

	s.hub.Publish(EventLoggedIn, info.Subject, nil)
	s.logger.Info("session restored", zap.String("user", info.Subject), zap.String("token_store", s.opts.Tokens.Name()))
	return nil
}

// Status 当前登录状态
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{LoggedIn: s.loggedIn, User: s.user, TokenStore: s.opts.Tokens.Name()}
}

// Snapshot 工作流状态
func (s *Session) Snapshot() Snapshot {
	return s.machine.Snapshot()
}

// Subscribe 订阅会话事件
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.hub.Subscribe()
}

// Login 登录并保存令牌
func (s *Session) Login(ctx context.Context, cred backend.Credentials) error {
	token, err := s.opts.Backend.Login(ctx, cred)
	if err != nil {
		return &SubmissionError{Op: "login", Detail: backend.Detail(err), Err: err}
	}
	if err := s.opts.Tokens.Save(token); err != nil {
		// 保存失败不影响本次会话
		s.logger.Warn("failed to persist token", zap.Error(err))
	}
	s.opts.Holder.Set(token)

	s.mu.Lock()
	s.loggedIn = true
	s.user = cred.Email
	s.mu.Unlock()

	s.hub.Publish(EventLoggedIn, cred.Email, nil)
	s.logger.Info("logged in", zap.String("user", cred.Email))
	return nil
}

// Register 注册账号（不自动登录）
func (s *Session) Register(ctx context.Context, p backend.Profile) error {
	if err := s.opts.Backend.Register(ctx, p); err != nil {
		return &SubmissionError{Op: "register", Detail: backend.Detail(err), Err: err}
	}
	return nil
}

// Logout 登出并清空工作流
func (s *Session) Logout() Transition {
	return s.logout(errLoggedOut, "logout")
}

func (s *Session) logout(cause error, reason string) Transition {
	s.opts.Coordinator.CancelActive(cause)
	if err := s.opts.Tokens.Clear(); err != nil {
		s.logger.Warn("failed to clear token", zap.Error(err))
	}
	s.opts.Holder.Set("")

	s.mu.Lock()
	s.loggedIn = false
	s.user = ""
	s.mu.Unlock()

	tr := s.machine.Reset(reason)
	s.hub.Publish(EventLoggedOut, reason, nil)
	return tr
}

// expire 任一服务返回 401 时强制登出
func (s *Session) expire(op string) {
	s.logger.Warn("session expired", zap.String("op", op))
	s.logout(ErrSessionExpired, "session expired")
}

func (s *Session) requireAuth() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if !s.loggedIn {
		return ErrNotAuthenticated
	}
	return nil
}

// failure 把服务端错误转换为会话错误；401 时登出
func (s *Session) failure(op string, err error) error {
	if backend.IsUnauthorized(err) {
		s.expire(op)
		return ErrSessionExpired
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &SubmissionError{Op: op, Detail: backend.Detail(err), Err: err}
}

// CheckUpload 校验扩展名与大小
func (s *Session) CheckUpload(name string, size int64) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if len(s.opts.AllowedExtensions) > 0 {
		allowed := false
		for _, a := range s.opts.AllowedExtensions {
			if strings.TrimPrefix(strings.ToLower(a), ".") == ext {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: unsupported file format %q, expected one of %s",
				ErrInvalidUpload, ext, strings.Join(s.opts.AllowedExtensions, ", "))
		}
	}
	if size <= 0 {
		return fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	}
	if s.opts.MaxUploadBytes > 0 && size > s.opts.MaxUploadBytes {
		return fmt.Errorf("%w: file exceeds maximum size of %d MB", ErrInvalidUpload, s.opts.MaxUploadBytes>>20)
	}
	return nil
}

// Upload 上传文件；成功后 Upload -> Schema
// progress 可为空，进度同时以 upload_progress 事件发布
func (s *Session) Upload(ctx context.Context, ref model.FileRef, progress backend.ProgressFunc) (*model.UploadedDataset, error) {
	if err := s.requireAuth(); err != nil {
		return nil, err
	}
	if err := s.CheckUpload(ref.Name, ref.SizeBytes); err != nil {
		return nil, err
	}

	t := s.machine.BeginUpload()

	lastPercent := -1
	onProgress := func(sent, total int64) {
		if progress != nil {
			progress(sent, total)
		}
		if total <= 0 {
			return
		}
		percent := int(sent * 100 / total)
		if percent != lastPercent {
			lastPercent = percent
			s.hub.Publish(EventUploadProgress, ref.Name, map[string]int64{"sent": sent, "total": total, "percent": int64(percent)})
		}
	}

	ds, err := s.opts.Backend.UploadFile(ctx, ref, onProgress)
	if err != nil {
		return nil, s.failure("upload", err)
	}

	if ds.DetectedColumns.IsEmpty() && ref.Path != "" {
		cols, err := s.opts.Resolver.Resolve(ctx, ref)
		if err != nil {
			s.logger.Warn("local column detection failed", zap.String("file", ref.Name), zap.Error(err))
		} else {
			ds.DetectedColumns = cols
		}
	}

	tr := s.machine.CompleteUpload(t, ds)
	if !tr.Accepted {
		if tr.Reason == ReasonStale {
			return nil, ErrStale
		}
		return nil, fmt.Errorf("%w: %s", ErrStepNotReady, tr.Reason)
	}
	if tr.Invalidated {
		s.opts.Coordinator.CancelActive(errNewDataset)
	}

	s.logger.Info("dataset uploaded",
		zap.String("file", ds.Name),
		zap.Int64("size", ds.SizeBytes),
		zap.Int("columns", ds.DetectedColumns.Total()))
	return ds.Clone(), nil
}

func (s *Session) mappingEdit(tr Transition) (Transition, error) {
	if tr.Invalidated {
		s.opts.Coordinator.CancelActive(errMappingChanged)
	}
	if !tr.Accepted {
		return tr, fmt.Errorf("%w: %s", ErrStepNotReady, tr.Reason)
	}
	return tr, nil
}

// SetMapping 设置字段映射
func (s *Session) SetMapping(field, column string) (Transition, error) {
	if err := s.requireAuth(); err != nil {
		return Transition{}, err
	}
	return s.mappingEdit(s.machine.SetMapping(field, column))
}

// ClearMapping 清除字段映射
func (s *Session) ClearMapping(field string) (Transition, error) {
	if err := s.requireAuth(); err != nil {
		return Transition{}, err
	}
	return s.mappingEdit(s.machine.ClearMapping(field))
}

// ResetMapping 清空映射
func (s *Session) ResetMapping() (Transition, error) {
	if err := s.requireAuth(); err != nil {
		return Transition{}, err
	}
	return s.mappingEdit(s.machine.ResetMapping())
}

// Suggest 用字段建议填充尚未映射的字段，已选择的列保持不变
func (s *Session) Suggest() (Transition, error) {
	if err := s.requireAuth(); err != nil {
		return Transition{}, err
	}

	snap := s.machine.Snapshot()
	if snap.Dataset == nil {
		return s.mappingEdit(s.machine.ReplaceMapping(snap.Mapping))
	}

	merged := snap.Mapping.Clone()
	for field, col := range schema.Suggest(s.opts.Catalog, snap.Dataset.DetectedColumns) {
		if merged.Get(field) == "" {
			merged[field] = col
		}
	}
	return s.mappingEdit(s.machine.ReplaceMapping(merged))
}

// PreviewValidation 按当前映射计算校验结果，不改变工作流状态也不发布事件
func (s *Session) PreviewValidation() model.ValidationResult {
	snap := s.machine.Snapshot()
	total := 0
	if snap.Dataset != nil {
		total = snap.Dataset.DetectedColumns.Total()
	}
	return schema.ComputeValidation(snap.Mapping, s.opts.Catalog, total)
}

// ValidateAndContinue 校验并保存映射；成功后 Schema -> Forecast
// 校验不通过时返回结果与被拒绝的 Transition，不返回错误
func (s *Session) ValidateAndContinue(ctx context.Context) (model.ValidationResult, Transition, error) {
	if err := s.requireAuth(); err != nil {
		return model.ValidationResult{}, Transition{}, err
	}

	res := s.machine.Validate(s.opts.Catalog)
	snap := s.machine.Snapshot()
	if !res.IsValid {
		return res, Transition{From: snap.Step, To: snap.Step, Reason: ReasonInvalidMapping}, nil
	}

	t, tr := s.machine.BeginSchemaSave()
	if !tr.Accepted {
		return res, tr, nil
	}

	id, err := s.opts.Backend.SaveSchemaMapping(ctx, schema.BuildPayload(snap.Dataset.Name, snap.Mapping, s.opts.Catalog))
	if err != nil {
		ferr := s.failure("save schema mapping", err)
		var subErr *SubmissionError
		if errors.As(ferr, &subErr) {
			tr = s.machine.FailSchemaSave(t, subErr.Detail)
		} else if !errors.Is(ferr, ErrSessionExpired) {
			tr = s.machine.FailSchemaSave(t, ferr.Error())
		}
		return res, tr, ferr
	}

	tr = s.machine.CompleteSchemaSave(t, id)
	if !tr.Accepted {
		return res, tr, ErrStale
	}
	s.logger.Info("schema mapping saved", zap.String("mapping_id", id), zap.Int("mapped", res.MappedCount))
	return res, tr, nil
}

// StartForecast 提交预测；空字段使用默认配置
func (s *Session) StartForecast(ctx context.Context, cfg model.ForecastConfig) (*forecast.RunHandle, error) {
	if err := s.requireAuth(); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = s.opts.DefaultConfig.Model
	}
	if cfg.HorizonPeriods == 0 {
		cfg.HorizonPeriods = s.opts.DefaultConfig.HorizonPeriods
	}
	// 配置不合法时不触碰工作流状态
	if err := s.opts.Coordinator.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	t, tr := s.machine.BeginRun()
	if !tr.Accepted {
		return nil, fmt.Errorf("%w: %s", ErrStepNotReady, tr.Reason)
	}
	mappingID := s.machine.Snapshot().MappingID

	h, err := s.opts.Coordinator.SubmitRun(ctx, mappingID, cfg)
	if err != nil {
		return nil, err
	}
	if tr := s.machine.AttachRun(t, h.ID()); !tr.Accepted {
		s.opts.Coordinator.Cancel(h, ErrStale)
		return nil, ErrStale
	}

	s.runs.Add(1)
	go s.watchRun(h)
	return h, nil
}

// watchRun 转发任务进度，终态时通知状态机
func (s *Session) watchRun(h *forecast.RunHandle) {
	defer s.runs.Done()

	for snap := range h.Subscribe() {
		s.hub.Publish(EventRunProgress, string(snap.Status), snap)
	}

	final := h.Snapshot()
	s.machine.SettleRun(final.ID, final.Status)
	if h.Unauthorized() {
		s.expire("forecast")
	}
}

// CurrentRun 当前关联到工作流的任务
func (s *Session) CurrentRun() (*forecast.RunHandle, bool) {
	h := s.opts.Coordinator.Active()
	if h == nil {
		return nil, false
	}
	if h.ID() != s.machine.Snapshot().RunID {
		return nil, false
	}
	return h, true
}

// Navigate 前往可用步骤
func (s *Session) Navigate(step Step) Transition {
	return s.machine.Navigate(step)
}

// StartNewDataset 放弃当前数据集，回到 Upload
func (s *Session) StartNewDataset() Transition {
	s.opts.Coordinator.CancelActive(errNewDataset)
	return s.machine.Reset("new dataset")
}

// Teardown 取消进行中的任务并清空派生状态；令牌保留
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.opts.Coordinator.CancelActive(ErrSessionClosed)
	s.runs.Wait()
	s.machine.Reset("shutdown")
	s.hub.Close()
}
