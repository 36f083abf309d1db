package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"forecaster/internal/model"
)

// Resolver 将上传文件解析为分类后的候选列
type Resolver interface {
	Resolve(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error)
}

// ResolverFunc 函数适配器
type ResolverFunc func(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error)

// Resolve 实现 Resolver
func (f ResolverFunc) Resolve(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error) {
	return f(ctx, ref)
}

// Local 本地读取表头并按关键词分类
type Local struct{}

// Resolve 实现 Resolver
func (Local) Resolve(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error) {
	if err := ctx.Err(); err != nil {
		return model.DetectedColumns{}, err
	}
	headers, err := ReadHeaders(ref.Path)
	if err != nil {
		return model.DetectedColumns{}, err
	}
	return Categorize(headers), nil
}

// ColumnDetector 远端列识别服务
type ColumnDetector interface {
	DetectColumns(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error)
}

// Remote 调用后端识别列
type Remote struct {
	Detector ColumnDetector
}

// Resolve 实现 Resolver
func (r Remote) Resolve(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error) {
	if r.Detector == nil {
		return model.DetectedColumns{}, errors.New("column detector not configured")
	}
	return r.Detector.DetectColumns(ctx, ref)
}

// Chain 依次尝试多个 Resolver，返回第一个非空结果
// 全部失败时返回最后一个错误；全部为空时返回空结果
type Chain struct {
	Resolvers []Resolver
	Logger    *zap.Logger
}

// NewChain 创建 Chain
func NewChain(logger *zap.Logger, resolvers ...Resolver) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{Resolvers: resolvers, Logger: logger}
}

// Resolve 实现 Resolver
func (c *Chain) Resolve(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	empty := false
	for i, r := range c.Resolvers {
		cols, err := r.Resolve(ctx, ref)
		if err != nil {
			// 取消时直接返回
			if ctx.Err() != nil {
				return model.DetectedColumns{}, ctx.Err()
			}
			logger.Warn("column resolver failed",
				zap.Int("resolver", i),
				zap.String("file", ref.Name),
				zap.Error(err))
			lastErr = err
			continue
		}
		if cols.IsEmpty() {
			empty = true
			continue
		}
		return cols, nil
	}

	if empty || lastErr == nil {
		return Categorize(nil), nil
	}
	return model.DetectedColumns{}, fmt.Errorf("resolve columns for %s: %w", ref.Name, lastErr)
}
