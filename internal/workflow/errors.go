package workflow

import "errors"

var (
	// ErrNotAuthenticated 未登录
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionExpired 服务端返回 401，会话已登出
	ErrSessionExpired = errors.New("session expired, please log in again")
	// ErrStepNotReady 前置步骤未完成
	ErrStepNotReady = errors.New("workflow step not ready")
	// ErrStale 响应已被更新的请求取代
	ErrStale = errors.New("response superseded by a newer request")
	// ErrInvalidUpload 上传文件不符合要求
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("session closed")
)

// 取消进行中预测任务的原因
var (
	errLoggedOut      = errors.New("logged out")
	errNewDataset     = errors.New("a new dataset was started")
	errMappingChanged = errors.New("schema mapping changed")
)

// SubmissionError 后端拒绝请求或不可达；工作流已回滚到提交前的步骤
type SubmissionError struct {
	Op     string
	Detail string
	Err    error
}

func (e *SubmissionError) Error() string {
	return e.Op + ": " + e.Detail
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
