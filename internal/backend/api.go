package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"forecaster/internal/model"
	"forecaster/internal/schema"
)

// Credentials 登录凭据
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Profile 注册信息
type Profile struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// ProgressFunc 上传进度回调（已发送字节数 / 总字节数）
type ProgressFunc func(sent, total int64)

// Job 预测任务在服务端的状态
type Job struct {
	ID       string          `json:"id"`
	Status   model.RunStatus `json:"status"`
	Progress int             `json:"progress"`
	Stage    string          `json:"stage,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

// flexID 兼容数字与字符串形式的 id
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s", string(data))
	}
	*f = flexID(n.String())
	return nil
}

// Login 登录并返回 access token
// 服务端使用 OAuth2 password 表单（username + password）
func (c *Client) Login(ctx context.Context, cred Credentials) (string, error) {
	form := url.Values{}
	form.Set("username", cred.Email)
	form.Set("password", cred.Password)

	resp, err := c.PostForm(ctx, "/auth/login", form)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := resp.JSON(&out); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("login: response carries no access token")
	}
	return out.AccessToken, nil
}

// Register 注册账号
func (c *Client) Register(ctx context.Context, p Profile) error {
	if _, err := c.Post(ctx, "/auth/register", p); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// detectResponse /schema/detect-columns 响应
type detectResponse struct {
	Dimensions      map[string][]string `json:"dimensions"`
	Metrics         []string            `json:"metrics"`
	ExternalDrivers []string            `json:"external_drivers"`
}

func (r detectResponse) columns() model.DetectedColumns {
	cols := model.DetectedColumns{
		Dimensions: model.Dimensions{
			Product:  r.Dimensions["product"],
			Location: r.Dimensions["location"],
			Time:     r.Dimensions["time"],
		},
		Metrics:         r.Metrics,
		ExternalDrivers: r.ExternalDrivers,
	}
	return cols.Clone()
}

// UploadFile 以 multipart 流式上传文件并返回识别出的数据集
func (c *Client) UploadFile(ctx context.Context, ref model.FileRef, progress ProgressFunc) (*model.UploadedDataset, error) {
	f, err := os.Open(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", ref.Name, err)
	}
	defer f.Close()

	size := ref.SizeBytes
	if size <= 0 {
		if st, err := f.Stat(); err == nil {
			size = st.Size()
		}
	}

	name := ref.Name
	if name == "" {
		name = filepath.Base(ref.Path)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := &countingReader{r: f, total: size, onRead: progress}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	resp, err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/schema/detect-columns",
		Body:   pr,
		Headers: map[string]string{
			"Content-Type": mw.FormDataContentType(),
		},
	})
	// 请求提前结束时解除写端阻塞
	pr.Close()
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}

	var out detectResponse
	if err := resp.JSON(&out); err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}

	mimeType := ref.MimeType
	if mimeType == "" {
		mimeType = MimeTypeOf(name)
	}

	return &model.UploadedDataset{
		Name:            name,
		SizeBytes:       size,
		MimeType:        mimeType,
		UploadedAt:      time.Now(),
		DetectedColumns: out.columns(),
	}, nil
}

// DetectColumns 只返回识别出的列
func (c *Client) DetectColumns(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error) {
	ds, err := c.UploadFile(ctx, ref, nil)
	if err != nil {
		return model.DetectedColumns{}, err
	}
	return ds.DetectedColumns, nil
}

// SaveSchemaMapping 保存映射并返回映射 id
func (c *Client) SaveSchemaMapping(ctx context.Context, payload schema.MappingPayload) (string, error) {
	resp, err := c.Post(ctx, "/schema/mappings", payload)
	if err != nil {
		return "", fmt.Errorf("save schema mapping: %w", err)
	}

	var out struct {
		ID flexID `json:"id"`
	}
	if err := resp.JSON(&out); err != nil {
		return "", fmt.Errorf("save schema mapping: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("save schema mapping: response carries no id")
	}
	return string(out.ID), nil
}

// forecastRequest /forecast/generate 请求体
type forecastRequest struct {
	MappingID string          `json:"mapping_id"`
	Forecast  forecastOptions `json:"forecast"`
}

type forecastOptions struct {
	Model           string `json:"model"`
	ForecastHorizon int    `json:"forecast_horizon"`
}

// jobResponse 异步任务响应
type jobResponse struct {
	JobID    flexID          `json:"job_id"`
	ID       flexID          `json:"id"`
	Status   string          `json:"status"`
	Progress *float64        `json:"progress"`
	Stage    string          `json:"stage"`
	Result   json.RawMessage `json:"result"`
	Detail   string          `json:"detail"`
	Error    string          `json:"error"`
}

func (r jobResponse) job() Job {
	id := string(r.JobID)
	if id == "" {
		id = string(r.ID)
	}
	j := Job{
		ID:     id,
		Status: ParseStatus(r.Status),
		Stage:  r.Stage,
		Detail: r.Detail,
	}
	if j.Detail == "" {
		j.Detail = r.Error
	}
	if r.Progress != nil {
		j.Progress = int(*r.Progress)
	}
	if len(r.Result) > 0 && !bytes.Equal(r.Result, []byte("null")) {
		j.Result = append(json.RawMessage(nil), r.Result...)
	}
	return j
}

// StartForecast 提交预测
// 响应带 job_id 时为异步任务，否则整个响应体即为同步结果
func (c *Client) StartForecast(ctx context.Context, mappingID string, cfg model.ForecastConfig) (Job, error) {
	body := forecastRequest{
		MappingID: mappingID,
		Forecast: forecastOptions{
			Model:           string(cfg.Model),
			ForecastHorizon: cfg.HorizonPeriods,
		},
	}

	resp, err := c.Post(ctx, "/forecast/generate", body)
	if err != nil {
		return Job{}, fmt.Errorf("generate forecast: %w", err)
	}

	var out jobResponse
	if err := json.Unmarshal(resp.Body, &out); err == nil && out.JobID != "" {
		j := out.job()
		if j.Status == "" {
			j.Status = model.RunPending
		}
		return j, nil
	}

	result := bytes.TrimSpace(resp.Body)
	j := Job{Status: model.RunSucceeded, Progress: 100}
	if len(result) > 0 && !bytes.Equal(result, []byte("null")) {
		j.Result = append(json.RawMessage(nil), result...)
	}
	return j, nil
}

// ForecastJob 查询异步任务状态
func (c *Client) ForecastJob(ctx context.Context, jobID string) (Job, error) {
	resp, err := c.Get(ctx, "/forecast/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return Job{}, fmt.Errorf("poll forecast job %s: %w", jobID, err)
	}

	var out jobResponse
	if err := resp.JSON(&out); err != nil {
		return Job{}, fmt.Errorf("poll forecast job %s: %w", jobID, err)
	}
	j := out.job()
	if j.ID == "" {
		j.ID = jobID
	}
	return j, nil
}

// ParseStatus 将服务端状态字符串归一化
func ParseStatus(s string) model.RunStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "submitted", "":
		return model.RunPending
	case "running", "in_progress", "processing", "started":
		return model.RunRunning
	case "succeeded", "success", "completed", "complete", "done":
		return model.RunSucceeded
	case "failed", "failure", "error", "cancelled", "canceled":
		return model.RunFailed
	default:
		return model.RunRunning
	}
}

// MimeTypeOf 根据扩展名推断 MIME 类型
func MimeTypeOf(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".parquet":
		return "application/vnd.apache.parquet"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// countingReader 统计已读取字节数并回调进度
type countingReader struct {
	r      io.Reader
	total  int64
	read   int64
	onRead ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		if c.onRead != nil {
			c.onRead(c.read, c.total)
		}
	}
	return n, err
}
