package v1

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"forecaster/internal/backend"
	"forecaster/internal/model"
	"forecaster/internal/workflow"
)

// UploadResult 上传完成事件数据
type UploadResult struct {
	Dataset  *model.UploadedDataset `json:"dataset"`
	Workflow workflow.Snapshot     `json:"workflow"`
}

// Upload 上传数据文件 (SSE 流式响应)
// POST /api/upload
func (h *Handler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}
	if err := h.session.CheckUpload(file.Filename, file.Size); err != nil {
		h.fail(c, err)
		return
	}

	name := filepath.Base(file.Filename)
	stagedPath := filepath.Join(h.uploadDir, uuid.NewString()+"_"+name)
	if err := c.SaveUploadedFile(file, stagedPath); err != nil {
		h.logger.Error("failed to stage upload", zap.String("file", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save uploaded file"})
		return
	}
	// 暂存文件只在本次上传期间使用
	defer os.Remove(stagedPath)

	w, ok := startSSE(c)
	if !ok {
		return
	}

	ref := model.FileRef{
		Path:      stagedPath,
		Name:      name,
		MimeType:  file.Header.Get("Content-Type"),
		SizeBytes: file.Size,
	}
	if ref.MimeType == "" || ref.MimeType == "application/octet-stream" {
		ref.MimeType = backend.MimeTypeOf(name)
	}

	events := make(chan ProgressEvent, 16)
	go func() {
		defer close(events)

		events <- newEvent("start", name, gin.H{"sizeBytes": ref.SizeBytes})

		lastPercent := -1
		ds, err := h.session.Upload(c.Request.Context(), ref, func(sent, total int64) {
			if total <= 0 {
				return
			}
			percent := int(sent * 100 / total)
			if percent == lastPercent {
				return
			}
			lastPercent = percent
			events <- newEvent("progress", name, gin.H{"sent": sent, "total": total, "percent": percent})
		})
		if err != nil {
			body := errorBody(err)
			body["status"] = statusOf(err)
			events <- newEvent("error", err.Error(), body)
			return
		}
		events <- newEvent("done", ds.Name, UploadResult{Dataset: ds, Workflow: h.session.Snapshot()})
	}()

	for event := range events {
		w.send(event)
	}
}
