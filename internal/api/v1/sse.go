package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ProgressEvent SSE 事件
type ProgressEvent struct {
	Type      string      `json:"type"`    // start/progress/done/error
	Message   string      `json:"message"` // 事件消息
	Data      interface{} `json:"data"`    // 附加数据
	Timestamp time.Time   `json:"timestamp"`
}

func newEvent(typ, message string, data interface{}) ProgressEvent {
	return ProgressEvent{Type: typ, Message: message, Data: data, Timestamp: time.Now()}
}

// sseWriter 以 data: {json}\n\n 格式写出事件
type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
}

// startSSE 设置 SSE 响应头；不支持流式响应时写出 500 并返回 false
func startSSE(c *gin.Context) (*sseWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return nil, false
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	return &sseWriter{c: c, flusher: flusher}, true
}

func (w *sseWriter) send(event ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w.c.Writer, "data: %s\n\n", data)
	w.flusher.Flush()
}
