package workflow

import (
	"sync"
	"time"
)

// EventType 会话事件类型
type EventType string

const (
	EventStepChanged    EventType = "step_changed"
	EventDatasetReady   EventType = "dataset_ready"
	EventMappingChanged EventType = "mapping_changed"
	EventValidated      EventType = "validated"
	EventMappingSaved   EventType = "mapping_saved"
	EventRunProgress    EventType = "run_progress"
	EventRunSettled     EventType = "run_settled"
	EventSessionReset   EventType = "session_reset"
	EventLoggedIn       EventType = "logged_in"
	EventLoggedOut      EventType = "logged_out"
	EventUploadProgress EventType = "upload_progress"
)

// Event 会话事件
type Event struct {
	Type      EventType   `json:"type"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub 事件分发；发布不阻塞，订阅者缓冲满时丢弃该订阅者的事件
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	buffer int
	closed bool
}

// NewHub 创建 Hub，buffer 为每个订阅者的缓冲大小
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe 订阅事件，返回取消函数
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Publish 发布事件
func (h *Hub) Publish(typ EventType, message string, data interface{}) {
	e := Event{Type: typ, Message: message, Data: data, Timestamp: time.Now()}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close 关闭所有订阅
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
