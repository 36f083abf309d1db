package auth

import "sync"

// Holder 当前会话使用的令牌，供 HTTP 客户端读取
type Holder struct {
	mu    sync.RWMutex
	token string
}

// Get 当前令牌
func (h *Holder) Get() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// Set 替换令牌，空字符串表示未登录
func (h *Holder) Set(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}
