package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"forecaster/internal/store"
)

const tokenKey = "auth.token"

// TokenStore 认证令牌存储；Load 在没有令牌时返回空字符串
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
	Name() string
}

// Options 令牌存储配置
type Options struct {
	Service          string
	User             string
	UseSystemKeyring bool
	DBPath           string
	ProbeTimeout     time.Duration
}

// NewTokenStore 优先使用系统钥匙串，不可用时回退到本地 SQLite
func NewTokenStore(opts Options, logger *zap.Logger) (TokenStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Service == "" {
		opts.Service = "forecaster"
	}
	if opts.User == "" {
		opts.User = "default"
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}

	if opts.UseSystemKeyring {
		err := probeKeyring(opts.Service, opts.ProbeTimeout)
		if err == nil {
			logger.Info("token store ready", zap.String("backend", "keyring"))
			return NewKeyringStore(opts.Service, opts.User), nil
		}
		logger.Warn("system keyring unavailable, falling back to sqlite", zap.Error(err))
	}

	if opts.DBPath == "" {
		return nil, errors.New("token store: no database path for sqlite fallback")
	}
	s, err := store.New(opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}
	logger.Info("token store ready", zap.String("backend", "sqlite"), zap.String("path", opts.DBPath))
	return NewSQLiteStore(s), nil
}

// probeKeyring 写入并删除一个测试项；部分无桌面环境下调用会挂起，需要超时
func probeKeyring(service string, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		err := keyring.Set(service+"-probe", "probe", "ok")
		if err == nil {
			_ = keyring.Delete(service+"-probe", "probe")
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.New("keyring probe timed out")
	}
}

// KeyringStore 系统钥匙串
type KeyringStore struct {
	service string
	user    string
}

// NewKeyringStore 创建 KeyringStore
func NewKeyringStore(service, user string) *KeyringStore {
	return &KeyringStore{service: service, user: user}
}

func (k *KeyringStore) Load() (string, error) {
	token, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token from keyring: %w", err)
	}
	return token, nil
}

func (k *KeyringStore) Save(token string) error {
	if err := keyring.Set(k.service, k.user, token); err != nil {
		return fmt.Errorf("failed to save token to keyring: %w", err)
	}
	return nil
}

func (k *KeyringStore) Clear() error {
	err := keyring.Delete(k.service, k.user)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete token from keyring: %w", err)
	}
	return nil
}

func (k *KeyringStore) Name() string { return "keyring" }

// SQLiteStore 本地数据库
type SQLiteStore struct {
	db *store.Store
}

// NewSQLiteStore 创建 SQLiteStore
func NewSQLiteStore(db *store.Store) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Load() (string, error) {
	token, err := s.db.GetValue(tokenKey)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return token, nil
}

func (s *SQLiteStore) Save(token string) error {
	if err := s.db.SetValue(tokenKey, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear() error {
	if err := s.db.DeleteValue(tokenKey); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Close 关闭底层数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore 内存存储（测试用）
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

// NewMemoryStore 创建 MemoryStore，可带初始令牌
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (m *MemoryStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryStore) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

func (m *MemoryStore) Name() string { return "memory" }
