package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// AppConfig 应用配置
type AppConfig struct {
	Server   ServerConfig   `toml:"server"`
	Data     DataConfig     `toml:"data"`
	Backend  BackendConfig  `toml:"backend"`
	Auth     AuthConfig     `toml:"auth"`
	Forecast ForecastConfig `toml:"forecast"`
	Upload   UploadConfig   `toml:"upload"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig 本地服务配置
type ServerConfig struct {
	Port      int    `toml:"port"`
	DevMode   bool   `toml:"dev_mode"`
	StaticDir string `toml:"static_dir"` // 前端构建产物目录，为空时不提供页面
}

// DataConfig 数据配置
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// BackendConfig 预测服务配置
type BackendConfig struct {
	BaseURL        string  `toml:"base_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RateLimit      float64 `toml:"rate_limit"`
	RateBurst      int     `toml:"rate_burst"`
	MaxRetries     int     `toml:"max_retries"`
	PollIntervalMS int     `toml:"poll_interval_ms"`
}

// Timeout 单次请求超时
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// PollInterval 任务轮询间隔
func (b BackendConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMS) * time.Millisecond
}

// AuthConfig 令牌存储配置
type AuthConfig struct {
	KeyringService   string `toml:"keyring_service"`
	KeyringUser      string `toml:"keyring_user"`
	UseSystemKeyring bool   `toml:"use_system_keyring"`
}

// ForecastConfig 预测默认值
type ForecastConfig struct {
	DefaultModel   string `toml:"default_model"`
	DefaultHorizon int    `toml:"default_horizon"`
	MaxHorizon     int    `toml:"max_horizon"`
}

// UploadConfig 上传限制
type UploadConfig struct {
	MaxSizeBytes      int64    `toml:"max_size_bytes"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	Path          string
	Found         bool
	PortSpecified bool
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:    20270,
			DevMode: false,
		},
		Data: DataConfig{
			DataDir: "data",
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8001/api/v1",
			TimeoutSeconds: 60,
			RateLimit:      10,
			RateBurst:      5,
			MaxRetries:     3,
			PollIntervalMS: 1000,
		},
		Auth: AuthConfig{
			KeyringService:   "forecaster",
			KeyringUser:      "default",
			UseSystemKeyring: true,
		},
		Forecast: ForecastConfig{
			DefaultModel:   "auto",
			DefaultHorizon: 12,
			MaxHorizon:     52,
		},
		Upload: UploadConfig{
			MaxSizeBytes:      100 << 20,
			AllowedExtensions: []string{"csv", "xlsx", "parquet"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// LoadConfigWithInfo 从可执行文件同目录的 config.toml 加载配置并返回元信息
func LoadConfigWithInfo() (*AppConfig, LoadConfigInfo, error) {
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		exeDir = "."
	}
	return LoadConfigFrom(filepath.Join(exeDir, "config.toml"))
}

// LoadConfigFrom 从指定路径加载配置；文件不存在时使用默认配置
func LoadConfigFrom(configPath string) (*AppConfig, LoadConfigInfo, error) {
	info := LoadConfigInfo{Path: configPath}
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// 配置文件不存在，使用默认配置
	case err != nil:
		return nil, info, err
	default:
		info.Found = true
		info.PortSpecified = isPortSpecifiedInToml(data)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, info, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, info, err
	}
	return config, info, nil
}

// applyEnv 环境变量覆盖（用于 E2E / 本地运行）
func applyEnv(config *AppConfig) {
	if v := os.Getenv("FORECASTER_API_BASE_URL"); v != "" {
		config.Backend.BaseURL = v
	}
	if v := os.Getenv("FORECASTER_DATA_DIR"); v != "" {
		config.Data.DataDir = v
	}
}

// Validate 检查配置取值
func (c *AppConfig) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Forecast.DefaultHorizon <= 0 {
		return fmt.Errorf("forecast.default_horizon must be positive")
	}
	if c.Forecast.MaxHorizon > 0 && c.Forecast.DefaultHorizon > c.Forecast.MaxHorizon {
		return fmt.Errorf("forecast.default_horizon %d exceeds forecast.max_horizon %d",
			c.Forecast.DefaultHorizon, c.Forecast.MaxHorizon)
	}
	if c.Upload.MaxSizeBytes < 0 {
		return fmt.Errorf("upload.max_size_bytes must not be negative")
	}
	return nil
}

// LoadConfig 从 config.toml 加载配置
func LoadConfig() (*AppConfig, error) {
	config, _, err := LoadConfigWithInfo()
	return config, err
}

// SaveConfig 保存配置到 config.toml
func SaveConfig(config *AppConfig, configPath string) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}

// ResolveDataDir 数据目录的绝对路径；相对路径以可执行文件目录为基准
func ResolveDataDir(config *AppConfig) string {
	if filepath.IsAbs(config.Data.DataDir) {
		return config.Data.DataDir
	}
	exeDir, err := GetExeDir()
	if err != nil {
		exeDir = "."
	}
	return filepath.Join(exeDir, config.Data.DataDir)
}

// EnsureDataDir 确保数据目录（及上传暂存目录）存在
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := ResolveDataDir(config)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "uploads"), 0755); err != nil {
		return "", err
	}
	return dataDir, nil
}

// GetDataPath 获取数据文件路径
func GetDataPath(config *AppConfig, subdir, filename string) string {
	return filepath.Join(ResolveDataDir(config), subdir, filename)
}
