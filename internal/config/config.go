// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// Config 应用配置
type Config struct {
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// LLM配置
	LLMProvider string                       `json:"llm_provider"`
	LLMConfig   map[string]map[string]string `json:"llm_config"`

	mu sync.RWMutex `json:"-"`
}

var (
	currentConfig *Config
	configOnce    sync.Once
)

const configFileName = "app_config.json"

// InitConfig 初始化配置：先加载.env，再叠加已保存的配置文件
func InitConfig() (*Config, error) {
	var initErr error

	configOnce.Do(func() {
		// .env不存在不是错误
		_ = godotenv.Load()

		cfg := &Config{
			Port:        getEnv("PORT", "8080"),
			DataDir:     getEnv("DATA_DIR", "data"),
			LogDir:      getEnv("LOG_DIR", "logs"),
			DebugMode:   getEnv("DEBUG_MODE", "false") == "true",
			LLMProvider: getEnv("LLM_PROVIDER", ""),
			LLMConfig:   make(map[string]map[string]string),
		}

		if key := getEnv("OPENAI_API_KEY", ""); key != "" {
			cfg.LLMConfig["openai"] = map[string]string{
				"api_key":       key,
				"base_url":      getEnv("OPENAI_BASE_URL", ""),
				"default_model": getEnv("OPENAI_MODEL", ""),
			}
			if cfg.LLMProvider == "" {
				cfg.LLMProvider = "openai"
			}
		}

		if err := cfg.loadSavedConfig(); err != nil {
			initErr = err
			return
		}

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			initErr = fmt.Errorf("创建数据目录失败: %w", err)
			return
		}

		currentConfig = cfg
	})

	if initErr != nil {
		return nil, initErr
	}
	return currentConfig, nil
}

// GetCurrentConfig 获取当前配置，未初始化时panic由调用方保证不发生
func GetCurrentConfig() *Config {
	if currentConfig == nil {
		cfg, err := InitConfig()
		if err != nil {
			panic(fmt.Sprintf("配置初始化失败: %v", err))
		}
		return cfg
	}
	return currentConfig
}

// 叠加已保存的配置文件（若存在）
func (c *Config) loadSavedConfig() error {
	path := filepath.Join(c.DataDir, configFileName)

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	saved := struct {
		LLMProvider string                       `json:"llm_provider"`
		LLMConfig   map[string]map[string]string `json:"llm_config"`
	}{}

	if err := json.Unmarshal(content, &saved); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}

	if saved.LLMProvider != "" {
		c.LLMProvider = saved.LLMProvider
	}
	for provider, settings := range saved.LLMConfig {
		if c.LLMConfig[provider] == nil {
			c.LLMConfig[provider] = make(map[string]string)
		}
		for key, value := range settings {
			if value != "" {
				c.LLMConfig[provider][key] = value
			}
		}
	}

	return nil
}

// SaveConfig 持久化可变部分的配置
func (c *Config) SaveConfig() error {
	c.mu.RLock()
	snapshot := struct {
		LLMProvider string                       `json:"llm_provider"`
		LLMConfig   map[string]map[string]string `json:"llm_config"`
	}{
		LLMProvider: c.LLMProvider,
		LLMConfig:   c.LLMConfig,
	}
	c.mu.RUnlock()

	content, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	path := filepath.Join(c.DataDir, configFileName)
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时配置文件失败: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("保存配置文件失败: %w", err)
	}

	return nil
}

// UpdateLLMConfig 更新LLM提供商配置并持久化
func (c *Config) UpdateLLMConfig(provider string, settings map[string]string) error {
	c.mu.Lock()
	if c.LLMConfig == nil {
		c.LLMConfig = make(map[string]map[string]string)
	}
	if c.LLMConfig[provider] == nil {
		c.LLMConfig[provider] = make(map[string]string)
	}
	for key, value := range settings {
		c.LLMConfig[provider][key] = value
	}
	c.LLMProvider = provider
	c.mu.Unlock()

	return c.SaveConfig()
}

// GetLLMSettings 获取指定提供商的配置
func (c *Config) GetLLMSettings(provider string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	settings := make(map[string]string)
	for key, value := range c.LLMConfig[provider] {
		settings[key] = value
	}
	return settings
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
