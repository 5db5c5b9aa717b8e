// internal/app/app.go
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Corphon/ContinuityTrackerMCP/internal/config"
	"github.com/Corphon/ContinuityTrackerMCP/internal/di"
	"github.com/Corphon/ContinuityTrackerMCP/internal/llm"
	_ "github.com/Corphon/ContinuityTrackerMCP/internal/llm/providers/openai"
	"github.com/Corphon/ContinuityTrackerMCP/internal/services"
	"github.com/Corphon/ContinuityTrackerMCP/internal/storage"
)

// InitServices 初始化全部服务并注册到容器
func InitServices(cfg *config.Config) (zerolog.Logger, error) {
	logger, err := setupLogger(cfg)
	if err != nil {
		return zerolog.Logger{}, err
	}

	fs, err := storage.NewFileStorage(cfg.DataDir, logger)
	if err != nil {
		return logger, fmt.Errorf("初始化存储失败: %w", err)
	}

	feed := services.NewChangeFeed(logger)
	productionService := services.NewProductionService(fs, feed, logger)
	stateService := services.NewStateService(productionService, feed, logger)
	eventService := services.NewEventService(productionService, feed, logger)
	taskService := services.NewTaskService(logger)

	llmService := services.NewEmptyLLMService(logger)
	if cfg.LLMProvider != "" {
		provider, err := llm.CreateProvider(cfg.LLMProvider, cfg.GetLLMSettings(cfg.LLMProvider))
		if err != nil {
			logger.Warn().Err(err).Str("provider", cfg.LLMProvider).Msg("LLM提供商初始化失败，生成功能不可用")
		} else {
			llmService.SetProvider(provider)
			logger.Info().Str("provider", cfg.LLMProvider).Msg("LLM提供商就绪")
		}
	}

	progressionService := services.NewProgressionService(
		productionService, stateService, eventService, taskService, llmService, feed, logger)

	container := di.GetContainer()
	container.Register("change_feed", feed)
	container.Register("production_service", productionService)
	container.Register("state_service", stateService)
	container.Register("event_service", eventService)
	container.Register("task_service", taskService)
	container.Register("llm_service", llmService)
	container.Register("progression_service", progressionService)

	return logger, nil
}

// setupLogger 配置zerolog，调试模式输出到终端，否则写入日志文件
func setupLogger(cfg *config.Config) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.DebugMode {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		return zerolog.New(writer).Level(zerolog.DebugLevel).With().Timestamp().Logger(), nil
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return zerolog.Logger{}, fmt.Errorf("创建日志目录失败: %w", err)
	}

	logFile, err := os.OpenFile(
		filepath.Join(cfg.LogDir, "server.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("打开日志文件失败: %w", err)
	}

	return zerolog.New(logFile).Level(zerolog.InfoLevel).With().Timestamp().Logger(), nil
}
