// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ContinuityTrackerMCP/internal/api"
	"github.com/Corphon/ContinuityTrackerMCP/internal/app"
	"github.com/Corphon/ContinuityTrackerMCP/internal/config"
)

func main() {
	cfg, err := config.InitConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置初始化失败: %v\n", err)
		os.Exit(1)
	}

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	logger, err := app.InitServices(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "服务初始化失败: %v\n", err)
		os.Exit(1)
	}

	router := api.SetupRouter(logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("服务启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("服务启动失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("开始优雅关闭")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("强制关闭服务")
	}

	logger.Info().Msg("服务已退出")
}
