// Package server HTTP 服务：路由、配置热加载与可选的内置模拟设备
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sshcollectorpro/netauto/api/router"
	"github.com/sshcollectorpro/netauto/internal/bootstrap"
	"github.com/sshcollectorpro/netauto/internal/config"
	"github.com/sshcollectorpro/netauto/pkg/logger"
	"github.com/sshcollectorpro/netauto/simulate"
)

// DefaultConfigPath 未指定配置文件时监听的路径
const DefaultConfigPath = "configs/config.yaml"

// ShutdownTimeout 优雅关闭等待时间
const ShutdownTimeout = 30 * time.Second

// simulator 按配置开关启停内置模拟设备
type simulator struct {
	mu     sync.Mutex
	server *simulate.Server
}

func (s *simulator) apply(cfg config.ServerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case cfg.SimulateEnable && s.server == nil:
		srv, err := simulate.StartFile(cfg.SimulateConfig, "")
		if err != nil {
			logger.Warnf("Simulate: failed to start: %v", err)
			return
		}
		s.server = srv
		logger.Infof("Simulate: started on %s", srv.Addr())
	case !cfg.SimulateEnable && s.server != nil:
		s.server.Stop()
		s.server = nil
		logger.Info("Simulate: stopped")
	}
}

func (s *simulator) stop() {
	s.apply(config.ServerConfig{})
}

// Run 启动 HTTP 服务直到 ctx 结束
func Run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.WithField("version", router.Version).Info("Starting netauto server")
	if p := cfg.Runner.ConcurrencyProfile; p != "" {
		logger.Infof("Concurrency profile %s applied, workers %d", p, cfg.Runner.Concurrent)
	}

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Database: true})
	if err != nil {
		return err
	}
	defer app.Close()

	sim := &simulator{}
	sim.apply(cfg.Server)
	defer sim.stop()

	engine := router.SetupRouter(router.Deps{
		Runner:       app.Runner,
		DB:           app.DB,
		Source:       app.Targets,
		Sink:         app.Sink,
		ReportPrefix: cfg.Report.Prefix,
		RunTimeout:   cfg.Server.WriteTimeout,
		Mode:         cfg.Server.Mode,
	})
	srv := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        engine,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	// 配置热加载：日志级别与模拟开关即时生效，其余项需要重启
	watchPath := cfgPath
	if watchPath == "" {
		watchPath = DefaultConfigPath
	}
	if _, err := os.Stat(watchPath); err == nil {
		err := config.Watch(ctx, watchPath, func(next *config.Config) {
			logger.SetLevel(next.Log.Level)
			sim.apply(next.Server)
		})
		if err != nil {
			logger.Warnf("Config watch disabled: %v", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server listening on %s (mode %s)", srv.Addr, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server shutdown complete")
	return nil
}
