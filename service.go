package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/cache"
	"github.com/any-hub/shellcache/internal/config"
	"github.com/any-hub/shellcache/internal/generation"
	"github.com/any-hub/shellcache/internal/logging"
	"github.com/any-hub/shellcache/internal/proxy"
	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/server/routes"
	"github.com/any-hub/shellcache/internal/strategy"
)

// service 持有进程内共享的存储、生命周期管理器与 Fiber 应用。
type service struct {
	cfg     *config.Config
	logger  *logrus.Logger
	store   cache.Store
	manager *generation.Manager
	router  *proxy.Router
	app     *fiber.App
}

func newService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	store, err := cache.Open(cache.Options{
		Backend:      cfg.Global.StoreBackend,
		StoragePath:  cfg.Global.StoragePath,
		Codec:        cfg.Global.EntryCodec,
		HotCacheSize: cfg.Global.HotCacheSize,
		RedisAddr:    cfg.Global.RedisAddr,
		RedisDB:      cfg.Global.RedisDB,
		RedisPrefix:  cfg.Global.RedisPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	svc := &service{cfg: cfg, logger: logger, store: store}
	if err := svc.wire(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return svc, nil
}

func (s *service) wire(ctx context.Context) error {
	cfg := s.cfg
	network := server.NewHTTPNetwork(server.NewUpstreamClient(cfg))

	manager, err := generation.NewManager(generation.Options{
		Store:              s.store,
		Network:            network,
		Logger:             s.logger,
		InstallTimeout:     cfg.Global.InstallTimeout.DurationValue(),
		InstallConcurrency: cfg.Global.InstallConcurrency,
	})
	if err != nil {
		return err
	}
	s.manager = manager

	manifest, err := cfg.ManifestURLs()
	if err != nil {
		return err
	}
	bootstrapGeneration(ctx, manager, s.store, cfg.Shell.Version, manifest, s.logger)

	populator, err := proxy.NewPopulator(cfg.Shell.Origin, cfg.Shell.AllowedOrigins, s.logger)
	if err != nil {
		return err
	}
	navigation, ok := strategy.Resolve(cfg.Shell.NavigationStrategy)
	if !ok {
		return fmt.Errorf("unknown navigation strategy %q", cfg.Shell.NavigationStrategy)
	}
	asset, ok := strategy.Resolve(cfg.Shell.AssetStrategy)
	if !ok {
		return fmt.Errorf("unknown asset strategy %q", cfg.Shell.AssetStrategy)
	}
	fallbackDoc, err := cfg.ResolveURL(cfg.Shell.FallbackDocument)
	if err != nil {
		return fmt.Errorf("FallbackDocument: %w", err)
	}
	fallbacks, err := cfg.DestinationFallbacks()
	if err != nil {
		return err
	}

	router, err := proxy.NewRouter(proxy.RouterOptions{
		Manager:          manager,
		Network:          network,
		Populator:        populator,
		Logger:           s.logger,
		Navigation:       navigation,
		Asset:            asset,
		FallbackDocument: fallbackDoc,
		Fallbacks:        fallbacks,
	})
	if err != nil {
		return err
	}
	s.router = router

	handler, err := proxy.NewHandler(router, cfg.Shell.Origin, cfg.Shell.AllowedOrigins, s.logger)
	if err != nil {
		return err
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:     s.logger,
		Proxy:      handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return err
	}
	routes.RegisterGenerationRoutes(app, manager, manifest)
	s.app = app
	return nil
}

// bootstrapGeneration 安装并激活配置的外壳版本。安装失败（通常是源站不可达）时
// 依次尝试接管同名分区与存储中最新的其他分区，使离线重启后仍能提供外壳。
func bootstrapGeneration(ctx context.Context, manager *generation.Manager, store cache.Store, version string, manifest []string, logger *logrus.Logger) {
	installErr := manager.Install(ctx, version, manifest)
	if installErr == nil {
		if err := manager.Activate(ctx, version); err != nil && manager.Active() != version {
			logger.WithFields(logging.GenerationFields("bootstrap", version)).
				WithError(err).Error("generation_activate_failed")
		}
		return
	}

	logger.WithFields(logging.GenerationFields("bootstrap", version)).
		WithError(installErr).Warn("generation_install_failed")

	for _, candidate := range adoptionCandidates(ctx, store, version) {
		err := manager.Adopt(ctx, candidate)
		if err == nil {
			return
		}
		if !errors.Is(err, generation.ErrNotInstalled) {
			logger.WithFields(logging.GenerationFields("adopt", candidate)).
				WithError(err).Warn("generation_adopt_failed")
		}
	}
	logger.WithFields(logging.GenerationFields("bootstrap", version)).
		Warn("no_active_generation")
}

// adoptionCandidates 返回可接管的分区：配置的版本优先，其余按名称倒序。
func adoptionCandidates(ctx context.Context, store cache.Store, preferred string) []string {
	out := []string{preferred}
	names, err := store.ListPartitions(ctx)
	if err != nil {
		return out
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names {
		if name != preferred {
			out = append(out, name)
		}
	}
	return out
}

// Serve 阻塞监听直到 ctx 结束，然后优雅关闭 Fiber 并等待后台刷新完成。
func (s *service) Serve(ctx context.Context) error {
	port := s.cfg.Global.ListenPort
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		errCh <- s.app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.WithField("action", "shutdown").Info("收到退出信号")
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		s.logger.WithField("action", "shutdown").WithError(err).Warn("shutdown_incomplete")
	}
	s.router.Wait()
	return nil
}

// Close 释放存储资源。
func (s *service) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.WithField("action", "shutdown").WithError(err).Warn("store_close_failed")
	}
}
