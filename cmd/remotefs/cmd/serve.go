package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/javi11/remotefs/internal/api"
	"github.com/javi11/remotefs/internal/bridge"
	"github.com/javi11/remotefs/internal/cache"
	"github.com/javi11/remotefs/internal/config"
	"github.com/javi11/remotefs/internal/fileops"
	"github.com/javi11/remotefs/internal/pathutil"
	"github.com/javi11/remotefs/internal/pool"
	"github.com/javi11/remotefs/internal/slogutil"
	"github.com/javi11/remotefs/internal/watcher"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the remotefs tool server",
		Long:  `Start the remotefs HTTP tool server using configuration from a YAML file.`,
		RunE:  runServe,
	}

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration first (default logger for config loading errors)
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		slog.Default().Error("failed to load config", "err", err)
		return err
	}

	logger := slogutil.Setup(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("Starting remotefs server",
		"port", cfg.API.Port,
		"allowed_roots", cfg.FS.AllowedRoots,
		"max_watchers", cfg.Watch.MaxWatchers,
		"monitoring_enabled", cfg.Watch.MonitoringEnabledOrDefault())

	policy, err := pathutil.NewPolicy(cfg.FS.AllowedRoots)
	if err != nil {
		logger.Error("invalid allowed roots", "err", err)
		return err
	}

	notifier := watcher.NewFsNotifier(cfg.Watch.Debounce, logger)
	watchPool := pool.New(pool.Config{
		MaxWatchers: cfg.Watch.MaxWatchers,
		MaxPerPath:  cfg.Watch.MaxPerPath,
		MaxPerOwner: cfg.Watch.MaxPerOwner,
		MaxIdleTime: cfg.Watch.MaxIdleTime,
	}, notifier, logger)
	defer watchPool.Close()

	cacheCfg := cache.Config{
		MaxSize:    cfg.Cache.MaxSize,
		MaxEntries: cfg.Cache.MaxEntries,
		MaxAge:     cfg.Cache.MaxAge,
	}
	contentCache, err := cache.New[[]byte]("content", cacheCfg, logger)
	if err != nil {
		return err
	}
	listingCache, err := cache.New[[]fileops.Entry]("listing", cacheCfg, logger)
	if err != nil {
		return err
	}

	invalidationBridge := bridge.New(watchPool, contentCache, listingCache,
		cfg.Watch.MonitoringEnabledOrDefault(), logger)
	defer invalidationBridge.Close()
	contentCache.SetMonitor(invalidationBridge.ContentMonitor())
	listingCache.SetMonitor(invalidationBridge.ListingMonitor())

	service := fileops.New(afero.NewOsFs(), policy, contentCache, listingCache, logger)

	// Idle-watch reclamation on a fixed schedule.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Watch.CleanupInterval), func() {
		watchPool.SweepIdle(time.Now())
	}); err != nil {
		logger.Error("failed to schedule idle sweep", "err", err)
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	app := createFiberApp(cfg, logger)
	apiServer := api.NewServer(&api.Config{Prefix: cfg.API.Prefix}, service, watchPool, policy, logger)
	apiServer.RegisterRoutes(app)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.API.Port))
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errorsIsShutdown(err) {
		logger.Error("server stopped", "err", err)
		return err
	}
	return nil
}

func errorsIsShutdown(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// createFiberApp creates and configures the Fiber application
func createFiberApp(cfg *config.Config, logger *slog.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			logger.Error("Fiber error", "path", c.Path(), "method", c.Method(), "error", err)
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})
}
