package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"bidding/internal/config"
	"bidding/internal/controller"
	"bidding/internal/oracle"
	"bidding/internal/redis"
	"bidding/internal/repository"
	"bidding/internal/router"
	"bidding/internal/scanner"
	"bidding/internal/service"
)

type App struct {
	repo        *repository.Repository
	service     *service.Service
	controller  *controller.Controller
	scanner     *scanner.Scanner
	publisher   *redis.EventPublisher
	redisClient *goredis.Client
	stopSig     chan os.Signal
	cfg         *config.Config
	logger      *slog.Logger

	Done chan struct{}
}

type option func(*App)

func WithConfig(cfg *config.Config) option {
	return func(app *App) {
		app.cfg = cfg
	}
}

func WithLogger(logger *slog.Logger) option {
	return func(app *App) {
		app.logger = logger
	}
}

func NewApp(opts ...option) (*App, error) {
	var err error

	app := &App{
		stopSig: make(chan os.Signal, 2),
		Done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.cfg == nil {
		cfg, err := config.NewConfig()
		if err != nil {
			return nil, err
		}
		app.cfg = cfg
	}

	if app.logger == nil {
		app.logger, err = newLogger(app.cfg.LogLevel)
		if err != nil {
			return nil, err
		}
	}
	slog.SetDefault(app.logger)

	app.repo, err = repository.NewRepository(nil, &app.cfg.PostgresConfig)
	if err != nil {
		return nil, err
	}

	taskService, err := oracle.NewClient(app.cfg.TaskServiceURL, app.cfg.OracleTimeout, oracle.WithLogger(app.logger))
	if err != nil {
		app.repo.Close()
		return nil, fmt.Errorf("app.NewApp: %w", err)
	}

	serviceOpts := []service.Option{service.WithLogger(app.logger)}
	scannerOpts := []scanner.Option{
		scanner.WithInterval(app.cfg.ScanInterval),
		scanner.WithWorkers(app.cfg.ScanWorkers),
		scanner.WithStatusTimeout(app.cfg.OracleTimeout),
		scanner.WithLogger(app.logger),
	}

	if app.cfg.RedisConfig.Enabled() {
		app.redisClient = goredis.NewClient(&goredis.Options{
			Addr:     app.cfg.RedisConfig.Addr,
			Password: app.cfg.RedisConfig.Password,
			DB:       app.cfg.RedisConfig.DB,
		})

		app.publisher, err = redis.NewEventPublisher(app.redisClient, app.cfg.EventStream, redis.WithPublisherLogger(app.logger))
		if err != nil {
			app.closeStores()
			return nil, fmt.Errorf("app.NewApp: %w", err)
		}
		serviceOpts = append(serviceOpts, service.WithPublisher(app.publisher))

		lock, err := redis.NewScanLock(app.redisClient, app.cfg.ScanLockKey, app.cfg.ScanLockExpiry)
		if err != nil {
			app.closeStores()
			return nil, fmt.Errorf("app.NewApp: %w", err)
		}
		scannerOpts = append(scannerOpts, scanner.WithLock(lock))
	}

	app.service = service.NewService(app.repo, taskService, &app.cfg.BiddingConfig, serviceOpts...)
	app.scanner = scanner.New(app.repo, taskService, app.service, scannerOpts...)

	ctrlOpts := []controller.Option{controller.WithLogger(app.logger)}
	if app.cfg.AutoResolutionEnabled {
		ctrlOpts = append(ctrlOpts, controller.WithScanRunner(app.scanner))
	}
	app.controller = controller.NewController(app.service, ctrlOpts...)

	return app, nil
}

func (app *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		signal.Notify(app.stopSig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		sig := <-app.stopSig
		app.logger.Info("received signal", slog.String("signal", sig.String()))
		cancel()
	}()

	server := http.Server{
		Addr:         app.cfg.ServerAddress,
		Handler:      router.NewRouter(app.controller, app.logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			app.logger.Error("http server error", slog.Any("error", err))
		}
	}()

	if app.publisher != nil {
		app.publisher.Start()
	}
	if app.cfg.AutoResolutionEnabled {
		app.scanner.Start()
	} else {
		app.logger.Info("automatic resolution disabled")
	}

	app.logger.Info("server started, listening for connections", slog.String("address", app.cfg.ServerAddress))
	<-ctx.Done()

	timeout, tcancel := context.WithTimeout(context.Background(), time.Second*10)
	defer tcancel()
	app.logger.Info("shutting down http server")
	server.Shutdown(timeout)

	app.logger.Info("stopping deadline scanner")
	app.scanner.Close()

	if app.publisher != nil {
		app.logger.Info("flushing resolution events")
		app.publisher.Close()
	}

	app.closeStores()

	close(app.Done)
	app.logger.Info("exiting app")
}

func (app *App) closeStores() {
	app.logger.Info("closing repository")
	if err := app.repo.Close(); err != nil {
		app.logger.Error("repository closing error", slog.Any("error", err))
	}

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("redis client closing error", slog.Any("error", err))
		}
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("app.newLogger: invalid LOG_LEVEL %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
}
