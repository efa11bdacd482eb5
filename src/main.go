package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/weatherapi/src/config"
	"github.com/apimgr/weatherapi/src/database"
	"github.com/apimgr/weatherapi/src/scheduler"
	"github.com/apimgr/weatherapi/src/server"
	"github.com/apimgr/weatherapi/src/server/auth"
	"github.com/apimgr/weatherapi/src/server/blacklist"
	"github.com/apimgr/weatherapi/src/server/metrics"
	models "github.com/apimgr/weatherapi/src/server/model"
	services "github.com/apimgr/weatherapi/src/server/service"
	"github.com/apimgr/weatherapi/src/server/token"
	"github.com/apimgr/weatherapi/src/utils"
)

func main() {
	configPath := flag.String("config", "", "path to server.yml (default: search ./server.yml, ../server.yml, /etc/weatherapi/server.yml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	healthcheck := flag.Bool("healthcheck", false, "probe /healthz on the configured port and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(GetVersionString())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *healthcheck {
		os.Exit(probeHealth(cfg))
	}

	if err := run(cfg); err != nil {
		log.Fatalf("%v", err)
	}
}

// probeHealth is the Docker HEALTHCHECK entry point
func probeHealth(cfg *config.Config) int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port))
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func run(cfg *config.Config) error {
	debug := cfg.Logging.Debug || cfg.IsDevelopment()
	logger, err := utils.NewLogger(cfg.Logging.Dir, debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Starting %s (mode: %s)", GetVersionString(), config.DetectMode(cfg.Mode))
	if cfg.Path() != "" {
		logger.Info("Configuration loaded from %s", cfg.Path())
	}

	ctx := context.Background()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("Database ready (driver: %s)", db.Driver)

	store, closeStore, err := openBlacklist(ctx, cfg.Blacklist, db)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("Token blacklist backend: %s", cfg.Blacklist.Backend)

	codec, err := token.NewCodec(token.Config{
		Secret:      []byte(cfg.Auth.Secret),
		Algorithm:   cfg.Auth.Algorithm,
		Issuer:      cfg.Auth.Issuer,
		SessionTTL:  cfg.Auth.SessionTTL,
		TransferTTL: cfg.Auth.TransferTTL,
	})
	if err != nil {
		return err
	}
	gate := auth.NewGate(codec, store)

	if cfg.Weather.APIKey == "" {
		logger.Warn("No OpenWeatherMap key configured (weather.api_key or OPEN_WEATHER_KEY); weather endpoints will fail")
	}
	weather := services.NewWeatherService(cfg.Weather, logger)
	charts := services.NewChartService(weather, cfg.Server.StatsDir, logger)
	accounts := services.NewAccountService(
		&models.UserModel{DB: db},
		&models.ItemModel{DB: db},
		gate,
		cfg.Server.BackendURL,
		logger,
	)

	metrics.Init(Version, CommitID, BuildDate)

	taskScheduler := scheduler.NewScheduler(db, logger)
	if err := taskScheduler.RegisterDefaultTasks(cfg.Scheduler, charts, store, logger); err != nil {
		return err
	}
	taskScheduler.Start()

	var watcher *config.ConfigWatcher
	if cfg.Path() != "" {
		watcher, err = config.NewConfigWatcher(cfg.Path(), logger, func(newCfg *config.Config) error {
			weather.SetAPIKey(newCfg.Weather.APIKey)
			return nil
		})
		if err == nil {
			err = watcher.Start()
		}
		if err != nil {
			logger.Warn("Config live reload disabled: %v", err)
			watcher = nil
		}
	}

	router := server.NewRouter(server.Deps{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Gate:     gate,
		Accounts: accounts,
		Weather:  weather,
		Charts:   charts,
		Tasks:    taskScheduler,
		Version:  Version,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	utils.PrintBanner(os.Stdout, utils.BannerInfo{
		Version:   Version,
		BuildDate: BuildDate,
		Address:   srv.Addr,
		Database:  db.Driver,
		Blacklist: cfg.Blacklist.Backend,
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, append([]os.Signal{syscall.SIGTERM, syscall.SIGINT}, platformSignals...)...)
	defer signal.Stop(sigChan)

	for {
		select {
		case err, ok := <-serveErr:
			if !ok {
				serveErr = nil
				continue
			}
			taskScheduler.Stop()
			return fmt.Errorf("server failed: %w", err)
		case sig := <-sigChan:
			if handlePlatformSignal(sig, taskScheduler, logger) {
				continue
			}
			logger.Info("Received %s, shutting down gracefully...", sig)

			taskScheduler.Stop()
			if watcher != nil {
				if err := watcher.Stop(); err != nil {
					logger.Warn("Config watcher shutdown error: %v", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server forced to shutdown: %v", err)
			}

			logger.Info("Server exited gracefully")
			return nil
		}
	}
}

// openBlacklist selects the revoked token backend
func openBlacklist(ctx context.Context, cfg config.BlacklistConfig, db *database.DB) (blacklist.Store, func(), error) {
	if cfg.Backend != "redis" {
		return blacklist.NewSQLStore(db), func() {}, nil
	}

	store, err := blacklist.NewRedisStoreFromURL(ctx, cfg.RedisURL, cfg.Prefix)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}
