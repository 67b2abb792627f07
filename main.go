package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/dduho/trading-bot/config"
	"github.com/dduho/trading-bot/internal/analyzer"
	"github.com/dduho/trading-bot/internal/api"
	"github.com/dduho/trading-bot/internal/auth"
	"github.com/dduho/trading-bot/internal/bot"
	"github.com/dduho/trading-bot/internal/confidence"
	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/events"
	"github.com/dduho/trading-bot/internal/executor"
	"github.com/dduho/trading-bot/internal/learning"
	"github.com/dduho/trading-bot/internal/logging"
	"github.com/dduho/trading-bot/internal/market"
	"github.com/dduho/trading-bot/internal/ml"
	"github.com/dduho/trading-bot/internal/notification"
	"github.com/dduho/trading-bot/internal/risk"
	"github.com/dduho/trading-bot/internal/rotation"
	"github.com/dduho/trading-bot/internal/strategy"
	"github.com/dduho/trading-bot/internal/vault"
	"github.com/dduho/trading-bot/internal/watchdog"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Fatal error", "error", err.Error())
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx := context.Background()

	// Vault-stored secrets override file and environment values.
	if cfg.VaultConfig.Enabled {
		vaultClient, err := vault.NewClient(cfg.VaultConfig, logger)
		if err != nil {
			return fmt.Errorf("vault client: %w", err)
		}
		if err := vaultClient.Health(ctx); err != nil {
			logger.Warn("Vault health check failed, continuing without overrides", "error", err.Error())
		} else {
			vaultClient.ApplyOverrides(ctx, cfg)
			logger.Info("Vault secret overrides applied")
		}
	}

	bus := events.NewEventBus()

	db, err := database.NewDB(ctx, database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	repo := database.NewRepository(db)

	params, err := strategy.NewStore(strategy.DefaultParams(
		cfg.StrategyConfig.MinConfidence, cfg.StrategyConfig.Weights), logger)
	if err != nil {
		return fmt.Errorf("strategy params: %w", err)
	}

	enhancer := ml.NewEnhancer(cfg.MLConfig.BlendMaxWeight, logger)
	if artifact, err := ml.LoadLatestArtifact(cfg.MLConfig.ModelDir); err != nil {
		logger.Info("No trained model found, starting with base confidence only")
	} else {
		enhancer.SetModel(artifact)
		logger.Info("Loaded trained model",
			"version", artifact.Version, "cv_accuracy", artifact.Metrics.CVAccuracy)
	}

	gate := risk.NewGatekeeper(cfg.RiskConfig, cfg.TradingConfig.Mode, logger)

	var persister *risk.StatePersister
	if cfg.RedisConfig.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, daily counters will not survive restarts", "error", err.Error())
		} else {
			persister = risk.NewStatePersister(redisClient, logger)
			logger.Info("Redis state persistence enabled", "addr", cfg.RedisConfig.Addr)
		}
	}

	// Candles come from the simulated feed; live exchange connectivity
	// plugs in behind the same provider interface.
	provider := market.NewSimulatedProvider(time.Now().UnixNano())

	exec := executor.New(repo, bus, cfg, logger)
	generator := strategy.NewGenerator(params, logger)

	an := analyzer.New(repo, logger)
	optimizer := ml.NewOptimizer(cfg.MLConfig.MinTrainingSamples,
		cfg.MLConfig.TrainingEpochs, cfg.MLConfig.LearningRate, logger)
	learner := learning.NewEngine(repo, an, optimizer, enhancer, params, bus, learning.Options{
		ModelDir:       cfg.MLConfig.ModelDir,
		Interval:       cfg.LearningInterval(),
		MinTrades:      cfg.LearningConfig.MinTradesForLearning,
		Aggressiveness: learning.Aggressiveness(cfg.LearningConfig.Aggressiveness),
		AutoApply:      cfg.LearningConfig.AutoApply,
	}, logger)
	if !cfg.LearningConfig.Enabled {
		learner.Disable()
	}

	confManager := confidence.NewManager(repo, params, logger)
	rotator := rotation.New(cfg.TradingConfig.Symbols, cfg.RotationConfig.SymbolPool,
		cfg.RotationConfig.MaxSymbols, cfg.RotationConfig.MinSymbols, repo, bus, logger)
	dog := watchdog.New(repo, exec, gate, params, bus, logger)

	if cfg.NotificationConfig.Enabled {
		notifier := notification.NewManager(logger)
		if cfg.NotificationConfig.Telegram.Enabled {
			notifier.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
				BotToken: cfg.NotificationConfig.Telegram.BotToken,
				ChatID:   cfg.NotificationConfig.Telegram.ChatID,
				Enabled:  true,
			}))
		}
		if cfg.NotificationConfig.Discord.Enabled {
			notifier.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
				WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
				Enabled:    true,
			}))
		}
		notifier.BindBus(bus)
		logger.Info("Notifications enabled")
	}

	tradingBot := bot.New(cfg, bot.Deps{
		Provider:   provider,
		Generator:  generator,
		Enhancer:   enhancer,
		Gate:       gate,
		Executor:   exec,
		Source:     repo,
		Params:     params,
		Confidence: confManager,
		Rotator:    rotator,
		Learner:    learner,
		Watchdog:   dog,
		Persister:  persister,
		Bus:        bus,
	}, logger)

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		var authSvc *auth.Service
		if cfg.AuthConfig.Enabled {
			authSvc = auth.NewService(cfg.AuthConfig, logger)
		}
		server = api.NewServer(cfg.ServerConfig, repo, bus, tradingBot, params, authSvc, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Fatal("HTTP server failed", "error", err.Error())
			}
		}()
	}

	if err := tradingBot.Start(ctx); err != nil {
		return fmt.Errorf("bot start: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tradingBot.Stop(shutdownCtx)
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err.Error())
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
