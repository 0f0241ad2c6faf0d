package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paper-trading-engine/config"
	"paper-trading-engine/internal/api"
	"paper-trading-engine/internal/auth"
	"paper-trading-engine/internal/autopilot"
	"paper-trading-engine/internal/bandit"
	"paper-trading-engine/internal/database"
	"paper-trading-engine/internal/events"
	"paper-trading-engine/internal/goal"
	"paper-trading-engine/internal/journal"
	"paper-trading-engine/internal/logging"
	"paper-trading-engine/internal/market"
	"paper-trading-engine/internal/positions"
	"paper-trading-engine/internal/risk"
	sig "paper-trading-engine/internal/signal"
	"paper-trading-engine/internal/vault"
)

func main() {
	generateConfig := flag.Bool("generate-config", false, "write a sample config.json and exit")
	hashPassword := flag.String("hash-password", "", "print a bcrypt hash for the given admin password and exit")
	flag.Parse()

	if *generateConfig {
		if err := config.GenerateSampleConfig("config.json"); err != nil {
			os.Stderr.WriteString("failed to write config.json: " + err.Error() + "\n")
			os.Exit(1)
		}
		fmt.Println("wrote config.json")
		return
	}
	if *hashPassword != "" {
		pm := auth.NewPasswordManager(auth.DefaultBcryptCost, auth.MinPasswordLength)
		if err := pm.ValidatePasswordStrength(*hashPassword); err != nil {
			os.Stderr.WriteString(err.Error() + "\n")
			os.Exit(1)
		}
		hash, err := pm.HashPassword(*hashPassword)
		if err != nil {
			os.Stderr.WriteString(err.Error() + "\n")
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.LoggingConfig)
	logger.Info().Msg("Starting paper trading engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional Postgres journal repository
	var journalRepo journal.Repository
	if cfg.DBConfig.Enabled {
		db, err := database.NewDB(cfg.DBConfig.URL, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Postgres unavailable, journal kept in memory only")
		} else {
			defer db.Close()
			if err := db.RunMigrations(ctx); err != nil {
				logger.Error().Err(err).Msg("Database migrations failed")
				os.Exit(1)
			}
			journalRepo = database.NewJournalRepository(db)
		}
	}

	// Optional Vault client for market data provider credentials
	var vaultClient *vault.Client
	if cfg.VaultConfig.Enabled {
		vaultClient, err = vault.NewClient(cfg.VaultConfig)
		if err != nil {
			logger.Warn().Err(err).Msg("Vault client unavailable, provider credentials from env only")
			vaultClient = nil
		} else if err := vaultClient.Health(ctx); err != nil {
			logger.Warn().Err(err).Msg("Vault health check failed")
		}
	}

	eventBus := events.NewEventBus()
	tradeJournal := journal.New(journalRepo, logger)
	if err := tradeJournal.LoadFromRepository(ctx); err != nil {
		logger.Warn().Err(err).Msg("Could not seed journal from database")
	}

	sources := make([]string, 0, len(sig.AllSources))
	for _, s := range sig.AllSources {
		sources = append(sources, string(s))
	}
	weightBandit := bandit.New(sources, logger)

	aggregator := sig.NewAggregator(cfg.SignalConfig, weightBandit, tradeJournal, logger)
	riskManager := risk.NewManager(cfg.RiskConfig, cfg.SignalConfig, logger)
	goalTracker := goal.NewTracker(cfg.GoalConfig, cfg.RiskConfig, tradeJournal, logger)
	positionManager := positions.NewManager(cfg.EngineConfig, cfg.FeesConfig, cfg.RiskConfig.Aggressive, logger)

	marketProvider := market.NewSimProvider(cfg.EngineConfig.Assets, 0, logger)
	feeds := sig.SnapshotFeeds(marketProvider)

	// A news API credential in Vault upgrades the sentiment feed from
	// snapshot-derived to the external provider.
	if vaultClient != nil {
		creds, err := vaultClient.GetCredentials(ctx, "news")
		switch {
		case err != nil:
			logger.Info().Msg("No news provider credentials in Vault, keeping snapshot sentiment feed")
		case creds.BaseURL == "" || creds.APIKey == "":
			logger.Warn().Msg("Incomplete news provider credentials in Vault, keeping snapshot sentiment feed")
		default:
			feeds = sig.ReplaceFeed(feeds, sig.NewNewsAPIFeed(creds.BaseURL, creds.APIKey))
			logger.Info().Str("base_url", creds.BaseURL).Msg("External news sentiment feed enabled")
		}
	}

	// Engine state snapshots live in Redis when enabled; the store
	// falls back to process memory otherwise.
	var redisClient *database.RedisStateStore
	if cfg.RedisConfig.Enabled {
		client := database.NewRedisClient(cfg.RedisConfig.Address, cfg.RedisConfig.Password, cfg.RedisConfig.DB, cfg.RedisConfig.PoolSize)
		redisClient = database.NewRedisStateStore(client, logger)
	} else {
		redisClient = database.NewRedisStateStore(nil, logger)
	}

	engine := autopilot.NewEngine(*cfg, autopilot.Deps{
		Provider:   marketProvider,
		Feeds:      feeds,
		Aggregator: aggregator,
		Risk:       riskManager,
		Goals:      goalTracker,
		Positions:  positionManager,
		Journal:    tradeJournal,
		Bandit:     weightBandit,
		Events:     eventBus,
		Store:      redisClient,
	}, logger)

	var authService *auth.Service
	if cfg.AuthConfig.Enabled {
		authService = auth.NewService(cfg.AuthConfig, logger)
	}

	server := api.NewServer(cfg.ServerConfig, api.ServerDeps{
		Engine:    engine,
		Positions: positionManager,
		Risk:      riskManager,
		Goals:     goalTracker,
		Journal:   tradeJournal,
		Bandit:    weightBandit,
		Events:    eventBus,
		Auth:      authService,
	}, logger)

	if cfg.EngineConfig.Enabled {
		if err := engine.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("Engine failed to start")
			os.Exit(1)
		}
	} else {
		logger.Warn().Msg("Engine disabled by config, serving API only")
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-quit:
		logger.Info().Str("signal", s.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
	}

	shutdownTimeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	engine.Stop(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown error")
	}

	logger.Info().Msg("Paper trading engine stopped cleanly")
}
