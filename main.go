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
	apirest "github.com/kasuganosora/rmmvregion/api/rest"
	"github.com/kasuganosora/rmmvregion/api/sse"
	"github.com/kasuganosora/rmmvregion/audit"
	"github.com/kasuganosora/rmmvregion/cache"
	"github.com/kasuganosora/rmmvregion/config"
	dbadapter "github.com/kasuganosora/rmmvregion/db"
	"github.com/kasuganosora/rmmvregion/game/interp"
	"github.com/kasuganosora/rmmvregion/game/script"
	"github.com/kasuganosora/rmmvregion/game/world"
	mw "github.com/kasuganosora/rmmvregion/middleware"
	"github.com/kasuganosora/rmmvregion/model"
	"github.com/kasuganosora/rmmvregion/plugin/hook"
	"github.com/kasuganosora/rmmvregion/resource"
	"github.com/kasuganosora/rmmvregion/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	hashKey := flag.String("hash-key", "", "print the bcrypt hash of an admin key and exit")
	flag.Parse()

	if *hashKey != "" {
		h, err := mw.HashAdminKey(*hashKey)
		if err != nil {
			log.Fatalf("hash: %v", err)
		}
		fmt.Println(h)
		return
	}

	cfgPath := "config/config.yaml"
	if flag.NArg() > 0 {
		cfgPath = flag.Arg(0)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if the token endpoint will be disabled.
	if cfg.Security.AdminKeyHash == "" {
		logger.Warn("security.admin_key_hash is not set; /api/auth/token is disabled")
	}
	if cfg.Security.JWTSecret == "" {
		logger.Fatal("security.jwt_secret must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	defer c.Close()
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		logger.Fatal("pubsub", zap.Error(err))
	}
	defer pubsub.Close()
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- RMMV Resource Loader ----
	res := resource.NewLoader(cfg.RPGMaker.DataPath)
	res.Logger = logger
	if err := res.Load(); err != nil {
		logger.Fatal("resource load", zap.String("path", cfg.RPGMaker.DataPath), zap.Error(err))
	}
	logger.Info("RMMV resources loaded",
		zap.Int("maps", len(res.Maps)),
		zap.Int("common_events", len(res.CommonEvents)),
		zap.Bool("region_plugin", res.RegionPluginActive))

	// plugins.js wins over the config fallback.
	enableSwitch := cfg.Region.EnableSwitch
	if res.RegionPluginActive {
		enableSwitch = res.RegionSwitch
	}

	// ---- JS Sandbox / Hooks ----
	sandbox := script.NewSandbox(cfg.Script.VMPoolSize, cfg.Script.Timeout, logger)
	hooks := hook.NewHookCenter()
	hooks.Register(hook.OnPluginCommand, 100, "log", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		if pc, ok := data.(*interp.PluginCommand); ok {
			logger.Info("plugin command",
				zap.Int("map_id", pc.MapID),
				zap.Int("event_id", pc.EventID),
				zap.String("command", pc.Command),
				zap.Strings("args", pc.Args))
		}
		return data, nil
	})

	// ---- Game State / World ----
	gameState := world.NewGameState(db, logger)
	if err := gameState.LoadFromDB(ctx); err != nil {
		logger.Warn("failed to load game state from DB", zap.Error(err))
	} else {
		logger.Info("game state loaded from DB")
	}

	wm := world.NewWorldManager(res, gameState, world.RoomOptions{
		TickInterval: cfg.Game.TickInterval(),
		EnableSwitch: enableSwitch,
		StepBudget:   cfg.Game.StepBudget,
		Hooks:        hooks,
		Sandbox:      sandbox,
	}, logger)

	// ---- Audit ----
	auditSvc := audit.New(db, c, pubsub, audit.Options{
		FlushInterval: time.Duration(cfg.Region.AuditFlushS) * time.Second,
		LogSize:       cfg.Region.LogSize,
	}, logger)
	wm.AddObserver(auditSvc.Observe)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	saveEvery := time.Duration(cfg.Game.SaveIntervalS) * time.Second
	if saveEvery <= 0 {
		saveEvery = 5 * time.Second
	}
	sched.AddTicker("state_flush", saveEvery, gameState.Flush)
	sched.AddTicker("room_report", time.Minute, func(ctx context.Context) error {
		total, err := auditSvc.Total(ctx)
		if err != nil {
			return err
		}
		logger.Info("room report",
			zap.Ints("open_maps", wm.Rooms()),
			zap.Int64("firings_total", total),
			zap.Uint64("firings_dropped", auditSvc.Dropped()))
		return nil
	})

	for _, mapID := range cfg.Game.AutoOpenMaps {
		if _, err := wm.GetOrCreate(ctx, mapID); err != nil {
			logger.Warn("auto open map failed", zap.Int("map_id", mapID), zap.Error(err))
			continue
		}
		logger.Info("map opened", zap.Int("map_id", mapID))
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(ctx, rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	apirest.Register(r, apirest.Deps{
		Cache:     c,
		Security:  cfg.Security,
		World:     wm,
		Audit:     auditSvc,
		Scheduler: sched,
		Logger:    logger,
		Stream:    sseH.ServeSSE,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// Rooms first so their last firings reach the audit queue, then the
	// final state flush.
	wm.StopAll()
	sched.Stop()
	auditSvc.Stop(shutdownCtx)
	if err := gameState.Flush(shutdownCtx); err != nil {
		logger.Error("final state flush", zap.Error(err))
	}
}
