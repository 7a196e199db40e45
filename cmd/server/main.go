package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/koopa0/system-design/14-rps-arena/internal"
	"github.com/koopa0/system-design/14-rps-arena/internal/migrations"
	"github.com/koopa0/system-design/14-rps-arena/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "config.yaml", "配置檔案路徑")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)，覆蓋配置檔")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)，覆蓋配置檔")
	)
	flag.Parse()

	// .env 不存在時忽略
	_ = godotenv.Load()

	// 載入配置
	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		config.Log.Level = *logLevel
	}
	if *logFormat != "" {
		config.Log.Format = *logFormat
	}

	// 設置日誌
	log := logger.New(os.Stdout, config.Log.Level, config.Log.Format)
	slog.SetDefault(log)

	if err := run(config, log); err != nil {
		log.Error("服務器異常結束", "error", err)
		os.Exit(1)
	}
}

func run(config *internal.Config, log *slog.Logger) error {
	ctx := context.Background()

	// 持久化：有設定資料庫用 PostgreSQL，否則用記憶體
	var store internal.Store
	if config.PostgresEnabled() {
		pool, err := connectPostgres(ctx, config, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = internal.NewPostgresStore(pool, log)
	} else {
		log.Warn("未設定資料庫，使用記憶體 store（重啟後戰績會遺失）")
		store = internal.NewMemoryStore()
	}

	// 排行榜：可選
	var leaderboard internal.Leaderboard
	if config.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			PoolSize: config.Redis.PoolSize,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("連接 Redis 失敗，停用排行榜", "addr", config.Redis.Addr, "error", err)
			_ = redisClient.Close()
		} else {
			defer redisClient.Close()
			leaderboard = internal.NewRedisLeaderboard(redisClient)
			log.Info("排行榜已啟用", "addr", config.Redis.Addr)
		}
	}

	// 對局事件發布：可選
	var publisher internal.MatchPublisher
	if config.NATS.URL != "" {
		natsPublisher, err := internal.NewNATSPublisher(config.NATS.URL)
		if err != nil {
			log.Warn("連接 NATS 失敗，停用對局事件發布", "url", config.NATS.URL, "error", err)
		} else {
			defer natsPublisher.Close()
			publisher = natsPublisher
			log.Info("對局事件發布已啟用", "subject", internal.MatchCompletedSubject)
		}
	}

	// 核心元件
	manager := internal.NewManager(config.ManagerConfig(), log)
	recorder := internal.NewRecorder(store, leaderboard, publisher, config.Game.RecorderBuffer, log)
	hub := internal.NewWebSocketHub(config.Server.AllowedOrigins, log)
	game := internal.NewGame(manager, store, recorder, hub, config.GameConfig(), log)
	hub.SetDispatcher(game)

	handler := internal.NewHandler(manager, store, leaderboard, hub, config.Server.AllowedOrigins, log)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	// 啟動服務器
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("猜拳對戰服務器啟動",
			"port", config.Server.Port,
			"round_timeout", config.Game.RoundTimeout,
			"room_ttl", config.Game.RoomTTL)
		serverErrors <- server.ListenAndServe()
	}()

	// 等待中斷信號
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("收到關閉信號，開始優雅關閉...", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
		if closeErr := server.Close(); closeErr != nil {
			log.Error("強制關閉服務器失敗", "error", closeErr)
		}
	}

	// 先停計時器，再斷開連線，最後寫完佇列中的戰績
	manager.Stop()
	hub.Stop()
	recorder.Stop()

	log.Info("服務器已關閉")
	return nil
}

// connectPostgres 建立連線池並執行遷移
func connectPostgres(ctx context.Context, config *internal.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	dsn := config.PostgresDSN()

	pgConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = config.Postgres.MaxConns
	pgConfig.MinConns = config.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	migrator, err := migrations.New(dsn, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			log.Warn("關閉遷移管理器失敗", "error", err)
		}
	}()

	if err := migrator.Up(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Info("已連接 PostgreSQL")
	return pool, nil
}
