package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
//
// Postgres、Redis、NATS 都是可選的：沒有設定時分別退回記憶體 store、
// 停用排行榜、停用對局事件發布，對局本身照常進行。
type Config struct {
	Server struct {
		Port           int           `yaml:"port"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		IdleTimeout    time.Duration `yaml:"idle_timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"server"`

	Postgres struct {
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Game struct {
		RoundTimeout   time.Duration `yaml:"round_timeout"`   // 每回合出拳時限
		Intermission   time.Duration `yaml:"intermission"`    // 回合結果展示時間
		RoomTTL        time.Duration `yaml:"room_ttl"`        // 房間最長存活時間
		SweepInterval  time.Duration `yaml:"sweep_interval"`  // 過期掃描間隔
		RecorderBuffer int           `yaml:"recorder_buffer"` // 戰績寫入佇列長度
	} `yaml:"game"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	var c Config
	c.Server.Port = 5000
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.IdleTimeout = 60 * time.Second

	c.Postgres.Port = 5432
	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 2

	c.Redis.PoolSize = 10

	c.Game.RoundTimeout = 4 * time.Second
	c.Game.Intermission = 2 * time.Second
	c.Game.RoomTTL = time.Hour
	c.Game.SweepInterval = 10 * time.Minute
	c.Game.RecorderBuffer = 64

	c.Log.Level = "info"
	c.Log.Format = "text"
	return &c
}

// LoadConfig 載入配置檔案，再套用環境變數覆蓋
//
// 檔案不存在不算錯誤，直接使用預設值。
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv 環境變數覆蓋（部署環境常用）
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, origin)
			}
		}
	}
	return nil
}

// PostgresEnabled 是否設定了資料庫
func (c *Config) PostgresEnabled() bool {
	return c.Postgres.DSN != "" || c.Postgres.Host != ""
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	if c.Postgres.DSN != "" {
		return c.Postgres.DSN
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
	)
}

// ManagerConfig 轉成房間管理器配置
func (c *Config) ManagerConfig() ManagerConfig {
	return ManagerConfig{
		RoomTTL:       c.Game.RoomTTL,
		SweepInterval: c.Game.SweepInterval,
	}
}

// GameConfig 轉成對局節奏配置
func (c *Config) GameConfig() GameConfig {
	return GameConfig{
		RoundTimeout: c.Game.RoundTimeout,
		Intermission: c.Game.Intermission,
	}
}
