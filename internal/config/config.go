package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Mode selects which side of the room protocol the process runs.
type Mode string

const (
	ModeServe Mode = "serve"
	ModePlay  Mode = "play"
)

type AppConfig struct {
	ListenAddr string        `env:"ROOM_LISTEN_ADDR" envDefault:":8080"`
	ServerURL  string        `env:"ROOM_SERVER_URL"`
	Offline    bool          `env:"ROOM_OFFLINE" envDefault:"false"`
	RoomTTL    time.Duration `env:"ROOM_TTL" envDefault:"24h"`

	DisplayName string `env:"DISPLAY_NAME"`

	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	ArchiveSQLitePath string `env:"ARCHIVE_SQLITE_PATH"`
	ArchiveCloudURL   string `env:"ARCHIVE_CLOUD_URL"`
	ArchiveCloudToken string `env:"ARCHIVE_CLOUD_TOKEN"`

	StockfishPath    string `env:"STOCKFISH_PATH"`
	AnalysisBudgetMS int    `env:"ANALYSIS_BUDGET_MS" envDefault:"240"`
	AnalysisSkill    int    `env:"ANALYSIS_SKILL" envDefault:"20"`
	AnalysisPoolSize int    `env:"ANALYSIS_POOL_SIZE" envDefault:"0"`

	WSMaxReconnect   int           `env:"WS_MAX_RECONNECT" envDefault:"5"`
	WSReconnectDelay time.Duration `env:"WS_RECONNECT_DELAY" envDefault:"1s"`

	MsgcatDir string `env:"MSGCAT_DIR"`

	AllowedOrigins []string `env:"ROOM_ALLOWED_ORIGINS" envSeparator:","`
}

// Load reads AppConfig from the environment and validates it for mode.
func Load(mode Mode) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(mode); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	c.ServerURL = strings.TrimSpace(c.ServerURL)
	c.DisplayName = strings.TrimSpace(c.DisplayName)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.ArchiveSQLitePath = strings.TrimSpace(c.ArchiveSQLitePath)
	c.ArchiveCloudURL = strings.TrimSpace(c.ArchiveCloudURL)
	c.StockfishPath = strings.TrimSpace(c.StockfishPath)

	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	c.AllowedOrigins = origins

	if c.AnalysisBudgetMS <= 0 {
		c.AnalysisBudgetMS = 240
	}
	if c.AnalysisSkill < 0 || c.AnalysisSkill > 20 {
		c.AnalysisSkill = 20
	}
	if c.RoomTTL <= 0 {
		c.RoomTTL = 24 * time.Hour
	}
}

func (c *AppConfig) validate(mode Mode) error {
	switch mode {
	case ModeServe:
		if c.ListenAddr == "" {
			return errors.New("ROOM_LISTEN_ADDR is required")
		}
	case ModePlay:
		if !c.Offline && c.ServerURL == "" {
			return errors.New("ROOM_SERVER_URL is required unless ROOM_OFFLINE=true")
		}
		if c.ServerURL != "" && !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
			return errors.New("ROOM_SERVER_URL must be a ws:// or wss:// URL")
		}
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
	return nil
}
