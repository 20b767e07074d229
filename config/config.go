package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	RPGMaker RPGMakerConfig `mapstructure:"rpgmaker"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Game     GameConfig     `mapstructure:"game"`
	Region   RegionConfig   `mapstructure:"region"`
	Security SecurityConfig `mapstructure:"security"`
	Script   ScriptConfig   `mapstructure:"script"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
}

type RPGMakerConfig struct {
	// DataPath is the RMMV www/data directory; plugins.js is read from ../js.
	DataPath string `mapstructure:"data_path"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type GameConfig struct {
	MapTickMs     int   `mapstructure:"map_tick_ms"`
	SaveIntervalS int   `mapstructure:"save_interval_s"`
	StepBudget    int   `mapstructure:"step_budget"`
	AutoOpenMaps  []int `mapstructure:"auto_open_maps"`
}

// TickInterval returns the room tick period.
func (g GameConfig) TickInterval() time.Duration {
	if g.MapTickMs <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(g.MapTickMs) * time.Millisecond
}

type RegionConfig struct {
	// EnableSwitch gates region common events when plugins.js does not set
	// switchNumber. 0 disables the gate.
	EnableSwitch int `mapstructure:"enable_switch"`
	// AuditFlushS is the interval at which firing records are written.
	AuditFlushS int `mapstructure:"audit_flush_s"`
	// LogSize is the number of recent firings kept per map for the API.
	LogSize int `mapstructure:"log_size"`
}

type SecurityConfig struct {
	// AdminKeyHash is a bcrypt hash of the key accepted by /api/auth/token.
	AdminKeyHash   string        `mapstructure:"admin_key_hash"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedIPs restricts the authenticated API. Empty allows every address.
	AllowedIPs []string `mapstructure:"allowed_ips"`
}

type ScriptConfig struct {
	VMPoolSize int           `mapstructure:"vm_pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("rpgmaker.data_path", "./www/data")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/region.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("game.map_tick_ms", 50)
	v.SetDefault("game.save_interval_s", 5)
	v.SetDefault("game.step_budget", 1000)
	v.SetDefault("region.enable_switch", 15)
	v.SetDefault("region.audit_flush_s", 2)
	v.SetDefault("region.log_size", 100)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("script.vm_pool_size", 8)
	v.SetDefault("script.timeout", "5s")
}

// Load reads config from the given YAML file path. Every key can be
// overridden from the environment as RMMV_<SECTION>_<KEY>.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RMMV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if cfg.Region.EnableSwitch < 0 {
		return nil, fmt.Errorf("config: region.enable_switch must be >= 0, got %d", cfg.Region.EnableSwitch)
	}
	return cfg, nil
}
