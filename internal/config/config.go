package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	"excisepos/backend/internal/billing"
	"excisepos/backend/internal/logger"
)

type Config struct {
	Env                   string
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	DatabaseMaxOpenConns  int
	DatabaseMaxIdleConns  int
	AutoMigrate           bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CompanyID             string
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	BillPrefix            string
	BillNumberWidth       int
	BillMaxAttempts       int
	DuplicateWindow       time.Duration
	ExciseCaps            billing.CapTable
	Location              *time.Location
	CatalogCacheTTL       time.Duration
	CartTTL               time.Duration
	Log                   logger.Config
}

// legacyEnv keeps the flat variable names of earlier deployments working
// next to the EXCISEPOS_ prefixed ones.
var legacyEnv = map[string]string{
	"http.port":           "PORT",
	"http.allowed_origin": "ALLOWED_ORIGIN",
	"database.url":        "DATABASE_URL",
	"redis.addr":          "REDIS_ADDR",
	"redis.password":      "REDIS_PASSWORD",
	"redis.db":            "REDIS_DB",
	"auth.secret":         "AUTH_SECRET",
	"auth.manager_pin":    "MANAGER_PIN",
	"company.default_id":  "DEFAULT_COMPANY_ID",
	"excise.cap_list":     "EXCISE_CAPS",
}

// Load reads config.toml from ., ./config or /etc/excisepos when present,
// then environment variables. Missing files are fine.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/excisepos")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("EXCISEPOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "EXCISEPOS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, err
		}
	}

	caps, err := exciseCaps(v)
	if err != nil {
		return Config{}, err
	}
	location, err := time.LoadLocation(v.GetString("ledger.timezone"))
	if err != nil {
		return Config{}, fmt.Errorf("ledger.timezone: %w", err)
	}

	cfg := Config{
		Env:                   v.GetString("app.env"),
		Port:                  v.GetString("http.port"),
		AllowedOrigin:         v.GetString("http.allowed_origin"),
		DatabaseURL:           strings.TrimSpace(v.GetString("database.url")),
		DatabaseMaxOpenConns:  v.GetInt("database.max_open_conns"),
		DatabaseMaxIdleConns:  v.GetInt("database.max_idle_conns"),
		AutoMigrate:           v.GetBool("database.auto_migrate"),
		RedisAddr:             strings.TrimSpace(v.GetString("redis.addr")),
		RedisPassword:         v.GetString("redis.password"),
		RedisDB:               v.GetInt("redis.db"),
		CompanyID:             v.GetString("company.default_id"),
		AuthSecret:            strings.TrimSpace(v.GetString("auth.secret")),
		AccessTokenTTLMinutes: v.GetInt("auth.token_ttl_minutes"),
		ManagerPIN:            strings.TrimSpace(v.GetString("auth.manager_pin")),
		BillPrefix:            v.GetString("billing.prefix"),
		BillNumberWidth:       v.GetInt("billing.number_width"),
		BillMaxAttempts:       v.GetInt("billing.max_attempts"),
		DuplicateWindow:       v.GetDuration("billing.duplicate_window"),
		ExciseCaps:            caps,
		Location:              location,
		CatalogCacheTTL:       v.GetDuration("catalog.cache_ttl"),
		CartTTL:               v.GetDuration("cart.ttl"),
		Log: logger.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("database.max_open_conns", 30)
	v.SetDefault("database.max_idle_conns", 8)
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("redis.db", 0)
	v.SetDefault("company.default_id", "main-store")
	v.SetDefault("auth.token_ttl_minutes", 480)
	v.SetDefault("billing.prefix", billing.DefaultPrefix)
	v.SetDefault("billing.number_width", billing.DefaultNumberWidth)
	v.SetDefault("billing.max_attempts", billing.DefaultMaxAttempts)
	v.SetDefault("billing.duplicate_window", "5s")
	v.SetDefault("excise.caps", map[string]string{"SPIRIT": "4500", "WINE": "9000", "BEER": "7800"})
	v.SetDefault("ledger.timezone", "UTC")
	v.SetDefault("catalog.cache_ttl", "5m")
	v.SetDefault("cart.ttl", "12h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
}

// exciseCaps merges the [excise.caps] table with the CATEGORY=ML list; the
// list wins for categories named in both.
func exciseCaps(v *viper.Viper) (billing.CapTable, error) {
	table, err := billing.NewCapTable(v.GetStringMapString("excise.caps"))
	if err != nil {
		return nil, fmt.Errorf("excise.caps: %w", err)
	}
	if list := strings.TrimSpace(v.GetString("excise.cap_list")); list != "" {
		overrides, err := billing.ParseCapList(list)
		if err != nil {
			return nil, fmt.Errorf("excise.cap_list: %w", err)
		}
		for category, limit := range overrides {
			table[category] = limit
		}
	}
	return table, nil
}

func (c Config) validate() error {
	if c.Port == "" {
		return errors.New("http.port is required")
	}
	if c.CompanyID == "" {
		return errors.New("company.default_id is required")
	}
	if c.AccessTokenTTLMinutes < 1 {
		return errors.New("auth.token_ttl_minutes must be positive")
	}
	if c.BillNumberWidth < 1 || c.BillNumberWidth > 18 {
		return errors.New("billing.number_width must be between 1 and 18")
	}
	if c.BillMaxAttempts < 1 {
		return errors.New("billing.max_attempts must be positive")
	}
	if strings.ContainsAny(c.BillPrefix, "0123456789") {
		return errors.New("billing.prefix must not contain digits")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}
