package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Cash session policies
const (
	CashPolicyRequireOpen = "require_open"
	CashPolicyAutoOpen    = "auto_open"
)

type Config struct {
	Port     string
	GinMode  string
	LogMode  string
	Timezone string

	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	DBMaxIdleConns int
	DBMaxOpenConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	CORSOrigins []string

	TaxRate           decimal.Decimal
	CashSessionPolicy string

	ReconcileSchedule    string
	StaleSessionSchedule string
}

// Load reads configs/.env (if present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("LOG_MODE", "debug")
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "postgres")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_MAX_OPEN_CONNS", 50)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL_SECONDS", 30)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")
	v.SetDefault("TAX_RATE", "0.21")
	v.SetDefault("CASH_SESSION_POLICY", CashPolicyRequireOpen)
	v.SetDefault("RECONCILE_SCHEDULE", "0 3 * * *")
	v.SetDefault("STALE_SESSION_SCHEDULE", "5 0 * * *")
	return v
}

// FromViper builds a validated Config from an already populated viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	taxRate, err := decimal.NewFromString(v.GetString("TAX_RATE"))
	if err != nil || taxRate.IsNegative() {
		return Config{}, fmt.Errorf("invalid TAX_RATE %q", v.GetString("TAX_RATE"))
	}

	policy := strings.ToLower(strings.TrimSpace(v.GetString("CASH_SESSION_POLICY")))
	if policy != CashPolicyRequireOpen && policy != CashPolicyAutoOpen {
		return Config{}, fmt.Errorf("invalid CASH_SESSION_POLICY %q", policy)
	}

	ttl := v.GetInt("CACHE_TTL_SECONDS")
	if ttl < 1 {
		ttl = 30
	}

	var origins []string
	for _, o := range strings.Split(v.GetString("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		Port:                 v.GetString("PORT"),
		GinMode:              v.GetString("GIN_MODE"),
		LogMode:              v.GetString("LOG_MODE"),
		Timezone:             v.GetString("TIMEZONE"),
		DBHost:               v.GetString("DB_HOST"),
		DBPort:               v.GetString("DB_PORT"),
		DBUser:               v.GetString("DB_USER"),
		DBPassword:           v.GetString("DB_PASSWORD"),
		DBName:               v.GetString("DB_NAME"),
		DBSSLMode:            v.GetString("DB_SSLMODE"),
		DBMaxIdleConns:       v.GetInt("DB_MAX_IDLE_CONNS"),
		DBMaxOpenConns:       v.GetInt("DB_MAX_OPEN_CONNS"),
		RedisAddr:            v.GetString("REDIS_ADDR"),
		RedisPassword:        v.GetString("REDIS_PASSWORD"),
		RedisDB:              v.GetInt("REDIS_DB"),
		CacheTTL:             time.Duration(ttl) * time.Second,
		CORSOrigins:          origins,
		TaxRate:              taxRate,
		CashSessionPolicy:    policy,
		ReconcileSchedule:    v.GetString("RECONCILE_SCHEDULE"),
		StaleSessionSchedule: v.GetString("STALE_SESSION_SCHEDULE"),
	}, nil
}

// DSN builds the postgres connection string.
func (c Config) DSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=" + c.DBSSLMode
}

// Location resolves the configured timezone used to pick the cash session day.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c Config) Address() string {
	return ":" + c.Port
}
