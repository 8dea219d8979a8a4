package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL     string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBConnMaxLife   time.Duration
	TestDatabaseURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Ingest
	SourcesFile         string
	ScrapeFloor         time.Time
	UnitTimeout         time.Duration
	FetchTimeout        time.Duration
	FetchMaxSize        int64
	FetchRatePerSecond  float64
	FetchMaxRetries     int
	IngestMaxConcurrent int

	// Classifier
	Classifier string
	ModelPath  string

	// Worker
	WorkerInterval time.Duration
	OpsPort        string

	// Mail
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	MailFrom          string
	MailFromName      string
	MailSubjectPrefix string
	MailLogoPath      string
	MailHeaderPath    string
	MailMaxRetries    int

	// Subscription
	DefaultFrequencyDays int
}

// defaultScrapeFloor は一度も取得していないパブリッシャーの取得開始時刻。
var defaultScrapeFloor = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// LoadDotEnv は.envファイルを環境変数に読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLife = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.TestDatabaseURL = getEnvString("TEST_DATABASE_URL", "")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getEnvString("LOG_FORMAT", "json"))

	cfg.SourcesFile = getEnvString("SOURCES_FILE", "sources.yaml")
	cfg.ScrapeFloor = getEnvTime("SCRAPE_FLOOR", defaultScrapeFloor)
	cfg.UnitTimeout = getEnvDuration("UNIT_TIMEOUT", 60*time.Second)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchRatePerSecond = getEnvFloat("FETCH_RATE_PER_SECOND", 1)
	cfg.FetchMaxRetries = getEnvInt("FETCH_MAX_RETRIES", 2)
	cfg.IngestMaxConcurrent = getEnvInt("INGEST_MAX_CONCURRENT", 1)

	cfg.Classifier = strings.ToLower(getEnvString("CLASSIFIER", "keyword"))
	cfg.ModelPath = getEnvString("MODEL_PATH", "data/classifier.json")

	cfg.WorkerInterval = getEnvDuration("WORKER_INTERVAL", time.Hour)
	cfg.OpsPort = getEnvString("OPS_PORT", "9090")

	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "no-reply@onesearch.blog")
	cfg.MailFromName = getEnvString("MAIL_FROM_NAME", "Engineering Blog Alerts")
	cfg.MailSubjectPrefix = getEnvString("MAIL_SUBJECT_PREFIX", "OneSearch Digest")
	cfg.MailLogoPath = getEnvString("MAIL_LOGO_PATH", "")
	cfg.MailHeaderPath = getEnvString("MAIL_HEADER_PATH", "")
	cfg.MailMaxRetries = getEnvInt("MAIL_MAX_RETRIES", 1)

	cfg.DefaultFrequencyDays = getEnvInt("DEFAULT_FREQUENCY_DAYS", 3)

	return cfg, nil
}

// MailEnabled はSMTP送信が設定済みかを返す。
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvTime はRFC3339形式の時刻を読み込む。
func getEnvTime(key string, defaultVal time.Time) time.Time {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	tm, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return defaultVal
	}
	return tm.UTC()
}
