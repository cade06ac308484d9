package config

import (
	"errors"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env string

	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Export    ExportConfig
	S3        S3Config
	Ops       OpsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// ModeConfig carries the tunables of one named scheduling mode.
type ModeConfig struct {
	Days            int
	SlotsPerDay     int
	StaffDailyQuota int
	Deadline        time.Duration
}

// SchedulerConfig governs the exam scheduling engine and its write-back.
type SchedulerConfig struct {
	DefaultMode     string
	Fast            ModeConfig
	Thorough        ModeConfig
	Epoch           time.Time
	SlotOffsets     []time.Duration
	AffinityPenalty int
	LockKey         string
	LockTTL         time.Duration
	ReportKey       string
	ReportTTL       time.Duration
	QueueKey        string
	Workers         int
}

// ExportConfig controls timetable export rendering and storage.
type ExportConfig struct {
	StorageDir string
	Backend    string
	Title      string
}

// S3Config describes the S3-compatible export sink.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// OpsConfig controls the operational HTTP server used by the serve command.
type OpsConfig struct {
	Port int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduler = SchedulerConfig{
		DefaultMode: v.GetString("SCHEDULER_DEFAULT_MODE"),
		Fast: ModeConfig{
			Days:            v.GetInt("SCHEDULER_FAST_DAYS"),
			SlotsPerDay:     v.GetInt("SCHEDULER_FAST_SLOTS_PER_DAY"),
			StaffDailyQuota: v.GetInt("SCHEDULER_FAST_QUOTA"),
			Deadline:        parseDuration(v.GetString("SCHEDULER_FAST_DEADLINE"), 30*time.Second),
		},
		Thorough: ModeConfig{
			Days:            v.GetInt("SCHEDULER_THOROUGH_DAYS"),
			SlotsPerDay:     v.GetInt("SCHEDULER_THOROUGH_SLOTS_PER_DAY"),
			StaffDailyQuota: v.GetInt("SCHEDULER_THOROUGH_QUOTA"),
			Deadline:        parseDuration(v.GetString("SCHEDULER_THOROUGH_DEADLINE"), 5*time.Minute),
		},
		Epoch:           parseTime(v.GetString("SCHEDULER_EPOCH"), time.Date(2026, time.June, 1, 8, 30, 0, 0, time.UTC)),
		SlotOffsets:     parseOffsets(v.GetString("SCHEDULER_SLOT_OFFSETS")),
		AffinityPenalty: v.GetInt("SCHEDULER_AFFINITY_PENALTY"),
		LockKey:         v.GetString("SCHEDULER_LOCK_KEY"),
		LockTTL:         parseDuration(v.GetString("SCHEDULER_LOCK_TTL"), 10*time.Minute),
		ReportKey:       v.GetString("SCHEDULER_REPORT_KEY"),
		ReportTTL:       parseDuration(v.GetString("SCHEDULER_REPORT_TTL"), 24*time.Hour),
		QueueKey:        v.GetString("SCHEDULER_QUEUE_KEY"),
		Workers:         v.GetInt("SCHEDULER_WORKERS"),
	}

	cfg.Export = ExportConfig{
		StorageDir: v.GetString("EXPORT_STORAGE_DIR"),
		Backend:    v.GetString("EXPORT_BACKEND"),
		Title:      v.GetString("EXPORT_TITLE"),
	}

	cfg.S3 = S3Config{
		Endpoint:  v.GetString("S3_ENDPOINT"),
		Region:    v.GetString("S3_REGION"),
		AccessKey: v.GetString("S3_ACCESS_KEY"),
		SecretKey: v.GetString("S3_SECRET_KEY"),
		Bucket:    v.GetString("S3_BUCKET"),
		UseSSL:    v.GetBool("S3_USE_SSL"),
	}

	cfg.Ops = OpsConfig{Port: v.GetInt("OPS_PORT")}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "exam_scheduler")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULER_DEFAULT_MODE", "thorough")
	v.SetDefault("SCHEDULER_FAST_DAYS", 14)
	v.SetDefault("SCHEDULER_FAST_SLOTS_PER_DAY", 4)
	v.SetDefault("SCHEDULER_FAST_QUOTA", 2)
	v.SetDefault("SCHEDULER_FAST_DEADLINE", "30s")
	v.SetDefault("SCHEDULER_THOROUGH_DAYS", 14)
	v.SetDefault("SCHEDULER_THOROUGH_SLOTS_PER_DAY", 4)
	v.SetDefault("SCHEDULER_THOROUGH_QUOTA", 3)
	v.SetDefault("SCHEDULER_THOROUGH_DEADLINE", "5m")
	v.SetDefault("SCHEDULER_EPOCH", "2026-06-01T08:30:00Z")
	v.SetDefault("SCHEDULER_SLOT_OFFSETS", "0,120,300,420")
	v.SetDefault("SCHEDULER_AFFINITY_PENALTY", 1)
	v.SetDefault("SCHEDULER_LOCK_KEY", "examsched:lock:replace")
	v.SetDefault("SCHEDULER_LOCK_TTL", "10m")
	v.SetDefault("SCHEDULER_REPORT_KEY", "examsched:report:last")
	v.SetDefault("SCHEDULER_REPORT_TTL", "24h")
	v.SetDefault("SCHEDULER_QUEUE_KEY", "examsched:runs")
	v.SetDefault("SCHEDULER_WORKERS", 1)

	v.SetDefault("EXPORT_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORT_BACKEND", "local")
	v.SetDefault("EXPORT_TITLE", "Exam Timetable")

	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_BUCKET", "exam-timetables")
	v.SetDefault("S3_USE_SSL", false)

	v.SetDefault("OPS_PORT", 9090)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseTime(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fallback
	}
	return t
}

// parseOffsets reads a comma separated list of minute offsets from the start of an exam day.
func parseOffsets(raw string) []time.Duration {
	parts := splitAndTrim(raw)
	offsets := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		minutes, err := strconv.Atoi(part)
		if err != nil || minutes < 0 {
			continue
		}
		offsets = append(offsets, time.Duration(minutes)*time.Minute)
	}
	return offsets
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
