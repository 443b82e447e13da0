package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort     string
	MetricsPort string
	JWTKey      []byte
	JWTExp      time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Queue worker knobs.
	WorkerPollInterval   time.Duration
	WorkerMaxConcurrent  int
	LockStalenessWindow  time.Duration
	DefaultBatchSize     int
	PageDelay            time.Duration
	DuplicateCheckStream string

	// External property-data provider.
	ProviderCode    string
	ProviderBaseURL string
	ProviderAPIKey  string
}

var AppConfig *Config

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = &Config{
		APIPort:     getEnv("API_PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9091"),
		JWTKey:      []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:      time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "user"),
		DBPassword:  getEnv("DB_PASSWORD", "password"),
		DBName:      getEnv("DB_NAME", "propleads_db"),
		DBSslMode:   getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		WorkerPollInterval:   time.Duration(getEnvAsInt("WORKER_POLL_INTERVAL_SECONDS", 5)) * time.Second,
		WorkerMaxConcurrent:  getEnvAsInt("WORKER_MAX_CONCURRENT_JOBS", 5),
		LockStalenessWindow:  time.Duration(getEnvAsInt("JOB_LOCK_STALENESS_MINUTES", 10)) * time.Minute,
		DefaultBatchSize:     getEnvAsInt("JOB_DEFAULT_BATCH_SIZE", 400),
		PageDelay:            time.Duration(getEnvAsInt("PROVIDER_PAGE_DELAY_MS", 500)) * time.Millisecond,
		DuplicateCheckStream: getEnv("DUPLICATE_CHECK_STREAM", "duplicate_check_progress"),

		ProviderCode:    getEnv("PROVIDER_CODE", "pdp"),
		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://api.propertydata.example.com"),
		ProviderAPIKey:  getEnv("PROVIDER_API_KEY", ""),
	}

	AppConfig.DBConnStr = "host=" + AppConfig.DBHost +
		" port=" + AppConfig.DBPort +
		" user=" + AppConfig.DBUser +
		" password=" + AppConfig.DBPassword +
		" dbname=" + AppConfig.DBName +
		" sslmode=" + AppConfig.DBSslMode
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
