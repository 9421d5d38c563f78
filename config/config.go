package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"coldreach/models"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// SimulationConfig holds the probabilistic outcome rates, each in [0,1].
type SimulationConfig struct {
	DeliveryRate float64 `json:"delivery_rate"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
	ReplyRate    float64 `json:"reply_rate"`
	BounceRate   float64 `json:"bounce_rate"`
	SpamRate     float64 `json:"spam_rate"`
	Seed         int64   `json:"seed"` // 0 means seed from the clock
}

// SchedulerConfig controls the job runner polling loop.
type SchedulerConfig struct {
	TickInterval time.Duration `json:"tick_interval"`
	BatchSize    int           `json:"batch_size"`
	RetryBackoff time.Duration `json:"retry_backoff"`
	MaxRetries   int           `json:"max_retries"`
	StaleAfter   time.Duration `json:"stale_after"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`
	SentryDSN   string `json:"-"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	RateLimitCampaignStart int `json:"rate_limit_campaign_start"`

	Redis      RedisConfig      `json:"redis"`
	Simulation SimulationConfig `json:"simulation"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),
		SentryDSN:   getEnv("SENTRY_DSN", ""),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "coldreach"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		RateLimitCampaignStart: getEnvAsInt("RATE_LIMIT_CAMPAIGN_START", 10),

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		Simulation: SimulationConfig{
			DeliveryRate: getEnvAsFloat("SIMULATION_DELIVERY_RATE", 0.95),
			OpenRate:     getEnvAsFloat("SIMULATION_OPEN_RATE", 0.40),
			ClickRate:    getEnvAsFloat("SIMULATION_CLICK_RATE", 0.15),
			ReplyRate:    getEnvAsFloat("SIMULATION_REPLY_RATE", 0.05),
			BounceRate:   getEnvAsFloat("SIMULATION_BOUNCE_RATE", 0.03),
			SpamRate:     getEnvAsFloat("SIMULATION_SPAM_RATE", 0.02),
			Seed:         int64(getEnvAsInt("SIMULATION_SEED", 0)),
		},

		Scheduler: SchedulerConfig{
			TickInterval: getEnvAsDuration("SCHEDULER_TICK_INTERVAL", 5*time.Second),
			BatchSize:    getEnvAsInt("SCHEDULER_BATCH_SIZE", 10),
			RetryBackoff: getEnvAsDuration("SCHEDULER_RETRY_BACKOFF", 60*time.Second),
			MaxRetries:   getEnvAsInt("SCHEDULER_MAX_RETRIES", 3),
			StaleAfter:   getEnvAsDuration("SCHEDULER_STALE_AFTER", 10*time.Minute),
		},
	}

	if AppConfig.Environment == "production" && AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required in production")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// MigrateDB runs auto-migration for every model. Exported so tests can reuse
// the same schema against their own database.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Job{},
		&models.Lead{},
		&models.Campaign{},
		&models.CampaignStep{},
		&models.CampaignLead{},
		&models.EmailAccount{},
		&models.WarmupSettings{},
		&models.EmailEvent{},
		&models.EmailThread{},
		&models.EmailMessage{},
	)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("⚠️ Invalid integer for %s: %q, using default %d", key, valueStr, fallback)
		return fallback
	}
	return value
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("⚠️ Invalid float for %s: %q, using default %g", key, valueStr, fallback)
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("⚠️ Invalid duration for %s: %q, using default %s", key, valueStr, fallback)
		return fallback
	}
	return value
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Scheduler: tick=%s batch=%d backoff=%s",
		AppConfig.Scheduler.TickInterval,
		AppConfig.Scheduler.BatchSize,
		AppConfig.Scheduler.RetryBackoff)
}
