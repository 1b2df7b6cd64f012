// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for the run-history database, always absolute
	Port      int
	LogLevel  string
	LogPretty bool
	DevMode   bool

	Workers       int
	MCSimulations int
	MCSeed        uint64 // 0 seeds each run from the clock
	RiskFreeRate  float64
	RetentionDays int
	CleanupCron   string
	BackupCron    string
	R2            R2Config
}

// R2Config holds the Cloudflare R2 credentials for run-history archives.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	RetentionDays   int
}

// Enabled reports whether every credential needed for uploads is present.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	absDataDir, err := filepath.Abs(getEnv("QUANTLAB_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		Port:          getEnvAsInt("GO_PORT", 8001),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPretty:     getEnvAsBool("LOG_PRETTY", true),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		Workers:       getEnvAsInt("WORKERS", runtime.NumCPU()),
		MCSimulations: getEnvAsInt("MC_SIMULATIONS", 1000),
		MCSeed:        getEnvAsUint("MC_SEED", 0),
		RiskFreeRate:  getEnvAsFloat("RISK_FREE_RATE", 0.02),
		RetentionDays: getEnvAsInt("RUN_RETENTION_DAYS", 30),
		CleanupCron:   getEnv("CLEANUP_SCHEDULE", "0 0 3 * * *"),
		BackupCron:    getEnv("BACKUP_SCHEDULE", "0 30 3 * * *"),
		R2: R2Config{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			BucketName:      getEnv("R2_BUCKET_NAME", ""),
			RetentionDays:   getEnvAsInt("R2_BACKUP_RETENTION_DAYS", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges and cron expressions.
func (c *Config) Validate() error {
	var errs domain.ValidationErrors
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, domain.ValidationError{Field: "GO_PORT", Message: "must be between 1 and 65535"})
	}
	if c.Workers < 1 {
		errs = append(errs, domain.ValidationError{Field: "WORKERS", Message: "must be >= 1"})
	}
	if c.MCSimulations < 1 {
		errs = append(errs, domain.ValidationError{Field: "MC_SIMULATIONS", Message: "must be >= 1"})
	}
	if c.RiskFreeRate < -1 || c.RiskFreeRate > 1 {
		errs = append(errs, domain.ValidationError{Field: "RISK_FREE_RATE", Message: "must be within [-1, 1]"})
	}
	if c.RetentionDays < 1 {
		errs = append(errs, domain.ValidationError{Field: "RUN_RETENTION_DAYS", Message: "must be >= 1"})
	}
	if c.R2.RetentionDays < 1 {
		errs = append(errs, domain.ValidationError{Field: "R2_BACKUP_RETENTION_DAYS", Message: "must be >= 1"})
	}
	for field, spec := range map[string]string{"CLEANUP_SCHEDULE": c.CleanupCron, "BACKUP_SCHEDULE": c.BackupCron} {
		if _, err := cronParser.Parse(spec); err != nil {
			errs = append(errs, domain.ValidationError{Field: field, Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// cronParser accepts the six-field (with seconds) format used by the scheduler.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
