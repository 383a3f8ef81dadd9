package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// UserSeed is one directory entry for the memory store, from MEMORY_USERS
// entries of the form "id:role[:email]".
type UserSeed struct {
	ID    int64
	Role  string
	Email string
}

type Config struct {
	Port               string
	DBUrl              string
	JWTSecret          string
	AppEnv             string
	StoreDriver        string
	MemoryUsers        []UserSeed
	StudioTimezone     string
	RequestTimeout     time.Duration
	CancellationNotice time.Duration
	GamificationURL    string
	GamificationAPIKey string
	KafkaBrokers       []string
	KafkaSessionTopic  string
	KafkaGroupPrefix   string
	LogLevel           string
	LogFormat          string
	RateLimitMax       int
	PublicBrowsing     bool
	EnableDocs         bool
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	jwtSecret, exists := os.LookupEnv("JWT_SECRET")
	if !exists || jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBUrl:              getEnv("DB_URL", ""),
		JWTSecret:          jwtSecret,
		AppEnv:             normalizeEnv(getEnv("APP_ENV", "production")),
		StoreDriver:        strings.ToLower(strings.TrimSpace(getEnv("STORE_DRIVER", StoreDriverPostgres))),
		StudioTimezone:     getEnv("STUDIO_TIMEZONE", "UTC"),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		CancellationNotice: getEnvDuration("CANCELLATION_NOTICE", 24*time.Hour),
		GamificationURL:    strings.TrimRight(getEnv("GAMIFICATION_URL", ""), "/"),
		GamificationAPIKey: getEnv("GAMIFICATION_API_KEY", ""),
		KafkaBrokers:       getEnvList("KAFKA_BROKERS"),
		KafkaSessionTopic:  getEnv("KAFKA_SESSION_TOPIC", "studio.session-events"),
		KafkaGroupPrefix:   getEnv("KAFKA_GROUP_PREFIX", "studio-sync"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		RateLimitMax:       getEnvInt("RATE_LIMIT_MAX", 120),
		PublicBrowsing:     getEnvBool("ENABLE_PUBLIC_SESSIONS", true),
		EnableDocs:         getEnvBool("ENABLE_API_DOCS", false),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DBUrl == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		}
	case StoreDriverMemory:
		seeds, err := parseUserSeeds(getEnvList("MEMORY_USERS"))
		if err != nil {
			return nil, fmt.Errorf("invalid MEMORY_USERS: %w", err)
		}
		cfg.MemoryUsers = seeds
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	if _, err := time.LoadLocation(cfg.StudioTimezone); err != nil {
		return nil, fmt.Errorf("invalid STUDIO_TIMEZONE %q: %w", cfg.StudioTimezone, err)
	}

	return cfg, nil
}

// Location resolves the studio time zone used for recurring expansion.
func (c *Config) Location() *time.Location {
	if c == nil {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.StudioTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) KafkaEnabled() bool {
	return c != nil && len(c.KafkaBrokers) > 0 && c.KafkaSessionTopic != ""
}

func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}

func (c *Config) DocsEnabled() bool {
	return c != nil && c.EnableDocs && c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go durations ("15s") or bare seconds ("15").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	value = strings.TrimSpace(value)
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func getEnvList(key string) []string {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseUserSeeds(entries []string) ([]UserSeed, error) {
	seeds := make([]UserSeed, 0, len(entries))
	seen := make(map[int64]struct{}, len(entries))
	for _, entry := range entries {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("entry %q: expected id:role[:email]", entry)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("entry %q: invalid id", entry)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("entry %q: duplicate id %d", entry, id)
		}
		seen[id] = struct{}{}

		seed := UserSeed{ID: id, Role: strings.ToLower(strings.TrimSpace(parts[1]))}
		switch seed.Role {
		case "admin", "trainer", "client":
		default:
			return nil, fmt.Errorf("entry %q: unknown role %q", entry, seed.Role)
		}
		if len(parts) == 3 {
			seed.Email = strings.TrimSpace(parts[2])
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}
