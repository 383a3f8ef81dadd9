package config

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE_DRIVER", "memory")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when JWT_SECRET is empty")
	}
}

func TestLoadConfigRequiresDBURLForPostgres(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DB_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DB_URL is missing for postgres")
	}
}

func TestLoadConfigMemoryDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("REQUEST_TIMEOUT", "")
	t.Setenv("KAFKA_BROKERS", " broker-a:9092, ,broker-b:9092 ")
	t.Setenv("STUDIO_TIMEZONE", "Europe/Berlin")
	t.Setenv("APP_ENV", "dev")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.StoreDriver)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Fatalf("expected default timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.CancellationNotice != 24*time.Hour {
		t.Fatalf("expected default cancellation notice, got %s", cfg.CancellationNotice)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "broker-b:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if !cfg.KafkaEnabled() {
		t.Fatal("expected kafka to be enabled")
	}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Fatalf("unexpected location %s", cfg.Location())
	}
	if !cfg.IsDevelopment() {
		t.Fatalf("expected development env, got %q", cfg.AppEnv)
	}
}

func TestLoadConfigRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("STUDIO_TIMEZONE", "Mars/Olympus")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for unknown time zone")
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{value: "15s", want: 15 * time.Second},
		{value: "20", want: 20 * time.Second},
		{value: "nope", want: time.Second},
		{value: "-5s", want: time.Second},
	}

	for _, tt := range tests {
		t.Setenv("TEST_DURATION", tt.value)
		if got := getEnvDuration("TEST_DURATION", time.Second); got != tt.want {
			t.Fatalf("getEnvDuration(%q) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "Yes")
	if !getEnvBool("TEST_BOOL", false) {
		t.Fatal("expected yes to parse as true")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if !getEnvBool("TEST_BOOL", true) {
		t.Fatal("expected fallback for unknown value")
	}
}

func TestLoadConfigParsesMemoryUsers(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MEMORY_USERS", "1:admin:owner@studio.test, 10:Trainer ,20:client:ana@studio.test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.MemoryUsers) != 3 {
		t.Fatalf("expected 3 users, got %+v", cfg.MemoryUsers)
	}
	trainer := cfg.MemoryUsers[1]
	if trainer.ID != 10 || trainer.Role != "trainer" || trainer.Email != "" {
		t.Fatalf("unexpected trainer seed %+v", trainer)
	}
	if cfg.MemoryUsers[2].Email != "ana@studio.test" {
		t.Fatalf("unexpected client seed %+v", cfg.MemoryUsers[2])
	}
}

func TestLoadConfigRejectsBadMemoryUsers(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")

	for _, value := range []string{"10", "x:trainer", "10:coach", "10:trainer,10:client"} {
		t.Setenv("MEMORY_USERS", value)
		if _, err := LoadConfig(); err == nil {
			t.Errorf("expected MEMORY_USERS=%q to be rejected", value)
		}
	}
}
