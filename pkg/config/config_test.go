package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.Name != "ticket-engine" {
		t.Errorf("Expected app name 'ticket-engine', got '%s'", cfg.App.Name)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Engine.ReservationTimeout != 15*time.Minute {
		t.Errorf("Expected reservation timeout 15m, got %s", cfg.Engine.ReservationTimeout)
	}
	if cfg.Engine.CASMaxAttempts != 5 {
		t.Errorf("Expected 5 CAS attempts, got %d", cfg.Engine.CASMaxAttempts)
	}
	if cfg.Database.Enabled() {
		t.Error("Expected database disabled by default")
	}
	if !cfg.Engine.EmbeddedSweeper {
		t.Error("Expected embedded sweeper by default")
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("Unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if !cfg.IsDevelopment() {
		t.Error("Expected development environment by default")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ENGINE_LEDGER_BACKEND", "REDIS")
	t.Setenv("PAYMENT_CURRENCY", "THB")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Engine.LedgerBackend != "redis" {
		t.Errorf("Expected redis backend, got %s", cfg.Engine.LedgerBackend)
	}
	if cfg.Payment.Currency != "thb" {
		t.Errorf("Expected lower-cased currency, got %s", cfg.Payment.Currency)
	}
}

func TestLoadWithPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "APP_NAME=from-file\nENGINE_RESERVATION_TIMEOUT=5m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWithPath(path)
	if err != nil {
		t.Fatalf("LoadWithPath failed: %v", err)
	}
	if cfg.App.Name != "from-file" {
		t.Errorf("Expected app name from file, got %s", cfg.App.Name)
	}
	if cfg.Engine.ReservationTimeout != 5*time.Minute {
		t.Errorf("Expected 5m, got %s", cfg.Engine.ReservationTimeout)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:     AppConfig{Name: "ticket-engine", Environment: "development"},
			Server:  ServerConfig{Port: 8080},
			JWT:     JWTConfig{Secret: "s3cret"},
			Payment: PaymentConfig{Provider: "simulated", Timeout: 30 * time.Second},
			Engine: EngineConfig{
				LedgerBackend:      "memory",
				ReservationTimeout: 15 * time.Minute,
				CASMaxAttempts:     5,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing name", func(c *Config) { c.App.Name = "" }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"default secret in production", func(c *Config) {
			c.App.Environment = "production"
			c.Payment.Provider = "stripe"
			c.Payment.StripeSecretKey = "sk_test"
			c.JWT.Secret = defaultJWTSecret
		}, true},
		{"simulated in production", func(c *Config) { c.App.Environment = "production" }, true},
		{"stripe without key", func(c *Config) { c.Payment.Provider = "stripe" }, true},
		{"unknown provider", func(c *Config) { c.Payment.Provider = "paypal" }, true},
		{"unknown ledger", func(c *Config) { c.Engine.LedgerBackend = "etcd" }, true},
		{"payment timeout too long", func(c *Config) { c.Payment.Timeout = time.Hour }, true},
		{"zero CAS attempts", func(c *Config) { c.Engine.CASMaxAttempts = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
